// Package health provides HTTP health, readiness, and status handlers.
//
// The package exposes four endpoints:
//
//   - /healthz    — liveness probe; always returns 200 OK.
//   - /readyz     — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /health     — legacy health summary with uptime and connection count.
//   - /api/status — adapter configuration and live connection count.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "textgen",
	// "speech"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StatusInfo describes the deployment facts reported by the /health and
// /api/status endpoints.
type StatusInfo struct {
	// Version is the server version string.
	Version string

	// AIConfigured reports whether a text-generation adapter is wired.
	AIConfigured bool

	// SpeechConfigured reports whether a speech-recognition adapter is wired.
	SpeechConfigured bool

	// Connections returns the current number of live sessions. When nil,
	// the endpoints report zero.
	Connections func() int
}

// result is the JSON response body for the probe endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthResult is the JSON response body for the legacy /health endpoint.
type healthResult struct {
	Status           string `json:"status"`
	Timestamp        string `json:"timestamp"`
	UptimeSeconds    int64  `json:"uptime"`
	Connections      int    `json:"connections"`
	Version          string `json:"version"`
	AIConfigured     bool   `json:"aiConfigured"`
	SpeechConfigured bool   `json:"speechConfigured"`
}

// statusResult is the JSON response body for /api/status.
type statusResult struct {
	Connections      int    `json:"connections"`
	AIConfigured     bool   `json:"aiConfigured"`
	SpeechConfigured bool   `json:"speechConfigured"`
	Version          string `json:"version"`
}

// Handler serves the health and status endpoints. It is safe for concurrent
// use; the checker list and status info are fixed at construction time.
type Handler struct {
	info     StatusInfo
	start    time.Time
	checkers []Checker
}

// New creates a [Handler] reporting the given status info and evaluating the
// given checkers on each /readyz request. The checkers are evaluated
// sequentially in the order provided.
func New(info StatusInfo, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{info: info, start: time.Now(), checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Health serves the legacy health summary consumed by dashboards and uptime
// monitors.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{
		Status:           "healthy",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds:    int64(time.Since(h.start).Seconds()),
		Connections:      h.connections(),
		Version:          h.info.Version,
		AIConfigured:     h.info.AIConfigured,
		SpeechConfigured: h.info.SpeechConfigured,
	})
}

// APIStatus reports adapter configuration and the live connection count.
func (h *Handler) APIStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResult{
		Connections:      h.connections(),
		AIConfigured:     h.info.AIConfigured,
		SpeechConfigured: h.info.SpeechConfigured,
		Version:          h.info.Version,
	})
}

func (h *Handler) connections() int {
	if h.info.Connections == nil {
		return 0
	}
	return h.info.Connections()
}

// Register adds all health and status routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/status", h.APIStatus)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
