// Package resilience keeps the gateway answering while a provider backend
// misbehaves. A [Breaker] quarantines one backend of one adapter slot after
// repeated faults; a [Chain] composes the configured text-generation backends
// so a chat turn fails over in configuration order instead of failing the
// reply.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/internal/observe"
)

// ErrBreakerOpen is returned by [Breaker.Allow] while the backend is
// quarantined.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// BreakerState is the health phase of one guarded backend.
type BreakerState int

const (
	// BreakerClosed lets every call through.
	BreakerClosed BreakerState = iota

	// BreakerOpen quarantines the backend until the reset timeout elapses.
	BreakerOpen

	// BreakerHalfOpen lets a bounded number of trial calls through to see
	// whether the backend has recovered.
	BreakerHalfOpen
)

// String returns the state name used in logs and metric attributes.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerSettings tunes a [Breaker]. The zero value selects the defaults.
type BreakerSettings struct {
	// MaxFailures is how many consecutive faults quarantine the backend.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long the quarantine lasts before trial calls
	// resume. Default: 30s.
	ResetTimeout time.Duration

	// TrialCalls bounds how many half-open calls may be in flight before an
	// outcome decides the state. Default: 3.
	TrialCalls int
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.TrialCalls <= 0 {
		s.TrialCalls = 3
	}
	return s
}

// Breaker guards one backend of one adapter slot ("textgen"/"openai",
// "tts"/"elevenlabs", ...). Callers ask [Breaker.Allow] before the call and
// feed the outcome back through [Breaker.Record]. Every state change is
// counted on [observe.Metrics.BreakerTransitions] with the slot and backend
// as attributes. Safe for concurrent use.
type Breaker struct {
	slot     string
	backend  string
	settings BreakerSettings
	metrics  *observe.Metrics
	log      *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	trials   int
	openedAt time.Time
}

// NewBreaker creates a closed breaker for the given adapter slot and backend
// name. A nil metrics instance falls back to [observe.DefaultMetrics].
func NewBreaker(slot, backend string, settings BreakerSettings, m *observe.Metrics) *Breaker {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Breaker{
		slot:     slot,
		backend:  backend,
		settings: settings.withDefaults(),
		metrics:  m,
		log:      slog.With("adapter", slot, "backend", backend),
	}
}

// Allow reports whether the backend may be called right now. While the
// quarantine holds it returns [ErrBreakerOpen]; once the reset timeout has
// elapsed a bounded number of trial calls pass.
func (b *Breaker) Allow(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.settings.ResetTimeout {
			return ErrBreakerOpen
		}
		b.transition(ctx, BreakerHalfOpen)
		b.trials = 1
		return nil
	case BreakerHalfOpen:
		if b.trials >= b.settings.TrialCalls {
			return ErrBreakerOpen
		}
		b.trials++
		return nil
	default:
		return nil
	}
}

// Record feeds one call outcome back into the breaker. A success closes a
// half-open breaker and clears the fault count; a fault during the trial
// phase re-quarantines immediately.
func (b *Breaker) Record(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == BreakerHalfOpen {
			b.transition(ctx, BreakerClosed)
		}
		b.failures = 0
		b.trials = 0
		return
	}

	switch b.state {
	case BreakerHalfOpen:
		b.openedAt = time.Now()
		b.failures = b.settings.MaxFailures
		b.transition(ctx, BreakerOpen)
	case BreakerClosed:
		b.failures++
		if b.failures >= b.settings.MaxFailures {
			b.openedAt = time.Now()
			b.transition(ctx, BreakerOpen)
		}
	}
}

// transition moves the breaker to a new state, recording the change on the
// transition counter. Must be called with b.mu held.
func (b *Breaker) transition(ctx context.Context, to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.metrics.RecordBreakerTransition(ctx, b.slot, b.backend, from.String(), to.String())
	b.log.Info("breaker state changed",
		"from", from.String(), "to", to.String(), "failures", b.failures)
}

// State returns the current state. An expired quarantine reports half-open
// even before the next [Breaker.Allow] performs the transition.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.settings.ResetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters, e.g. after an
// operator fixed the backend.
func (b *Breaker) Reset(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(ctx, BreakerClosed)
	b.failures = 0
	b.trials = 0
}
