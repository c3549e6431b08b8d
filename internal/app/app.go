// Package app wires all Voxgate subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the provider adapters
// from config, assembles the gateway and the HTTP surface, Run serves until
// the context is cancelled, and Shutdown drains live sessions before closing
// the listener.
//
// For testing, inject mock adapters via functional options (WithTextGen,
// WithSpeech, WithTTS). When an option is not provided, New creates real
// adapters from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/gateway"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/internal/transcript"
	"github.com/MrWong99/voxgate/pkg/provider/speech"
	"github.com/MrWong99/voxgate/pkg/provider/speech/deepgram"
	"github.com/MrWong99/voxgate/pkg/provider/textgen"
	"github.com/MrWong99/voxgate/pkg/provider/textgen/anyllm"
	openaitextgen "github.com/MrWong99/voxgate/pkg/provider/textgen/openai"
	"github.com/MrWong99/voxgate/pkg/provider/tts"
	"github.com/MrWong99/voxgate/pkg/provider/tts/elevenlabs"
)

// App owns all subsystem lifetimes and serves the Voxgate WebSocket gateway.
type App struct {
	cfg     *config.Config
	version string
	log     *slog.Logger

	textgen textgen.Provider
	speech  speech.Provider
	tts     tts.Provider

	gw      *gateway.Gateway
	handler http.Handler
	srv     *http.Server

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTextGen injects a text-generation adapter instead of building one from
// config.
func WithTextGen(p textgen.Provider) Option {
	return func(a *App) { a.textgen = p }
}

// WithSpeech injects a speech-recognition adapter instead of building one
// from config.
func WithSpeech(p speech.Provider) Option {
	return func(a *App) { a.speech = p }
}

// WithTTS injects a speech-synthesis adapter instead of building one from
// config.
func WithTTS(p tts.Provider) Option {
	return func(a *App) { a.tts = p }
}

// WithLogger overrides the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithVersion sets the version string reported by the status endpoints.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together. Adapters not injected
// via options are built from cfg; an empty provider name leaves the adapter
// nil and the matching pipeline stage falls back to echo behaviour.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, version: "dev"}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	if a.textgen == nil {
		p, err := buildTextGen(cfg.TextGen)
		if err != nil {
			return nil, fmt.Errorf("app: build textgen adapter: %w", err)
		}
		a.textgen = p
	}
	if a.speech == nil {
		p, err := buildSpeech(cfg.Speech)
		if err != nil {
			return nil, fmt.Errorf("app: build speech adapter: %w", err)
		}
		a.speech = p
	}
	if a.tts == nil {
		p, err := buildTTS(cfg.TTS)
		if err != nil {
			return nil, fmt.Errorf("app: build tts adapter: %w", err)
		}
		a.tts = p
	}

	corrector := transcript.New(cfg.Speech.KeywordBoosts())

	a.gw = gateway.New(gateway.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Session: session.Config{
			SystemPrompt: cfg.TextGen.SystemPrompt,
			MaxTokens:    cfg.TextGen.MaxTokens,
			Temperature:  cfg.TextGen.Temperature,
			TurnTimeout:  cfg.TextGen.Timeout.Std(),
			SampleRate:   cfg.Speech.SampleRate,
			Language:     cfg.Speech.Language,
			Keywords:     cfg.Speech.KeywordBoosts(),
			Voice:        cfg.TTS.Voice,
			Speed:        cfg.TTS.Speed,
		},
	},
		gateway.WithTextGen(a.textgen),
		gateway.WithSpeech(a.speech),
		gateway.WithTTS(a.tts),
		gateway.WithCorrector(corrector),
		gateway.WithLogger(a.log),
	)

	a.handler = a.buildHandler()
	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Gateway returns the WebSocket gateway, mainly for status reporting.
func (a *App) Gateway() *gateway.Gateway { return a.gw }

// Handler returns the fully assembled HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// buildHandler assembles the HTTP routes. The WebSocket endpoint is mounted
// outside the telemetry middleware: the middleware's response wrapper does
// not support hijacking, and per-request spans are meaningless for
// long-lived connections anyway.
func (a *App) buildHandler() http.Handler {
	api := http.NewServeMux()
	health.New(health.StatusInfo{
		Version:          a.version,
		AIConfigured:     a.gw.AIConfigured(),
		SpeechConfigured: a.gw.SpeechConfigured(),
		Connections:      a.gw.Registry().Len,
	}).Register(api)
	api.Handle("GET /metrics", promhttp.Handler())

	root := http.NewServeMux()
	root.Handle("/ws", a.gw)
	root.Handle("/", observe.DefaultMetrics().HTTPMiddleware(api))
	return root
}

// Run serves HTTP until ctx is cancelled or the listener fails. On
// cancellation it returns nil; the caller is expected to follow up with
// Shutdown.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tc := a.cfg.Server.TLS; tc != nil {
			err = a.srv.ListenAndServeTLS(tc.CertFile, tc.KeyFile)
		} else {
			err = a.srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// Shutdown drains every live session and then closes the HTTP listener. It
// respects the context deadline: sessions that do not finish in time are
// abandoned and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "sessions", a.gw.Registry().Len())

		var errs []error
		if e := a.gw.Shutdown(ctx); e != nil {
			errs = append(errs, fmt.Errorf("drain sessions: %w", e))
		}
		if e := a.srv.Shutdown(ctx); e != nil {
			errs = append(errs, fmt.Errorf("close listener: %w", e))
		}
		err = errors.Join(errs...)

		if err == nil {
			a.log.Info("shutdown complete")
		}
	})
	return err
}

// ─── Adapter construction ────────────────────────────────────────────────────

// buildTextGen assembles the text-generation chain: the primary backend
// wrapped in a circuit breaker, with config-ordered fallbacks behind it.
func buildTextGen(cfg config.TextGenConfig) (textgen.Provider, error) {
	if cfg.Primary.Provider == "" {
		return nil, nil
	}

	primary, err := newTextGenBackend(cfg.Primary)
	if err != nil {
		return nil, err
	}

	chain := resilience.NewChain(resilience.BreakerSettings{}, observe.DefaultMetrics())
	chain.Add(cfg.Primary.Provider, primary)
	for _, entry := range cfg.Fallbacks {
		backend, err := newTextGenBackend(entry)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", entry.Provider, err)
		}
		chain.Add(entry.Provider, backend)
	}
	return chain, nil
}

// newTextGenBackend builds a single text-generation backend. "openai" uses
// the native client so base URL overrides work against compatible servers;
// everything else goes through any-llm-go.
func newTextGenBackend(entry config.ProviderEntry) (textgen.Provider, error) {
	switch strings.ToLower(entry.Provider) {
	case "openai":
		var opts []openaitextgen.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaitextgen.WithBaseURL(entry.BaseURL))
		}
		return openaitextgen.New(entry.APIKey, entry.Model, opts...)
	default:
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Provider, entry.Model, opts...)
	}
}

func buildSpeech(cfg config.SpeechConfig) (speech.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "":
		return nil, nil
	case "deepgram":
		var opts []deepgram.Option
		if cfg.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Model))
		}
		if cfg.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.Language))
		}
		if cfg.SampleRate > 0 {
			opts = append(opts, deepgram.WithSampleRate(cfg.SampleRate))
		}
		return deepgram.New(cfg.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unsupported speech provider %q", cfg.Provider)
	}
}

func buildTTS(cfg config.TTSConfig) (tts.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "":
		return nil, nil
	case "elevenlabs":
		var opts []elevenlabs.Option
		if cfg.Model != "" {
			opts = append(opts, elevenlabs.WithModel(cfg.Model))
		}
		if cfg.Voice != "" {
			opts = append(opts, elevenlabs.WithVoice(cfg.Voice))
		}
		if cfg.OutputFormat != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(cfg.OutputFormat, mimeForFormat(cfg.OutputFormat)))
		}
		return elevenlabs.New(cfg.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unsupported tts provider %q", cfg.Provider)
	}
}

// mimeForFormat maps a provider output format name to the MIME type reported
// to clients alongside synthesized audio.
func mimeForFormat(format string) string {
	switch {
	case strings.HasPrefix(format, "mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(format, "pcm"):
		return "audio/pcm"
	case strings.HasPrefix(format, "ulaw"), strings.HasPrefix(format, "alaw"):
		return "audio/basic"
	case strings.HasPrefix(format, "opus"):
		return "audio/opus"
	default:
		return "application/octet-stream"
	}
}
