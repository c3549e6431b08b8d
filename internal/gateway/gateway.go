// Package gateway accepts WebSocket connections and binds each one to a
// conversation session. It owns the session registry, the read loop, and
// graceful shutdown of all live connections.
package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/protocol"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/internal/transcript"
	"github.com/MrWong99/voxgate/pkg/provider/speech"
	"github.com/MrWong99/voxgate/pkg/provider/textgen"
	"github.com/MrWong99/voxgate/pkg/provider/tts"
)

// Config holds the gateway settings.
type Config struct {
	// AllowedOrigins lists origin patterns permitted to connect. Empty
	// means same-origin only.
	AllowedOrigins []string

	// Session is the pipeline configuration applied to every connection.
	Session session.Config
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithTextGen wires the text-generation adapter shared by all sessions.
func WithTextGen(p textgen.Provider) Option {
	return func(g *Gateway) { g.textgen = p }
}

// WithSpeech wires the speech-recognition adapter shared by all sessions.
func WithSpeech(p speech.Provider) Option {
	return func(g *Gateway) { g.speech = p }
}

// WithTTS wires the speech-synthesis adapter shared by all sessions.
func WithTTS(p tts.Provider) Option {
	return func(g *Gateway) { g.tts = p }
}

// WithCorrector wires the transcript keyword corrector shared by all
// sessions.
func WithCorrector(c *transcript.Corrector) Option {
	return func(g *Gateway) { g.corrector = c }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger overrides the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// Gateway upgrades HTTP requests to WebSocket sessions. It implements
// [http.Handler].
type Gateway struct {
	cfg      Config
	registry *Registry

	textgen   textgen.Provider
	speech    speech.Provider
	tts       tts.Provider
	corrector *transcript.Corrector
	metrics   *observe.Metrics
	log       *slog.Logger
}

// Compile-time interface assertion.
var _ http.Handler = (*Gateway)(nil)

// New creates a Gateway with the supplied options.
func New(cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		registry: NewRegistry(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	return g
}

// Registry returns the live session registry.
func (g *Gateway) Registry() *Registry { return g.registry }

// AIConfigured reports whether a text-generation adapter is wired.
func (g *Gateway) AIConfigured() bool { return g.textgen != nil }

// SpeechConfigured reports whether a speech-recognition adapter is wired.
func (g *Gateway) SpeechConfigured() bool { return g.speech != nil }

// ServeHTTP upgrades the request and runs the connection to completion.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.cfg.AllowedOrigins,
	})
	if err != nil {
		g.log.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	g.serve(r.Context(), conn)
}

// serve binds one accepted connection to a session and runs its read loop
// until the transport fails or the session closes.
func (g *Gateway) serve(ctx context.Context, conn *websocket.Conn) {
	id := g.registry.NewID()
	write := func(ctx context.Context, data []byte) error {
		return conn.Write(ctx, websocket.MessageText, data)
	}

	s := session.New(id, g.cfg.Session, write,
		session.WithTextGen(g.textgen),
		session.WithSpeech(g.speech),
		session.WithTTS(g.tts),
		session.WithCorrector(g.corrector),
		session.WithMetrics(g.metrics),
		session.WithLogger(g.log),
	)
	g.registry.Register(s)
	g.log.Info("session connected", "session", id, "total", g.registry.Len())

	defer func() {
		g.registry.Unregister(id)
		s.Close()
		<-s.Done()
		conn.Close(websocket.StatusNormalClosure, "")
		g.log.Info("session disconnected", "session", id, "total", g.registry.Len())
	}()

	s.Start(ctx)

	// Unblock the read loop when the session ends for any reason other
	// than the client hanging up (shutdown, transport write failure).
	go func() {
		<-s.Done()
		conn.CloseNow()
	}()

	// The welcome frame goes through the outbox before anything else.
	s.Send(protocol.Welcome{
		ConnectionID:     id,
		AIConfigured:     s.AIConfigured(),
		SpeechConfigured: s.SpeechConfigured(),
	})

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-s.Done():
			default:
				g.log.Debug("read loop ended", "session", id, "error", err)
			}
			return
		}

		// Binary frames are raw audio without an envelope.
		if typ == websocket.MessageBinary {
			s.Handle(ctx, protocol.AudioChunk{Data: data})
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// A malformed frame is answered, never fatal.
			s.Send(protocol.ErrorNotice{Message: "invalid message format", Detail: err.Error()})
			continue
		}
		s.Handle(ctx, msg)
	}
}

// Shutdown closes every live session, waiting for each to finish or for ctx
// to expire, whichever comes first.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var eg errgroup.Group
	g.registry.ForEach(func(s *session.Session) {
		eg.Go(func() error {
			s.Send(protocol.ErrorNotice{Message: "server shutting down"})
			s.Close()
			select {
			case <-s.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})
	return eg.Wait()
}
