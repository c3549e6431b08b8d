// Package session implements the per-connection conversation engine.
//
// One [Session] exists per WebSocket connection. It owns three goroutines:
// a writer that flushes the FIFO outbox to the socket, a turn worker that
// runs at most one chat turn at a time, and — while audio is streaming — an
// event pump consuming recognizer transcripts. The read loop feeds decoded
// frames in via [Session.Handle]; audio ingest goes straight to the
// recognizer and is never blocked by an in-flight turn.
//
// The audio side is a small state machine:
//
//	Idle → Streaming   first audio chunk, recognizer started lazily
//	Streaming → Stopping   stop_audio (or a final chunk); recognizer released
//	Stopping → Idle    event pump drained, audio_stopped emitted
//	any → Closed       disconnect or shutdown; resources reclaimed once
//
// Turn failures never terminate a Session; only transport errors do.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/protocol"
	"github.com/MrWong99/voxgate/internal/transcript"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider"
	"github.com/MrWong99/voxgate/pkg/provider/speech"
	"github.com/MrWong99/voxgate/pkg/provider/textgen"
	"github.com/MrWong99/voxgate/pkg/provider/tts"
	"github.com/MrWong99/voxgate/pkg/types"
)

// State is the audio-side lifecycle state of a [Session].
type State int

const (
	// StateIdle means no recognizer stream exists.
	StateIdle State = iota

	// StateStreaming means a recognizer stream is live and accepting audio.
	StateStreaming

	// StateStopping means the recognizer has been released and its event
	// pump is draining the remaining transcripts.
	StateStopping

	// StateClosed is terminal; all resources are reclaimed.
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	defaultSystemPrompt = "You are a helpful AI assistant. Provide clear, concise, and helpful responses."
	defaultMaxTokens    = 500
	defaultTemperature  = 0.7
	defaultTurnTimeout  = 10 * time.Second
	defaultSampleRate   = 16000

	// outboxSize bounds the FIFO outbox; frames beyond it are dropped
	// rather than blocking the pipeline on a slow client.
	outboxSize = 256

	// turnQueueSize bounds the FIFO queue of pending chat turns. A full
	// queue rejects new turns with an error notice.
	turnQueueSize = 64

	// historyLimit caps the server-side conversation memory per session.
	historyLimit = 20
)

// Config holds the per-session pipeline tuning, typically derived from the
// server configuration.
type Config struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	TurnTimeout  time.Duration
	SampleRate   int
	Language     string
	Keywords     []types.KeywordBoost
	Voice        string
	Speed        float64
}

func (c *Config) applyDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = defaultTemperature
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = defaultTurnTimeout
	}
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRate
	}
}

// WriteFunc delivers one encoded frame to the client. A non-nil error is
// treated as a transport failure and closes the session.
type WriteFunc func(ctx context.Context, data []byte) error

// Option configures a [Session].
type Option func(*Session)

// WithTextGen wires the text-generation adapter. A nil provider means
// unconfigured: chat turns short-circuit to echo replies without any
// network call.
func WithTextGen(p textgen.Provider) Option {
	return func(s *Session) { s.textgen = p }
}

// WithSpeech wires the speech-recognition adapter. A nil provider means
// audio chunks are acknowledged but not recognized.
func WithSpeech(p speech.Provider) Option {
	return func(s *Session) { s.speech = p }
}

// WithTTS wires the speech-synthesis adapter. Synthesis failure never fails
// a turn; the reply is sent without audio.
func WithTTS(p tts.Provider) Option {
	return func(s *Session) { s.tts = p }
}

// WithCorrector wires the transcript keyword corrector applied to final
// transcripts.
func WithCorrector(c *transcript.Corrector) Option {
	return func(s *Session) { s.corrector = c }
}

// WithMetrics overrides the metrics instance (tests use a manual reader).
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger overrides the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// queueItem is one entry in the turn queue: either a pending chat turn or a
// frame the worker emits in order after the turns queued before it.
type queueItem struct {
	text       string
	history    []types.Message
	fromSpeech bool

	notify protocol.Outbound
}

// Session is the server-side state for one client connection.
type Session struct {
	id    string
	cfg   Config
	write WriteFunc

	textgen   textgen.Provider
	speech    speech.Provider
	tts       tts.Provider
	corrector *transcript.Corrector
	metrics   *observe.Metrics
	log       *slog.Logger

	out   chan protocol.Outbound
	turns chan queueItem

	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu          sync.Mutex
	state       State
	stream      speech.Stream
	opus        *audio.OpusDecoder
	streamStart time.Time
	history     []types.Message
}

// New creates a Session. Call [Session.Start] before feeding it frames.
func New(id string, cfg Config, write WriteFunc, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		id:       id,
		cfg:      cfg,
		write:    write,
		out:      make(chan protocol.Outbound, outboxSize),
		turns:    make(chan queueItem, turnQueueSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		state:    StateIdle,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("session", id)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// AIConfigured reports whether a text-generation adapter is wired.
func (s *Session) AIConfigured() bool { return s.textgen != nil }

// SpeechConfigured reports whether a speech-recognition adapter is wired.
func (s *Session) SpeechConfigured() bool { return s.speech != nil }

// State returns the current audio-side state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has fully shut down and all its goroutines
// have exited.
func (s *Session) Done() <-chan struct{} { return s.finished }

// Start launches the writer and turn-worker goroutines.
func (s *Session) Start(ctx context.Context) {
	s.metrics.ActiveConnections.Add(ctx, 1)
	s.wg.Add(2)
	go s.runWriter(ctx)
	go s.runTurns(ctx)
	go func() {
		s.wg.Wait()
		s.metrics.ActiveConnections.Add(context.Background(), -1)
		close(s.finished)
	}()
}

// Close tears the session down exactly once: the recognizer is released, the
// outbox queue is discarded, and the worker goroutines stop. Safe to call
// from any goroutine, repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		stream := s.stream
		s.mu.Unlock()

		if stream != nil {
			if err := stream.Stop(); err != nil {
				s.log.Warn("recognizer release failed", "error", err)
			}
		}
		close(s.done)
		s.log.Debug("session closed")
	})
}

// Send enqueues one outbound frame on the FIFO outbox. Frames are dropped
// once the session is closed or when the outbox is full.
func (s *Session) Send(o protocol.Outbound) {
	select {
	case <-s.done:
	case s.out <- o:
	default:
		s.log.Warn("outbox full, dropping frame")
	}
}

// Handle dispatches one decoded inbound frame. It never returns an error;
// every failure mode answers the client with some frame instead.
func (s *Session) Handle(ctx context.Context, msg protocol.Inbound) {
	s.metrics.RecordMessage(ctx, msg.Type())

	switch m := msg.(type) {
	case protocol.Ping:
		s.Send(protocol.Pong{})
	case protocol.TestEcho:
		s.Send(protocol.TestReply{Original: m.Message})
	case protocol.Unknown:
		s.Send(protocol.EchoAck{OriginalType: m.WireType, Raw: m.Raw})
	case protocol.ChatText:
		s.handleChat(m)
	case protocol.AudioChunk:
		s.handleAudio(ctx, m)
	case protocol.StopAudio:
		s.handleStop()
	default:
		s.log.Warn("unhandled inbound frame", "type", msg.Type())
	}
}

func (s *Session) handleChat(m protocol.ChatText) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		s.Send(protocol.ErrorNotice{Message: "empty message"})
		return
	}
	s.enqueue(queueItem{text: text, history: m.History})
}

// enqueue adds an item to the turn queue. A full queue rejects new turns
// with an error notice. Order-sensitive notify items must stay behind every
// turn queued before them, so they wait for a slot instead of skipping ahead
// via the outbox.
func (s *Session) enqueue(item queueItem) {
	if item.notify != nil {
		select {
		case <-s.done:
		case s.turns <- item:
		}
		return
	}
	select {
	case <-s.done:
	case s.turns <- item:
	default:
		s.log.Warn("turn queue full, rejecting turn")
		s.Send(protocol.ErrorNotice{Message: "server busy", Detail: "too many pending messages"})
	}
}

// --- Audio ingest ---

func (s *Session) handleAudio(ctx context.Context, m protocol.AudioChunk) {
	if s.speech == nil {
		s.Send(protocol.AudioAck{Kind: protocol.AudioReceived})
		return
	}

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return
	case StateStopping:
		// Previous stream still draining; this chunk belongs to no
		// utterance anymore.
		s.mu.Unlock()
		s.Send(protocol.AudioAck{Kind: protocol.AudioReceived})
		return
	}

	needStart := s.state == StateIdle
	stream := s.stream
	s.mu.Unlock()

	if needStart {
		// The dial may take a while; it runs outside the lock so Close and
		// State are never stalled behind it. Only the read loop starts
		// streams, so no second dial can race this one.
		ns, err := s.speech.Start(ctx, speech.StreamConfig{
			SampleRate: s.cfg.SampleRate,
			Channels:   1,
			Language:   s.cfg.Language,
			Keywords:   s.cfg.Keywords,
		})
		if err != nil {
			fault := provider.Classify("speech", err)
			s.metrics.RecordAdapterError(ctx, "speech", fault.Class.String())
			s.log.Warn("recognizer start failed", "error", err)
			s.Send(protocol.ErrorNotice{Message: "speech recognition unavailable", Detail: err.Error()})
			return
		}

		s.mu.Lock()
		if s.state == StateClosed {
			// Session closed mid-dial; the stream was never installed, so
			// teardown cannot release it.
			s.mu.Unlock()
			if err := ns.Stop(); err != nil {
				s.log.Warn("recognizer release failed", "error", err)
			}
			return
		}
		s.stream = ns
		s.state = StateStreaming
		s.streamStart = time.Now()
		s.wg.Add(1)
		s.mu.Unlock()

		go s.pumpEvents(ctx, ns)
		s.metrics.RecordAdapterRequest(ctx, "speech", "ok")
		s.Send(protocol.AudioAck{Kind: protocol.AudioProcessing})
		stream = ns
	}

	data, err := s.convertAudio(m)
	if err != nil {
		s.log.Warn("audio conversion failed", "format", m.MimeHint, "error", err)
		s.Send(protocol.ErrorNotice{Message: "unsupported audio data", Detail: err.Error()})
		return
	}
	if len(data) > 0 {
		if err := stream.SendAudio(data); err != nil {
			s.log.Warn("audio forward failed", "error", err)
		}
	}

	if m.IsFinal {
		s.handleStop()
	}
}

// convertAudio turns a client chunk into recognizer PCM. Opus frames are
// decoded and resampled; PCM and unknown formats pass through untouched
// (unknown formats are decoded vendor-side).
func (s *Session) convertAudio(m protocol.AudioChunk) ([]byte, error) {
	if !strings.Contains(strings.ToLower(m.MimeHint), "opus") {
		return m.Data, nil
	}
	s.mu.Lock()
	if s.opus == nil {
		dec, err := audio.NewOpusDecoder(s.cfg.SampleRate)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.opus = dec
	}
	dec := s.opus
	s.mu.Unlock()
	// The decoder is only touched from the read loop, one chunk at a time.
	return dec.Decode(m.Data)
}

func (s *Session) handleStop() {
	s.mu.Lock()
	switch s.state {
	case StateStreaming:
		s.state = StateStopping
		stream := s.stream
		s.mu.Unlock()
		if err := stream.Stop(); err != nil {
			s.log.Warn("recognizer release failed", "error", err)
		}
	case StateStopping, StateClosed:
		// Release already under way; the pump (or teardown) owns the rest.
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		// Stopping when idle is a harmless no-op.
		s.Send(protocol.AudioAck{Kind: protocol.AudioStopped})
	}
}

// pumpEvents forwards recognizer transcripts to the client until the stream's
// channels close, then finishes the stop sequence.
func (s *Session) pumpEvents(ctx context.Context, stream speech.Stream) {
	defer s.wg.Done()

	partials := stream.Partials()
	finals := stream.Finals()

	for partials != nil || finals != nil {
		select {
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.Send(protocol.TranscriptPartial{Text: tr.Text})
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.handleFinal(tr)
		}
	}

	s.finishStream(ctx)
}

// handleFinal corrects a final transcript, reports it, and queues the chat
// turn it triggers.
func (s *Session) handleFinal(tr types.Transcript) {
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return
	}
	if s.corrector != nil && s.corrector.Enabled() {
		corrected, corrections := s.corrector.Correct(text)
		for _, c := range corrections {
			s.log.Debug("transcript corrected",
				"original", c.Original, "corrected", c.Corrected, "confidence", c.Confidence)
		}
		text = corrected
	}
	s.Send(protocol.TranscriptFinal{Text: text})
	s.enqueue(queueItem{text: text, fromSpeech: true})
}

// finishStream completes the Stopping → Idle transition after the event pump
// drains. The audio_stopped acknowledgement goes through the turn queue so it
// is delivered after the replies of any turns the stream produced.
func (s *Session) finishStream(ctx context.Context) {
	s.mu.Lock()
	wasStopping := s.state == StateStopping || s.state == StateStreaming
	if s.state != StateClosed {
		s.state = StateIdle
	}
	s.stream = nil
	s.opus = nil
	start := s.streamStart
	s.mu.Unlock()

	if !start.IsZero() {
		s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	if wasStopping {
		s.enqueue(queueItem{notify: protocol.AudioAck{Kind: protocol.AudioStopped}})
	}
}

// --- Chat turns ---

// runTurns is the single turn worker: at most one chat turn is in flight per
// session, further turns wait in FIFO order.
func (s *Session) runTurns(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case item := <-s.turns:
			if item.notify != nil {
				s.Send(item.notify)
				continue
			}
			s.runTurn(ctx, item)
		}
	}
}

// runTurn drives one chat turn through generation and optional synthesis,
// emitting exactly one reply. Failures degrade the reply; they never escape.
func (s *Session) runTurn(ctx context.Context, item queueItem) {
	turnStart := time.Now()
	reply := protocol.ChatReply{Original: item.text}

	if s.textgen == nil {
		fault := provider.Unconfigured("textgen")
		s.metrics.RecordAdapterError(ctx, "textgen", fault.Class.String())
		reply.Message = "Echo: " + item.text
		reply.AIUsed = false
	} else {
		text, err := s.generate(ctx, item)
		if err != nil {
			fault := provider.Classify("textgen", err)
			s.metrics.RecordAdapterError(ctx, "textgen", fault.Class.String())
			s.log.Warn("text generation failed", "class", fault.Class, "error", err)
			reply.Message = "Echo (AI failed): " + item.text
			reply.AIUsed = false
			reply.ErrorDetail = err.Error()
		} else {
			reply.Message = text
			reply.AIUsed = true
			s.recordExchange(item.text, text)
		}
	}

	if reply.AIUsed && s.tts != nil {
		if audioData, format, err := s.synthesize(ctx, reply.Message); err != nil {
			// Synthesis failure silently omits audio from the reply.
			fault := provider.Classify("tts", err)
			s.metrics.RecordAdapterError(ctx, "tts", fault.Class.String())
			s.log.Warn("speech synthesis failed", "class", fault.Class, "error", err)
		} else {
			reply.AudioData = audioData
			reply.AudioFormat = format
		}
	}

	s.Send(reply)
	s.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
}

func (s *Session) generate(ctx context.Context, item queueItem) (string, error) {
	history := item.history
	if len(history) == 0 {
		history = s.historySnapshot()
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	start := time.Now()
	out, err := s.textgen.Generate(genCtx, textgen.Request{
		SystemPrompt: s.cfg.SystemPrompt,
		History:      history,
		UserText:     item.text,
		MaxTokens:    s.cfg.MaxTokens,
		Temperature:  s.cfg.Temperature,
	})
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordAdapterRequest(ctx, "textgen", "error")
		return "", err
	}
	s.metrics.RecordAdapterRequest(ctx, "textgen", "ok")
	return out.Text, nil
}

func (s *Session) synthesize(ctx context.Context, text string) ([]byte, string, error) {
	ttsCtx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	start := time.Now()
	out, err := s.tts.Synthesize(ttsCtx, tts.Request{
		Text:  text,
		Voice: s.cfg.Voice,
		Speed: s.cfg.Speed,
	})
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordAdapterRequest(ctx, "tts", "error")
		return nil, "", err
	}
	s.metrics.RecordAdapterRequest(ctx, "tts", "ok")
	return out.Data, out.Format, nil
}

func (s *Session) historySnapshot() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return nil
	}
	out := make([]types.Message, len(s.history))
	copy(out, s.history)
	return out
}

// recordExchange appends a completed turn to the server-side conversation
// memory, trimming to the oldest-first cap.
func (s *Session) recordExchange(userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		types.Message{Role: "user", Content: userText},
		types.Message{Role: "assistant", Content: assistantText},
	)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

// --- Writer ---

// runWriter owns the socket write side: frames leave in outbox order. A
// write failure is a transport error and closes the session.
func (s *Session) runWriter(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case o := <-s.out:
			data, err := protocol.Encode(o)
			if err != nil {
				s.log.Error("frame encode failed", "error", err)
				continue
			}
			if err := s.write(ctx, data); err != nil {
				s.log.Warn("transport write failed, closing session", "error", err)
				s.Close()
				return
			}
		}
	}
}
