// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a single request/response call: text in, encoded audio out. A
// failed synthesis never fails the conversational turn that requested it —
// callers omit audio from their reply and carry on.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Request is one synthesis call.
type Request struct {
	// Text is the content to synthesise.
	Text string

	// Voice is the provider-specific voice identifier. Empty means the
	// provider default.
	Voice string

	// Speed adjusts the speaking rate (0.5–2.0, 0 or 1.0 = default).
	Speed float64
}

// Audio is a successful synthesis result.
type Audio struct {
	// Data is the encoded audio payload.
	Data []byte

	// Format is the MIME type of Data (e.g. "audio/mpeg", "audio/pcm").
	Format string
}

// Voice describes one voice available from a provider.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Metadata holds provider-specific voice attributes (gender, age,
	// accent, etc.).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts req.Text into encoded audio. It blocks until the
	// backend answers, ctx is cancelled, or the ctx deadline elapses.
	// Errors are classified provider faults.
	Synthesize(ctx context.Context, req Request) (*Audio, error)

	// ListVoices returns all voice profiles available from this provider.
	// The list reflects the provider's current catalogue and may change
	// between calls.
	ListVoices(ctx context.Context) ([]Voice, error)
}
