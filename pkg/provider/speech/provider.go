// Package speech defines the Provider interface for streaming
// speech-recognition backends.
//
// A recognizer provider wraps a streaming speech-to-text service (Deepgram,
// or any vendor with a push-audio/receive-events contract). A session opens
// one [Stream] per audio burst, pushes raw chunks into it, and consumes
// partial and final transcripts from the stream's channels. Endpointing
// (deciding when an utterance is final) is vendor-controlled.
//
// Implementations must be safe for concurrent use; individual Stream values
// belong to a single session.
package speech

import (
	"context"

	"github.com/MrWong99/voxgate/pkg/types"
)

// StreamConfig holds the per-stream recognition parameters.
type StreamConfig struct {
	// SampleRate in Hz of the PCM audio that will be written. Zero means the
	// provider default.
	SampleRate int

	// Channels is the channel count of the audio. Zero means mono.
	Channels int

	// Language is the BCP-47 language code (e.g. "en", "de-DE"). Empty means
	// the provider default.
	Language string

	// Keywords boosts recognition of domain proper nouns.
	Keywords []types.KeywordBoost
}

// Provider is the abstraction over any streaming speech-recognition backend.
type Provider interface {
	// Start opens a streaming recognition session. The returned Stream is
	// live until Stop is called or ctx is cancelled.
	Start(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Stream is one live recognition session.
//
// The Partials and Finals channels are closed by the implementation once the
// stream has fully shut down; consumers can range over them. Stop is
// idempotent: underlying vendor resources are released exactly once no
// matter how many times or from how many goroutines it is called.
type Stream interface {
	// SendAudio queues a raw audio chunk for delivery to the vendor. It must
	// not block on any in-flight recognition result. Returns an error once
	// the stream is stopped.
	SendAudio(chunk []byte) error

	// Partials returns the channel of interim transcripts.
	Partials() <-chan types.Transcript

	// Finals returns the channel of final transcripts.
	Finals() <-chan types.Transcript

	// Stop flushes pending audio, waits for the vendor to confirm shutdown,
	// and releases all underlying resources.
	Stop() error
}
