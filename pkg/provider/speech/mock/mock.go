// Package mock provides a test double for the speech.Provider and
// speech.Stream interfaces.
//
// The mock stream is driven from the test: call EmitPartial and EmitFinal to
// inject recognition events, then assert on the audio chunks recorded by
// SendAudio and on the release accounting exposed by ReleaseCount.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voxgate/pkg/provider/speech"
	"github.com/MrWong99/voxgate/pkg/types"
)

// Provider is a mock implementation of speech.Provider. Each Start call
// produces a fresh [Stream], recorded in Streams.
type Provider struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned from Start instead of a stream.
	StartErr error

	// StartDelay, if set, makes Start block for the given duration or until
	// ctx is cancelled, whichever comes first. Used to exercise slow dials.
	StartDelay func(ctx context.Context) error

	// Configs records the StreamConfig of every Start call in order.
	Configs []speech.StreamConfig

	// Streams records every stream handed out, in order.
	Streams []*Stream
}

// Start records the call and returns a new mock Stream.
func (p *Provider) Start(ctx context.Context, cfg speech.StreamConfig) (speech.Stream, error) {
	p.mu.Lock()
	p.Configs = append(p.Configs, cfg)
	startErr, delay := p.StartErr, p.StartDelay
	p.mu.Unlock()

	if delay != nil {
		if err := delay(ctx); err != nil {
			return nil, err
		}
	}
	if startErr != nil {
		return nil, startErr
	}
	s := NewStream()
	p.mu.Lock()
	p.Streams = append(p.Streams, s)
	p.mu.Unlock()
	return s, nil
}

// StartCount returns the number of Start calls. Thread-safe.
func (p *Provider) StartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Configs)
}

// LastStream returns the most recently created stream, or nil.
func (p *Provider) LastStream() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Streams) == 0 {
		return nil
	}
	return p.Streams[len(p.Streams)-1]
}

// Stream is a mock implementation of speech.Stream.
type Stream struct {
	mu sync.Mutex

	partials chan types.Transcript
	finals   chan types.Transcript

	done chan struct{}
	once sync.Once

	// Sent records every chunk passed to SendAudio, in order.
	Sent [][]byte

	// releases counts how many times the release path actually ran. The
	// exactly-once contract means this never exceeds 1.
	releases int
	// stopCalls counts every Stop invocation, including idempotent repeats.
	stopCalls int
}

// NewStream creates an unattached mock stream. Tests that don't need the
// Provider can use it directly.
func NewStream() *Stream {
	return &Stream{
		partials: make(chan types.Transcript, 16),
		finals:   make(chan types.Transcript, 16),
		done:     make(chan struct{}),
	}
}

// SendAudio records the chunk. Returns an error once the stream is stopped.
func (s *Stream) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("mock: stream is stopped")
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make([]byte, len(chunk))
	copy(c, chunk)
	s.Sent = append(s.Sent, c)
	return nil
}

// Partials returns the channel of interim transcripts.
func (s *Stream) Partials() <-chan types.Transcript { return s.partials }

// Finals returns the channel of final transcripts.
func (s *Stream) Finals() <-chan types.Transcript { return s.finals }

// Stop releases the stream. Safe to call multiple times; the channels are
// closed exactly once.
func (s *Stream) Stop() error {
	s.mu.Lock()
	s.stopCalls++
	s.mu.Unlock()

	s.once.Do(func() {
		// Emits hold the mutex while sending, so closing under it cannot
		// race a send on a closed channel.
		s.mu.Lock()
		s.releases++
		close(s.done)
		close(s.partials)
		close(s.finals)
		s.mu.Unlock()
	})
	return nil
}

// EmitPartial injects an interim transcript. No-op after Stop.
func (s *Stream) EmitPartial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releases > 0 {
		return
	}
	s.partials <- types.Transcript{Text: text}
}

// EmitFinal injects a final transcript. No-op after Stop.
func (s *Stream) EmitFinal(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releases > 0 {
		return
	}
	s.finals <- types.Transcript{Text: text, IsFinal: true}
}

// ReleaseCount returns how many times the release path ran. Thread-safe.
func (s *Stream) ReleaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

// StopCalls returns the total number of Stop invocations. Thread-safe.
func (s *Stream) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

// SentCount returns the number of recorded audio chunks. Thread-safe.
func (s *Stream) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

// Ensure the mocks implement their interfaces at compile time.
var (
	_ speech.Provider = (*Provider)(nil)
	_ speech.Stream   = (*Stream)(nil)
)
