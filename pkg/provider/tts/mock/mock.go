// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to consumers and to verify the text
// passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio: &tts.Audio{Data: []byte("mp3"), Format: "audio/mpeg"},
//	}
//	audio, err := p.Synthesize(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxgate/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the Request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
// Zero values cause Synthesize to return nil, nil. Set Err to inject a
// failure.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize. May be nil.
	Audio *tts.Audio

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListErr, if non-nil, is returned as the error from ListVoices.
	ListErr error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Audio, Err.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Req: req})
	return p.Audio, p.Err
}

// ListVoices returns Voices, ListErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.ListErr
}

// CallCount returns the number of recorded Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
