// Package mock provides a test double for the textgen.Provider interface.
//
// Use Provider in unit tests to verify that the session sends correct
// requests and to feed controlled replies without a live backend. All fields
// are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Reply: &textgen.Reply{Text: "4"},
//	}
//	reply, err := p.Generate(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxgate/pkg/provider/textgen"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the Request passed to Generate.
	Req textgen.Request
}

// Provider is a mock implementation of textgen.Provider.
// Zero values for response fields cause Generate to return nil, nil.
// Set Err to inject a failure; set Delay to simulate a slow backend.
type Provider struct {
	mu sync.Mutex

	// Reply is returned by Generate. May be nil.
	Reply *textgen.Reply

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// Delay, if set, makes Generate block for the given duration or until
	// ctx is cancelled, whichever comes first. Used to exercise timeouts.
	Delay func(ctx context.Context) error

	// Calls records every invocation of Generate in order.
	Calls []GenerateCall
}

// Generate records the call and returns Reply, Err.
func (p *Provider) Generate(ctx context.Context, req textgen.Request) (*textgen.Reply, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, GenerateCall{Ctx: ctx, Req: req})
	reply, err, delay := p.Reply, p.Err, p.Delay
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return nil, derr
		}
	}
	return reply, err
}

// CallCount returns the number of recorded Generate calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements textgen.Provider at compile time.
var _ textgen.Provider = (*Provider)(nil)
