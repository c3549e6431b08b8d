package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/provider/textgen"
)

// ErrAllBackendsFailed is returned by [Chain.Generate] when every backend
// either failed or is quarantined.
var ErrAllBackendsFailed = errors.New("resilience: all text generation backends failed")

// Chain implements [textgen.Provider] across an ordered list of backends,
// each guarded by its own textgen-slot [Breaker]. A request goes to the
// first backend whose breaker allows it; on failure the next one is tried.
type Chain struct {
	metrics  *observe.Metrics
	settings BreakerSettings
	backends []chainBackend
}

type chainBackend struct {
	name     string
	breaker  *Breaker
	provider textgen.Provider
}

var _ textgen.Provider = (*Chain)(nil)

// NewChain creates an empty failover chain. A nil metrics instance falls
// back to [observe.DefaultMetrics].
func NewChain(settings BreakerSettings, m *observe.Metrics) *Chain {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Chain{metrics: m, settings: settings}
}

// Add appends a backend in preference order. Build the chain fully during
// startup; Add is not safe to call concurrently with Generate.
func (c *Chain) Add(name string, p textgen.Provider) {
	c.backends = append(c.backends, chainBackend{
		name:     name,
		breaker:  NewBreaker("textgen", name, c.settings, c.metrics),
		provider: p,
	})
}

// Generate asks the first healthy backend for a reply. Quarantined backends
// are skipped without a network call. When no backend produces a reply, the
// returned error wraps [ErrAllBackendsFailed] together with every per-backend
// failure.
func (c *Chain) Generate(ctx context.Context, req textgen.Request) (*textgen.Reply, error) {
	var errs []error
	for _, b := range c.backends {
		if err := b.breaker.Allow(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
			continue
		}
		reply, err := b.provider.Generate(ctx, req)
		b.breaker.Record(ctx, err)
		if err == nil {
			return reply, nil
		}
		slog.Warn("text backend failed, trying next", "backend", b.name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllBackendsFailed, errors.Join(errs...))
}
