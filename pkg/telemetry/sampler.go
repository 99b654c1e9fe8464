// Package telemetry captures the device environment at decision time.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/model"
)

// Provider reports the current device environment. Implementations may
// return a partial snapshot together with an error.
type Provider interface {
	Snapshot(ctx context.Context) (model.EnvironmentSnapshot, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (model.EnvironmentSnapshot, error)

func (f ProviderFunc) Snapshot(ctx context.Context) (model.EnvironmentSnapshot, error) {
	return f(ctx)
}

// StaticProvider always reports the same snapshot.
type StaticProvider struct {
	Value model.EnvironmentSnapshot
}

func (p StaticProvider) Snapshot(context.Context) (model.EnvironmentSnapshot, error) {
	return p.Value, nil
}

// LatestProvider keeps the most recently reported snapshot in memory.
type LatestProvider struct {
	mu   sync.RWMutex
	snap model.EnvironmentSnapshot
}

func (p *LatestProvider) Snapshot(context.Context) (model.EnvironmentSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap, nil
}

// Report replaces the stored snapshot.
func (p *LatestProvider) Report(_ context.Context, snap model.EnvironmentSnapshot) error {
	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()
	return nil
}

// DefaultTimeout bounds a single Sample call.
const DefaultTimeout = 500 * time.Millisecond

// Sampler wraps a Provider with a bounded, never-failing read.
type Sampler struct {
	provider Provider
	timeout  time.Duration
	logger   logger.Logger
}

// NewSampler creates a Sampler. A nil provider yields empty snapshots.
func NewSampler(p Provider, timeout time.Duration, l logger.Logger) *Sampler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sampler{provider: p, timeout: timeout, logger: logger.OrDiscard(l)}
}

type sampleResult struct {
	snap model.EnvironmentSnapshot
	err  error
}

// Sample returns the provider's snapshot, or an empty one when the provider
// fails or does not answer within the timeout.
func (s *Sampler) Sample(ctx context.Context) model.EnvironmentSnapshot {
	if s.provider == nil {
		return model.EnvironmentSnapshot{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan sampleResult, 1)
	go func() {
		snap, err := s.provider.Snapshot(ctx)
		done <- sampleResult{snap, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			s.logger.Debug("environment sample incomplete", "error", r.err)
		}
		return r.snap
	case <-ctx.Done():
		s.logger.Debug("environment sample timed out", "timeout", s.timeout)
		return model.EnvironmentSnapshot{}
	}
}
