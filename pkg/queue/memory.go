package queue

import (
	"context"
	"sync"
	"time"
)

// ChannelSource is an in-process bounded source.
type ChannelSource struct {
	name   string
	ch     chan Envelope
	closed chan struct{}
	once   sync.Once
	now    func() time.Time
}

// NewChannelSource creates a source holding up to capacity envelopes.
func NewChannelSource(name string, capacity int) *ChannelSource {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChannelSource{
		name:   name,
		ch:     make(chan Envelope, capacity),
		closed: make(chan struct{}),
		now:    time.Now,
	}
}

func (s *ChannelSource) Name() string { return s.name }

// Publish enqueues env without blocking; a full source returns ErrQueueFull.
func (s *ChannelSource) Publish(_ context.Context, env Envelope) error {
	select {
	case <-s.closed:
		return ErrQueueClosed
	default:
	}
	if env.QueuedAt.IsZero() {
		env.QueuedAt = s.now()
	}
	if env.Source == "" {
		env.Source = s.name
	}
	select {
	case s.ch <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *ChannelSource) Receive(ctx context.Context) (Envelope, error) {
	select {
	case env := <-s.ch:
		return env, nil
	case <-s.closed:
		return Envelope{}, ErrQueueClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Len returns the number of buffered envelopes.
func (s *ChannelSource) Len() int { return len(s.ch) }

func (s *ChannelSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
