package stats

import (
	"context"
	"sort"
	"sync"

	"github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/model"
)

// ErrNotFound is returned by Store.Get for a date without a bucket.
var ErrNotFound = errors.New(errors.CodeNotFound, "statistics bucket not found")

// Store persists daily buckets keyed by model.DateLayout dates.
type Store interface {
	Get(ctx context.Context, date string) (model.ForwardStatistics, error)
	Put(ctx context.Context, s model.ForwardStatistics) error
	// Range returns buckets with from <= date <= to, oldest first.
	Range(ctx context.Context, from, to string) ([]model.ForwardStatistics, error)
	DeleteOlderThan(ctx context.Context, date string) (int64, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]model.ForwardStatistics
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]model.ForwardStatistics)}
}

func (s *MemoryStore) Get(_ context.Context, date string) (model.ForwardStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[date]
	if !ok {
		return model.ForwardStatistics{}, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) Put(_ context.Context, b model.ForwardStatistics) error {
	s.mu.Lock()
	s.buckets[b.Date] = b
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Range(_ context.Context, from, to string) ([]model.ForwardStatistics, error) {
	s.mu.RLock()
	out := make([]model.ForwardStatistics, 0)
	for date, b := range s.buckets {
		// DateLayout sorts lexically.
		if date >= from && date <= to {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for d := range s.buckets {
		if d < date {
			delete(s.buckets, d)
			n++
		}
	}
	return n, nil
}
