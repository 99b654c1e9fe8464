package destination

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kart-io/smsforward/pkg/model"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[int64]model.EmailConfig
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[int64]model.EmailConfig)}
}

// Create stores c. A config created with IsDefault takes over the default flag.
func (s *MemoryStore) Create(_ context.Context, c *model.EmailConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now()
	c.ID = s.nextID
	c.CreatedAt, c.UpdatedAt = now, now
	if c.IsDefault {
		s.clearDefaultLocked()
	}
	s.configs[c.ID] = *c
	return nil
}

func (s *MemoryStore) Update(_ context.Context, c model.EmailConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.configs[c.ID]
	if !ok {
		return ErrNotFound
	}
	if c.IsDefault && !old.IsDefault {
		s.clearDefaultLocked()
	}
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = time.Now()
	s.configs[c.ID] = c
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[id]; !ok {
		return ErrNotFound
	}
	delete(s.configs, id)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (model.EmailConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.configs[id]
	if !ok {
		return model.EmailConfig{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.EmailConfig, error) {
	s.mu.RLock()
	out := make([]model.EmailConfig, 0, len(s.configs))
	for _, c := range s.configs {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetDefault(_ context.Context) (model.EmailConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.configs {
		if c.IsDefault {
			return c, nil
		}
	}
	return model.EmailConfig{}, ErrNoDefault
}

func (s *MemoryStore) SetDefault(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.configs[id]
	if !ok {
		return ErrNotFound
	}
	s.clearDefaultLocked()
	target.IsDefault = true
	target.UpdatedAt = time.Now()
	s.configs[id] = target
	return nil
}

func (s *MemoryStore) clearDefaultLocked() {
	for id, c := range s.configs {
		if c.IsDefault {
			c.IsDefault = false
			s.configs[id] = c
		}
	}
}
