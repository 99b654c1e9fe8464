// Package rule owns forwarding rules: storage ports, default bootstrap and
// the first-match-wins matcher.
package rule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/model"
)

// ErrNotFound is returned when a rule id does not exist.
var ErrNotFound = errors.New(errors.CodeNotFound, "rule not found")

// Store persists forwarding rules.
type Store interface {
	// Create assigns r.ID, CreatedAt and UpdatedAt.
	Create(ctx context.Context, r *model.ForwardRule) error
	Update(ctx context.Context, r model.ForwardRule) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (model.ForwardRule, error)
	List(ctx context.Context) ([]model.ForwardRule, error)
	// ListEnabled returns enabled rules ordered by priority desc, id asc.
	ListEnabled(ctx context.Context) ([]model.ForwardRule, error)
	Count(ctx context.Context) (int, error)
}

// SortRules orders rules by priority descending, ties by id ascending.
func SortRules(rules []model.ForwardRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	rules  map[int64]model.ForwardRule
	nextID int64
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[int64]model.ForwardRule), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, r *model.ForwardRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now()
	r.ID = s.nextID
	r.CreatedAt, r.UpdatedAt = now, now
	s.rules[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, r model.ForwardRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.rules[r.ID]
	if !ok {
		return ErrNotFound
	}
	r.CreatedAt = old.CreatedAt
	r.UpdatedAt = s.now()
	s.rules[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (model.ForwardRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return model.ForwardRule{}, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.ForwardRule, error) {
	return s.snapshot(false), nil
}

func (s *MemoryStore) ListEnabled(_ context.Context) ([]model.ForwardRule, error) {
	return s.snapshot(true), nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules), nil
}

func (s *MemoryStore) snapshot(enabledOnly bool) []model.ForwardRule {
	s.mu.RLock()
	out := make([]model.ForwardRule, 0, len(s.rules))
	for _, r := range s.rules {
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	SortRules(out)
	return out
}
