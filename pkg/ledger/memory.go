package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kart-io/smsforward/pkg/model"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu           sync.RWMutex
	messages     map[int64]model.Message
	records      map[int64]model.ForwardRecord // by sms id
	nextMsgID    int64
	nextRecordID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[int64]model.Message),
		records:  make(map[int64]model.ForwardRecord),
	}
}

func (s *MemoryStore) EnsureMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID != 0 {
		if existing, ok := s.messages[m.ID]; ok {
			*m = existing.Clone()
			return nil
		}
		if m.ID > s.nextMsgID {
			s.nextMsgID = m.ID
		}
	} else {
		s.nextMsgID++
		m.ID = s.nextMsgID
	}
	if m.ForwardStatus == "" {
		m.ForwardStatus = model.StatusPending
	}
	s.messages[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id int64) (model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ListMessages(_ context.Context, f MessageFilter) ([]model.Message, error) {
	s.mu.RLock()
	out := make([]model.Message, 0)
	for _, m := range s.messages {
		if f.Status != "" && m.ForwardStatus != f.Status {
			continue
		}
		if !inRange(m.ReceivedAt, f.From, f.To) {
			continue
		}
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, f.Offset, f.Limit), nil
}

func (s *MemoryStore) CommitOutcome(_ context.Context, rec *model.ForwardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.SMSID]; ok {
		if existing.Status == model.StatusForwarded || existing.Status == model.StatusIgnored {
			return ErrAlreadyHandled
		}
		rec.ID = existing.ID
	} else {
		s.nextRecordID++
		rec.ID = s.nextRecordID
	}
	s.records[rec.SMSID] = rec.Clone()

	if m, ok := s.messages[rec.SMSID]; ok {
		m.ForwardStatus = rec.Status
		m.ForwardedAt = nil
		if rec.Status == model.StatusForwarded {
			t := rec.Timestamp
			m.ForwardedAt = &t
		}
		s.messages[rec.SMSID] = m
	}
	return nil
}

func (s *MemoryStore) GetRecordBySMSID(_ context.Context, smsID int64) (model.ForwardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[smsID]
	if !ok {
		return model.ForwardRecord{}, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) ListRecords(_ context.Context, f RecordFilter) ([]model.ForwardRecord, error) {
	s.mu.RLock()
	out := make([]model.ForwardRecord, 0)
	for _, r := range s.records {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.SMSID != 0 && r.SMSID != f.SMSID {
			continue
		}
		if !inRange(r.Timestamp, f.From, f.To) {
			continue
		}
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, f.Offset, f.Limit), nil
}

func (s *MemoryStore) DeleteRecordsOlderThan(_ context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.records {
		if r.Timestamp.Before(t) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteMessagesOlderThan(_ context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, m := range s.messages {
		if m.ReceivedAt.Before(t) {
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && !ts.Before(to) {
		return false
	}
	return true
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
