package ledger

import (
	"context"
	"sync"
	"time"
)

// LeaseTable is a keyed table of message id -> (token, expiry). Only the
// holder of the current token may release a live lease; an expired lease
// may be taken over by anyone.
type LeaseTable interface {
	// Acquire takes the lease for messageID if it is free or expired.
	Acquire(ctx context.Context, messageID int64, token string, ttl time.Duration) (bool, error)
	// Release drops the lease if token still holds it.
	Release(ctx context.Context, messageID int64, token string) (bool, error)
	// Holds reports whether token still holds a live lease for messageID.
	Holds(ctx context.Context, messageID int64, token string) (bool, error)
	// Reclaim removes expired leases and returns how many were removed.
	Reclaim(ctx context.Context) (int, error)
}

type lease struct {
	token     string
	expiresAt time.Time
}

// MemoryLeaseTable is a LeaseTable on sync.Map. Contention is scoped to a
// single message id.
type MemoryLeaseTable struct {
	leases sync.Map // int64 -> *lease
	now    func() time.Time
}

func NewMemoryLeaseTable() *MemoryLeaseTable {
	return &MemoryLeaseTable{now: time.Now}
}

func (t *MemoryLeaseTable) Acquire(_ context.Context, messageID int64, token string, ttl time.Duration) (bool, error) {
	fresh := &lease{token: token, expiresAt: t.now().Add(ttl)}
	for {
		v, loaded := t.leases.LoadOrStore(messageID, fresh)
		if !loaded {
			return true, nil
		}
		held := v.(*lease)
		if t.now().Before(held.expiresAt) {
			return false, nil
		}
		if t.leases.CompareAndSwap(messageID, held, fresh) {
			return true, nil
		}
		// Lost a race with another reclaimer or releaser; look again.
	}
}

func (t *MemoryLeaseTable) Release(_ context.Context, messageID int64, token string) (bool, error) {
	v, ok := t.leases.Load(messageID)
	if !ok {
		return false, nil
	}
	held := v.(*lease)
	if held.token != token {
		return false, nil
	}
	return t.leases.CompareAndDelete(messageID, held), nil
}

func (t *MemoryLeaseTable) Holds(_ context.Context, messageID int64, token string) (bool, error) {
	v, ok := t.leases.Load(messageID)
	if !ok {
		return false, nil
	}
	held := v.(*lease)
	return held.token == token && t.now().Before(held.expiresAt), nil
}

func (t *MemoryLeaseTable) Reclaim(_ context.Context) (int, error) {
	now := t.now()
	n := 0
	t.leases.Range(func(k, v any) bool {
		if !now.Before(v.(*lease).expiresAt) && t.leases.CompareAndDelete(k, v) {
			n++
		}
		return true
	})
	return n, nil
}

// Len returns the number of leases, live or expired.
func (t *MemoryLeaseTable) Len() int {
	n := 0
	t.leases.Range(func(any, any) bool { n++; return true })
	return n
}
