// Package ledger persists one forward record per message and guarantees at
// most one in-flight execution per message id through a keyed lease table.
package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/model"
)

var (
	// ErrAlreadyInProgress is returned by BeginProcessing when another
	// caller holds a live lease for the message.
	ErrAlreadyInProgress = errors.New(errors.CodeAlreadyInProgress, "message is already being processed")
	// ErrAlreadyHandled is returned when a message already has a FORWARDED
	// or IGNORED record.
	ErrAlreadyHandled = errors.New(errors.CodeAlreadyHandled, "message already handled")
	// ErrLeaseLost is returned by Commit when the guard's lease expired.
	ErrLeaseLost = errors.New(errors.CodeLeaseLost, "processing lease expired")
	// ErrNotFound is returned for unknown messages or records.
	ErrNotFound = errors.New(errors.CodeNotFound, "not found")
)

// DefaultLeaseTTL is how long an in-flight marker lives before it is
// considered abandoned.
const DefaultLeaseTTL = 5 * time.Minute

// Ledger owns messages and forward records.
type Ledger struct {
	leases LeaseTable
	store  Store
	ttl    time.Duration
	logger logger.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLeaseTTL(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.ttl = d
		}
	}
}

func WithLogger(log logger.Logger) Option { return func(l *Ledger) { l.logger = logger.OrDiscard(log) } }

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// New creates a Ledger.
func New(leases LeaseTable, store Store, opts ...Option) *Ledger {
	l := &Ledger{
		leases: leases,
		store:  store,
		ttl:    DefaultLeaseTTL,
		logger: logger.Discard,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Guard is the exclusive right to process one message. Exactly one of
// Commit or Release ends it.
type Guard struct {
	ledger    *Ledger
	messageID int64
	token     string
	expiresAt time.Time
	done      atomic.Bool
}

// MessageID returns the guarded message id.
func (g *Guard) MessageID() int64 { return g.messageID }

// ExpiresAt returns when the lease becomes reclaimable.
func (g *Guard) ExpiresAt() time.Time { return g.expiresAt }

// BeginProcessing atomically marks messageID in flight.
func (l *Ledger) BeginProcessing(ctx context.Context, messageID int64) (*Guard, error) {
	token := uuid.NewString()
	ok, err := l.leases.Acquire(ctx, messageID, token, l.ttl)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeStore, "acquire lease for message %d", messageID)
	}
	if !ok {
		return nil, ErrAlreadyInProgress
	}
	return &Guard{
		ledger:    l,
		messageID: messageID,
		token:     token,
		expiresAt: l.now().Add(l.ttl),
	}, nil
}

// Commit persists rec as the outcome for the guarded message, updates the
// message status, and releases the lease. The lease is released even when
// persisting fails so a later run can retry.
func (g *Guard) Commit(ctx context.Context, rec *model.ForwardRecord) error {
	if !g.done.CompareAndSwap(false, true) {
		return fmt.Errorf("guard for message %d already finished", g.messageID)
	}
	defer g.release(ctx)

	if rec.SMSID != g.messageID {
		return fmt.Errorf("record for message %d committed under guard for %d", rec.SMSID, g.messageID)
	}
	if !rec.Status.IsTerminal() {
		return fmt.Errorf("record status %q is not terminal", rec.Status)
	}

	holds, err := g.ledger.leases.Holds(ctx, g.messageID, g.token)
	if err != nil {
		return errors.Wrapf(err, errors.CodeStore, "check lease for message %d", g.messageID)
	}
	if !holds {
		return ErrLeaseLost
	}

	if err := g.ledger.store.CommitOutcome(ctx, rec); err != nil {
		if errors.HasCode(err, errors.CodeAlreadyHandled) {
			return err
		}
		return errors.Wrapf(err, errors.CodeStore, "commit record for message %d", g.messageID)
	}
	return nil
}

// Release abandons the guard without committing. It is safe to call after
// Commit.
func (g *Guard) Release(ctx context.Context) {
	if g.done.CompareAndSwap(false, true) {
		g.release(ctx)
	}
}

func (g *Guard) release(ctx context.Context) {
	// Release must run even when the caller's ctx is already cancelled.
	ctx = context.WithoutCancel(ctx)
	if _, err := g.ledger.leases.Release(ctx, g.messageID, g.token); err != nil {
		g.ledger.logger.Warn("failed to release lease", "messageID", g.messageID, "error", err)
	}
}

// Ingest stores a new message, or loads the stored state of a known one.
func (l *Ledger) Ingest(ctx context.Context, m *model.Message) error {
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = l.now()
	}
	if err := l.store.EnsureMessage(ctx, m); err != nil {
		return errors.Wrapf(err, errors.CodeStore, "store message")
	}
	return nil
}

// Message returns a stored message.
func (l *Ledger) Message(ctx context.Context, id int64) (model.Message, error) {
	return l.store.GetMessage(ctx, id)
}

// Messages lists stored messages.
func (l *Ledger) Messages(ctx context.Context, f MessageFilter) ([]model.Message, error) {
	return l.store.ListMessages(ctx, f)
}

// RecordBySMSID returns the record for a message, or ErrNotFound.
func (l *Ledger) RecordBySMSID(ctx context.Context, smsID int64) (model.ForwardRecord, error) {
	return l.store.GetRecordBySMSID(ctx, smsID)
}

// Records lists records matching f, newest first.
func (l *Ledger) Records(ctx context.Context, f RecordFilter) ([]model.ForwardRecord, error) {
	return l.store.ListRecords(ctx, f)
}

// RecordsByStatus lists records with the given status.
func (l *Ledger) RecordsByStatus(ctx context.Context, status model.ForwardStatus, limit int) ([]model.ForwardRecord, error) {
	return l.store.ListRecords(ctx, RecordFilter{Status: status, Limit: limit})
}

// PurgeOlderThan deletes records and messages older than t.
func (l *Ledger) PurgeOlderThan(ctx context.Context, t time.Time) (records, messages int64, err error) {
	records, err = l.store.DeleteRecordsOlderThan(ctx, t)
	if err != nil {
		return 0, 0, fmt.Errorf("delete records: %w", err)
	}
	messages, err = l.store.DeleteMessagesOlderThan(ctx, t)
	if err != nil {
		return records, 0, fmt.Errorf("delete messages: %w", err)
	}
	return records, messages, nil
}

// ReclaimExpired drops abandoned leases.
func (l *Ledger) ReclaimExpired(ctx context.Context) (int, error) {
	n, err := l.leases.Reclaim(ctx)
	if err != nil {
		return 0, fmt.Errorf("reclaim leases: %w", err)
	}
	if n > 0 {
		l.logger.Info("reclaimed abandoned leases", "count", n)
	}
	return n, nil
}
