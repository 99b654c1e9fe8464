package ledger

import (
	"context"
	"time"

	"github.com/kart-io/smsforward/pkg/model"
)

// RecordFilter selects forward records. Zero fields do not filter.
type RecordFilter struct {
	Status model.ForwardStatus
	SMSID  int64
	From   time.Time // inclusive
	To     time.Time // exclusive
	Limit  int
	Offset int
}

// MessageFilter selects messages. Zero fields do not filter.
type MessageFilter struct {
	Status model.ForwardStatus
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Store persists messages and forward records.
type Store interface {
	// EnsureMessage inserts m if it is new. A zero ID is assigned; an
	// existing row is loaded back into m unchanged.
	EnsureMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id int64) (model.Message, error)
	ListMessages(ctx context.Context, f MessageFilter) ([]model.Message, error)

	// CommitOutcome upserts the record for rec.SMSID and moves the message
	// to rec.Status in one atomic step. A FORWARDED or IGNORED record is
	// never replaced; ErrAlreadyHandled is returned instead.
	CommitOutcome(ctx context.Context, rec *model.ForwardRecord) error
	GetRecordBySMSID(ctx context.Context, smsID int64) (model.ForwardRecord, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]model.ForwardRecord, error)

	DeleteRecordsOlderThan(ctx context.Context, t time.Time) (int64, error)
	DeleteMessagesOlderThan(ctx context.Context, t time.Time) (int64, error)
}
