package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLedger(t *testing.T) (*Ledger, *MemoryLeaseTable, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	leases := NewMemoryLeaseTable()
	leases.now = clock.Now
	store := NewMemoryStore()
	return New(leases, store, WithLeaseTTL(time.Minute), WithClock(clock.Now)), leases, store, clock
}

func fullRecord(smsID int64, status model.ForwardStatus, ts time.Time) *model.ForwardRecord {
	return &model.ForwardRecord{
		SMSID:               smsID,
		EmailConfigID:       model.Ptr(int64(1)),
		MatchedRuleID:       model.Ptr(int64(2)),
		Sender:              "10690",
		Content:             "code 1234",
		EmailSubject:        "[SMS] 10690",
		EmailBody:           "code 1234",
		Status:              status,
		RetryCount:          1,
		Timestamp:           ts,
		ProcessingTime:      model.Ptr(int64(120)),
		ExecutionDurationMs: model.Ptr(int64(110)),
		EmailSendDurationMs: model.Ptr(int64(90)),
		QueueWaitTimeMs:     model.Ptr(int64(5)),
		ProcessingDelayMs:   model.Ptr(int64(8)),
		OriginalTimestamp:   model.Ptr(ts.Add(-time.Second)),
		Environment: model.EnvironmentSnapshot{
			BatteryLevel: model.Ptr(77),
			IsCharging:   model.Ptr(true),
			NetworkType:  model.Ptr("WIFI"),
			SIMSlot:      model.Ptr(0),
		},
		ExecutionStrategy: model.StrategyStandard,
		MessageType:       model.TypeVerificationCode,
		MessagePriority:   model.PriorityHigh,
		ConfidenceScore:   model.Ptr(0.75),
		IsAutoRetry:       true,
	}
}

func TestBeginProcessing_ConcurrentExactlyOne(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	const callers = 64
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.BeginProcessing(ctx, 7)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.HasCode(err, errors.CodeAlreadyInProgress):
				conflicts.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(callers-1), conflicts.Load())
}

func TestBeginProcessing_IndependentMessages(t *testing.T) {
	l, _, _, _ := newTestLedger(t)
	ctx := context.Background()

	g1, err := l.BeginProcessing(ctx, 1)
	require.NoError(t, err)
	g2, err := l.BeginProcessing(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), g1.MessageID())
	assert.Equal(t, int64(2), g2.MessageID())
}

func TestGuard_ReleaseAllowsRetry(t *testing.T) {
	l, leases, _, _ := newTestLedger(t)
	ctx := context.Background()

	g, err := l.BeginProcessing(ctx, 1)
	require.NoError(t, err)
	_, err = l.BeginProcessing(ctx, 1)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)

	g.Release(ctx)
	g.Release(ctx)
	assert.Zero(t, leases.Len())

	_, err = l.BeginProcessing(ctx, 1)
	assert.NoError(t, err)
}

func TestLease_ExpiredIsReclaimable(t *testing.T) {
	l, leases, _, clock := newTestLedger(t)
	ctx := context.Background()

	stale, err := l.BeginProcessing(ctx, 1)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	fresh, err := l.BeginProcessing(ctx, 1)
	require.NoError(t, err, "expired lease must be taken over")

	err = stale.Commit(ctx, fullRecord(1, model.StatusFailed, clock.Now()))
	assert.ErrorIs(t, err, ErrLeaseLost)

	ok, _ := leases.Holds(ctx, 1, fresh.token)
	assert.True(t, ok, "stale guard must not release the new holder's lease")
}

func TestReclaimExpired(t *testing.T) {
	l, leases, _, clock := newTestLedger(t)
	ctx := context.Background()

	_, err := l.BeginProcessing(ctx, 1)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = l.BeginProcessing(ctx, 2)
	require.NoError(t, err)
	clock.Advance(45 * time.Second)

	n, err := l.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, leases.Len())
}

func TestCommit_RoundTrip(t *testing.T) {
	l, _, _, clock := newTestLedger(t)
	ctx := context.Background()

	msg := model.Message{Sender: "10690", Content: "code 1234", ReceivedAt: clock.Now()}
	require.NoError(t, l.Ingest(ctx, &msg))
	assert.Equal(t, model.StatusPending, msg.ForwardStatus)

	g, err := l.BeginProcessing(ctx, msg.ID)
	require.NoError(t, err)
	rec := fullRecord(msg.ID, model.StatusForwarded, clock.Now())
	require.NoError(t, g.Commit(ctx, rec))

	got, err := l.RecordBySMSID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, *rec, got)

	stored, err := l.Message(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusForwarded, stored.ForwardStatus)
	require.NotNil(t, stored.ForwardedAt)
	assert.True(t, stored.ForwardedAt.Equal(rec.Timestamp))

	_, err = l.BeginProcessing(ctx, msg.ID)
	assert.NoError(t, err, "commit releases the lease")
}

func TestCommit_UpsertFailedThenForwarded(t *testing.T) {
	l, _, _, clock := newTestLedger(t)
	ctx := context.Background()
	msg := model.Message{Content: "x", ReceivedAt: clock.Now()}
	require.NoError(t, l.Ingest(ctx, &msg))

	g, _ := l.BeginProcessing(ctx, msg.ID)
	failed := fullRecord(msg.ID, model.StatusFailed, clock.Now())
	require.NoError(t, g.Commit(ctx, failed))

	g, _ = l.BeginProcessing(ctx, msg.ID)
	ok := fullRecord(msg.ID, model.StatusForwarded, clock.Now().Add(time.Minute))
	require.NoError(t, g.Commit(ctx, ok))
	assert.Equal(t, failed.ID, ok.ID, "retry updates the same logical record")

	all, err := l.Records(ctx, RecordFilter{SMSID: msg.ID})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.StatusForwarded, all[0].Status)

	g, _ = l.BeginProcessing(ctx, msg.ID)
	err = g.Commit(ctx, fullRecord(msg.ID, model.StatusFailed, clock.Now()))
	assert.ErrorIs(t, err, ErrAlreadyHandled)
	got, _ := l.RecordBySMSID(ctx, msg.ID)
	assert.Equal(t, model.StatusForwarded, got.Status)
}

func TestCommit_IgnoredIsFinal(t *testing.T) {
	l, _, _, clock := newTestLedger(t)
	ctx := context.Background()
	msg := model.Message{Content: "x", ReceivedAt: clock.Now()}
	require.NoError(t, l.Ingest(ctx, &msg))

	g, _ := l.BeginProcessing(ctx, msg.ID)
	first := fullRecord(msg.ID, model.StatusIgnored, clock.Now())
	require.NoError(t, g.Commit(ctx, first))

	for _, status := range []model.ForwardStatus{model.StatusIgnored, model.StatusForwarded, model.StatusFailed} {
		g, err := l.BeginProcessing(ctx, msg.ID)
		require.NoError(t, err)
		err = g.Commit(ctx, fullRecord(msg.ID, status, clock.Now().Add(time.Minute)))
		assert.ErrorIs(t, err, ErrAlreadyHandled, "status %s", status)
	}

	got, err := l.RecordBySMSID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, model.StatusIgnored, got.Status)
	stored, err := l.Message(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIgnored, stored.ForwardStatus)
}

func TestCommit_Validation(t *testing.T) {
	l, _, _, clock := newTestLedger(t)
	ctx := context.Background()

	g, _ := l.BeginProcessing(ctx, 1)
	assert.Error(t, g.Commit(ctx, fullRecord(2, model.StatusFailed, clock.Now())))

	g, _ = l.BeginProcessing(ctx, 1)
	assert.Error(t, g.Commit(ctx, fullRecord(1, model.StatusPending, clock.Now())))

	g, _ = l.BeginProcessing(ctx, 1)
	require.NoError(t, g.Commit(ctx, fullRecord(1, model.StatusIgnored, clock.Now())))
	assert.Error(t, g.Commit(ctx, fullRecord(1, model.StatusIgnored, clock.Now())), "guard is single use")
}

func TestIngest_KnownMessageLoadsState(t *testing.T) {
	l, _, _, clock := newTestLedger(t)
	ctx := context.Background()

	msg := model.Message{ID: 500, Content: "a", ReceivedAt: clock.Now()}
	require.NoError(t, l.Ingest(ctx, &msg))
	g, _ := l.BeginProcessing(ctx, 500)
	require.NoError(t, g.Commit(ctx, fullRecord(500, model.StatusIgnored, clock.Now())))

	again := model.Message{ID: 500, Content: "different"}
	require.NoError(t, l.Ingest(ctx, &again))
	assert.Equal(t, model.StatusIgnored, again.ForwardStatus)
	assert.Equal(t, "a", again.Content)

	next := model.Message{Content: "b"}
	require.NoError(t, l.Ingest(ctx, &next))
	assert.Equal(t, int64(501), next.ID)
}

func TestQueriesAndPurge(t *testing.T) {
	l, _, _, clock := newTestLedger(t)
	ctx := context.Background()
	base := clock.Now()

	for i, st := range []model.ForwardStatus{model.StatusForwarded, model.StatusFailed, model.StatusForwarded, model.StatusIgnored} {
		ts := base.Add(time.Duration(i) * time.Hour)
		msg := model.Message{Content: "m", ReceivedAt: ts}
		require.NoError(t, l.Ingest(ctx, &msg))
		g, err := l.BeginProcessing(ctx, msg.ID)
		require.NoError(t, err)
		require.NoError(t, g.Commit(ctx, fullRecord(msg.ID, st, ts)))
	}

	forwarded, err := l.RecordsByStatus(ctx, model.StatusForwarded, 0)
	require.NoError(t, err)
	assert.Len(t, forwarded, 2)
	assert.True(t, forwarded[0].Timestamp.After(forwarded[1].Timestamp), "newest first")

	window, err := l.Records(ctx, RecordFilter{From: base.Add(time.Hour), To: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	limited, _ := l.Records(ctx, RecordFilter{Limit: 1, Offset: 1})
	assert.Len(t, limited, 1)

	failedMsgs, err := l.Messages(ctx, MessageFilter{Status: model.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, failedMsgs, 1)

	records, messages, err := l.PurgeOlderThan(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), records)
	assert.Equal(t, int64(2), messages)

	rest, _ := l.Records(ctx, RecordFilter{})
	assert.Len(t, rest, 2)
}
