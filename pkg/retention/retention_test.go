package retention

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/smsforward/pkg/ledger"
	"github.com/kart-io/smsforward/pkg/metrics"
	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/stats"
)

type fakeLedger struct {
	cutoff   time.Time
	purgeErr error
	reclaims atomic.Int32
}

func (f *fakeLedger) PurgeOlderThan(_ context.Context, t time.Time) (int64, int64, error) {
	f.cutoff = t
	if f.purgeErr != nil {
		return 0, 0, f.purgeErr
	}
	return 3, 5, nil
}

func (f *fakeLedger) ReclaimExpired(context.Context) (int, error) {
	f.reclaims.Add(1)
	return 2, nil
}

func TestSweep_Report(t *testing.T) {
	now := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	fl := &fakeLedger{}
	reg := prometheus.NewRegistry()
	s := New(fl, nil, WithMaxAge(24*time.Hour), WithClock(func() time.Time { return now }),
		WithMetrics(metrics.New(reg)))

	_, ok := s.Last()
	assert.False(t, ok)

	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), fl.cutoff)
	assert.Equal(t, Report{At: now, Cutoff: now.Add(-24 * time.Hour), Records: 3, Messages: 5, Leases: 2}, rep)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, rep, last)

	n, err := testutil.GatherAndCount(reg, "smsforward_retention_deleted_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n) // zero counts add no series
}

func TestSweep_ContinuesAfterError(t *testing.T) {
	boom := errors.New("db down")
	fl := &fakeLedger{purgeErr: boom}
	s := New(fl, nil)

	rep, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, rep.Leases)
	assert.Equal(t, int32(1), fl.reclaims.Load())
}

func TestSweep_RealStores(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)

	lstore := ledger.NewMemoryStore()
	l := ledger.New(ledger.NewMemoryLeaseTable(), lstore)
	agg := stats.NewAggregator(stats.NewMemoryStore(), stats.WithLocation(time.UTC))

	for i, ts := range []time.Time{now.AddDate(0, 0, -40), now.AddDate(0, 0, -1)} {
		msg := &model.Message{Sender: "10086", Content: "x", ReceivedAt: ts}
		require.NoError(t, l.Ingest(ctx, msg))
		g, err := l.BeginProcessing(ctx, msg.ID)
		require.NoError(t, err)
		rec := &model.ForwardRecord{SMSID: msg.ID, Status: model.StatusIgnored, Timestamp: ts}
		require.NoError(t, g.Commit(ctx, rec), "record %d", i)
		require.NoError(t, agg.OnRecordCommitted(ctx, *rec))
	}

	s := New(l, agg, WithMaxAge(30*24*time.Hour), WithClock(func() time.Time { return now }))
	rep, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Records)
	assert.Equal(t, int64(1), rep.Messages)
	assert.Equal(t, int64(1), rep.Statistics)

	recs, err := l.Records(ctx, ledger.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRun_InvalidSchedule(t *testing.T) {
	s := New(&fakeLedger{}, nil)
	err := s.Run(context.Background(), "not a schedule")
	assert.Error(t, err)
}

func TestRun_ReclaimsOnSchedule(t *testing.T) {
	fl := &fakeLedger{}
	s := New(fl, nil, WithReclaimSchedule("@every 1s"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "") }()

	assert.Eventually(t, func() bool { return fl.reclaims.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
