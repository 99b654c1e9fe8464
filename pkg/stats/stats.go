// Package stats maintains daily forwarding rollups. Updates to one date are
// serialized; different dates never contend.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/model"
)

// Apply folds one committed record into s.
func Apply(s *model.ForwardStatistics, rec model.ForwardRecord) {
	s.TotalReceived++
	switch rec.Status {
	case model.StatusForwarded:
		s.TotalForwarded++
	case model.StatusFailed:
		s.TotalFailed++
	case model.StatusIgnored:
		s.TotalIgnored++
	}
	if rec.ProcessingTime != nil {
		s.ProcessingSamples++
		s.AverageProcessingTime += (float64(*rec.ProcessingTime) - s.AverageProcessingTime) / float64(s.ProcessingSamples)
	}
	s.SuccessRate = successRate(s.TotalForwarded, s.TotalFailed)
}

// successRate ignores IGNORED messages; nothing was attempted for them.
func successRate(forwarded, failed int64) float64 {
	if forwarded+failed == 0 {
		return 0
	}
	return float64(forwarded) / float64(forwarded+failed)
}

// Aggregator applies committed records to their day bucket.
type Aggregator struct {
	store  Store
	loc    *time.Location
	locks  keyedMutex
	logger logger.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLocation sets the timezone that decides a record's calendar date.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func WithLogger(l logger.Logger) Option { return func(a *Aggregator) { a.logger = logger.OrDiscard(l) } }

func NewAggregator(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{store: store, loc: time.Local, logger: logger.Discard}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Location is the timezone dates are bucketed in.
func (a *Aggregator) Location() *time.Location { return a.loc }

// DateKey returns the bucket key for t.
func (a *Aggregator) DateKey(t time.Time) string { return t.In(a.loc).Format(model.DateLayout) }

// OnRecordCommitted counts rec in the bucket of rec.Timestamp. Records that
// are not terminal are rejected.
func (a *Aggregator) OnRecordCommitted(ctx context.Context, rec model.ForwardRecord) error {
	if !rec.Status.IsTerminal() {
		return fmt.Errorf("record for message %d has non-terminal status %q", rec.SMSID, rec.Status)
	}
	date := a.DateKey(rec.Timestamp)

	unlock := a.locks.Lock(date)
	defer unlock()

	bucket, err := a.store.Get(ctx, date)
	switch {
	case errors.Is(err, ErrNotFound):
		bucket = model.ForwardStatistics{Date: date}
	case err != nil:
		return errors.Wrapf(err, errors.CodeStore, "load statistics for %s", date)
	}
	Apply(&bucket, rec)
	if err := a.store.Put(ctx, bucket); err != nil {
		return errors.Wrapf(err, errors.CodeStore, "save statistics for %s", date)
	}
	a.logger.Debug("statistics updated", "date", date, "status", rec.Status, "received", bucket.TotalReceived)
	return nil
}

// Day returns the bucket for date, or an empty bucket when nothing was
// recorded that day.
func (a *Aggregator) Day(ctx context.Context, date string) (model.ForwardStatistics, error) {
	b, err := a.store.Get(ctx, date)
	if errors.Is(err, ErrNotFound) {
		return model.ForwardStatistics{Date: date}, nil
	}
	return b, err
}

// Range returns the buckets between from and to inclusive, oldest first.
func (a *Aggregator) Range(ctx context.Context, from, to time.Time) ([]model.ForwardStatistics, error) {
	return a.store.Range(ctx, a.DateKey(from), a.DateKey(to))
}

// Summary totals a date range.
type Summary struct {
	From                  string  `json:"from"`
	To                    string  `json:"to"`
	Days                  int     `json:"days"`
	TotalReceived         int64   `json:"totalReceived"`
	TotalForwarded        int64   `json:"totalForwarded"`
	TotalFailed           int64   `json:"totalFailed"`
	TotalIgnored          int64   `json:"totalIgnored"`
	AverageProcessingTime float64 `json:"averageProcessingTime"`
	SuccessRate           float64 `json:"successRate"`
}

// Summarize totals the buckets between from and to.
func (a *Aggregator) Summarize(ctx context.Context, from, to time.Time) (Summary, error) {
	buckets, err := a.Range(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}
	return Total(a.DateKey(from), a.DateKey(to), buckets), nil
}

// Total sums buckets. The average processing time is weighted by each
// day's sample count.
func Total(from, to string, buckets []model.ForwardStatistics) Summary {
	s := Summary{From: from, To: to, Days: len(buckets)}
	var samples int64
	var weighted float64
	for _, b := range buckets {
		s.TotalReceived += b.TotalReceived
		s.TotalForwarded += b.TotalForwarded
		s.TotalFailed += b.TotalFailed
		s.TotalIgnored += b.TotalIgnored
		samples += b.ProcessingSamples
		weighted += b.AverageProcessingTime * float64(b.ProcessingSamples)
	}
	if samples > 0 {
		s.AverageProcessingTime = weighted / float64(samples)
	}
	s.SuccessRate = successRate(s.TotalForwarded, s.TotalFailed)
	return s
}

// PurgeOlderThan drops buckets for dates before t.
func (a *Aggregator) PurgeOlderThan(ctx context.Context, t time.Time) (int64, error) {
	return a.store.DeleteOlderThan(ctx, a.DateKey(t))
}
