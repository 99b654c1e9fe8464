// Package retention deletes old forwarding history and reclaims abandoned
// leases on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/metrics"
)

// LedgerPurger is the part of *ledger.Ledger the sweeper drives.
type LedgerPurger interface {
	PurgeOlderThan(ctx context.Context, t time.Time) (records, messages int64, err error)
	ReclaimExpired(ctx context.Context) (int, error)
}

// StatsPurger is the part of *stats.Aggregator the sweeper drives.
type StatsPurger interface {
	PurgeOlderThan(ctx context.Context, t time.Time) (int64, error)
}

// Report summarizes one sweep.
type Report struct {
	At         time.Time `json:"at"`
	Cutoff     time.Time `json:"cutoff"`
	Records    int64     `json:"records"`
	Messages   int64     `json:"messages"`
	Statistics int64     `json:"statistics"`
	Leases     int       `json:"leases"`
}

const (
	DefaultMaxAge          = 30 * 24 * time.Hour
	DefaultSchedule        = "@daily"
	DefaultReclaimSchedule = "@every 1m"
)

// Sweeper runs retention and lease reclamation.
type Sweeper struct {
	ledger  LedgerPurger
	stats   StatsPurger
	maxAge  time.Duration
	reclaim string
	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	last *Report
}

type Option func(*Sweeper)

// WithMaxAge sets how much history is kept.
func WithMaxAge(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithReclaimSchedule sets how often expired leases are dropped. An empty
// schedule disables the job.
func WithReclaimSchedule(spec string) Option { return func(s *Sweeper) { s.reclaim = spec } }

func WithLogger(l logger.Logger) Option { return func(s *Sweeper) { s.logger = logger.OrDiscard(l) } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Sweeper) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

// New creates a Sweeper. stats may be nil.
func New(l LedgerPurger, st StatsPurger, opts ...Option) *Sweeper {
	s := &Sweeper{
		ledger:  l,
		stats:   st,
		maxAge:  DefaultMaxAge,
		reclaim: DefaultReclaimSchedule,
		logger:  logger.Discard,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep deletes everything older than the retention window and reclaims
// expired leases. Every step runs; the first error is returned with the
// partial report.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	now := s.now()
	rep := Report{At: now, Cutoff: now.Add(-s.maxAge)}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	records, messages, err := s.ledger.PurgeOlderThan(ctx, rep.Cutoff)
	rep.Records, rep.Messages = records, messages
	keep(err)

	if s.stats != nil {
		n, err := s.stats.PurgeOlderThan(ctx, rep.Cutoff)
		rep.Statistics = n
		keep(err)
	}

	leases, err := s.ledger.ReclaimExpired(ctx)
	rep.Leases = leases
	keep(err)

	s.metrics.AddSweepDeleted("records", rep.Records)
	s.metrics.AddSweepDeleted("messages", rep.Messages)
	s.metrics.AddSweepDeleted("statistics", rep.Statistics)
	s.metrics.AddSweepDeleted("leases", int64(rep.Leases))

	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()

	if firstErr != nil {
		s.logger.Error("retention sweep failed", "cutoff", rep.Cutoff, "error", firstErr)
		return rep, fmt.Errorf("retention sweep: %w", firstErr)
	}
	s.logger.Info("retention sweep finished", "cutoff", rep.Cutoff,
		"records", rep.Records, "messages", rep.Messages, "statistics", rep.Statistics, "leases", rep.Leases)
	return rep, nil
}

// Last returns the report of the most recent sweep.
func (s *Sweeper) Last() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// Run schedules Sweep on schedule and lease reclamation on the reclaim
// schedule, blocking until ctx is done. Overlapping runs are skipped.
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if schedule != "" {
		if _, err := c.AddFunc(schedule, func() { _, _ = s.Sweep(ctx) }); err != nil {
			return fmt.Errorf("schedule retention sweep %q: %w", schedule, err)
		}
	}
	if s.reclaim != "" {
		if _, err := c.AddFunc(s.reclaim, func() {
			n, err := s.ledger.ReclaimExpired(ctx)
			if err != nil {
				s.logger.Warn("lease reclamation failed", "error", err)
				return
			}
			s.metrics.AddSweepDeleted("leases", int64(n))
		}); err != nil {
			return fmt.Errorf("schedule lease reclamation %q: %w", s.reclaim, err)
		}
	}

	c.Start()
	s.logger.Info("retention scheduler started", "schedule", schedule, "reclaim", s.reclaim, "maxAge", s.maxAge)
	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("retention scheduler stop timed out waiting for running jobs")
	}
	s.logger.Info("retention scheduler stopped")
	return nil
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct{ l logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
