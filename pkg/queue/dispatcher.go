package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/metrics"
)

// PoolStats contains dispatcher statistics.
type PoolStats struct {
	WorkerCount      int           `json:"worker_count"`
	ActiveWorkers    int           `json:"active_workers"`
	QueueSize        int           `json:"queue_size"`
	ProcessedCount   int64         `json:"processed_count"`
	ErrorCount       int64         `json:"error_count"`
	AverageTime      time.Duration `json:"average_time"`
	TotalProcessTime time.Duration `json:"total_process_time"`
}

// Dispatcher pulls envelopes from its sources into a bounded buffer and
// hands each one to a worker. Workers run independently, so a slow message
// never blocks the others.
type Dispatcher struct {
	handler      Handler
	sources      []Source
	workers      int
	buffer       chan Envelope
	drainTimeout time.Duration
	sourceRetry  time.Duration

	logger  logger.Logger
	metrics *metrics.Metrics

	running   atomic.Bool
	done      chan struct{}
	active    atomic.Int32
	processed atomic.Int64
	failed    atomic.Int64
	totalNs   atomic.Int64
	startTime time.Time

	mu           sync.Mutex
	healthErrors []HealthError
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize bounds the dispatch buffer.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.buffer = make(chan Envelope, n)
		}
	}
}

// WithSources adds sources to pull from.
func WithSources(sources ...Source) Option {
	return func(d *Dispatcher) { d.sources = append(d.sources, sources...) }
}

// WithDrainTimeout bounds how long buffered work may run after shutdown starts.
func WithDrainTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.drainTimeout = t } }

func WithLogger(l logger.Logger) Option { return func(d *Dispatcher) { d.logger = logger.OrDiscard(l) } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// NewDispatcher creates a dispatcher around handler.
func NewDispatcher(handler Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handler:      handler,
		workers:      4,
		buffer:       make(chan Envelope, 256),
		drainTimeout: 30 * time.Second,
		sourceRetry:  time.Second,
		logger:       logger.Discard,
		done:         make(chan struct{}),
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run starts the workers and source pumps and blocks until ctx ends and
// the buffer is drained. Work still buffered at shutdown gets up to the
// drain timeout before its context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher is already running")
	}
	d.logger.Info("starting dispatcher", "workers", d.workers, "sources", len(d.sources))

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	var pumps sync.WaitGroup
	for _, src := range d.sources {
		pumps.Add(1)
		go func(src Source) {
			defer pumps.Done()
			d.pump(ctx, src)
		}(src)
	}

	var workers sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			d.work(ctx, workCtx, id)
		}(i)
	}

	<-ctx.Done()
	close(d.done)
	d.logger.Info("stopping dispatcher", "buffered", len(d.buffer))

	pumps.Wait()
	for _, src := range d.sources {
		if err := src.Close(); err != nil {
			d.logger.Warn("failed to close source", "source", src.Name(), "error", err)
		}
	}

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(d.drainTimeout):
		d.logger.Warn("drain timeout reached, cancelling in-flight work", "buffered", len(d.buffer))
		cancelWork()
		<-drained
	}

	d.logger.Info("dispatcher stopped", "processed", d.processed.Load(), "errors", d.failed.Load())
	return nil
}

// Submit enqueues env directly, blocking while the buffer is full.
func (d *Dispatcher) Submit(ctx context.Context, env Envelope) error {
	if env.QueuedAt.IsZero() {
		env.QueuedAt = time.Now()
	}
	select {
	case <-d.done:
		return ErrQueueClosed
	default:
	}
	select {
	case d.buffer <- env:
		d.metrics.SetQueueDepth(len(d.buffer))
		return nil
	case <-d.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) pump(ctx context.Context, src Source) {
	for {
		env, err := src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			d.recordError(src.Name(), err)
			d.logger.Error("source receive failed", "source", src.Name(), "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.sourceRetry):
			}
			continue
		}

		select {
		case d.buffer <- env:
			d.metrics.SetQueueDepth(len(d.buffer))
		case <-ctx.Done():
			d.requeue(ctx, src, env)
			return
		}
	}
}

// requeue hands an envelope that was received during shutdown back to its
// source when the source can take it.
func (d *Dispatcher) requeue(ctx context.Context, src Source, env Envelope) {
	pub, ok := src.(Publisher)
	if !ok {
		d.logger.Warn("dropping message received during shutdown", "source", src.Name(), "messageID", env.Message.ID)
		return
	}
	if err := pub.Publish(context.WithoutCancel(ctx), env); err != nil {
		d.logger.Error("failed to requeue message", "source", src.Name(), "messageID", env.Message.ID, "error", err)
	}
}

func (d *Dispatcher) work(ctx, workCtx context.Context, id int) {
	for {
		select {
		case env := <-d.buffer:
			d.handle(workCtx, id, env)
		case <-ctx.Done():
			for {
				select {
				case env := <-d.buffer:
					d.handle(workCtx, id, env)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, worker int, env Envelope) {
	d.metrics.SetQueueDepth(len(d.buffer))
	d.active.Add(1)
	defer d.active.Add(-1)

	start := time.Now()
	err := d.handler.Handle(ctx, env)
	d.totalNs.Add(int64(time.Since(start)))
	d.processed.Add(1)

	if err != nil {
		d.failed.Add(1)
		d.recordError(env.Source, err)
		d.logger.Error("message handling failed", "worker", worker, "messageID", env.Message.ID, "error", err)
	}
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() PoolStats {
	s := PoolStats{
		WorkerCount:      d.workers,
		ActiveWorkers:    int(d.active.Load()),
		QueueSize:        len(d.buffer),
		ProcessedCount:   d.processed.Load(),
		ErrorCount:       d.failed.Load(),
		TotalProcessTime: time.Duration(d.totalNs.Load()),
	}
	if s.ProcessedCount > 0 {
		s.AverageTime = s.TotalProcessTime / time.Duration(s.ProcessedCount)
	}
	return s
}
