package executor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/smsforward/observability"
	"github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/metrics"
	"github.com/kart-io/smsforward/pkg/model"
)

// DefaultAttemptTimeout bounds a single Send call.
const DefaultAttemptTimeout = 30 * time.Second

// Result is the outcome of Execute.
type Result struct {
	Status            model.ForwardStatus
	Subject           string
	Body              string
	ErrorMessage      string
	FailureCategory   model.FailureCategory
	RetryCount        int
	IsAutoRetry       bool
	Strategy          model.ExecutionStrategy
	ExecutionDuration time.Duration
	// EmailSendDuration is the duration of the final send attempt.
	EmailSendDuration time.Duration
}

// Executor delivers a matched message. It does no per-message
// deduplication; callers hold the ledger lease.
type Executor struct {
	sender         EmailSender
	builder        *PayloadBuilder
	policy         RetryPolicy
	attemptTimeout time.Duration
	logger         logger.Logger
	metrics        *metrics.Metrics
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

func WithRetryPolicy(p RetryPolicy) Option { return func(e *Executor) { e.policy = p } }

func WithAttemptTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.attemptTimeout = d
		}
	}
}

func WithPayloadBuilder(b *PayloadBuilder) Option { return func(e *Executor) { e.builder = b } }

func WithLogger(l logger.Logger) Option { return func(e *Executor) { e.logger = logger.OrDiscard(l) } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Executor) { e.metrics = m } }

// WithClock replaces time.Now and the backoff sleep.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// New creates an Executor around sender.
func New(sender EmailSender, opts ...Option) *Executor {
	e := &Executor{
		sender:         sender,
		builder:        MustPayloadBuilder(),
		policy:         DefaultRetryPolicy(),
		attemptTimeout: DefaultAttemptTimeout,
		logger:         logger.Discard,
		sleep:          sleepCtx,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute renders and sends the email, retrying retryable failures. A
// non-nil error is returned only when ctx ends before a terminal result;
// the caller must not commit in that case.
func (e *Executor) Execute(ctx context.Context, msg model.Message, rule model.ForwardRule,
	dest model.Destination, snap model.EnvironmentSnapshot) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "executor.execute",
		attribute.Int64("sms.id", msg.ID),
		attribute.Int64("rule.id", rule.ID),
	)
	defer span.End()

	start := e.now()
	res := Result{Strategy: SelectStrategy(snap)}
	finish := func() Result {
		res.ExecutionDuration = e.now().Sub(start)
		span.SetAttributes(
			attribute.String("forward.status", string(res.Status)),
			attribute.Int("forward.retry_count", res.RetryCount),
		)
		return res
	}

	payload, err := e.builder.Build(msg, rule)
	if err != nil {
		res.Status = model.StatusFailed
		res.FailureCategory = model.FailureEmailConfig
		res.ErrorMessage = err.Error()
		observability.SetSpanError(span, err)
		return finish(), nil
	}
	res.Subject, res.Body = payload.Subject, payload.Body

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return e.cancelled(span, msg, err)
		}

		res.RetryCount = attempt - 1
		res.IsAutoRetry = attempt > 1

		sendStart := e.now()
		sendErr := e.sendOnce(ctx, dest, payload)
		res.EmailSendDuration = e.now().Sub(sendStart)

		if sendErr == nil {
			e.metrics.ObserveAttempt("success", res.EmailSendDuration)
			res.Status = model.StatusForwarded
			res.FailureCategory = ""
			res.ErrorMessage = ""
			observability.SetSpanSuccess(span)
			e.logger.Debug("email sent", "messageID", msg.ID, "attempt", attempt,
				"durationMs", res.EmailSendDuration.Milliseconds())
			return finish(), nil
		}
		if err := ctx.Err(); err != nil {
			return e.cancelled(span, msg, err)
		}

		category := Classify(sendErr)
		e.metrics.ObserveAttempt(string(category), res.EmailSendDuration)
		res.FailureCategory = category
		res.ErrorMessage = sendErr.Error()
		span.AddEvent("send attempt failed", traceAttempt(attempt, category))

		if !e.policy.ShouldRetry(category, attempt) {
			res.Status = model.StatusFailed
			observability.SetSpanError(span, sendErr)
			e.logger.Warn("email forward failed", "messageID", msg.ID, "attempts", attempt,
				"category", category, "error", sendErr)
			return finish(), nil
		}

		delay := e.policy.Delay(attempt)
		e.logger.Info("retrying email send", "messageID", msg.ID, "attempt", attempt,
			"category", category, "delay", delay, "error", sendErr)
		if err := e.sleep(ctx, delay); err != nil {
			return e.cancelled(span, msg, err)
		}
	}
}

// sendOnce runs a single attempt bounded by the attempt timeout, even when
// the sender ignores its context.
func (e *Executor) sendOnce(ctx context.Context, dest model.Destination, p Payload) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.sender.Send(attemptCtx, dest, p.Subject, p.Body)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		return attemptCtx.Err()
	}
}

func (e *Executor) cancelled(span trace.Span, msg model.Message, cause error) (Result, error) {
	err := errors.Wrap(cause, errors.CodeCancelled, "forward execution cancelled")
	observability.SetSpanError(span, err)
	e.logger.Info("email forward cancelled", "messageID", msg.ID, "error", cause)
	return Result{}, err
}

func traceAttempt(attempt int, category model.FailureCategory) trace.EventOption {
	return trace.WithAttributes(
		attribute.Int("attempt", attempt),
		attribute.String("failure.category", string(category)),
	)
}
