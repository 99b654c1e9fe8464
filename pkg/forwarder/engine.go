package forwarder

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/smsforward/observability"
	"github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/executor"
	"github.com/kart-io/smsforward/pkg/ledger"
	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/metrics"
	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/rule"
	"github.com/kart-io/smsforward/pkg/stats"
	"github.com/kart-io/smsforward/pkg/telemetry"
)

// RuleSource lists the enabled rules, ordered by priority desc then id asc.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]model.ForwardRule, error)
}

// DestinationResolver picks where a matched message is delivered.
type DestinationResolver interface {
	Resolve(ctx context.Context, r model.ForwardRule) (model.Destination, error)
}

// Components are the collaborators an Engine drives. All fields except
// Sampler are required.
type Components struct {
	Rules        RuleSource
	Destinations DestinationResolver
	Executor     *executor.Executor
	Ledger       *ledger.Ledger
	Stats        *stats.Aggregator
	Sampler      *telemetry.Sampler
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.logger = logger.OrDiscard(l) } }

// WithMetrics records processing metrics into m.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithMatcher replaces the default rule matcher.
func WithMatcher(m *rule.Matcher) Option { return func(e *Engine) { e.matcher = m } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine runs the per-message forwarding state machine. It is safe for
// concurrent use; calls for different messages never block each other.
type Engine struct {
	rules        RuleSource
	destinations DestinationResolver
	executor     *executor.Executor
	ledger       *ledger.Ledger
	stats        *stats.Aggregator
	sampler      *telemetry.Sampler
	matcher      *rule.Matcher

	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates an Engine from its components.
//
// Parameters:
//   - c: the rule source, destination resolver, executor, ledger and
//     statistics aggregator; a nil Sampler yields empty environment snapshots
//   - opts: logger, metrics, matcher and clock overrides
//
// Returns:
//   - *Engine: the configured engine
//   - error: when a required component is missing
//
// Example:
//
//	engine, err := forwarder.New(forwarder.Components{
//	    Rules:        rules,
//	    Destinations: destination.NewResolver(destinations),
//	    Executor:     executor.New(email.NewSender()),
//	    Ledger:       ledger.New(ledger.NewMemoryLeaseTable(), ledger.NewMemoryStore()),
//	    Stats:        stats.NewAggregator(stats.NewMemoryStore()),
//	}, forwarder.WithLogger(log))
func New(c Components, opts ...Option) (*Engine, error) {
	switch {
	case c.Rules == nil:
		return nil, errors.New(errors.CodeInvalidConfig, "forwarder requires a rule source")
	case c.Destinations == nil:
		return nil, errors.New(errors.CodeInvalidConfig, "forwarder requires a destination resolver")
	case c.Executor == nil:
		return nil, errors.New(errors.CodeInvalidConfig, "forwarder requires an executor")
	case c.Ledger == nil:
		return nil, errors.New(errors.CodeInvalidConfig, "forwarder requires a ledger")
	case c.Stats == nil:
		return nil, errors.New(errors.CodeInvalidConfig, "forwarder requires a statistics aggregator")
	}

	e := &Engine{
		rules:        c.Rules,
		destinations: c.Destinations,
		executor:     c.Executor,
		ledger:       c.Ledger,
		stats:        c.Stats,
		sampler:      c.Sampler,
		logger:       logger.Discard,
		now:          time.Now,
	}
	if e.sampler == nil {
		e.sampler = telemetry.NewSampler(nil, 0, nil)
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.matcher == nil {
		e.matcher = rule.NewMatcher(e.logger)
	}
	return e, nil
}

// ProcessOption carries per-message metadata.
type ProcessOption func(*processState)

type processState struct {
	queuedAt time.Time
}

// WithQueuedAt records when the message entered the dispatch queue so the
// queue wait time lands on the record.
func WithQueuedAt(t time.Time) ProcessOption {
	return func(s *processState) { s.queuedAt = t }
}

// Process drives msg to a terminal status.
//
// A message with a zero ID is stored and assigned one. Messages already
// FORWARDED or IGNORED are skipped, as are messages another caller is
// processing; neither case is an error. A FAILED message is executed again
// and its record updated in place.
//
// Returns:
//   - Outcome: the committed status and record, or the skip reason
//   - error: persistence failures and cancellation; the message then keeps
//     its last durable status
func (e *Engine) Process(ctx context.Context, msg model.Message, opts ...ProcessOption) (Outcome, error) {
	var st processState
	for _, opt := range opts {
		opt(&st)
	}
	start := e.now()

	ctx, span := observability.StartSpan(ctx, "forwarder.process")
	defer span.End()

	if err := e.ledger.Ingest(ctx, &msg); err != nil {
		observability.SetSpanError(span, err)
		e.logger.Error("failed to store message", "error", err)
		return Outcome{}, err
	}
	span.SetAttributes(attribute.Int64("sms.id", msg.ID))

	if handled(msg) {
		e.logger.Debug("message already handled", "messageID", msg.ID, "status", msg.ForwardStatus)
		return skipped(msg, SkipAlreadyHandled), nil
	}

	guard, err := e.ledger.BeginProcessing(ctx, msg.ID)
	if errors.Is(err, ledger.ErrAlreadyInProgress) {
		e.metrics.IncLeaseConflict()
		e.logger.Info("message already in progress, skipping", "messageID", msg.ID)
		return skipped(msg, SkipInProgress), nil
	}
	if err != nil {
		observability.SetSpanError(span, err)
		e.logger.Error("failed to begin processing", "messageID", msg.ID, "error", err)
		return Outcome{}, err
	}

	// Another caller may have finished between Ingest and BeginProcessing.
	current, err := e.ledger.Message(ctx, msg.ID)
	if err != nil {
		guard.Release(ctx)
		err = errors.Wrapf(err, errors.CodeStore, "reload message %d", msg.ID)
		observability.SetSpanError(span, err)
		e.logger.Error("failed to reload message", "messageID", msg.ID, "error", err)
		return Outcome{}, err
	}
	msg.ForwardStatus = current.ForwardStatus
	msg.ForwardedAt = current.ForwardedAt
	if handled(msg) {
		guard.Release(ctx)
		e.logger.Info("message handled concurrently, skipping", "messageID", msg.ID, "status", msg.ForwardStatus)
		return skipped(msg, SkipAlreadyHandled), nil
	}
	retrying := msg.ForwardStatus == model.StatusFailed

	rec, err := e.run(ctx, msg, retrying)
	if err != nil {
		guard.Release(ctx)
		observability.SetSpanError(span, err)
		if errors.HasCode(err, errors.CodeCancelled) {
			e.logger.Info("message processing cancelled", "messageID", msg.ID)
		} else {
			e.logger.Error("message processing aborted", "messageID", msg.ID, "error", err)
		}
		return Outcome{}, err
	}

	end := e.now()
	rec.ProcessingTime = model.Ptr(end.Sub(start).Milliseconds())
	if !st.queuedAt.IsZero() {
		rec.QueueWaitTimeMs = model.Ptr(nonNegative(start.Sub(st.queuedAt)).Milliseconds())
	}
	if !msg.ReceivedAt.IsZero() {
		rec.ProcessingDelayMs = model.Ptr(nonNegative(start.Sub(msg.ReceivedAt)).Milliseconds())
		rec.OriginalTimestamp = model.Ptr(msg.ReceivedAt)
	}
	rec.Timestamp = end

	if err := guard.Commit(ctx, &rec); err != nil {
		if errors.Is(err, ledger.ErrAlreadyHandled) {
			e.logger.Info("message handled concurrently, dropping result", "messageID", msg.ID)
			if current, err := e.ledger.Message(ctx, msg.ID); err == nil {
				msg.ForwardStatus = current.ForwardStatus
				msg.ForwardedAt = current.ForwardedAt
			}
			return skipped(msg, SkipAlreadyHandled), nil
		}
		observability.SetSpanError(span, err)
		e.logger.Error("failed to commit forward record", "messageID", msg.ID, "error", err)
		return Outcome{}, err
	}

	out := Outcome{MessageID: msg.ID, Status: rec.Status, Record: &rec}
	e.observe(rec)
	span.SetAttributes(attribute.String("forward.status", string(rec.Status)))

	if err := e.stats.OnRecordCommitted(ctx, rec); err != nil {
		observability.SetSpanError(span, err)
		e.logger.Error("failed to update statistics", "messageID", msg.ID, "error", err)
		return out, fmt.Errorf("record committed but statistics not updated: %w", err)
	}
	observability.SetSpanSuccess(span)
	return out, nil
}

func handled(m model.Message) bool {
	return m.ForwardStatus == model.StatusForwarded || m.ForwardStatus == model.StatusIgnored
}

// run decides and executes, returning the record to commit. Errors mean
// nothing may be committed.
func (e *Engine) run(ctx context.Context, msg model.Message, retrying bool) (model.ForwardRecord, error) {
	rules, err := e.rules.ListEnabled(ctx)
	if err != nil {
		return model.ForwardRecord{}, errors.Wrap(err, errors.CodeStore, "load enabled rules")
	}

	decision := e.matcher.Decide(msg, rules)
	snap := e.sampler.Sample(ctx)

	rec := model.ForwardRecord{
		SMSID:           msg.ID,
		Sender:          msg.Sender,
		Content:         msg.Content,
		Environment:     snap,
		MessageType:     decision.Category,
		MessagePriority: decision.Priority,
		IsAutoRetry:     retrying,
	}

	if !decision.Matched {
		rec.Status = model.StatusIgnored
		rec.ExecutionStrategy = executor.SelectStrategy(snap)
		e.logger.Debug("no rule matched", "messageID", msg.ID, "rules", len(rules))
		return rec, nil
	}

	r := *decision.Rule
	rec.MatchedRuleID = model.Ptr(r.ID)
	rec.ConfidenceScore = model.Ptr(decision.Confidence)

	dest, err := e.destinations.Resolve(ctx, r)
	if err != nil {
		if !errors.HasCode(err, errors.CodeNoDefaultRoute) {
			return model.ForwardRecord{}, err
		}
		rec.Status = model.StatusFailed
		rec.FailureCategory = model.FailureEmailConfig
		rec.ErrorMessage = err.Error()
		rec.ExecutionStrategy = executor.SelectStrategy(snap)
		e.logger.Warn("no default email destination", "messageID", msg.ID, "ruleID", r.ID)
		return rec, nil
	}
	if dest.ConfigID != 0 {
		rec.EmailConfigID = model.Ptr(dest.ConfigID)
	}

	res, err := e.executor.Execute(ctx, msg, r, dest, snap)
	if err != nil {
		return model.ForwardRecord{}, err
	}

	rec.Status = res.Status
	rec.EmailSubject = res.Subject
	rec.EmailBody = res.Body
	rec.ErrorMessage = res.ErrorMessage
	rec.FailureCategory = res.FailureCategory
	rec.RetryCount = res.RetryCount
	rec.IsAutoRetry = retrying || res.IsAutoRetry
	rec.ExecutionStrategy = res.Strategy
	rec.ExecutionDurationMs = model.Ptr(res.ExecutionDuration.Milliseconds())
	rec.EmailSendDurationMs = model.Ptr(res.EmailSendDuration.Milliseconds())
	return rec, nil
}

func (e *Engine) observe(rec model.ForwardRecord) {
	var d time.Duration
	if rec.ProcessingTime != nil {
		d = time.Duration(*rec.ProcessingTime) * time.Millisecond
	}
	e.metrics.ObserveProcessed(string(rec.Status), d)
	if rec.Status == model.StatusFailed {
		e.metrics.ObserveFailure(string(rec.FailureCategory))
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
