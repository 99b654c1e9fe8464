package forwarder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/smsforward/pkg/destination"
	smserrors "github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/executor"
	"github.com/kart-io/smsforward/pkg/ledger"
	"github.com/kart-io/smsforward/pkg/metrics"
	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/rule"
	"github.com/kart-io/smsforward/pkg/stats"
	"github.com/kart-io/smsforward/pkg/telemetry"
)

type fakeSender struct {
	mu      sync.Mutex
	errs    []error
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *fakeSender) Send(ctx context.Context, _ model.Destination, _, _ string) error {
	n := int(s.calls.Add(1))
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= len(s.errs) {
		return s.errs[n-1]
	}
	return nil
}

// pausingStore holds the next EnsureMessage call after it has loaded the
// stored message, until resume is closed.
type pausingStore struct {
	*ledger.MemoryStore
	armed  atomic.Bool
	loaded chan model.Message
	resume chan struct{}
}

func newPausingStore() *pausingStore {
	return &pausingStore{
		MemoryStore: ledger.NewMemoryStore(),
		loaded:      make(chan model.Message, 1),
		resume:      make(chan struct{}),
	}
}

func (s *pausingStore) EnsureMessage(ctx context.Context, m *model.Message) error {
	err := s.MemoryStore.EnsureMessage(ctx, m)
	if err == nil && s.armed.CompareAndSwap(true, false) {
		s.loaded <- *m
		<-s.resume
	}
	return err
}

type failingRules struct{ err error }

func (f failingRules) ListEnabled(context.Context) ([]model.ForwardRule, error) { return nil, f.err }

type harness struct {
	engine  *Engine
	rules   *rule.MemoryStore
	dests   *destination.MemoryStore
	ledger  *ledger.Ledger
	stats   *stats.Aggregator
	sender  *fakeSender
	metrics *metrics.Metrics
	reg     *prometheus.Registry
}

func newHarness(t *testing.T, sender *fakeSender, withDefault bool) *harness {
	t.Helper()
	return newHarnessWithStore(t, sender, withDefault, ledger.NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, sender *fakeSender, withDefault bool, store ledger.Store) *harness {
	t.Helper()
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	h := &harness{
		rules:   rule.NewMemoryStore(),
		dests:   destination.NewMemoryStore(),
		ledger:  ledger.New(ledger.NewMemoryLeaseTable(), store),
		stats:   stats.NewAggregator(stats.NewMemoryStore(), stats.WithLocation(time.UTC)),
		sender:  sender,
		metrics: metrics.New(reg),
		reg:     reg,
	}
	if withDefault {
		cfg := model.EmailConfig{
			Provider: "custom", SMTPHost: "smtp.example.com", SMTPPort: 587,
			SenderEmail: "bot@example.com", ReceiverEmail: "me@example.com", IsDefault: true,
		}
		require.NoError(t, h.dests.Create(ctx, &cfg))
	}

	exec := executor.New(sender,
		executor.WithRetryPolicy(executor.RetryPolicy{MaxAttempts: 3, Backoff: executor.ConstantBackoff(time.Millisecond)}),
		executor.WithClock(nil, func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	engine, err := New(Components{
		Rules:        h.rules,
		Destinations: destination.NewResolver(h.dests),
		Executor:     exec,
		Ledger:       h.ledger,
		Stats:        h.stats,
		Sampler: telemetry.NewSampler(telemetry.StaticProvider{Value: model.EnvironmentSnapshot{
			BatteryLevel: model.Ptr(80),
			NetworkType:  model.Ptr("WIFI"),
		}}, time.Second, nil),
	}, WithMetrics(h.metrics))
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) addRule(t *testing.T, r model.ForwardRule) model.ForwardRule {
	t.Helper()
	r.Enabled = true
	require.NoError(t, h.rules.Create(context.Background(), &r))
	return r
}

func (h *harness) today(t *testing.T) model.ForwardStatistics {
	t.Helper()
	day, err := h.stats.Day(context.Background(), h.stats.DateKey(time.Now()))
	require.NoError(t, err)
	return day
}

func (h *harness) assertMetric(t *testing.T, name, help, kind, sample string) {
	t.Helper()
	expected := "# HELP " + name + " " + help + "\n# TYPE " + name + " " + kind + "\n" + sample + "\n"
	assert.NoError(t, testutil.GatherAndCompare(h.reg, strings.NewReader(expected), name))
}

func verificationRule() model.ForwardRule {
	return model.ForwardRule{
		Name: "codes", RuleType: model.RuleKeyword, MatchType: model.MatchContains,
		Keywords: []string{"verification code"}, Priority: 10,
	}
}

func inbound(content string) model.Message {
	return model.Message{Sender: "10690", Content: content, ReceivedAt: time.Now().Add(-time.Second)}
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := New(Components{})
	assert.True(t, smserrors.HasCode(err, smserrors.CodeInvalidConfig))
}

func TestProcess_NoRulesIgnored(t *testing.T) {
	h := newHarness(t, &fakeSender{}, true)

	out, err := h.engine.Process(context.Background(), inbound("hello"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusIgnored, out.Status)
	assert.False(t, out.Skipped)
	assert.Nil(t, out.Record.MatchedRuleID)
	assert.Zero(t, h.sender.calls.Load())

	day := h.today(t)
	assert.Equal(t, int64(1), day.TotalIgnored)
	assert.Equal(t, int64(1), day.TotalReceived)

	msg, err := h.ledger.Message(context.Background(), out.MessageID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIgnored, msg.ForwardStatus)
}

func TestProcess_Forwarded(t *testing.T) {
	h := newHarness(t, &fakeSender{}, true)
	r := h.addRule(t, verificationRule())

	out, err := h.engine.Process(context.Background(), inbound("Your verification code is 123456"),
		WithQueuedAt(time.Now().Add(-50*time.Millisecond)))
	require.NoError(t, err)
	require.Equal(t, model.StatusForwarded, out.Status)

	rec := out.Record
	require.NotNil(t, rec.MatchedRuleID)
	assert.Equal(t, r.ID, *rec.MatchedRuleID)
	require.NotNil(t, rec.EmailConfigID)
	assert.Contains(t, rec.EmailSubject, "10690")
	assert.Equal(t, model.TypeVerificationCode, rec.MessageType)
	assert.Equal(t, model.StrategyStandard, rec.ExecutionStrategy)
	assert.Equal(t, 80, *rec.Environment.BatteryLevel)
	assert.NotNil(t, rec.ConfidenceScore)
	assert.NotNil(t, rec.ProcessingTime)
	assert.GreaterOrEqual(t, *rec.QueueWaitTimeMs, int64(50))
	assert.GreaterOrEqual(t, *rec.ProcessingDelayMs, int64(1000))
	assert.Zero(t, rec.RetryCount)

	stored, err := h.ledger.RecordBySMSID(context.Background(), out.MessageID)
	require.NoError(t, err)
	assert.Equal(t, *rec, stored)

	h.assertMetric(t, "smsforward_messages_processed_total",
		"Messages that reached a terminal state, by status.", "counter",
		`smsforward_messages_processed_total{status="FORWARDED"} 1`)
	assert.InDelta(t, 1.0, h.today(t).SuccessRate, 1e-9)
}

func TestProcess_RetriesTransientFailures(t *testing.T) {
	netErr := executor.NewSendError(model.FailureNetwork, "connection reset", nil)
	h := newHarness(t, &fakeSender{errs: []error{netErr, netErr}}, true)
	h.addRule(t, verificationRule())

	out, err := h.engine.Process(context.Background(), inbound("verification code 1"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusForwarded, out.Status)
	assert.Equal(t, 2, out.Record.RetryCount)
	assert.True(t, out.Record.IsAutoRetry)
	assert.Equal(t, int32(3), h.sender.calls.Load())
}

func TestProcess_AuthFailureNotRetried(t *testing.T) {
	authErr := executor.NewSendError(model.FailureAuth, "535 bad credentials", nil)
	h := newHarness(t, &fakeSender{errs: []error{authErr}}, true)
	h.addRule(t, verificationRule())

	out, err := h.engine.Process(context.Background(), inbound("verification code 1"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Equal(t, model.FailureAuth, out.Record.FailureCategory)
	assert.NotEmpty(t, out.Record.ErrorMessage)
	assert.Zero(t, out.Record.RetryCount)
	assert.Equal(t, int32(1), h.sender.calls.Load())
	assert.Equal(t, int64(1), h.today(t).TotalFailed)
	h.assertMetric(t, "smsforward_forward_failures_total",
		"Terminal forward failures, by category.", "counter",
		`smsforward_forward_failures_total{category="AUTH"} 1`)
}

func TestProcess_NoDefaultDestination(t *testing.T) {
	h := newHarness(t, &fakeSender{}, false)
	h.addRule(t, model.ForwardRule{Name: "all", RuleType: model.RuleCatchAll})

	out, err := h.engine.Process(context.Background(), inbound("hello"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Equal(t, model.FailureEmailConfig, out.Record.FailureCategory)
	assert.NotEmpty(t, out.Record.ErrorMessage)
	assert.Zero(t, h.sender.calls.Load())
}

func TestProcess_TerminalMessagesSkipped(t *testing.T) {
	h := newHarness(t, &fakeSender{}, true)
	h.addRule(t, model.ForwardRule{Name: "all", RuleType: model.RuleCatchAll})
	ctx := context.Background()

	first, err := h.engine.Process(ctx, inbound("hello"))
	require.NoError(t, err)
	require.Equal(t, model.StatusForwarded, first.Status)

	again, err := h.engine.Process(ctx, model.Message{ID: first.MessageID})
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, SkipAlreadyHandled, again.SkipReason)
	assert.Equal(t, model.StatusForwarded, again.Status)
	assert.Equal(t, int32(1), h.sender.calls.Load())
	assert.Equal(t, int64(1), h.today(t).TotalReceived)
}

func TestProcess_FailedMessageRetriedInPlace(t *testing.T) {
	authErr := executor.NewSendError(model.FailureAuth, "535", nil)
	h := newHarness(t, &fakeSender{errs: []error{authErr}}, true)
	h.addRule(t, model.ForwardRule{Name: "all", RuleType: model.RuleCatchAll})
	ctx := context.Background()

	first, err := h.engine.Process(ctx, inbound("hello"))
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, first.Status)

	second, err := h.engine.Process(ctx, model.Message{ID: first.MessageID})
	require.NoError(t, err)
	assert.Equal(t, model.StatusForwarded, second.Status)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.True(t, second.Record.IsAutoRetry)
	assert.Equal(t, "hello", second.Record.Content)

	records, err := h.ledger.Records(ctx, ledger.RecordFilter{SMSID: first.MessageID})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestProcess_ConcurrentDuplicateSkipped(t *testing.T) {
	sender := &fakeSender{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, sender, true)
	h.addRule(t, model.ForwardRule{Name: "all", RuleType: model.RuleCatchAll})
	ctx := context.Background()

	msg := inbound("hello")
	require.NoError(t, h.ledger.Ingest(ctx, &msg))

	done := make(chan Outcome, 1)
	go func() {
		out, err := h.engine.Process(ctx, msg)
		assert.NoError(t, err)
		done <- out
	}()
	<-sender.entered

	dup, err := h.engine.Process(ctx, msg)
	require.NoError(t, err)
	assert.True(t, dup.Skipped)
	assert.Equal(t, SkipInProgress, dup.SkipReason)
	h.assertMetric(t, "smsforward_lease_conflicts_total",
		"Messages skipped because another worker held the lease.", "counter",
		"smsforward_lease_conflicts_total 1")

	close(sender.release)
	first := <-done
	assert.Equal(t, model.StatusForwarded, first.Status)
	assert.Equal(t, int32(1), sender.calls.Load())
}

func TestProcess_StaleIngestDoesNotResend(t *testing.T) {
	store := newPausingStore()
	h := newHarnessWithStore(t, &fakeSender{}, true, store)
	h.addRule(t, model.ForwardRule{Name: "all", RuleType: model.RuleCatchAll})
	ctx := context.Background()

	msg := inbound("hello")
	require.NoError(t, h.ledger.Ingest(ctx, &msg))
	store.armed.Store(true)

	late := make(chan Outcome, 1)
	go func() {
		out, err := h.engine.Process(ctx, model.Message{ID: msg.ID})
		assert.NoError(t, err)
		late <- out
	}()
	seen := <-store.loaded
	require.Equal(t, model.StatusPending, seen.ForwardStatus)

	first, err := h.engine.Process(ctx, model.Message{ID: msg.ID})
	require.NoError(t, err)
	require.Equal(t, model.StatusForwarded, first.Status)

	close(store.resume)
	second := <-late
	assert.True(t, second.Skipped)
	assert.Equal(t, SkipAlreadyHandled, second.SkipReason)
	assert.Equal(t, model.StatusForwarded, second.Status)
	assert.Equal(t, int32(1), h.sender.calls.Load())

	day := h.today(t)
	assert.Equal(t, int64(1), day.TotalReceived)
	assert.Equal(t, int64(1), day.TotalForwarded)

	_, err = h.ledger.BeginProcessing(ctx, msg.ID)
	assert.NoError(t, err, "skipping releases the lease")
}

func TestProcess_StaleIngestIgnoredCountedOnce(t *testing.T) {
	store := newPausingStore()
	h := newHarnessWithStore(t, &fakeSender{}, true, store)
	ctx := context.Background()

	msg := inbound("hello")
	require.NoError(t, h.ledger.Ingest(ctx, &msg))
	store.armed.Store(true)

	late := make(chan Outcome, 1)
	go func() {
		out, err := h.engine.Process(ctx, model.Message{ID: msg.ID})
		assert.NoError(t, err)
		late <- out
	}()
	<-store.loaded

	first, err := h.engine.Process(ctx, model.Message{ID: msg.ID})
	require.NoError(t, err)
	require.Equal(t, model.StatusIgnored, first.Status)

	close(store.resume)
	second := <-late
	assert.True(t, second.Skipped)
	assert.Equal(t, model.StatusIgnored, second.Status)

	day := h.today(t)
	assert.Equal(t, int64(1), day.TotalReceived)
	assert.Equal(t, int64(1), day.TotalIgnored)
}

func TestProcess_PersistenceErrorPropagates(t *testing.T) {
	h := newHarness(t, &fakeSender{}, true)
	engine, err := New(Components{
		Rules:        failingRules{err: errors.New("connection refused")},
		Destinations: destination.NewResolver(h.dests),
		Executor:     executor.New(h.sender),
		Ledger:       h.ledger,
		Stats:        h.stats,
	})
	require.NoError(t, err)
	ctx := context.Background()

	msg := inbound("hello")
	_, err = engine.Process(ctx, msg)
	require.Error(t, err)
	assert.True(t, smserrors.HasCode(err, smserrors.CodeStore))

	stored, err := h.ledger.Messages(ctx, ledger.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.StatusPending, stored[0].ForwardStatus)

	guard, err := h.ledger.BeginProcessing(ctx, stored[0].ID)
	require.NoError(t, err, "lease is released on failure")
	guard.Release(ctx)
	assert.Zero(t, h.today(t).TotalReceived)
}

func TestProcess_CancelledLeavesPending(t *testing.T) {
	h := newHarness(t, &fakeSender{}, true)
	h.addRule(t, model.ForwardRule{Name: "all", RuleType: model.RuleCatchAll})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := inbound("hello")
	_, err := h.engine.Process(ctx, msg)
	require.Error(t, err)
	assert.True(t, smserrors.HasCode(err, smserrors.CodeCancelled))

	stored, err := h.ledger.Messages(context.Background(), ledger.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.StatusPending, stored[0].ForwardStatus)
	assert.Zero(t, h.sender.calls.Load())
}
