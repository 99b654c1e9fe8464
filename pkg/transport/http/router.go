package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kart-io/smsforward/pkg/destination"
	"github.com/kart-io/smsforward/pkg/forwarder"
	"github.com/kart-io/smsforward/pkg/ledger"
	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/metrics"
	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/queue"
	"github.com/kart-io/smsforward/pkg/rule"
	"github.com/kart-io/smsforward/pkg/stats"
)

// Processor runs a message through the engine synchronously.
type Processor interface {
	Process(ctx context.Context, msg model.Message, opts ...forwarder.ProcessOption) (forwarder.Outcome, error)
}

// Submitter hands a message to the dispatcher.
type Submitter interface {
	Submit(ctx context.Context, env queue.Envelope) error
}

// History is the query side of the ledger.
type History interface {
	Ingest(ctx context.Context, m *model.Message) error
	Message(ctx context.Context, id int64) (model.Message, error)
	Messages(ctx context.Context, f ledger.MessageFilter) ([]model.Message, error)
	RecordBySMSID(ctx context.Context, smsID int64) (model.ForwardRecord, error)
	Records(ctx context.Context, f ledger.RecordFilter) ([]model.ForwardRecord, error)
}

// Statistics serves daily rollups.
type Statistics interface {
	Location() *time.Location
	Range(ctx context.Context, from, to time.Time) ([]model.ForwardStatistics, error)
	Summarize(ctx context.Context, from, to time.Time) (stats.Summary, error)
}

// DestinationChecker verifies SMTP connectivity without sending mail.
type DestinationChecker interface {
	Check(ctx context.Context, dest model.Destination) error
}

// EnvironmentReporter accepts device state pushed by the phone.
type EnvironmentReporter interface {
	Report(ctx context.Context, snap model.EnvironmentSnapshot) error
}

// HealthReporter reports dispatcher health.
type HealthReporter interface {
	Health() queue.HealthStatus
}

// Deps wires the API. Submitter, Checker, Environment, Health and Gatherer
// are optional; their endpoints are not mounted when nil, except that
// ingestion falls back to synchronous processing without a Submitter.
type Deps struct {
	Processor    Processor
	Submitter    Submitter
	History      History
	Stats        Statistics
	Rules        rule.Store
	Destinations destination.Store
	Checker      DestinationChecker
	Environment  EnvironmentReporter
	Health       HealthReporter
	Gatherer     prometheus.Gatherer
	Metrics      *metrics.Metrics
	Logger       logger.Logger
	// RequestTimeout bounds every request. Zero means 60s.
	RequestTimeout time.Duration
}

// API holds the handlers.
type API struct {
	deps     Deps
	logger   logger.Logger
	validate *validator.Validate
}

// NewRouter builds the chi router for d.
func NewRouter(d Deps) http.Handler {
	a := &API{
		deps:     d,
		logger:   logger.OrDiscard(d.Logger),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	timeout := d.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(metricsMiddleware(d.Metrics))

	r.Get("/healthz", a.health)
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", a.ingestMessage)
		r.Get("/messages", a.listMessages)
		r.Get("/messages/{id}", a.getMessage)

		r.Get("/records", a.listRecords)
		r.Get("/records/{smsID}", a.getRecord)

		r.Get("/statistics", a.statistics)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", a.listRules)
			r.Post("/", a.createRule)
			r.Get("/{id}", a.getRule)
			r.Put("/{id}", a.updateRule)
			r.Delete("/{id}", a.deleteRule)
		})

		r.Route("/destinations", func(r chi.Router) {
			r.Get("/", a.listDestinations)
			r.Post("/", a.createDestination)
			r.Get("/default", a.getDefaultDestination)
			r.Get("/{id}", a.getDestination)
			r.Put("/{id}", a.updateDestination)
			r.Delete("/{id}", a.deleteDestination)
			r.Post("/{id}/default", a.setDefaultDestination)
			if d.Checker != nil {
				r.Post("/{id}/test", a.testDestination)
			}
		})

		if d.Environment != nil {
			r.Put("/environment", a.reportEnvironment)
		}
	})
	return r
}

// metricsMiddleware records request counts and latency by route pattern.
func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			path := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = routeLabel(rctx.RoutePattern())
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTP(r.Method, path, status, time.Since(start))
		})
	}
}

// routeLabel drops the trailing slash mounted sub-routers leave on their
// root pattern, so "/v1/rules/" and "/v1/rules" share one series.
func routeLabel(pattern string) string {
	if len(pattern) > 1 {
		return strings.TrimSuffix(pattern, "/")
	}
	return pattern
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	if a.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	h := a.deps.Health.Health()
	status := http.StatusOK
	if h.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}
