package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/smsforward/pkg/config"
	"github.com/kart-io/smsforward/pkg/destination"
	"github.com/kart-io/smsforward/pkg/executor"
	"github.com/kart-io/smsforward/pkg/forwarder"
	"github.com/kart-io/smsforward/pkg/ledger"
	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/metrics"
	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/platforms/email"
	"github.com/kart-io/smsforward/pkg/queue"
	"github.com/kart-io/smsforward/pkg/rule"
	"github.com/kart-io/smsforward/pkg/stats"
	"github.com/kart-io/smsforward/pkg/storage/postgres"
	redisstore "github.com/kart-io/smsforward/pkg/storage/redis"
	"github.com/kart-io/smsforward/pkg/telemetry"
)

// environment is a telemetry provider that also accepts device reports.
type environment interface {
	telemetry.Provider
	Report(ctx context.Context, snap model.EnvironmentSnapshot) error
}

// app holds the stores and clients shared by every command.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	pool  *pgxpool.Pool
	redis *goredis.Client
	nats  *nats.Conn

	rules        rule.Store
	destinations destination.Store
	ledger       *ledger.Ledger
	stats        *stats.Aggregator
	environment  environment
}

func newLogger(cfg *config.Config, w io.Writer) logger.Logger {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logger.Info
	}
	return logger.NewSlogLogger(w, cfg.Log.Format, level)
}

// newApp connects the configured backends. Without PostgreSQL every store
// lives in memory; without Redis leases and device state do too.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (a *app, err error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a = &app{cfg: cfg, log: log, registry: reg, metrics: metrics.New(reg)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var (
		ledgerStore ledger.Store
		statsStore  stats.Store
		leases      ledger.LeaseTable
	)

	if cfg.Postgres.Enabled {
		a.pool, err = postgres.Connect(ctx, cfg.Postgres.DSN, postgres.PoolOptions{
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
		}, log)
		if err != nil {
			return nil, err
		}
		a.rules = postgres.NewRuleRepository(a.pool, log)
		a.destinations = postgres.NewDestinationRepository(a.pool, log)
		ledgerStore = postgres.NewLedgerRepository(a.pool, log)
		statsStore = postgres.NewStatsRepository(a.pool, log)
	} else {
		log.Warn("postgres disabled, state is kept in memory only")
		a.rules = rule.NewMemoryStore()
		a.destinations = destination.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		statsStore = stats.NewMemoryStore()
	}

	if cfg.Redis.Enabled {
		a.redis, err = redisstore.NewClient(ctx, redisstore.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, log)
		if err != nil {
			return nil, err
		}
		leases = ledger.NewRedisLeaseTable(a.redis, cfg.Redis.KeyPrefix)
		a.environment = telemetry.NewRedisProvider(a.redis, cfg.Redis.KeyPrefix)
	} else {
		leases = ledger.NewMemoryLeaseTable()
		a.environment = &telemetry.LatestProvider{}
	}

	a.ledger = ledger.New(leases, ledgerStore,
		ledger.WithLeaseTTL(cfg.Engine.LeaseTTL),
		ledger.WithLogger(log),
	)
	a.stats = stats.NewAggregator(statsStore, stats.WithLocation(loc), stats.WithLogger(log))
	return a, nil
}

// sender builds the SMTP client shared by all destinations.
func (a *app) sender() *email.Sender {
	smtp := a.cfg.SMTP
	return email.NewSender(
		email.WithTimeout(smtp.Timeout),
		email.WithRateLimit(smtp.RateLimit, smtp.RateBurst, smtp.RateLimitWindow),
		email.WithLogger(a.log),
	)
}

// engine assembles the forwarding engine around sender.
func (a *app) engine(sender executor.EmailSender) (*forwarder.Engine, error) {
	e := a.cfg.Engine
	builder, err := executor.NewPayloadBuilder(a.cfg.Templates.Subject, a.cfg.Templates.Body)
	if err != nil {
		return nil, err
	}
	exec := executor.New(sender,
		executor.WithRetryPolicy(executor.RetryPolicy{
			MaxAttempts: e.MaxAttempts,
			Backoff:     executor.ExponentialBackoff(e.InitialBackoff, e.MaxBackoff, e.BackoffMultiplier, e.BackoffJitter),
		}),
		executor.WithAttemptTimeout(e.AttemptTimeout),
		executor.WithPayloadBuilder(builder),
		executor.WithLogger(a.log),
		executor.WithMetrics(a.metrics),
	)
	return forwarder.New(forwarder.Components{
		Rules:        a.rules,
		Destinations: destination.NewResolver(a.destinations),
		Executor:     exec,
		Ledger:       a.ledger,
		Stats:        a.stats,
		Sampler:      telemetry.NewSampler(a.environment, e.SampleTimeout, a.log),
	}, forwarder.WithLogger(a.log), forwarder.WithMetrics(a.metrics))
}

// sources opens the external message sources that are enabled.
func (a *app) sources() ([]queue.Source, error) {
	var sources []queue.Source
	if a.cfg.Redis.Enabled && a.cfg.Redis.Intake {
		sources = append(sources, queue.NewRedisSource(a.redis, a.cfg.Redis.KeyPrefix, a.log))
	}
	if a.cfg.NATS.Enabled {
		conn, err := nats.Connect(a.cfg.NATS.URL,
			nats.Name("smsforward"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.nats = conn
		src, err := queue.NewNATSSource(conn, a.cfg.NATS.Subject, a.cfg.NATS.QueueGroup, a.cfg.Engine.QueueSize, a.log)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// Close releases every client newApp or sources opened.
func (a *app) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis client", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
