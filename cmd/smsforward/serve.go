package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kart-io/smsforward/observability"
	"github.com/kart-io/smsforward/pkg/forwarder"
	"github.com/kart-io/smsforward/pkg/queue"
	"github.com/kart-io/smsforward/pkg/retention"
	"github.com/kart-io/smsforward/pkg/rule"
	"github.com/kart-io/smsforward/pkg/storage/postgres"
	transporthttp "github.com/kart-io/smsforward/pkg/transport/http"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, dispatcher and retention scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply the schema on startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.NewProvider(ctx, observability.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.pool != nil && !skipMigrate {
		if err := postgres.Migrate(ctx, a.pool); err != nil {
			return err
		}
	}
	if n, err := rule.InitializeDefaults(ctx, a.rules); err != nil {
		return fmt.Errorf("initialize default rules: %w", err)
	} else if n > 0 {
		log.Info("created default forwarding rules", "count", n)
	}

	sender := a.sender()
	engine, err := a.engine(sender)
	if err != nil {
		return err
	}
	sources, err := a.sources()
	if err != nil {
		return err
	}

	dispatcher := queue.NewDispatcher(
		queue.HandlerFunc(func(ctx context.Context, env queue.Envelope) error {
			_, err := engine.Process(ctx, env.Message, forwarder.WithQueuedAt(env.QueuedAt))
			return err
		}),
		queue.WithWorkers(cfg.Engine.Workers),
		queue.WithQueueSize(cfg.Engine.QueueSize),
		queue.WithSources(sources...),
		queue.WithDrainTimeout(cfg.Engine.DrainTimeout),
		queue.WithLogger(log),
		queue.WithMetrics(a.metrics),
	)

	router := transporthttp.NewRouter(transporthttp.Deps{
		Processor:    engine,
		Submitter:    dispatcher,
		History:      a.ledger,
		Stats:        a.stats,
		Rules:        a.rules,
		Destinations: a.destinations,
		Checker:      sender,
		Environment:  a.environment,
		Health:       dispatcher,
		Gatherer:     a.registry,
		Metrics:      a.metrics,
		Logger:       log,
	})
	server := transporthttp.NewServer(transporthttp.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}, router, log)

	sweeper := retention.New(a.ledger, a.stats,
		retention.WithMaxAge(cfg.Retention.MaxAge),
		retention.WithLogger(log),
		retention.WithMetrics(a.metrics),
	)

	log.Info("smsforward starting", "version", version, "addr", cfg.HTTP.Addr,
		"postgres", cfg.Postgres.Enabled, "redis", cfg.Redis.Enabled, "nats", cfg.NATS.Enabled)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return server.Run(gctx, cfg.HTTP.ShutdownTimeout) })
	g.Go(func() error { return sweeper.Run(gctx, cfg.Retention.Schedule) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("smsforward stopped")
	return nil
}
