package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quarryhq/quarry/internal/adapter/nats"
	"github.com/quarryhq/quarry/internal/adapter/otel"
	"github.com/quarryhq/quarry/internal/adapter/postgres"
	"github.com/quarryhq/quarry/internal/adapter/ristretto"
	"github.com/quarryhq/quarry/internal/adapter/tracker"
	"github.com/quarryhq/quarry/internal/config"
	"github.com/quarryhq/quarry/internal/logger"
	"github.com/quarryhq/quarry/internal/resilience"
	"github.com/quarryhq/quarry/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"delivery_max_concurrent", cfg.Delivery.MaxConcurrent,
	)

	shutdownTracer := otel.InitTracer(cfg.Logging.Service)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := nats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	c, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer c.Close()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Services ---

	store := postgres.NewStore(pool)

	performer := tracker.NewClient(cfg.Tracker)
	performer.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	engine := service.NewEngine(store, c, performer, metrics, log, cfg.Engine, cfg.Cache)
	dispatcher := service.NewDispatcher(store, c, queue, log, cfg.Cache.TTL)
	fanout := service.NewFanout(engine, dispatcher, queue, log)

	breakers := resilience.NewBreakerSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	executor := service.NewExecutor(store, queue, breakers, int64(cfg.Delivery.MaxConcurrent), metrics, log)
	sweeper := service.NewSweeper(store, queue, log, cfg.Delivery)

	// --- Subscribers ---

	cancelFanout, err := fanout.Start(ctx)
	if err != nil {
		return fmt.Errorf("event subscriber: %w", err)
	}
	defer cancelFanout()

	cancelExecutor, err := executor.Start(ctx)
	if err != nil {
		return fmt.Errorf("dispatch subscriber: %w", err)
	}
	defer cancelExecutor()

	go sweeper.Run(ctx)

	slog.Info("quarry started")

	<-ctx.Done()
	slog.Info("shutting down")

	if err := queue.Drain(); err != nil {
		slog.Error("queue drain", "error", err)
	}
	return nil
}
