package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/overhearops/overhearops/internal/adapter/ndjson"
	"github.com/overhearops/overhearops/internal/adapter/offline"
	otelx "github.com/overhearops/overhearops/internal/adapter/otel"
	"github.com/overhearops/overhearops/internal/adapter/postgres"
	"github.com/overhearops/overhearops/internal/adapter/sqlite"
	"github.com/overhearops/overhearops/internal/config"
	"github.com/overhearops/overhearops/internal/domain"
	"github.com/overhearops/overhearops/internal/port/broadcast"
	"github.com/overhearops/overhearops/internal/port/cache"
	"github.com/overhearops/overhearops/internal/port/database"
	"github.com/overhearops/overhearops/internal/port/messagequeue"
	"github.com/overhearops/overhearops/internal/port/provider"
	"github.com/overhearops/overhearops/internal/resilience"
	"github.com/overhearops/overhearops/internal/runpool"
	"github.com/overhearops/overhearops/internal/service"
)

// wiring carries the optional infrastructure a command has set up.
type wiring struct {
	queue   messagequeue.Queue
	events  broadcast.Broadcaster
	cache   cache.Cache
	metrics *otelx.Metrics
}

// app is the service graph shared by serve and the one-shot commands.
type app struct {
	cfg     *config.Config
	store   database.Store
	threads *service.ThreadService
	runs    *service.RunService
	replay  *service.ReplayService
	pool    *runpool.Pool
}

func newApp(ctx context.Context, cfg *config.Config, w wiring) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	threads := newThreadService(cfg, w)
	pool := runpool.New(cfg.Pipeline.MaxRuns)
	runs := service.NewRunService(service.RunServiceDeps{
		Pipeline: newPipeline(cfg, store, w),
		Store:    store,
		Threads:  threads,
		Cache:    w.cache,
		CacheTTL: cfg.Cache.TTL,
		Queue:    w.queue,
		Events:   w.events,
		Metrics:  w.metrics,
		Pool:     pool,
		Mode:     cfg.Pipeline.Mode,
		Provider: cfg.Pipeline.Provider,
	})
	return &app{
		cfg:     cfg,
		store:   store,
		threads: threads,
		runs:    runs,
		replay:  service.NewReplayService(threads, runs),
		pool:    pool,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}
}

func newThreadService(cfg *config.Config, w wiring) *service.ThreadService {
	return service.NewThreadService(ndjson.New(cfg.Pipeline.DataDir), w.queue, w.events)
}

func newPipeline(cfg *config.Config, store database.CheckpointStore, w wiring) *service.Pipeline {
	var (
		prov    provider.Provider
		breaker *resilience.Breaker
	)
	if cfg.Pipeline.Mode == config.ModeOffline {
		prov = offline.New(cfg.Pipeline.OfflineDir, cfg.Pipeline.Provider)
		breaker = resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
			resilience.WithName("provider"),
			resilience.WithBenignErrors(domain.ErrNotFound),
		)
	}

	opts := []service.PipelineOption{
		service.WithCheckpoints(store),
		service.WithInterceptors(service.LogInterceptor(), service.MetricsInterceptor(w.metrics)),
	}
	if w.events != nil {
		opts = append(opts, service.WithBroadcaster(w.events))
	}
	return service.NewPipeline(
		service.PipelineConfig{
			IntentThreshold: cfg.Pipeline.IntentThreshold,
			MaxParallel:     cfg.Pipeline.MaxParallel,
		},
		service.NewPlanner(nil, cfg.Pipeline.BranchWidth, prov, breaker),
		service.NewJudge(prov, breaker),
		opts...,
	)
}

func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("postgres connected")
		return postgres.NewStore(pool), nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o750); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return store, nil
	}
}
