package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	ohhttp "github.com/overhearops/overhearops/internal/adapter/http"
	"github.com/overhearops/overhearops/internal/adapter/mcp"
	ohnats "github.com/overhearops/overhearops/internal/adapter/nats"
	"github.com/overhearops/overhearops/internal/adapter/natskv"
	otelx "github.com/overhearops/overhearops/internal/adapter/otel"
	"github.com/overhearops/overhearops/internal/adapter/ristretto"
	"github.com/overhearops/overhearops/internal/adapter/tiered"
	"github.com/overhearops/overhearops/internal/adapter/ws"
	"github.com/overhearops/overhearops/internal/config"
	"github.com/overhearops/overhearops/internal/domain/replay"
	"github.com/overhearops/overhearops/internal/logger"
	"github.com/overhearops/overhearops/internal/middleware"
	"github.com/overhearops/overhearops/internal/secrets"
)

const (
	cacheBucket   = "OVERHEAROPS_CACHE"
	localCacheTTL = time.Minute
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, live thread streams and the optional MCP tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().String("port", "", "HTTP port (overrides server.port)")
	cmd.Flags().Bool("mcp", false, "also serve MCP tools")
	_ = viper.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("mcp", cmd.Flags().Lookup("mcp"))
	return cmd
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if v := viper.GetString("port"); v != "" {
		cfg.Server.Port = v
	}
	if viper.GetBool("mcp") {
		cfg.MCP.Enabled = true
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"mode", cfg.Pipeline.Mode,
		"branch_width", cfg.Pipeline.BranchWidth,
		"nats", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Secrets ---
	vault, err := secrets.NewVault(secrets.Merge(
		secrets.EnvLoader(secrets.MCPAPIKey, secrets.DatabaseURL),
		secrets.FileLoader(cfg.Secrets.File),
	))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	if dsn := vault.Get(secrets.DatabaseURL); dsn != "" {
		cfg.Postgres.DSN = dsn
	}
	go reloadOnHangup(ctx, vault)

	// --- Telemetry ---
	shutdownOTEL, err := otelx.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := otelx.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	hub := ws.NewHub(cfg.Server.CORSOrigin)
	w := wiring{events: hub, metrics: metrics}

	local, err := ristretto.New(cfg.Cache.MaxSizeMB)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer local.Close()
	w.cache = local

	var queue *ohnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = ohnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		w.queue = queue

		kv, err := queue.KeyValue(ctx, cacheBucket, cfg.Cache.TTL)
		if err != nil {
			slog.Warn("shared cache unavailable, using local cache only", "error", err)
		} else {
			w.cache = tiered.New(local, natskv.New(kv), localCacheTTL)
		}
	}

	// --- Services ---
	a, err := newApp(ctx, cfg, w)
	if err != nil {
		return err
	}
	defer a.Close()

	if queue != nil {
		cancelSub, err := a.threads.StartSubscriber(ctx)
		if err != nil {
			return fmt.Errorf("thread subscriber: %w", err)
		}
		defer cancelSub()
	}

	// --- MCP ---
	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(mcp.ServerConfig{
			Addr:    ":" + cfg.MCP.Port,
			Name:    "overhearops",
			Version: version,
			APIKey:  vault.Getter(secrets.MCPAPIKey),
		}, mcp.ServerDeps{Threads: a.threads, Starter: a.runs, Runs: a.runs})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(sctx)
		}()
	}

	// --- HTTP ---
	limiter := middleware.NewRateLimiter(cfg.Server.RunRateLimit, cfg.Server.RunBurst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	handlers := &ohhttp.Handlers{
		Threads:        a.threads,
		Runs:           a.runs,
		Replay:         a.replay,
		Hub:            hub,
		Pool:           a.pool,
		ReplayDefaults: replayDefaults(cfg),
		Version:        version,
	}
	if queue != nil {
		handlers.Queue = queue
	}

	opts := ohhttp.RouterOptions{
		CORSOrigin:  cfg.Server.CORSOrigin,
		RunLimiter:  limiter,
		Idempotency: w.cache,
	}
	if cfg.OTEL.Enabled {
		opts.ServiceName = cfg.OTEL.ServiceName
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           ohhttp.NewRouter(handlers, opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// replayDefaults maps the replay config section onto playback options.
func replayDefaults(cfg *config.Config) replay.Options {
	return replay.Options{Speed: cfg.Replay.Speed, Jitter: cfg.Replay.Jitter, Seed: cfg.Replay.Seed}
}

func reloadOnHangup(ctx context.Context, vault *secrets.Vault) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
				continue
			}
			slog.Info("secrets reloaded")
		}
	}
}
