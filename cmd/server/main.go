// Command server runs the scraper control plane: the admin HTTP API, the
// stale-scraper sweeper and system log retention.
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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/trawlhq/trawl/internal/adapter/httpserver"
	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/adapter/repo/postgres"
	"github.com/trawlhq/trawl/internal/app"
	"github.com/trawlhq/trawl/internal/config"
	"github.com/trawlhq/trawl/internal/service/procman"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	control := postgres.NewControlRepo(pool)
	logs := postgres.NewSystemLogRepo(pool)
	proxies := postgres.NewProxyRepo(pool)
	accounts := postgres.NewAccountRepo(pool)

	runner := procman.New(cfg.StopGracePeriod)
	defer runner.StopAll()

	srv := httpserver.NewServer(cfg, control, logs, proxies, accounts, runner)
	srv.DBCheck = app.DBCheck(pool)
	if cfg.RedisURL != "" {
		opt, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			slog.Error("invalid redis url", slog.Any("error", perr))
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
		srv.RedisCheck = app.RedisCheck(rdb)
	}

	sweeper := app.NewStaleSweeper(control, cfg)
	go sweeper.Run(ctx)

	if cfg.LogRetentionDays > 0 {
		cleanup := postgres.NewCleanupService(pool, cfg.LogRetentionDays)
		go cleanup.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("log retention started",
			slog.Int("retention_days", cfg.LogRetentionDays),
			slog.Duration("interval", cfg.CleanupInterval))
	}

	handler := app.BuildRouter(cfg, srv)
	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("control plane starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
