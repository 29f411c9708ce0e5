// Command reddit-scraper runs the continuous Reddit scrape under the shared
// supervisor loop. The control row in Postgres is its on/off switch.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/adapter/queue/discovery"
	"github.com/trawlhq/trawl/internal/adapter/repo/postgres"
	"github.com/trawlhq/trawl/internal/config"
	"github.com/trawlhq/trawl/internal/domain"
	"github.com/trawlhq/trawl/internal/scraper/reddit"
	"github.com/trawlhq/trawl/internal/scraper/supervisor"
	"github.com/trawlhq/trawl/internal/service/accountpool"
	"github.com/trawlhq/trawl/internal/service/proxypool"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger.With(slog.String("script", domain.ScriptReddit)))
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

	if cfg.MetricsPort > 0 {
		go serveMetrics(cfg.MetricsPort)
	}

	kw, err := reddit.LoadKeywords(cfg.KeywordsFile)
	if err != nil {
		slog.Error("keywords load failed", slog.Any("error", err))
		os.Exit(1)
	}

	proxies := proxypool.New(postgres.NewProxyRepo(pool), proxypool.Options{
		FlushEvery:       cfg.ProxyFlushEvery,
		FlushInterval:    cfg.ProxyFlushInterval,
		DisableThreshold: cfg.ProxyDisableThreshold,
	})
	accounts := accountpool.New(postgres.NewAccountRepo(pool), accountpool.Options{
		FailureThreshold: cfg.AccountFailureThreshold,
		Cooldown:         cfg.AccountCooldown,
		RateLimitWindow:  cfg.AccountRateLimitWindow,
	})

	var disc domain.DiscoveryPublisher = discovery.Noop{}
	if cfg.DiscoveryEventsEnabled() {
		producer, derr := discovery.New(cfg.KafkaBrokers, cfg.DiscoveryTopic)
		if derr != nil {
			slog.Warn("discovery publisher unavailable, events disabled", slog.Any("error", derr))
		} else {
			disc = producer
			defer producer.Close()
		}
	}

	cycle := reddit.NewCycle(reddit.Deps{
		Proxies:    proxies,
		Accounts:   accounts,
		Subreddits: postgres.NewSubredditRepo(pool),
		Users:      postgres.NewRedditUserRepo(pool),
		Posts:      postgres.NewRedditPostRepo(pool),
		Discovery:  disc,
	}, kw, reddit.CycleConfig{
		BaseURL:             cfg.RedditBaseURL,
		Timeout:             cfg.RedditTimeout,
		MaxRetries:          cfg.RedditMaxRetries,
		TestURL:             cfg.ProxyTestURL,
		ValidateConcurrency: cfg.ProxyValidateConcurrency,
		ValidateTimeout:     cfg.ProxyValidateTimeout,
		RefreshAge:          cfg.RedditRefreshAge,
		BatchSize:           cfg.RedditBatchSize,
		PacingMin:           cfg.RedditPacingMin,
		PacingMax:           cfg.RedditPacingMax,
		TopLimit:            cfg.TopPostsLimit,
		HotLimit:            cfg.HotPostsLimit,
		UserSubmittedLimit:  cfg.UserSubmittedLimit,
		DiscoveryEnabled:    cfg.DiscoveryEnabled,
	})

	sup := supervisor.New(postgres.NewControlRepo(pool), postgres.NewSystemLogRepo(pool), cycle, supervisor.Config{
		ScriptName:   domain.ScriptReddit,
		ScriptType:   "continuous",
		Source:       "reddit",
		Mode:         supervisor.ModeContinuous,
		Tick:         cfg.PollInterval,
		DrainTimeout: cfg.DrainTimeout,
		EnabledTTL:   cfg.EnabledCacheTTL,
	})
	if err := sup.Run(ctx); err != nil {
		slog.Error("scraper exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

// serveMetrics exposes Prometheus metrics on a side port so the scraper can
// be scraped without opening the admin API surface.
func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server failed", slog.Any("error", err))
	}
}
