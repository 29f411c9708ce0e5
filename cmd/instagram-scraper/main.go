// Command instagram-scraper runs the cyclic Instagram creator scrape under
// the shared supervisor loop, waiting CYCLE_WAIT between passes.
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
	"github.com/redis/go-redis/v9"

	igapi "github.com/trawlhq/trawl/internal/adapter/instagram"
	"github.com/trawlhq/trawl/internal/adapter/media/r2"
	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/adapter/queue/discovery"
	"github.com/trawlhq/trawl/internal/adapter/repo/postgres"
	"github.com/trawlhq/trawl/internal/config"
	"github.com/trawlhq/trawl/internal/domain"
	"github.com/trawlhq/trawl/internal/scraper/instagram"
	"github.com/trawlhq/trawl/internal/scraper/supervisor"
	"github.com/trawlhq/trawl/internal/service/ratelimiter"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger.With(slog.String("script", domain.ScriptInstagram)))
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

	// The pacer is shared across processes when Redis is configured; a
	// single RapidAPI quota must not be split blindly between replicas.
	var pacer domain.Pacer = ratelimiter.NewLocal(cfg.InstagramRate, 0)
	if cfg.RedisURL != "" {
		opt, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			slog.Error("invalid redis url", slog.Any("error", perr))
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
		pacer = ratelimiter.NewRedisPacer(rdb, "instagram", cfg.InstagramRate, 0)
	}

	client, err := igapi.New(igapi.Config{
		Host:    cfg.RapidAPIHost,
		APIKey:  cfg.RapidAPIKey,
		Timeout: cfg.InstagramTimeout,
		Pacer:   pacer,
	})
	if err != nil {
		slog.Error("instagram client init failed", slog.Any("error", err))
		os.Exit(1)
	}

	var files domain.MediaStore = r2.Disabled{}
	if cfg.R2Ready() {
		store, rerr := r2.New(r2.Config{
			Endpoint:      cfg.R2EndpointHost(),
			AccessKeyID:   cfg.R2AccessKeyID,
			SecretKey:     cfg.R2SecretAccessKey,
			Bucket:        cfg.R2Bucket,
			PublicBaseURL: cfg.R2PublicURL,
			MaxRetries:    cfg.MediaMaxRetries,
			ImageTimeout:  cfg.MediaImageTimeout,
			VideoTimeout:  cfg.MediaVideoTimeout,
		})
		if rerr != nil {
			slog.Error("media store init failed", slog.Any("error", rerr))
			os.Exit(1)
		}
		files = store
		slog.Info("media archival enabled", slog.String("bucket", cfg.R2Bucket))
	} else {
		slog.Info("media archival disabled, CDN urls will be stored as-is")
	}

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

	creators := postgres.NewCreatorRepo(pool)
	proc := instagram.NewProcessor(client, creators, postgres.NewIGMediaRepo(pool), files, disc,
		instagram.ProcessorConfig{
			TargetExisting:  cfg.MediaTargetExisting,
			TargetNew:       cfg.MediaTargetNew,
			ViralDetection:  cfg.ViralDetection,
			ViralMinPlays:   cfg.ViralMinPlays,
			ViralMultiplier: cfg.ViralMultiplier,
		})
	cycle := instagram.NewCycle(proc, creators, instagram.CycleConfig{
		BatchSize:        cfg.InstagramBatchSize,
		Concurrency:      cfg.InstagramConcurrency,
		RelatedDiscovery: cfg.RelatedDiscovery,
	})

	sup := supervisor.New(postgres.NewControlRepo(pool), postgres.NewSystemLogRepo(pool), cycle, supervisor.Config{
		ScriptName:   domain.ScriptInstagram,
		ScriptType:   "cyclic",
		Source:       "instagram",
		Mode:         supervisor.ModeCyclic,
		Tick:         cfg.PollInterval,
		CycleWait:    cfg.CycleWait,
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
