package instagram

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/domain"
	"github.com/trawlhq/trawl/internal/scraper/supervisor"
)

// CycleConfig tunes the cyclic work loop.
type CycleConfig struct {
	// BatchSize bounds how many approved creators one cycle scrapes.
	// Zero means the whole due list.
	BatchSize int
	// Concurrency is the creator fan-out within a cycle.
	Concurrency int
	// RelatedDiscovery gates the related-profile pass after the main batch.
	RelatedDiscovery bool
	// RelatedBatch bounds how many source creators one discovery pass walks.
	RelatedBatch int
}

func (c *CycleConfig) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.RelatedBatch <= 0 {
		c.RelatedBatch = 20
	}
}

// Cycle is the supervisor-driven Instagram pass: fetch the approved creator
// work list, fan out the per-creator pipeline, then run related discovery.
type Cycle struct {
	cfg      CycleConfig
	proc     *Processor
	creators domain.CreatorStore

	// relatedMu keeps the discovery pass single-flight when a long cycle
	// overlaps the next one's start.
	relatedMu sync.Mutex

	Now func() time.Time
}

var _ supervisor.Cycle = (*Cycle)(nil)

func NewCycle(proc *Processor, creators domain.CreatorStore, cfg CycleConfig) *Cycle {
	cfg.defaults()
	return &Cycle{
		cfg:      cfg,
		proc:     proc,
		creators: creators,
		Now:      time.Now,
	}
}

func (c *Cycle) Run(ctx domain.Context, enabled supervisor.Probe, overrides map[string]any) error {
	const op = "instagram.cycle"
	cfg := c.cfg
	if v, ok := supervisor.OverrideInt(overrides, "batch_size"); ok && v >= 0 {
		cfg.BatchSize = v
	}
	if v, ok := supervisor.OverrideBool(overrides, "discovery_enabled"); ok {
		cfg.RelatedDiscovery = v
	}

	work, err := c.creators.ListForScrape(ctx, domain.CreatorReviewOk, cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	lg := observability.LoggerFromContext(ctx)
	lg.Info("instagram cycle starting",
		slog.Int("creators", len(work)),
		slog.Int("concurrency", cfg.Concurrency))

	start := c.Now()
	var okN, failedN, newMedia, viral atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for _, creator := range work {
		if !enabled() {
			break
		}
		creator := creator
		g.Go(func() error {
			res, perr := c.proc.ProcessCreator(gctx, creator)
			if perr != nil {
				failedN.Add(1)
				observability.ItemsProcessedTotal.WithLabelValues("instagram", "failed").Inc()
				lg.Warn("creator failed",
					slog.String("user", creator.Username),
					slog.String("category", string(domain.Classify(perr))),
					slog.Any("error", perr))
				return nil
			}
			okN.Add(1)
			newMedia.Add(int64(res.NewMedia))
			viral.Add(int64(res.Viral))
			observability.ItemsProcessedTotal.WithLabelValues("instagram", "ok").Inc()
			return nil
		})
	}
	_ = g.Wait()

	related := 0
	if cfg.RelatedDiscovery && enabled() {
		if c.relatedMu.TryLock() {
			n, rerr := c.proc.DiscoverRelated(ctx, cfg.RelatedBatch)
			c.relatedMu.Unlock()
			if rerr != nil {
				lg.Warn("related discovery failed", slog.Any("error", rerr))
			}
			related = n
		} else {
			lg.Info("related discovery already in flight, skipped")
		}
	}

	lg.Info("instagram cycle complete",
		slog.Int64("creators_ok", okN.Load()),
		slog.Int64("creators_failed", failedN.Load()),
		slog.Int64("media_new", newMedia.Load()),
		slog.Int64("viral_flagged", viral.Load()),
		slog.Int("related_inserted", related),
		slog.Duration("took", c.Now().Sub(start)))
	return nil
}
