package reddit

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trawlhq/trawl/internal/adapter/observability"
	redditapi "github.com/trawlhq/trawl/internal/adapter/reddit"
	"github.com/trawlhq/trawl/internal/domain"
	"github.com/trawlhq/trawl/internal/scraper/supervisor"
	"github.com/trawlhq/trawl/internal/service/accountpool"
	"github.com/trawlhq/trawl/internal/service/proxypool"
)

// CycleConfig shapes one Reddit scrape cycle.
type CycleConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int

	TestURL             string
	ValidateConcurrency int
	ValidateTimeout     time.Duration

	RefreshAge time.Duration
	BatchSize  int
	PacingMin  time.Duration
	PacingMax  time.Duration

	TopLimit           int
	HotLimit           int
	UserSubmittedLimit int
	DiscoveryEnabled   bool
}

func (c *CycleConfig) defaults() {
	if c.RefreshAge <= 0 {
		c.RefreshAge = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PacingMin <= 0 {
		c.PacingMin = time.Second
	}
	if c.PacingMax < c.PacingMin {
		c.PacingMax = 3 * time.Second
	}
}

// Deps are the shared services a cycle works against.
type Deps struct {
	Proxies    *proxypool.Registry
	Accounts   *accountpool.Registry
	Subreddits domain.SubredditStore
	Users      domain.RedditUserStore
	Posts      domain.RedditPostStore
	Discovery  domain.DiscoveryPublisher
}

// Cycle is one full pass over the subreddit work list: refresh reviewed
// subreddits, scrape never-seen discoveries, then work through the authors
// surfaced along the way.
type Cycle struct {
	cfg  CycleConfig
	deps Deps
	kw   Keywords

	// Now is the clock; tests may replace it.
	Now func() time.Time
}

var _ supervisor.Cycle = (*Cycle)(nil)

func NewCycle(deps Deps, kw Keywords, cfg CycleConfig) *Cycle {
	cfg.defaults()
	return &Cycle{cfg: cfg, deps: deps, kw: kw, Now: time.Now}
}

type cycleStats struct {
	subsOK      atomic.Int64
	subsFailed  atomic.Int64
	usersOK     atomic.Int64
	usersFailed atomic.Int64
}

// Run executes one cycle. The all-proxies-pass precondition is a hard stop:
// a broken proxy pool needs an operator, not a retry loop.
func (c *Cycle) Run(ctx domain.Context, enabled supervisor.Probe, overrides map[string]any) error {
	const op = "reddit.cycle"
	cfg := c.cfg
	if v, ok := supervisor.OverrideInt(overrides, "batch_size"); ok && v > 0 {
		cfg.BatchSize = v
	}
	if v, ok := supervisor.OverrideBool(overrides, "discovery_enabled"); ok {
		cfg.DiscoveryEnabled = v
	}

	n, err := c.deps.Proxies.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("op=%s: no active proxies: %w", op, domain.ErrFatal)
	}
	results := c.deps.Proxies.ValidateAll(ctx, cfg.TestURL, cfg.ValidateConcurrency, cfg.ValidateTimeout)
	var broken []string
	for id, ok := range results {
		if !ok {
			broken = append(broken, strconv.FormatInt(id, 10))
		}
	}
	if len(broken) > 0 {
		sort.Strings(broken)
		return fmt.Errorf("op=%s: proxies failed validation [%s]: %w",
			op, strings.Join(broken, " "), domain.ErrFatal)
	}

	lg := observability.LoggerFromContext(ctx)
	if _, err := c.deps.Accounts.LoadActive(ctx); err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	if back := c.deps.Accounts.ReactivateDue(ctx); back > 0 {
		lg.Info("accounts reactivated", slog.Int("count", back))
	}

	threads := c.deps.Proxies.AssignThreads()
	work, err := c.buildWorkList(ctx, cfg)
	if err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	lg.Info("reddit cycle starting",
		slog.Int("proxies", n),
		slog.Int("threads", threads),
		slog.Int("subreddits", len(work)))
	if len(work) == 0 {
		c.flush(ctx)
		return nil
	}

	proc := NewProcessor(c.deps.Subreddits, c.deps.Users, c.deps.Posts, c.deps.Discovery, c.kw, ProcessorConfig{
		TopLimit:           cfg.TopLimit,
		HotLimit:           cfg.HotLimit,
		UserSubmittedLimit: cfg.UserSubmittedLimit,
		DiscoveryEnabled:   cfg.DiscoveryEnabled,
	})
	proc.Now = c.Now

	stats := &cycleStats{}
	start := c.Now()
	discovered := c.runSubredditPhase(ctx, proc, work, threads, enabled, stats)
	if len(discovered) > 0 && enabled() {
		c.runUserPhase(ctx, proc, discovered, threads, enabled, stats)
	}

	c.flush(ctx)
	lg.Info("reddit cycle complete",
		slog.Int64("subreddits_ok", stats.subsOK.Load()),
		slog.Int64("subreddits_failed", stats.subsFailed.Load()),
		slog.Int64("users_ok", stats.usersOK.Load()),
		slog.Int64("users_failed", stats.usersFailed.Load()),
		slog.Int("authors_discovered", len(discovered)),
		slog.Duration("took", c.Now().Sub(start)))
	return nil
}

// buildWorkList assembles the two-tier list: reviewed subreddits due for a
// refresh, then never-scraped discoveries, shuffled within each tier. The
// batch bound trims discoveries first; reviewed rows keep priority.
func (c *Cycle) buildWorkList(ctx domain.Context, cfg CycleConfig) ([]string, error) {
	cutoff := c.Now().Add(-cfg.RefreshAge)
	due, err := c.deps.Subreddits.ListDueForRefresh(ctx, cutoff, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	fresh, err := c.deps.Subreddits.ListNeverScraped(ctx, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	rand.Shuffle(len(due), func(i, j int) { due[i], due[j] = due[j], due[i] })
	rand.Shuffle(len(fresh), func(i, j int) { fresh[i], fresh[j] = fresh[j], fresh[i] })

	work := make([]string, 0, len(due)+len(fresh))
	for _, s := range due {
		work = append(work, s.Name)
	}
	for _, s := range fresh {
		work = append(work, s.Name)
	}
	if len(work) > cfg.BatchSize {
		work = work[:cfg.BatchSize]
	}
	return work, nil
}

func (c *Cycle) runSubredditPhase(ctx domain.Context, proc *Processor, work []string, threads int, enabled supervisor.Probe, stats *cycleStats) []string {
	lg := observability.LoggerFromContext(ctx)
	jobs := make(chan string)
	go feed(ctx, jobs, work, enabled)

	var mu sync.Mutex
	seen := map[string]struct{}{}
	var discovered []string

	var wg sync.WaitGroup
	for t := 0; t < threads; t++ {
		proxy, ok := c.deps.Proxies.ProxyForThread(t)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(proxy domain.Proxy) {
			defer wg.Done()
			client, err := c.newClient(ctx, proxy)
			if err != nil {
				lg.Error("reddit client init failed",
					slog.Int64("proxy_id", proxy.ID),
					slog.Any("error", err))
				for range jobs {
					// Drain so the feeder never blocks on a dead worker.
				}
				return
			}
			for name := range jobs {
				if !enabled() {
					continue
				}
				c.processSubredditItem(ctx, client, proc, name, &mu, seen, &discovered, stats)
				c.pause(ctx)
			}
		}(proxy)
	}
	wg.Wait()
	return discovered
}

func (c *Cycle) processSubredditItem(ctx domain.Context, client *redditapi.Client, proc *Processor, name string, mu *sync.Mutex, seen map[string]struct{}, discovered *[]string, stats *cycleStats) {
	acct := c.deps.Accounts.Lease()
	authors, err := proc.ProcessSubreddit(ctx, client, name)
	if acct != nil {
		c.deps.Accounts.Record(ctx, acct.ID, accountpool.OutcomeFromCategory(domain.Classify(err)))
	}
	if err != nil {
		stats.subsFailed.Add(1)
		observability.ItemsProcessedTotal.WithLabelValues("reddit", "failed").Inc()
		observability.LoggerFromContext(ctx).Warn("subreddit item failed",
			slog.String("subreddit", name),
			slog.String("category", string(domain.Classify(err))),
			slog.Any("error", err))
		return
	}
	stats.subsOK.Add(1)
	observability.ItemsProcessedTotal.WithLabelValues("reddit", "ok").Inc()

	mu.Lock()
	for _, a := range authors {
		key := strings.ToLower(a)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		*discovered = append(*discovered, a)
	}
	mu.Unlock()
}

func (c *Cycle) runUserPhase(ctx domain.Context, proc *Processor, usernames []string, threads int, enabled supervisor.Probe, stats *cycleStats) {
	lg := observability.LoggerFromContext(ctx)
	jobs := make(chan string)
	go feed(ctx, jobs, usernames, enabled)

	var wg sync.WaitGroup
	for t := 0; t < threads; t++ {
		proxy, ok := c.deps.Proxies.ProxyForThread(t)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(proxy domain.Proxy) {
			defer wg.Done()
			client, err := c.newClient(ctx, proxy)
			if err != nil {
				lg.Error("reddit client init failed",
					slog.Int64("proxy_id", proxy.ID),
					slog.Any("error", err))
				for range jobs {
				}
				return
			}
			for username := range jobs {
				if !enabled() {
					continue
				}
				acct := c.deps.Accounts.Lease()
				err := proc.ProcessUser(ctx, client, username)
				if acct != nil {
					c.deps.Accounts.Record(ctx, acct.ID, accountpool.OutcomeFromCategory(domain.Classify(err)))
				}
				if err != nil {
					stats.usersFailed.Add(1)
					observability.ItemsProcessedTotal.WithLabelValues("reddit", "failed").Inc()
					lg.Warn("user item failed",
						slog.String("user", username),
						slog.Any("error", err))
				} else {
					stats.usersOK.Add(1)
					observability.ItemsProcessedTotal.WithLabelValues("reddit", "ok").Inc()
				}
				c.pause(ctx)
			}
		}(proxy)
	}
	wg.Wait()
}

// feed pushes work into jobs, stopping early when the scraper is disabled or
// the context ends. Always closes jobs.
func feed(ctx domain.Context, jobs chan<- string, work []string, enabled supervisor.Probe) {
	defer close(jobs)
	for _, item := range work {
		if !enabled() {
			return
		}
		select {
		case jobs <- item:
		case <-ctx.Done():
			return
		}
	}
}

// newClient builds a proxy-bound API client whose per-attempt outcomes feed
// the proxy registry.
func (c *Cycle) newClient(ctx domain.Context, proxy domain.Proxy) (*redditapi.Client, error) {
	id := proxy.ID
	return redditapi.New(redditapi.Config{
		BaseURL:    c.cfg.BaseURL,
		Timeout:    c.cfg.Timeout,
		MaxRetries: c.cfg.MaxRetries,
		OnResult: func(o redditapi.Outcome) {
			// The proxy is charged only for transport failures; an upstream
			// status means it did its job.
			ok := o.Category != domain.CategoryProxyFailure
			msg := ""
			if o.Err != nil {
				msg = o.Err.Error()
			}
			c.deps.Proxies.RecordResult(ctx, id, ok, float64(o.Latency.Milliseconds()), msg)
		},
	}, &proxy)
}

// pause sleeps a jittered interval between items so each proxy sees an
// organic request rhythm.
func (c *Cycle) pause(ctx domain.Context) {
	lo, hi := c.cfg.PacingMin, c.cfg.PacingMax
	if lo <= 0 {
		return
	}
	d := lo
	if hi > lo {
		d += time.Duration(rand.Int63n(int64(hi - lo)))
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (c *Cycle) flush(ctx domain.Context) {
	if disabled := c.deps.Proxies.DisableUnhealthy(ctx); disabled > 0 {
		observability.LoggerFromContext(ctx).Warn("proxies auto-disabled", slog.Int("count", disabled))
	}
	c.deps.Proxies.FlushAll(ctx)
	c.deps.Accounts.FlushAll(ctx)
}
