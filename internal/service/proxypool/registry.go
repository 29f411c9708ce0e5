// Package proxypool owns the proxy lifecycle for a scraper process: loading
// the active set, startup validation, the thread-to-proxy map and per-request
// health accounting with coalesced persistence.
package proxypool

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/domain"
)

// Options tune persistence coalescing and auto-disable.
type Options struct {
	// FlushEvery persists a proxy's counters after this many requests.
	FlushEvery int
	// FlushInterval persists regardless of request count.
	FlushInterval time.Duration
	// DisableThreshold flips is_active=false at this many consecutive errors.
	DisableThreshold int
}

func (o *Options) defaults() {
	if o.FlushEvery <= 0 {
		o.FlushEvery = 25
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 60 * time.Second
	}
	if o.DisableThreshold <= 0 {
		o.DisableThreshold = 5
	}
}

// tracked is one proxy plus its in-memory health. The mutex serializes
// counter updates from the threads pinned to this proxy.
type tracked struct {
	mu        sync.Mutex
	p         domain.Proxy
	dirty     int
	lastFlush time.Time
}

// Registry is the in-process view of the proxies table.
type Registry struct {
	store domain.ProxyStore
	opts  Options

	mu      sync.RWMutex
	ordered []*tracked // priority DESC, id ASC
	byID    map[int64]*tracked
	threads []*tracked

	// Now is the clock; tests may replace it.
	Now func() time.Time
}

func New(store domain.ProxyStore, opts Options) *Registry {
	opts.defaults()
	return &Registry{
		store: store,
		opts:  opts,
		byID:  map[int64]*tracked{},
		Now:   time.Now,
	}
}

// LoadActive replaces the in-memory set with the store's active proxies and
// returns how many were loaded.
func (r *Registry) LoadActive(ctx domain.Context) (int, error) {
	proxies, err := r.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("op=proxypool.load: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ordered = r.ordered[:0]
	r.byID = map[int64]*tracked{}
	now := r.Now()
	for _, p := range proxies {
		t := &tracked{p: p, lastFlush: now}
		r.ordered = append(r.ordered, t)
		r.byID[p.ID] = t
	}
	sort.SliceStable(r.ordered, func(i, j int) bool {
		a, b := r.ordered[i].p, r.ordered[j].p
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
	observability.ProxiesActive.Set(float64(len(r.ordered)))
	return len(r.ordered), nil
}

// ValidateAll issues one GET to testURL through every proxy, at most
// concurrency in flight, and reports per-proxy reachability.
func (r *Registry) ValidateAll(ctx domain.Context, testURL string, concurrency int, timeout time.Duration) map[int64]bool {
	if concurrency <= 0 {
		concurrency = 2
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r.mu.RLock()
	proxies := make([]domain.Proxy, 0, len(r.ordered))
	for _, t := range r.ordered {
		proxies = append(proxies, t.p)
	}
	r.mu.RUnlock()

	results := make(map[int64]bool, len(proxies))
	var resultsMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, p := range proxies {
		g.Go(func() error {
			ok := probe(gctx, p, testURL, timeout)
			resultsMu.Lock()
			results[p.ID] = ok
			resultsMu.Unlock()
			if !ok {
				slog.Warn("proxy failed validation",
					slog.Int64("proxy_id", p.ID),
					slog.String("proxy", p.DisplayName))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func probe(ctx domain.Context, p domain.Proxy, testURL string, timeout time.Duration) bool {
	u, err := url.Parse(p.URL)
	if err != nil {
		return false
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	hc := &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(u)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, testURL, nil)
	if err != nil {
		return false
	}
	resp, err := hc.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < 400
}

// AssignThreads rebuilds the thread map: T = Σ max_threads over active
// proxies, filled in priority order so high-priority proxies carry the low
// thread ids. Returns T.
func (r *Registry) AssignThreads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads = r.threads[:0]
	for _, t := range r.ordered {
		if !t.p.IsActive {
			continue
		}
		n := t.p.MaxThreads
		if n <= 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			r.threads = append(r.threads, t)
		}
	}
	return len(r.threads)
}

// ProxyForThread returns the proxy pinned to the given thread id.
func (r *Registry) ProxyForThread(threadID int) (domain.Proxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if threadID < 0 || threadID >= len(r.threads) {
		return domain.Proxy{}, false
	}
	t := r.threads[threadID]
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p, true
}

// RecordResult folds one request outcome into the proxy's counters and
// flushes them to the store when the coalescing window closes.
func (r *Registry) RecordResult(ctx domain.Context, proxyID int64, success bool, latencyMS float64, errMsg string) {
	r.mu.RLock()
	t, ok := r.byID[proxyID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	now := r.Now().UTC()

	t.mu.Lock()
	n := float64(t.p.TotalRequests)
	t.p.TotalRequests++
	if success {
		t.p.SuccessCount++
		t.p.ConsecutiveErrors = 0
	} else {
		t.p.ErrorCount++
		t.p.ConsecutiveErrors++
		t.p.LastErrorMsg = errMsg
		errAt := now
		t.p.LastErrorAt = &errAt
	}
	if latencyMS > 0 {
		t.p.AvgLatencyMS = (t.p.AvgLatencyMS*n + latencyMS) / (n + 1)
	}
	usedAt := now
	t.p.LastUsedAt = &usedAt
	t.dirty++
	flush := t.dirty >= r.opts.FlushEvery || now.Sub(t.lastFlush) >= r.opts.FlushInterval
	var snapshot domain.Proxy
	if flush {
		snapshot = t.p
		t.dirty = 0
		t.lastFlush = now
	}
	t.mu.Unlock()

	if flush {
		if err := r.store.UpdateHealth(ctx, snapshot); err != nil {
			slog.Warn("proxy health flush failed",
				slog.Int64("proxy_id", proxyID),
				slog.Any("error", err))
		}
	}
}

// DisableUnhealthy deactivates proxies at or past the consecutive-error
// threshold and reports how many were disabled.
func (r *Registry) DisableUnhealthy(ctx domain.Context) int {
	r.mu.RLock()
	candidates := make([]*tracked, len(r.ordered))
	copy(candidates, r.ordered)
	r.mu.RUnlock()

	disabled := 0
	for _, t := range candidates {
		t.mu.Lock()
		hit := t.p.IsActive && t.p.ConsecutiveErrors >= r.opts.DisableThreshold
		var id int64
		var reason string
		if hit {
			t.p.IsActive = false
			id = t.p.ID
			reason = fmt.Sprintf("auto-disabled after %d consecutive errors", t.p.ConsecutiveErrors)
		}
		t.mu.Unlock()
		if !hit {
			continue
		}
		disabled++
		observability.ProxyDisablesTotal.Inc()
		slog.Warn("proxy auto-disabled", slog.Int64("proxy_id", id), slog.String("reason", reason))
		if err := r.store.Disable(ctx, id, reason); err != nil {
			slog.Warn("proxy disable persist failed", slog.Int64("proxy_id", id), slog.Any("error", err))
		}
	}
	if disabled > 0 {
		observability.ProxiesActive.Set(float64(r.activeCount()))
	}
	return disabled
}

func (r *Registry) activeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.ordered {
		t.mu.Lock()
		if t.p.IsActive {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// SelectBest picks the healthiest active proxy for callers without thread
// affinity. Score: successRate*100 − avgLatencyMS/100 − consecutiveErrors*10;
// unused proxies score 100 so fresh capacity is tried first.
func (r *Registry) SelectBest() (domain.Proxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *tracked
	var bestScore float64
	for _, t := range r.ordered {
		t.mu.Lock()
		p := t.p
		t.mu.Unlock()
		if !p.IsActive {
			continue
		}
		score := 100.0
		if p.TotalRequests > 0 {
			score = p.SuccessRate()*100 - p.AvgLatencyMS/100 - float64(p.ConsecutiveErrors)*10
		}
		if best == nil || score > bestScore {
			best = t
			bestScore = score
		}
	}
	if best == nil {
		return domain.Proxy{}, false
	}
	best.mu.Lock()
	defer best.mu.Unlock()
	return best.p, true
}

// Snapshot returns a copy of every tracked proxy with current counters.
func (r *Registry) Snapshot() []domain.Proxy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Proxy, 0, len(r.ordered))
	for _, t := range r.ordered {
		t.mu.Lock()
		out = append(out, t.p)
		t.mu.Unlock()
	}
	return out
}

// FlushAll persists every proxy's counters regardless of coalescing state;
// called at cycle end.
func (r *Registry) FlushAll(ctx domain.Context) {
	r.mu.RLock()
	all := make([]*tracked, len(r.ordered))
	copy(all, r.ordered)
	r.mu.RUnlock()
	now := r.Now()
	for _, t := range all {
		t.mu.Lock()
		snapshot := t.p
		dirty := t.dirty
		t.dirty = 0
		t.lastFlush = now
		t.mu.Unlock()
		if dirty == 0 {
			continue
		}
		if err := r.store.UpdateHealth(ctx, snapshot); err != nil {
			slog.Warn("proxy health flush failed",
				slog.Int64("proxy_id", snapshot.ID),
				slog.Any("error", err))
		}
	}
}
