// Package accountpool tracks Reddit API credential health and hands out the
// next account to use. Selection is healthiest-first with least-recently-used
// as the tiebreak, so load spreads across accounts with equal scores.
package accountpool

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/domain"
)

// Outcome is the per-request verdict fed back into account health.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeRateLimited
	// OutcomeAuth covers 401/403 on credentialed calls; the account is
	// suspended until an operator intervenes.
	OutcomeAuth
)

// OutcomeFromCategory maps an error category onto an account outcome.
func OutcomeFromCategory(cat domain.Category) Outcome {
	switch cat {
	case domain.CategoryNone:
		return OutcomeSuccess
	case domain.CategoryRateLimit:
		return OutcomeRateLimited
	case domain.CategoryForbidden:
		return OutcomeAuth
	default:
		return OutcomeFailure
	}
}

// Options tune health scoring and persistence coalescing.
type Options struct {
	// FailureThreshold sets how many consecutive failures trigger a cooldown.
	FailureThreshold int
	// Cooldown is how long a failing account sits out.
	Cooldown time.Duration
	// RateLimitWindow is how long a rate-limited account sits out.
	RateLimitWindow time.Duration
	FlushEvery      int
	FlushInterval   time.Duration
}

func (o *Options) defaults() {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 30 * time.Minute
	}
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = time.Hour
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = 25
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 60 * time.Second
	}
}

const (
	healthReward  = 2
	healthPenalty = 10
	healthFloor   = 10
)

type tracked struct {
	mu        sync.Mutex
	a         domain.Account
	dirty     int
	lastFlush time.Time
}

// Registry is the in-process view of the accounts table.
type Registry struct {
	store domain.AccountStore
	opts  Options

	mu   sync.RWMutex
	all  []*tracked
	byID map[int64]*tracked

	Now func() time.Time
}

func New(store domain.AccountStore, opts Options) *Registry {
	opts.defaults()
	return &Registry{
		store: store,
		opts:  opts,
		byID:  map[int64]*tracked{},
		Now:   time.Now,
	}
}

// LoadActive replaces the in-memory set with the store's non-disabled
// accounts and returns how many were loaded.
func (r *Registry) LoadActive(ctx domain.Context) (int, error) {
	accounts, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("op=accountpool.load: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = r.all[:0]
	r.byID = map[int64]*tracked{}
	now := r.Now()
	for _, a := range accounts {
		t := &tracked{a: a, lastFlush: now}
		r.all = append(r.all, t)
		r.byID[a.ID] = t
	}
	observability.AccountsUsable.Set(float64(r.usableCountLocked(now)))
	return len(r.all), nil
}

func (r *Registry) usableCountLocked(now time.Time) int {
	n := 0
	for _, t := range r.all {
		t.mu.Lock()
		if t.a.Usable(now) {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// Lease returns the account to use next, or nil when none is usable. The
// Reddit scraper proceeds unauthenticated on nil. The leased account's
// last_used_at is stamped so equal-health accounts rotate.
func (r *Registry) Lease() *domain.Account {
	now := r.Now().UTC()
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *tracked
	var bestHealth float64
	var bestUsed time.Time
	for _, t := range r.all {
		t.mu.Lock()
		usable := t.a.Usable(now)
		health := t.a.HealthScore
		var used time.Time
		if t.a.LastUsedAt != nil {
			used = *t.a.LastUsedAt
		}
		t.mu.Unlock()
		if !usable {
			continue
		}
		if best == nil || health > bestHealth || (health == bestHealth && used.Before(bestUsed)) {
			best = t
			bestHealth = health
			bestUsed = used
		}
	}
	if best == nil {
		return nil
	}
	best.mu.Lock()
	defer best.mu.Unlock()
	usedAt := now
	best.a.LastUsedAt = &usedAt
	out := best.a
	return &out
}

// Record folds one request outcome into the account's health and flushes to
// the store when the coalescing window closes.
func (r *Registry) Record(ctx domain.Context, accountID int64, outcome Outcome) {
	r.mu.RLock()
	t, ok := r.byID[accountID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	now := r.Now().UTC()

	t.mu.Lock()
	n := float64(t.a.TotalRequests)
	t.a.TotalRequests++
	hit := 0.0
	if outcome == OutcomeSuccess {
		hit = 1.0
	}
	t.a.SuccessRate = (t.a.SuccessRate*n + hit) / (n + 1)
	usedAt := now
	t.a.LastUsedAt = &usedAt

	statusChange := false
	switch outcome {
	case OutcomeSuccess:
		t.a.HealthScore += healthReward
		if t.a.HealthScore > 100 {
			t.a.HealthScore = 100
		}
		t.a.ConsecutiveFailures = 0
	case OutcomeFailure:
		t.a.HealthScore -= healthPenalty
		if t.a.HealthScore < 0 {
			t.a.HealthScore = 0
		}
		t.a.ConsecutiveFailures++
		if t.a.ConsecutiveFailures >= r.opts.FailureThreshold {
			until := now.Add(r.opts.Cooldown)
			t.a.CooldownUntil = &until
			t.a.Status = domain.AccountError
			statusChange = true
		}
	case OutcomeRateLimited:
		// Shared-quota signal, not account damage; no health penalty.
		until := now.Add(r.opts.RateLimitWindow)
		t.a.RateLimitedUntil = &until
		t.a.Status = domain.AccountRateLimited
		statusChange = true
	case OutcomeAuth:
		t.a.Status = domain.AccountSuspended
		statusChange = true
	}

	t.dirty++
	// Status transitions flush immediately so other processes see the
	// rate-limit or suspension without waiting out the coalescing window.
	flush := statusChange ||
		t.dirty >= r.opts.FlushEvery ||
		now.Sub(t.lastFlush) >= r.opts.FlushInterval
	var snapshot domain.Account
	if flush {
		snapshot = t.a
		t.dirty = 0
		t.lastFlush = now
	}
	t.mu.Unlock()

	if flush {
		if err := r.store.Update(ctx, snapshot); err != nil {
			slog.Warn("account health flush failed",
				slog.Int64("account_id", accountID),
				slog.Any("error", err))
		}
	}
	if outcome != OutcomeSuccess {
		r.mu.RLock()
		usable := r.usableCountLocked(now)
		r.mu.RUnlock()
		observability.AccountsUsable.Set(float64(usable))
	}
}

// ReactivateDue flips rate-limited and cooled-down accounts back to active
// once their windows have expired and the health score is serviceable.
// Suspended and disabled accounts stay put. Returns how many came back.
func (r *Registry) ReactivateDue(ctx domain.Context) int {
	now := r.Now().UTC()
	r.mu.RLock()
	all := make([]*tracked, len(r.all))
	copy(all, r.all)
	r.mu.RUnlock()

	reactivated := 0
	for _, t := range all {
		t.mu.Lock()
		eligible := (t.a.Status == domain.AccountRateLimited || t.a.Status == domain.AccountError) &&
			windowsExpired(t.a, now) &&
			t.a.HealthScore >= healthFloor
		var snapshot domain.Account
		if eligible {
			t.a.Status = domain.AccountActive
			t.a.ConsecutiveFailures = 0
			snapshot = t.a
			t.dirty = 0
			t.lastFlush = now
		}
		t.mu.Unlock()
		if !eligible {
			continue
		}
		reactivated++
		slog.Info("account reactivated",
			slog.Int64("account_id", snapshot.ID),
			slog.String("username", snapshot.Username))
		if err := r.store.Update(ctx, snapshot); err != nil {
			slog.Warn("account reactivation persist failed",
				slog.Int64("account_id", snapshot.ID),
				slog.Any("error", err))
		}
	}
	if reactivated > 0 {
		r.mu.RLock()
		usable := r.usableCountLocked(now)
		r.mu.RUnlock()
		observability.AccountsUsable.Set(float64(usable))
	}
	return reactivated
}

func windowsExpired(a domain.Account, now time.Time) bool {
	if a.RateLimitedUntil != nil && a.RateLimitedUntil.After(now) {
		return false
	}
	if a.CooldownUntil != nil && a.CooldownUntil.After(now) {
		return false
	}
	return true
}

// Snapshot returns a copy of every tracked account with current counters.
func (r *Registry) Snapshot() []domain.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Account, 0, len(r.all))
	for _, t := range r.all {
		t.mu.Lock()
		out = append(out, t.a)
		t.mu.Unlock()
	}
	return out
}

// FlushAll persists every account's counters regardless of coalescing state.
func (r *Registry) FlushAll(ctx domain.Context) {
	r.mu.RLock()
	all := make([]*tracked, len(r.all))
	copy(all, r.all)
	r.mu.RUnlock()
	now := r.Now()
	for _, t := range all {
		t.mu.Lock()
		snapshot := t.a
		dirty := t.dirty
		t.dirty = 0
		t.lastFlush = now
		t.mu.Unlock()
		if dirty == 0 {
			continue
		}
		if err := r.store.Update(ctx, snapshot); err != nil {
			slog.Warn("account health flush failed",
				slog.Int64("account_id", snapshot.ID),
				slog.Any("error", err))
		}
	}
}
