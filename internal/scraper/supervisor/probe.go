package supervisor

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/domain"
)

// EnabledProbe answers "should this scraper keep working?" by reading the
// control row's enabled flag, cached for a short TTL so per-item probes do
// not hammer the database.
type EnabledProbe struct {
	control domain.ControlStore
	name    string
	ttl     time.Duration

	killed atomic.Bool

	mu      sync.Mutex
	val     bool
	checked time.Time

	Now func() time.Time
}

func NewEnabledProbe(control domain.ControlStore, name string, ttl time.Duration) *EnabledProbe {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &EnabledProbe{control: control, name: name, ttl: ttl, Now: time.Now}
}

// Kill forces the probe to report false from now on; used on SIGTERM so
// in-flight workers drain without waiting for a database round trip.
func (p *EnabledProbe) Kill() {
	p.killed.Store(true)
}

// Enabled returns the cached flag, refreshing it when the TTL has lapsed.
// Read failures keep the last known answer; a flaky control store must not
// stop work on its own.
func (p *EnabledProbe) Enabled(ctx domain.Context) bool {
	if p.killed.Load() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.Now()
	if !p.checked.IsZero() && now.Sub(p.checked) < p.ttl {
		return p.val
	}
	rec, err := p.control.Load(ctx, p.name)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("enabled probe load failed",
			slog.String("script", p.name),
			slog.Any("error", err))
		p.checked = now
		return p.val
	}
	p.val = rec.Enabled
	p.checked = now
	return p.val
}
