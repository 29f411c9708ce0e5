// Package ratelimiter provides the token buckets that pace outbound API
// calls. The local pacer serves one process; the Redis-backed pacer
// coordinates several scraper processes sharing a single upstream quota.
package ratelimiter

import (
	"golang.org/x/time/rate"

	"github.com/trawlhq/trawl/internal/domain"
)

// Local is an in-process token bucket.
type Local struct {
	lim *rate.Limiter
}

var _ domain.Pacer = (*Local)(nil)

// NewLocal builds a bucket refilling at perSecond with the given burst.
// Burst defaults to the ceiling of perSecond so a full second of quota can be
// consumed at once.
func NewLocal(perSecond float64, burst int) *Local {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Local{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Local) Wait(ctx domain.Context) error { return l.lim.Wait(ctx) }

func (l *Local) Allow() bool { return l.lim.Allow() }
