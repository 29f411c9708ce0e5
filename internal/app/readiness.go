package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger matches the Ping method exposed by pgx pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DBCheck adapts a pool ping into a readiness probe.
func DBCheck(db Pinger) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return db.Ping(ctx)
	}
}

// RedisCheck probes the shared redis client when one is configured.
func RedisCheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}
