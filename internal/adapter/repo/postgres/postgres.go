// Package postgres provides PostgreSQL database adapters.
//
// It implements the domain store ports against the authoritative external
// database. All writes are upserts keyed on each entity's natural id, and
// upsert failures are retried on a short constant backoff before the caller
// gives up on the item.
package postgres

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trawlhq/trawl/internal/adapter/observability"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

const (
	writeRetryAttempts = 3
	writeRetryDelay    = 500 * time.Millisecond
)

// retryWrite runs fn with up to three additional attempts spaced half a second
// apart. Context cancellation aborts the wait.
func retryWrite(ctx context.Context, table string, fn func() error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(writeRetryDelay), writeRetryAttempts), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		if attempt > 0 {
			observability.StoreRetriesTotal.WithLabelValues(table).Inc()
		}
		attempt++
		return fn()
	}, bo)
}
