package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trawlhq/trawl/internal/domain"
)

// AccountRepo loads Reddit API credentials and persists their health.
type AccountRepo struct{ Pool PgxPool }

// NewAccountRepo constructs an AccountRepo with the given pool.
func NewAccountRepo(p PgxPool) *AccountRepo { return &AccountRepo{Pool: p} }

// List returns every account that has not been permanently disabled.
func (r *AccountRepo) List(ctx domain.Context) ([]domain.Account, error) {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "accounts"),
	)
	q := `SELECT id, username, client_id, client_secret, status, health_score,
		rate_limited_until, cooldown_until, consecutive_failures, success_rate,
		total_requests, last_used_at
		FROM accounts WHERE status <> $1 ORDER BY health_score DESC, id`
	rows, err := r.Pool.Query(ctx, q, domain.AccountDisabled)
	if err != nil {
		return nil, fmt.Errorf("op=account.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Username, &a.ClientID, &a.ClientSecret, &a.Status,
			&a.HealthScore, &a.RateLimitedUntil, &a.CooldownUntil, &a.ConsecutiveFailures,
			&a.SuccessRate, &a.TotalRequests, &a.LastUsedAt); err != nil {
			return nil, fmt.Errorf("op=account.list: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=account.list: %w", err)
	}
	return out, nil
}

// Update writes one account's status and health fields.
func (r *AccountRepo) Update(ctx domain.Context, a domain.Account) error {
	tracer := otel.Tracer("repo.accounts")
	ctx, span := tracer.Start(ctx, "accounts.Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "accounts"),
	)
	q := `UPDATE accounts SET status=$2, health_score=$3, rate_limited_until=$4,
		cooldown_until=$5, consecutive_failures=$6, success_rate=$7, total_requests=$8,
		last_used_at=$9 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, a.ID, a.Status, a.HealthScore, a.RateLimitedUntil,
		a.CooldownUntil, a.ConsecutiveFailures, a.SuccessRate, a.TotalRequests, a.LastUsedAt)
	if err != nil {
		return fmt.Errorf("op=account.update: %w", err)
	}
	return nil
}
