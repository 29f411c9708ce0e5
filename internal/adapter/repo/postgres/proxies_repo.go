package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trawlhq/trawl/internal/domain"
)

// ProxyRepo loads proxy definitions and persists their health counters.
type ProxyRepo struct{ Pool PgxPool }

// NewProxyRepo constructs a ProxyRepo with the given pool.
func NewProxyRepo(p PgxPool) *ProxyRepo { return &ProxyRepo{Pool: p} }

const proxyColumns = `id, COALESCE(display_name,''), proxy_url, COALESCE(proxy_username,''),
	COALESCE(proxy_password,''), priority, max_threads, is_active, COALESCE(service_name,''),
	total_requests, success_count, error_count, consecutive_errors, avg_response_time_ms,
	last_used_at, last_error_at, COALESCE(last_error_msg,'')`

func scanProxy(rows pgx.Rows) (domain.Proxy, error) {
	var p domain.Proxy
	err := rows.Scan(&p.ID, &p.DisplayName, &p.URL, &p.Username, &p.Password, &p.Priority,
		&p.MaxThreads, &p.IsActive, &p.ServiceName, &p.TotalRequests, &p.SuccessCount,
		&p.ErrorCount, &p.ConsecutiveErrors, &p.AvgLatencyMS, &p.LastUsedAt, &p.LastErrorAt,
		&p.LastErrorMsg)
	return p, err
}

func (r *ProxyRepo) list(ctx domain.Context, q string) ([]domain.Proxy, error) {
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// List returns every proxy, highest priority first.
func (r *ProxyRepo) List(ctx domain.Context) ([]domain.Proxy, error) {
	tracer := otel.Tracer("repo.proxies")
	ctx, span := tracer.Start(ctx, "proxies.List")
	defer span.End()
	out, err := r.list(ctx, `SELECT `+proxyColumns+` FROM proxies ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("op=proxy.list: %w", err)
	}
	return out, nil
}

// ListActive returns active proxies ordered by descending priority.
func (r *ProxyRepo) ListActive(ctx domain.Context) ([]domain.Proxy, error) {
	tracer := otel.Tracer("repo.proxies")
	ctx, span := tracer.Start(ctx, "proxies.ListActive")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "proxies"),
	)
	out, err := r.list(ctx, `SELECT `+proxyColumns+` FROM proxies WHERE is_active=true ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("op=proxy.list_active: %w", err)
	}
	return out, nil
}

// UpdateHealth writes one proxy's health counters back to storage.
func (r *ProxyRepo) UpdateHealth(ctx domain.Context, p domain.Proxy) error {
	tracer := otel.Tracer("repo.proxies")
	ctx, span := tracer.Start(ctx, "proxies.UpdateHealth")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "proxies"),
	)
	q := `UPDATE proxies SET total_requests=$2, success_count=$3, error_count=$4,
		consecutive_errors=$5, avg_response_time_ms=$6, last_used_at=$7, last_error_at=$8,
		last_error_msg=$9 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, p.ID, p.TotalRequests, p.SuccessCount, p.ErrorCount,
		p.ConsecutiveErrors, p.AvgLatencyMS, p.LastUsedAt, p.LastErrorAt, p.LastErrorMsg)
	if err != nil {
		return fmt.Errorf("op=proxy.update_health: %w", err)
	}
	return nil
}

// Disable marks one proxy inactive and records the reason.
func (r *ProxyRepo) Disable(ctx domain.Context, id int64, reason string) error {
	tracer := otel.Tracer("repo.proxies")
	ctx, span := tracer.Start(ctx, "proxies.Disable")
	defer span.End()
	q := `UPDATE proxies SET is_active=false, last_error_msg=$2, last_error_at=now() WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, reason); err != nil {
		return fmt.Errorf("op=proxy.disable: %w", err)
	}
	return nil
}
