package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trawlhq/trawl/internal/domain"
)

// SystemLogRepo appends and reads structured rows in the durable log sink.
type SystemLogRepo struct{ Pool PgxPool }

// NewSystemLogRepo constructs a SystemLogRepo with the given pool.
func NewSystemLogRepo(p PgxPool) *SystemLogRepo { return &SystemLogRepo{Pool: p} }

// Insert appends one log row. Failures are the caller's problem to swallow;
// the sink itself never retries.
func (r *SystemLogRepo) Insert(ctx domain.Context, e domain.SystemLogEntry) error {
	tracer := otel.Tracer("repo.syslogs")
	ctx, span := tracer.Start(ctx, "syslogs.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "system_logs"),
	)
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	cctx, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("op=syslog.insert: %w", err)
	}
	q := `INSERT INTO system_logs (id, timestamp, source, script_name, level, message, context, duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := r.Pool.Exec(ctx, q, id, ts, e.Source, e.ScriptName, e.Level, e.Message, cctx, e.DurationMS); err != nil {
		return fmt.Errorf("op=syslog.insert: %w", err)
	}
	return nil
}

// Recent returns the newest rows for one scraper, newest first.
func (r *SystemLogRepo) Recent(ctx domain.Context, scriptName string, limit int) ([]domain.SystemLogEntry, error) {
	tracer := otel.Tracer("repo.syslogs")
	ctx, span := tracer.Start(ctx, "syslogs.Recent")
	defer span.End()
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, timestamp, source, script_name, level, message, context, duration_ms
		FROM system_logs WHERE script_name=$1 ORDER BY timestamp DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, scriptName, limit)
	if err != nil {
		return nil, fmt.Errorf("op=syslog.recent: %w", err)
	}
	defer rows.Close()
	var out []domain.SystemLogEntry
	for rows.Next() {
		var e domain.SystemLogEntry
		var cctx []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Source, &e.ScriptName, &e.Level, &e.Message, &cctx, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("op=syslog.recent: %w", err)
		}
		if len(cctx) > 0 {
			if err := json.Unmarshal(cctx, &e.Context); err != nil {
				return nil, fmt.Errorf("op=syslog.recent: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=syslog.recent: %w", err)
	}
	return out, nil
}
