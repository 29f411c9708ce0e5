package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trawlhq/trawl/internal/domain"
)

// ControlRepo persists and loads scraper control rows.
type ControlRepo struct{ Pool PgxPool }

// NewControlRepo constructs a ControlRepo with the given pool.
func NewControlRepo(p PgxPool) *ControlRepo { return &ControlRepo{Pool: p} }

const controlColumns = `script_name, script_type, enabled, status, pid, started_at, stopped_at,
	last_heartbeat, COALESCE(last_error,''), last_error_at, config, updated_at, COALESCE(updated_by,'')`

func scanControl(row pgx.Row) (domain.ControlRecord, error) {
	var rec domain.ControlRecord
	var cfg []byte
	if err := row.Scan(&rec.ScriptName, &rec.ScriptType, &rec.Enabled, &rec.Status, &rec.PID,
		&rec.StartedAt, &rec.StoppedAt, &rec.LastHeartbeat, &rec.LastError, &rec.LastErrorAt,
		&cfg, &rec.UpdatedAt, &rec.UpdatedBy); err != nil {
		return domain.ControlRecord{}, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &rec.Config); err != nil {
			return domain.ControlRecord{}, fmt.Errorf("decode config: %w", err)
		}
	}
	return rec, nil
}

// Load returns the control record for one scraper.
func (r *ControlRepo) Load(ctx domain.Context, name string) (domain.ControlRecord, error) {
	tracer := otel.Tracer("repo.control")
	ctx, span := tracer.Start(ctx, "control.Load")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "system_control"),
	)
	q := `SELECT ` + controlColumns + ` FROM system_control WHERE script_name=$1`
	rec, err := scanControl(r.Pool.QueryRow(ctx, q, name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ControlRecord{}, fmt.Errorf("op=control.load: %w", domain.ErrNotFound)
		}
		return domain.ControlRecord{}, fmt.Errorf("op=control.load: %w", err)
	}
	return rec, nil
}

// List returns every control record.
func (r *ControlRepo) List(ctx domain.Context) ([]domain.ControlRecord, error) {
	tracer := otel.Tracer("repo.control")
	ctx, span := tracer.Start(ctx, "control.List")
	defer span.End()
	q := `SELECT ` + controlColumns + ` FROM system_control ORDER BY script_name`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=control.list: %w", err)
	}
	defer rows.Close()
	var out []domain.ControlRecord
	for rows.Next() {
		rec, err := scanControl(rows)
		if err != nil {
			return nil, fmt.Errorf("op=control.list: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=control.list: %w", err)
	}
	return out, nil
}

// EnsureExists inserts a disabled control row when none exists yet.
func (r *ControlRepo) EnsureExists(ctx domain.Context, name, scriptType string, defaults map[string]any) error {
	tracer := otel.Tracer("repo.control")
	ctx, span := tracer.Start(ctx, "control.EnsureExists")
	defer span.End()
	cfg, err := json.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("op=control.ensure: %w", err)
	}
	q := `INSERT INTO system_control (script_name, script_type, enabled, status, config, updated_at)
		VALUES ($1, $2, false, $3, $4, now())
		ON CONFLICT (script_name) DO NOTHING`
	if _, err := r.Pool.Exec(ctx, q, name, scriptType, domain.StatusStopped, cfg); err != nil {
		return fmt.Errorf("op=control.ensure: %w", err)
	}
	return nil
}

// SetStatus applies a partial update to one control row. Last writer wins.
func (r *ControlRepo) SetStatus(ctx domain.Context, name string, patch domain.ControlPatch) error {
	tracer := otel.Tracer("repo.control")
	ctx, span := tracer.Start(ctx, "control.SetStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "system_control"),
	)

	sets := []string{"updated_at=now()"}
	args := []any{name}
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if patch.Enabled != nil {
		add("enabled=$%d", *patch.Enabled)
	}
	if patch.Status != nil {
		add("status=$%d", *patch.Status)
	}
	if patch.ClearPID {
		sets = append(sets, "pid=NULL")
	} else if patch.PID != nil {
		add("pid=$%d", *patch.PID)
	}
	if patch.StartedAt != nil {
		add("started_at=$%d", *patch.StartedAt)
	}
	if patch.StoppedAt != nil {
		add("stopped_at=$%d", *patch.StoppedAt)
	}
	if patch.LastError != nil {
		add("last_error=$%d", *patch.LastError)
		sets = append(sets, "last_error_at=now()")
	}
	if patch.UpdatedBy != "" {
		add("updated_by=$%d", patch.UpdatedBy)
	}

	q := "UPDATE system_control SET "
	for i, s := range sets {
		if i > 0 {
			q += ", "
		}
		q += s
	}
	q += " WHERE script_name=$1"
	if _, err := r.Pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("op=control.set_status: %w", err)
	}
	return nil
}

// Heartbeat records scraper liveness.
func (r *ControlRepo) Heartbeat(ctx domain.Context, name string, now time.Time) error {
	tracer := otel.Tracer("repo.control")
	ctx, span := tracer.Start(ctx, "control.Heartbeat")
	defer span.End()
	q := `UPDATE system_control SET last_heartbeat=$2, updated_at=now() WHERE script_name=$1`
	if _, err := r.Pool.Exec(ctx, q, name, now.UTC()); err != nil {
		return fmt.Errorf("op=control.heartbeat: %w", err)
	}
	return nil
}
