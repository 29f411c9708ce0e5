package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupService prunes aged rows from the append-heavy tables. Scraped entity
// rows are never touched; only the log sink and raw post history decay.
type CleanupService struct {
	Pool          *pgxpool.Pool
	RetentionDays int
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(pool *pgxpool.Pool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes rows older than the retention period.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	logsTag, err := s.Pool.Exec(ctx, `DELETE FROM system_logs WHERE timestamp < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("op=cleanup.system_logs: %w", err)
	}
	postsTag, err := s.Pool.Exec(ctx, `DELETE FROM posts WHERE scraped_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("op=cleanup.posts: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_logs", logsTag.RowsAffected()),
		slog.Int64("deleted_posts", postsTag.RowsAffected()),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic starts a periodic cleanup job.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
