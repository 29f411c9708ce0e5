package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trawlhq/trawl/internal/domain"
)

// CreatorRepo persists Instagram creator rows keyed by ig_user_id.
type CreatorRepo struct{ Pool PgxPool }

// NewCreatorRepo constructs a CreatorRepo with the given pool.
func NewCreatorRepo(p PgxPool) *CreatorRepo { return &CreatorRepo{Pool: p} }

const creatorColumns = `ig_user_id, username, COALESCE(full_name,''), COALESCE(biography,''),
	COALESCE(review_status,''), related_creators_processed, followers, following, posts_count,
	reels_count, is_private, is_verified, COALESCE(profile_pic_url,''),
	COALESCE(external_url,''), total_views, avg_views_per_reel, avg_views_per_reel_cached,
	avg_engagement_cached, body_tags, tag_confidence, tags_analyzed_at,
	COALESCE(model_version,''), last_scraped_at, raw_profile_json`

func scanCreator(row pgx.Row) (domain.Creator, error) {
	var c domain.Creator
	err := row.Scan(&c.IGUserID, &c.Username, &c.FullName, &c.Biography, &c.ReviewStatus,
		&c.RelatedCreatorsProcessed, &c.Followers, &c.Following, &c.PostsCount, &c.ReelsCount,
		&c.IsPrivate, &c.IsVerified, &c.ProfilePicURL, &c.ExternalURL, &c.TotalViews,
		&c.AvgViewsPerReel, &c.AvgViewsPerReelCached, &c.AvgEngagementCached, &c.BodyTags,
		&c.TagConfidence, &c.TagsAnalyzedAt, &c.ModelVersion, &c.LastScrapedAt, &c.RawProfileJSON)
	return c, err
}

// Get loads one creator by Instagram user id.
func (r *CreatorRepo) Get(ctx domain.Context, igUserID string) (domain.Creator, error) {
	tracer := otel.Tracer("repo.creators")
	ctx, span := tracer.Start(ctx, "creators.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "creators"),
	)
	q := `SELECT ` + creatorColumns + ` FROM creators WHERE ig_user_id=$1`
	c, err := scanCreator(r.Pool.QueryRow(ctx, q, igUserID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Creator{}, fmt.Errorf("op=creator.get: %w", domain.ErrNotFound)
		}
		return domain.Creator{}, fmt.Errorf("op=creator.get: %w", err)
	}
	return c, nil
}

// GetByUsername loads one creator by username.
func (r *CreatorRepo) GetByUsername(ctx domain.Context, username string) (domain.Creator, error) {
	tracer := otel.Tracer("repo.creators")
	ctx, span := tracer.Start(ctx, "creators.GetByUsername")
	defer span.End()
	q := `SELECT ` + creatorColumns + ` FROM creators WHERE username=$1 LIMIT 1`
	c, err := scanCreator(r.Pool.QueryRow(ctx, q, username))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Creator{}, fmt.Errorf("op=creator.get_by_username: %w", domain.ErrNotFound)
		}
		return domain.Creator{}, fmt.Errorf("op=creator.get_by_username: %w", err)
	}
	return c, nil
}

// Upsert writes one creator's profile fields keyed by ig_user_id. Review and
// tagging columns belong to other layers and are never overwritten here.
func (r *CreatorRepo) Upsert(ctx domain.Context, c domain.Creator) error {
	tracer := otel.Tracer("repo.creators")
	ctx, span := tracer.Start(ctx, "creators.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "creators"),
	)
	q := `INSERT INTO creators (ig_user_id, username, full_name, biography, review_status,
		followers, following, posts_count, is_private, is_verified, profile_pic_url,
		external_url, raw_profile_json, last_scraped_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (ig_user_id) DO UPDATE SET
		username=EXCLUDED.username, full_name=EXCLUDED.full_name,
		biography=EXCLUDED.biography, followers=EXCLUDED.followers,
		following=EXCLUDED.following, posts_count=EXCLUDED.posts_count,
		is_private=EXCLUDED.is_private, is_verified=EXCLUDED.is_verified,
		profile_pic_url=EXCLUDED.profile_pic_url, external_url=EXCLUDED.external_url,
		raw_profile_json=EXCLUDED.raw_profile_json, last_scraped_at=EXCLUDED.last_scraped_at`
	return retryWrite(ctx, "creators", func() error {
		_, err := r.Pool.Exec(ctx, q, c.IGUserID, c.Username, c.FullName, c.Biography,
			c.ReviewStatus, c.Followers, c.Following, c.PostsCount, c.IsPrivate, c.IsVerified,
			c.ProfilePicURL, c.ExternalURL, c.RawProfileJSON, c.LastScrapedAt)
		if err != nil {
			return fmt.Errorf("op=creator.upsert: %w", err)
		}
		return nil
	})
}

// InsertPending adds a discovered creator awaiting review. Reports whether a
// new row was created.
func (r *CreatorRepo) InsertPending(ctx domain.Context, c domain.Creator) (bool, error) {
	tracer := otel.Tracer("repo.creators")
	ctx, span := tracer.Start(ctx, "creators.InsertPending")
	defer span.End()
	q := `INSERT INTO creators (ig_user_id, username, full_name, is_private, is_verified,
		followers, review_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (ig_user_id) DO NOTHING`
	tag, err := r.Pool.Exec(ctx, q, c.IGUserID, c.Username, c.FullName, c.IsPrivate,
		c.IsVerified, c.Followers, domain.CreatorReviewPending)
	if err != nil {
		return false, fmt.Errorf("op=creator.insert_pending: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListForScrape returns creators with the given review status ordered by
// last_scraped_at ascending with never-scraped rows first. limit<=0 means no
// bound.
func (r *CreatorRepo) ListForScrape(ctx domain.Context, reviewStatus string, limit int) ([]domain.Creator, error) {
	tracer := otel.Tracer("repo.creators")
	ctx, span := tracer.Start(ctx, "creators.ListForScrape")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "creators"),
	)
	q := `SELECT ` + creatorColumns + ` FROM creators WHERE review_status=$1
		ORDER BY last_scraped_at ASC NULLS FIRST, ig_user_id`
	args := []any{reviewStatus}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=creator.list_for_scrape: %w", err)
	}
	defer rows.Close()
	var out []domain.Creator
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, fmt.Errorf("op=creator.list_for_scrape: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=creator.list_for_scrape: %w", err)
	}
	return out, nil
}

// ListRelatedUnprocessed returns reviewed-ok creators whose related profiles
// have not been explored yet.
func (r *CreatorRepo) ListRelatedUnprocessed(ctx domain.Context, limit int) ([]domain.Creator, error) {
	tracer := otel.Tracer("repo.creators")
	ctx, span := tracer.Start(ctx, "creators.ListRelatedUnprocessed")
	defer span.End()
	q := `SELECT ` + creatorColumns + ` FROM creators
		WHERE review_status=$1 AND related_creators_processed=false
		ORDER BY ig_user_id LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, domain.CreatorReviewOk, limit)
	if err != nil {
		return nil, fmt.Errorf("op=creator.list_related_unprocessed: %w", err)
	}
	defer rows.Close()
	var out []domain.Creator
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, fmt.Errorf("op=creator.list_related_unprocessed: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=creator.list_related_unprocessed: %w", err)
	}
	return out, nil
}

// MarkRelatedProcessed flags a creator's related-profile exploration as done.
func (r *CreatorRepo) MarkRelatedProcessed(ctx domain.Context, igUserID string) error {
	tracer := otel.Tracer("repo.creators")
	ctx, span := tracer.Start(ctx, "creators.MarkRelatedProcessed")
	defer span.End()
	q := `UPDATE creators SET related_creators_processed=true WHERE ig_user_id=$1`
	if _, err := r.Pool.Exec(ctx, q, igUserID); err != nil {
		return fmt.Errorf("op=creator.mark_related: %w", err)
	}
	return nil
}

// UpdateRollups caches per-cycle aggregates on the creator row. The cached
// average feeds the next cycle's viral detection.
func (r *CreatorRepo) UpdateRollups(ctx domain.Context, igUserID string, roll domain.CreatorRollups) error {
	tracer := otel.Tracer("repo.creators")
	ctx, span := tracer.Start(ctx, "creators.UpdateRollups")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "creators"),
	)
	q := `UPDATE creators SET reels_count=$2, total_views=$3, avg_views_per_reel=$4,
		avg_views_per_reel_cached=$4, avg_engagement_cached=$5 WHERE ig_user_id=$1`
	return retryWrite(ctx, "creators", func() error {
		_, err := r.Pool.Exec(ctx, q, igUserID, roll.ReelsCount, roll.TotalViews,
			roll.AvgViews, roll.AvgEngagement)
		if err != nil {
			return fmt.Errorf("op=creator.update_rollups: %w", err)
		}
		return nil
	})
}
