package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trawlhq/trawl/internal/domain"
)

// IGMediaRepo persists Instagram media rows. Reels and feed posts live in
// separate tables with the same shape, both keyed by media_pk.
type IGMediaRepo struct{ Pool PgxPool }

// NewIGMediaRepo constructs an IGMediaRepo with the given pool.
func NewIGMediaRepo(p PgxPool) *IGMediaRepo { return &IGMediaRepo{Pool: p} }

func mediaTable(kind domain.MediaKind) string {
	if kind == domain.MediaReel {
		return "reels"
	}
	return "posts_ig"
}

// Upsert writes one media row and reports whether it is new. The viral
// detection timestamp is write-once: an existing value always survives, and a
// missing one is only filled while the row is viral.
func (r *IGMediaRepo) Upsert(ctx domain.Context, m domain.IGMedia) (bool, error) {
	table := mediaTable(m.Kind)
	tracer := otel.Tracer("repo.igmedia")
	ctx, span := tracer.Start(ctx, "igmedia.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", table),
	)
	q := fmt.Sprintf(`INSERT INTO %[1]s (media_pk, creator_id, username, media_type,
		product_type, short_code, caption_text, hashtags, mentions, is_paid_partnership,
		like_count, comment_count, play_count, view_count, image_urls, video_url,
		thumbnail_url, taken_at, is_viral, viral_multiplier, viral_detected_at, scraped_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		ON CONFLICT (media_pk) DO UPDATE SET
		username=EXCLUDED.username, caption_text=EXCLUDED.caption_text,
		hashtags=EXCLUDED.hashtags, mentions=EXCLUDED.mentions,
		is_paid_partnership=EXCLUDED.is_paid_partnership, like_count=EXCLUDED.like_count,
		comment_count=EXCLUDED.comment_count, play_count=EXCLUDED.play_count,
		view_count=EXCLUDED.view_count, image_urls=EXCLUDED.image_urls,
		video_url=EXCLUDED.video_url, thumbnail_url=EXCLUDED.thumbnail_url,
		is_viral=EXCLUDED.is_viral, viral_multiplier=EXCLUDED.viral_multiplier,
		viral_detected_at=CASE
			WHEN EXCLUDED.is_viral AND %[1]s.viral_detected_at IS NULL
				THEN COALESCE(EXCLUDED.viral_detected_at, now())
			ELSE %[1]s.viral_detected_at END,
		scraped_at=EXCLUDED.scraped_at
		RETURNING (xmax = 0)`, table)

	var created bool
	err := retryWrite(ctx, table, func() error {
		// xmax=0 only holds for freshly inserted rows.
		row := r.Pool.QueryRow(ctx, q, m.MediaPK, m.CreatorID, m.Username, m.MediaType,
			m.ProductType, m.ShortCode, m.Caption, m.Hashtags, m.Mentions, m.IsPaidPartnership,
			m.LikeCount, m.CommentCount, m.PlayCount, m.ViewCount, m.ImageURLs, m.VideoURL,
			m.ThumbnailURL, m.TakenAt, m.IsViral, m.ViralMultiplier, m.ViralDetectedAt, m.ScrapedAt)
		if err := row.Scan(&created); err != nil {
			return fmt.Errorf("op=igmedia.upsert table=%s: %w", table, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// CountByCreator returns the number of stored media rows for one creator.
func (r *IGMediaRepo) CountByCreator(ctx domain.Context, creatorID string, kind domain.MediaKind) (int, error) {
	table := mediaTable(kind)
	tracer := otel.Tracer("repo.igmedia")
	ctx, span := tracer.Start(ctx, "igmedia.CountByCreator")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "COUNT"),
		attribute.String("db.sql.table", table),
	)
	var count int
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE creator_id=$1`, table)
	if err := r.Pool.QueryRow(ctx, q, creatorID).Scan(&count); err != nil {
		return 0, fmt.Errorf("op=igmedia.count table=%s: %w", table, err)
	}
	return count, nil
}
