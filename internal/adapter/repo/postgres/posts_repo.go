package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trawlhq/trawl/internal/domain"
)

// RedditPostRepo persists Reddit submission rows keyed by reddit_id.
type RedditPostRepo struct{ Pool PgxPool }

// NewRedditPostRepo constructs a RedditPostRepo with the given pool.
func NewRedditPostRepo(p PgxPool) *RedditPostRepo { return &RedditPostRepo{Pool: p} }

// UpsertBatch writes a deduplicated batch of posts in one transaction and
// reports the number of rows written. Callers dedup by reddit_id beforehand.
func (r *RedditPostRepo) UpsertBatch(ctx domain.Context, posts []domain.RedditPost) (int, error) {
	tracer := otel.Tracer("repo.posts")
	ctx, span := tracer.Start(ctx, "posts.UpsertBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "posts"),
		attribute.Int("batch.size", len(posts)),
	)
	if len(posts) == 0 {
		return 0, nil
	}
	q := `INSERT INTO posts (reddit_id, subreddit_name, author, title, score, upvote_ratio,
		num_comments, created_utc, is_self, is_video, stickied, over_18, spoiler, locked,
		gilded, total_awards_received, num_crossposts, domain, url, permalink, thumbnail,
		link_flair_text, content_type, posted_day, posted_hour, source_listing, scraped_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,
		$22,$23,$24,$25,$26,$27)
		ON CONFLICT (reddit_id) DO UPDATE SET
		score=EXCLUDED.score, upvote_ratio=EXCLUDED.upvote_ratio,
		num_comments=EXCLUDED.num_comments, stickied=EXCLUDED.stickied,
		gilded=EXCLUDED.gilded, total_awards_received=EXCLUDED.total_awards_received,
		num_crossposts=EXCLUDED.num_crossposts, link_flair_text=EXCLUDED.link_flair_text,
		source_listing=EXCLUDED.source_listing, scraped_at=EXCLUDED.scraped_at`

	written := 0
	err := retryWrite(ctx, "posts", func() error {
		tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("op=post.upsert_batch: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()
		written = 0
		for _, p := range posts {
			if _, err := tx.Exec(ctx, q, p.RedditID, p.SubredditName, p.Author, p.Title,
				p.Score, p.UpvoteRatio, p.NumComments, p.CreatedUTC, p.IsSelf, p.IsVideo,
				p.Stickied, p.Over18, p.Spoiler, p.Locked, p.Gilded, p.TotalAwards,
				p.NumCrossposts, p.Domain, p.URL, p.Permalink, p.Thumbnail, p.LinkFlairText,
				p.ContentType, p.PostedDay, p.PostedHour, p.SourceListing, p.ScrapedAt); err != nil {
				return fmt.Errorf("op=post.upsert_batch: %w", err)
			}
			written++
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("op=post.upsert_batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}
