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

// SubredditRepo persists subreddit rows keyed by name.
type SubredditRepo struct{ Pool PgxPool }

// NewSubredditRepo constructs a SubredditRepo with the given pool.
func NewSubredditRepo(p PgxPool) *SubredditRepo { return &SubredditRepo{Pool: p} }

const subredditColumns = `name, COALESCE(title,''), COALESCE(description,''),
	COALESCE(public_description,''), subscribers, over18, created_utc, allow_images,
	allow_videos, allow_polls, spoilers_enabled, verification_required, rules_data,
	engagement, subreddit_score, avg_upvotes_per_post, COALESCE(best_posting_day,''),
	COALESCE(best_posting_hour,''), COALESCE(icon_img,''), COALESCE(community_icon,''),
	COALESCE(banner_img,''), COALESCE(banner_background_image,''), COALESCE(header_img,''),
	COALESCE(header_title,''), COALESCE(primary_color,''), COALESCE(key_color,''),
	COALESCE(subreddit_type,''), COALESCE(url,''), wiki_enabled, review, primary_category,
	tags, last_scraped_at`

func scanSubreddit(row pgx.Row) (domain.Subreddit, error) {
	var s domain.Subreddit
	var rules []byte
	if err := row.Scan(&s.Name, &s.Title, &s.Description, &s.PublicDescription, &s.Subscribers,
		&s.Over18, &s.CreatedUTC, &s.AllowImages, &s.AllowVideos, &s.AllowPolls,
		&s.SpoilersEnabled, &s.VerificationRequired, &rules, &s.Engagement, &s.SubredditScore,
		&s.AvgUpvotesPerPost, &s.BestPostingDay, &s.BestPostingHour, &s.IconImg,
		&s.CommunityIcon, &s.BannerImg, &s.BannerBackgroundImg, &s.HeaderImg, &s.HeaderTitle,
		&s.PrimaryColor, &s.KeyColor, &s.SubredditType, &s.URL, &s.WikiEnabled, &s.Review,
		&s.PrimaryCategory, &s.Tags, &s.LastScrapedAt); err != nil {
		return domain.Subreddit{}, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &s.RulesData); err != nil {
			return domain.Subreddit{}, fmt.Errorf("decode rules_data: %w", err)
		}
	}
	return s, nil
}

// Get loads one subreddit by name.
func (r *SubredditRepo) Get(ctx domain.Context, name string) (domain.Subreddit, error) {
	tracer := otel.Tracer("repo.subreddits")
	ctx, span := tracer.Start(ctx, "subreddits.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "subreddits"),
	)
	q := `SELECT ` + subredditColumns + ` FROM subreddits WHERE name=$1`
	s, err := scanSubreddit(r.Pool.QueryRow(ctx, q, name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Subreddit{}, fmt.Errorf("op=subreddit.get: %w", domain.ErrNotFound)
		}
		return domain.Subreddit{}, fmt.Errorf("op=subreddit.get: %w", err)
	}
	return s, nil
}

// Exists reports whether a subreddit row is already present.
func (r *SubredditRepo) Exists(ctx domain.Context, name string) (bool, error) {
	tracer := otel.Tracer("repo.subreddits")
	ctx, span := tracer.Start(ctx, "subreddits.Exists")
	defer span.End()
	var ok bool
	q := `SELECT EXISTS(SELECT 1 FROM subreddits WHERE name=$1)`
	if err := r.Pool.QueryRow(ctx, q, name).Scan(&ok); err != nil {
		return false, fmt.Errorf("op=subreddit.exists: %w", err)
	}
	return ok, nil
}

// Upsert writes one subreddit keyed by name. Operator-curated columns survive
// updates: over18, primary_category and tags are never overwritten for an
// existing row, and review only fills in when the stored value is null.
func (r *SubredditRepo) Upsert(ctx domain.Context, s domain.Subreddit) error {
	tracer := otel.Tracer("repo.subreddits")
	ctx, span := tracer.Start(ctx, "subreddits.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "subreddits"),
	)
	rules, err := json.Marshal(s.RulesData)
	if err != nil {
		return fmt.Errorf("op=subreddit.upsert: %w", err)
	}
	q := `INSERT INTO subreddits (name, title, description, public_description, subscribers,
		over18, created_utc, allow_images, allow_videos, allow_polls, spoilers_enabled,
		verification_required, rules_data, engagement, subreddit_score, avg_upvotes_per_post,
		best_posting_day, best_posting_hour, icon_img, community_icon, banner_img,
		banner_background_image, header_img, header_title, primary_color, key_color,
		subreddit_type, url, wiki_enabled, review, primary_category, tags, last_scraped_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,
		$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33)
		ON CONFLICT (name) DO UPDATE SET
		title=EXCLUDED.title, description=EXCLUDED.description,
		public_description=EXCLUDED.public_description, subscribers=EXCLUDED.subscribers,
		created_utc=EXCLUDED.created_utc, allow_images=EXCLUDED.allow_images,
		allow_videos=EXCLUDED.allow_videos, allow_polls=EXCLUDED.allow_polls,
		spoilers_enabled=EXCLUDED.spoilers_enabled,
		verification_required=EXCLUDED.verification_required, rules_data=EXCLUDED.rules_data,
		engagement=EXCLUDED.engagement, subreddit_score=EXCLUDED.subreddit_score,
		avg_upvotes_per_post=EXCLUDED.avg_upvotes_per_post,
		best_posting_day=EXCLUDED.best_posting_day, best_posting_hour=EXCLUDED.best_posting_hour,
		icon_img=EXCLUDED.icon_img, community_icon=EXCLUDED.community_icon,
		banner_img=EXCLUDED.banner_img, banner_background_image=EXCLUDED.banner_background_image,
		header_img=EXCLUDED.header_img, header_title=EXCLUDED.header_title,
		primary_color=EXCLUDED.primary_color, key_color=EXCLUDED.key_color,
		subreddit_type=EXCLUDED.subreddit_type, url=EXCLUDED.url,
		wiki_enabled=EXCLUDED.wiki_enabled,
		review=COALESCE(subreddits.review, EXCLUDED.review),
		last_scraped_at=EXCLUDED.last_scraped_at`
	return retryWrite(ctx, "subreddits", func() error {
		_, err := r.Pool.Exec(ctx, q, s.Name, s.Title, s.Description, s.PublicDescription,
			s.Subscribers, s.Over18, s.CreatedUTC, s.AllowImages, s.AllowVideos, s.AllowPolls,
			s.SpoilersEnabled, s.VerificationRequired, rules, s.Engagement, s.SubredditScore,
			s.AvgUpvotesPerPost, s.BestPostingDay, s.BestPostingHour, s.IconImg, s.CommunityIcon,
			s.BannerImg, s.BannerBackgroundImg, s.HeaderImg, s.HeaderTitle, s.PrimaryColor,
			s.KeyColor, s.SubredditType, s.URL, s.WikiEnabled, s.Review, s.PrimaryCategory,
			s.Tags, s.LastScrapedAt)
		if err != nil {
			return fmt.Errorf("op=subreddit.upsert: %w", err)
		}
		return nil
	})
}

// InsertDiscovered adds a name-only row for a newly surfaced subreddit.
func (r *SubredditRepo) InsertDiscovered(ctx domain.Context, name string) error {
	tracer := otel.Tracer("repo.subreddits")
	ctx, span := tracer.Start(ctx, "subreddits.InsertDiscovered")
	defer span.End()
	q := `INSERT INTO subreddits (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`
	if _, err := r.Pool.Exec(ctx, q, name); err != nil {
		return fmt.Errorf("op=subreddit.insert_discovered: %w", err)
	}
	return nil
}

// ListDueForRefresh returns reviewed-Ok subreddits stale past the cutoff,
// oldest first.
func (r *SubredditRepo) ListDueForRefresh(ctx domain.Context, olderThan time.Time, limit int) ([]domain.Subreddit, error) {
	tracer := otel.Tracer("repo.subreddits")
	ctx, span := tracer.Start(ctx, "subreddits.ListDueForRefresh")
	defer span.End()
	q := `SELECT ` + subredditColumns + ` FROM subreddits
		WHERE review=$1 AND last_scraped_at IS NOT NULL AND last_scraped_at < $2
		ORDER BY last_scraped_at ASC LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, domain.ReviewOk, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("op=subreddit.list_due: %w", err)
	}
	defer rows.Close()
	var out []domain.Subreddit
	for rows.Next() {
		s, err := scanSubreddit(rows)
		if err != nil {
			return nil, fmt.Errorf("op=subreddit.list_due: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=subreddit.list_due: %w", err)
	}
	return out, nil
}

// ListNeverScraped returns discovered subreddits with no scrape yet.
func (r *SubredditRepo) ListNeverScraped(ctx domain.Context, limit int) ([]domain.Subreddit, error) {
	tracer := otel.Tracer("repo.subreddits")
	ctx, span := tracer.Start(ctx, "subreddits.ListNeverScraped")
	defer span.End()
	q := `SELECT ` + subredditColumns + ` FROM subreddits
		WHERE last_scraped_at IS NULL ORDER BY name LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=subreddit.list_new: %w", err)
	}
	defer rows.Close()
	var out []domain.Subreddit
	for rows.Next() {
		s, err := scanSubreddit(rows)
		if err != nil {
			return nil, fmt.Errorf("op=subreddit.list_new: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=subreddit.list_new: %w", err)
	}
	return out, nil
}
