package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trawlhq/trawl/internal/domain"
)

// RedditUserRepo persists Reddit author rows keyed by username.
type RedditUserRepo struct{ Pool PgxPool }

// NewRedditUserRepo constructs a RedditUserRepo with the given pool.
func NewRedditUserRepo(p PgxPool) *RedditUserRepo { return &RedditUserRepo{Pool: p} }

const userColumns = `username, COALESCE(reddit_id,''), created_utc, account_age_days,
	comment_karma, link_karma, total_karma, is_employee, is_mod, is_gold, verified,
	has_verified_email, is_suspended, COALESCE(icon_img,''), COALESCE(subreddit_title,''),
	subreddit_subscribers, subreddit_over18, avg_post_score, avg_post_comments,
	total_posts_analyzed, karma_per_day, COALESCE(preferred_content_type,''),
	most_active_posting_hour, COALESCE(most_active_posting_day,''), our_creator, last_scraped_at`

func scanRedditUser(row pgx.Row) (domain.RedditUser, error) {
	var u domain.RedditUser
	err := row.Scan(&u.Username, &u.RedditID, &u.CreatedUTC, &u.AccountAgeDays, &u.CommentKarma,
		&u.LinkKarma, &u.TotalKarma, &u.IsEmployee, &u.IsMod, &u.IsGold, &u.Verified,
		&u.HasVerifiedEmail, &u.IsSuspended, &u.IconImg, &u.SubredditTitle,
		&u.SubredditSubscribers, &u.SubredditOver18, &u.AvgPostScore, &u.AvgPostComments,
		&u.TotalPostsAnalyzed, &u.KarmaPerDay, &u.PreferredContentType, &u.MostActivePostingHr,
		&u.MostActivePostingDay, &u.OurCreator, &u.LastScrapedAt)
	return u, err
}

// Get loads one user by username.
func (r *RedditUserRepo) Get(ctx domain.Context, username string) (domain.RedditUser, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
	)
	q := `SELECT ` + userColumns + ` FROM users WHERE username=$1`
	u, err := scanRedditUser(r.Pool.QueryRow(ctx, q, username))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.RedditUser{}, fmt.Errorf("op=user.get: %w", domain.ErrNotFound)
		}
		return domain.RedditUser{}, fmt.Errorf("op=user.get: %w", err)
	}
	return u, nil
}

// Exists reports whether a user row is already present.
func (r *RedditUserRepo) Exists(ctx domain.Context, username string) (bool, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Exists")
	defer span.End()
	var ok bool
	q := `SELECT EXISTS(SELECT 1 FROM users WHERE username=$1)`
	if err := r.Pool.QueryRow(ctx, q, username).Scan(&ok); err != nil {
		return false, fmt.Errorf("op=user.exists: %w", err)
	}
	return ok, nil
}

// Upsert writes one user keyed by username. The operator-curated our_creator
// flag is never overwritten for an existing row.
func (r *RedditUserRepo) Upsert(ctx domain.Context, u domain.RedditUser) error {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "users"),
	)
	q := `INSERT INTO users (username, reddit_id, created_utc, account_age_days, comment_karma,
		link_karma, total_karma, is_employee, is_mod, is_gold, verified, has_verified_email,
		is_suspended, icon_img, subreddit_title, subreddit_subscribers, subreddit_over18,
		avg_post_score, avg_post_comments, total_posts_analyzed, karma_per_day,
		preferred_content_type, most_active_posting_hour, most_active_posting_day, our_creator,
		last_scraped_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,
		$22,$23,$24,$25,$26)
		ON CONFLICT (username) DO UPDATE SET
		reddit_id=EXCLUDED.reddit_id, created_utc=EXCLUDED.created_utc,
		account_age_days=EXCLUDED.account_age_days, comment_karma=EXCLUDED.comment_karma,
		link_karma=EXCLUDED.link_karma, total_karma=EXCLUDED.total_karma,
		is_employee=EXCLUDED.is_employee, is_mod=EXCLUDED.is_mod, is_gold=EXCLUDED.is_gold,
		verified=EXCLUDED.verified, has_verified_email=EXCLUDED.has_verified_email,
		is_suspended=EXCLUDED.is_suspended, icon_img=EXCLUDED.icon_img,
		subreddit_title=EXCLUDED.subreddit_title,
		subreddit_subscribers=EXCLUDED.subreddit_subscribers,
		subreddit_over18=EXCLUDED.subreddit_over18, avg_post_score=EXCLUDED.avg_post_score,
		avg_post_comments=EXCLUDED.avg_post_comments,
		total_posts_analyzed=EXCLUDED.total_posts_analyzed, karma_per_day=EXCLUDED.karma_per_day,
		preferred_content_type=EXCLUDED.preferred_content_type,
		most_active_posting_hour=EXCLUDED.most_active_posting_hour,
		most_active_posting_day=EXCLUDED.most_active_posting_day,
		last_scraped_at=EXCLUDED.last_scraped_at`
	return retryWrite(ctx, "users", func() error {
		_, err := r.Pool.Exec(ctx, q, u.Username, u.RedditID, u.CreatedUTC, u.AccountAgeDays,
			u.CommentKarma, u.LinkKarma, u.TotalKarma, u.IsEmployee, u.IsMod, u.IsGold,
			u.Verified, u.HasVerifiedEmail, u.IsSuspended, u.IconImg, u.SubredditTitle,
			u.SubredditSubscribers, u.SubredditOver18, u.AvgPostScore, u.AvgPostComments,
			u.TotalPostsAnalyzed, u.KarmaPerDay, u.PreferredContentType, u.MostActivePostingHr,
			u.MostActivePostingDay, u.OurCreator, u.LastScrapedAt)
		if err != nil {
			return fmt.Errorf("op=user.upsert: %w", err)
		}
		return nil
	})
}
