// Package reddit implements the continuous subreddit discovery cycle: a
// proxy-affine worker pool that refreshes reviewed subreddits, derives
// posting metrics, auto-classifies newcomers and surfaces authors and
// referenced subreddits for follow-up scraping.
package reddit

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/trawlhq/trawl/internal/adapter/observability"
	redditapi "github.com/trawlhq/trawl/internal/adapter/reddit"
	"github.com/trawlhq/trawl/internal/domain"
	"github.com/trawlhq/trawl/pkg/textx"
)

// ProcessorConfig bounds the listing fetches.
type ProcessorConfig struct {
	TopLimit           int
	HotLimit           int
	UserSubmittedLimit int
	DiscoveryEnabled   bool
}

func (c *ProcessorConfig) defaults() {
	if c.TopLimit <= 0 {
		c.TopLimit = 10
	}
	if c.HotLimit <= 0 {
		c.HotLimit = 30
	}
	if c.UserSubmittedLimit <= 0 {
		c.UserSubmittedLimit = 30
	}
}

// Processor executes the per-subreddit and per-user pipelines. It is shared
// by all workers of a cycle; the skip caches it carries are the only mutable
// state and are safe for concurrent use.
type Processor struct {
	cfg   ProcessorConfig
	subs  domain.SubredditStore
	users domain.RedditUserStore
	posts domain.RedditPostStore
	disc  domain.DiscoveryPublisher
	kw    Keywords

	seenUsers *skipCache
	seenSubs  *skipCache

	Now func() time.Time
}

func NewProcessor(subs domain.SubredditStore, users domain.RedditUserStore, posts domain.RedditPostStore, disc domain.DiscoveryPublisher, kw Keywords, cfg ProcessorConfig) *Processor {
	cfg.defaults()
	return &Processor{
		cfg:       cfg,
		subs:      subs,
		users:     users,
		posts:     posts,
		disc:      disc,
		kw:        kw,
		seenUsers: newSkipCache(50000),
		seenSubs:  newSkipCache(50000),
		Now:       time.Now,
	}
}

// ProcessSubreddit runs the full pipeline for one subreddit and returns the
// unknown author usernames surfaced from its hot listing.
func (p *Processor) ProcessSubreddit(ctx domain.Context, client *redditapi.Client, name string) ([]string, error) {
	const op = "reddit.subreddit"
	lg := observability.LoggerFromContext(ctx)
	about, err := client.About(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("op=%s name=%s: about: %w", op, name, err)
	}

	rules, err := client.Rules(ctx, name)
	if err != nil {
		// Rules only feed classification; a missing listing must not sink
		// the item.
		lg.Warn("rules fetch failed",
			slog.String("subreddit", name),
			slog.Any("error", err))
		rules = nil
	}

	top, err := client.Top(ctx, name, "week", p.cfg.TopLimit)
	if err != nil {
		return nil, fmt.Errorf("op=%s name=%s: top: %w", op, name, err)
	}

	var hot []redditapi.PostData
	if p.cfg.DiscoveryEnabled {
		hot, err = client.Hot(ctx, name, p.cfg.HotLimit)
		if err != nil {
			lg.Warn("hot fetch failed",
				slog.String("subreddit", name),
				slog.Any("error", err))
			hot = nil
		}
	}

	now := p.Now().UTC()
	topPosts := buildPosts(top, "top_week", now)
	hotPosts := buildPosts(hot, "hot", now)

	m := DeriveMetrics(topPosts)
	domainRules := mapRules(rules)
	text := ClassificationText(domainRules, about.Description, about.PublicDescription)

	sub := buildSubreddit(about, domainRules, m, p.kw.MatchVerification(text), now)
	if sub.Name == "" {
		sub.Name = name
	}
	if p.kw.MatchNonRelated(text) {
		// The store-side merge keeps any operator-assigned review; this
		// only lands on rows still awaiting review.
		review := domain.ReviewNonRelated
		sub.Review = &review
	}
	if err := p.subs.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("op=%s name=%s: upsert: %w", op, name, err)
	}

	if all := dedupePosts(append(topPosts, hotPosts...)); len(all) > 0 {
		if _, err := p.posts.UpsertBatch(ctx, all); err != nil {
			// The subreddit row already landed; post rows are enrichment.
			lg.Warn("post batch upsert failed",
				slog.String("subreddit", name),
				slog.Any("error", err))
		}
	}

	if !p.cfg.DiscoveryEnabled {
		return nil, nil
	}
	return p.newAuthors(ctx, hotPosts), nil
}

// ProcessUser runs the author pipeline: profile, recent submissions, derived
// posting stats and subreddit discovery from where the author posts.
func (p *Processor) ProcessUser(ctx domain.Context, client *redditapi.Client, username string) error {
	const op = "reddit.user"
	about, err := client.UserAbout(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			// Suspended accounts return 403; keep a minimal marker row.
			now := p.Now().UTC()
			u := domain.RedditUser{Username: username, IsSuspended: true, LastScrapedAt: &now}
			if uerr := p.users.Upsert(ctx, u); uerr != nil {
				return fmt.Errorf("op=%s user=%s: suspended upsert: %w", op, username, uerr)
			}
			return nil
		}
		return fmt.Errorf("op=%s user=%s: about: %w", op, username, err)
	}

	submitted, err := client.UserSubmitted(ctx, username, p.cfg.UserSubmittedLimit)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("submitted fetch failed",
			slog.String("user", username),
			slog.Any("error", err))
		submitted = nil
	}

	now := p.Now().UTC()
	posts := buildPosts(submitted, "user_submitted", now)
	u := buildUser(username, about, DeriveUserStats(posts), now)
	if err := p.users.Upsert(ctx, u); err != nil {
		return fmt.Errorf("op=%s user=%s: upsert: %w", op, username, err)
	}

	p.discoverSubreddits(ctx, posts)
	return nil
}

// newAuthors filters hot-listing authors down to ones we have never seen.
func (p *Processor) newAuthors(ctx domain.Context, posts []domain.RedditPost) []string {
	var out []string
	for _, post := range posts {
		author := post.Author
		if author == "" || author == "[deleted]" || author == "AutoModerator" {
			continue
		}
		if !p.seenUsers.AddIfNew(strings.ToLower(author)) {
			continue
		}
		exists, err := p.users.Exists(ctx, author)
		if err != nil {
			observability.LoggerFromContext(ctx).Warn("author existence check failed",
				slog.String("user", author),
				slog.Any("error", err))
			continue
		}
		if exists {
			continue
		}
		out = append(out, author)
	}
	return out
}

// discoverSubreddits records subreddits an author posts in that we have
// never scraped, feeding the next cycle's tier-2 work list.
func (p *Processor) discoverSubreddits(ctx domain.Context, posts []domain.RedditPost) {
	if !p.cfg.DiscoveryEnabled {
		return
	}
	for _, post := range posts {
		name := post.SubredditName
		if name == "" || strings.HasPrefix(strings.ToLower(name), "u_") {
			continue
		}
		if !p.seenSubs.AddIfNew(strings.ToLower(name)) {
			continue
		}
		exists, err := p.subs.Exists(ctx, name)
		if err != nil || exists {
			continue
		}
		if err := p.subs.InsertDiscovered(ctx, name); err != nil {
			observability.LoggerFromContext(ctx).Warn("discovery insert failed",
				slog.String("subreddit", name),
				slog.Any("error", err))
			continue
		}
		observability.DiscoveriesTotal.WithLabelValues("subreddit").Inc()
		if p.disc != nil {
			_ = p.disc.Publish(ctx, domain.DiscoveryEvent{
				Kind:         domain.DiscoverySubreddit,
				Name:         name,
				Source:       "reddit",
				DiscoveredAt: p.Now().UTC(),
			})
		}
	}
}

// skipCache is a bounded seen-set shared by workers so the same discovery is
// not re-checked over and over within a process.
type skipCache struct {
	mu   sync.Mutex
	seen map[string]struct{}
	max  int
}

func newSkipCache(max int) *skipCache {
	if max <= 0 {
		max = 10000
	}
	return &skipCache{seen: make(map[string]struct{}), max: max}
}

// AddIfNew records key and reports whether it was absent. A full cache stops
// recording; callers then fall through to the store existence check.
func (c *skipCache) AddIfNew(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return false
	}
	if len(c.seen) < c.max {
		c.seen[key] = struct{}{}
	}
	return true
}

func mapRules(rules []redditapi.RuleEntry) []domain.SubredditRule {
	if len(rules) == 0 {
		return nil
	}
	out := make([]domain.SubredditRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, domain.SubredditRule{
			ShortName:   r.ShortName,
			Description: r.Description,
			Kind:        r.Kind,
			Priority:    r.Priority,
		})
	}
	return out
}

func buildSubreddit(a redditapi.SubredditAbout, rules []domain.SubredditRule, m Metrics, verification bool, now time.Time) domain.Subreddit {
	s := domain.Subreddit{
		Name:                 a.DisplayName,
		Title:                textx.Clean(a.Title),
		Description:          textx.Clean(a.Description),
		PublicDescription:    textx.Clean(a.PublicDescription),
		Subscribers:          a.Subscribers,
		Over18:               a.Over18,
		AllowImages:          a.AllowImages,
		AllowVideos:          a.AllowVideos,
		AllowPolls:           a.AllowPolls,
		SpoilersEnabled:      a.SpoilersEnabled,
		VerificationRequired: verification,
		RulesData:            rules,
		Engagement:           m.Engagement,
		SubredditScore:       m.Score,
		AvgUpvotesPerPost:    m.AvgUpvotesPerPost,
		BestPostingDay:       m.BestPostingDay,
		BestPostingHour:      m.BestPostingHour,
		IconImg:              a.IconImg,
		CommunityIcon:        a.CommunityIcon,
		BannerImg:            a.BannerImg,
		BannerBackgroundImg:  a.BannerBackgroundImg,
		HeaderImg:            a.HeaderImg,
		HeaderTitle:          a.HeaderTitle,
		PrimaryColor:         a.PrimaryColor,
		KeyColor:             a.KeyColor,
		SubredditType:        a.SubredditType,
		URL:                  a.URL,
		WikiEnabled:          a.WikiEnabled,
		LastScrapedAt:        &now,
	}
	if a.CreatedUTC > 0 {
		created := time.Unix(int64(a.CreatedUTC), 0).UTC()
		s.CreatedUTC = &created
	}
	return s
}

func buildPosts(items []redditapi.PostData, source string, now time.Time) []domain.RedditPost {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.RedditPost, 0, len(items))
	for _, pd := range items {
		out = append(out, buildPost(pd, source, now))
	}
	return out
}

func buildPost(pd redditapi.PostData, source string, now time.Time) domain.RedditPost {
	created := time.Unix(int64(pd.CreatedUTC), 0).UTC()
	return domain.RedditPost{
		RedditID:      pd.ID,
		SubredditName: pd.Subreddit,
		Author:        pd.Author,
		Title:         textx.Clean(pd.Title),
		Score:         pd.Score,
		UpvoteRatio:   pd.UpvoteRatio,
		NumComments:   pd.NumComments,
		CreatedUTC:    created,
		IsSelf:        pd.IsSelf,
		IsVideo:       pd.IsVideo,
		Stickied:      pd.Stickied,
		Over18:        pd.Over18,
		Spoiler:       pd.Spoiler,
		Locked:        pd.Locked,
		Gilded:        pd.Gilded,
		TotalAwards:   pd.TotalAwardsReceived,
		NumCrossposts: pd.NumCrossposts,
		Domain:        pd.Domain,
		URL:           pd.URL,
		Permalink:     pd.Permalink,
		Thumbnail:     pd.Thumbnail,
		LinkFlairText: pd.LinkFlairText,
		ContentType:   contentTypeOf(pd),
		PostedDay:     created.Weekday().String(),
		PostedHour:    created.Hour(),
		SourceListing: source,
		ScrapedAt:     now,
	}
}

// dedupePosts collapses duplicates by reddit id, keeping the first
// occurrence (top listing wins over hot).
func dedupePosts(posts []domain.RedditPost) []domain.RedditPost {
	seen := make(map[string]struct{}, len(posts))
	out := posts[:0]
	for _, p := range posts {
		if _, ok := seen[p.RedditID]; ok {
			continue
		}
		seen[p.RedditID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func contentTypeOf(pd redditapi.PostData) string {
	switch {
	case pd.IsVideo || pd.PostHint == "hosted:video" || pd.PostHint == "rich:video" || pd.Domain == "v.redd.it":
		return domain.ContentVideo
	case pd.PostHint == "image" || pd.Domain == "i.redd.it" || pd.Domain == "i.imgur.com" || hasImageExt(pd.URL):
		return domain.ContentImage
	case pd.IsSelf:
		return domain.ContentText
	default:
		return domain.ContentLink
	}
}

func hasImageExt(u string) bool {
	lu := strings.ToLower(u)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(lu, ext) {
			return true
		}
	}
	return false
}

func buildUser(username string, a redditapi.UserAbout, stats UserStats, now time.Time) domain.RedditUser {
	u := domain.RedditUser{
		Username:             username,
		RedditID:             a.ID,
		CommentKarma:         a.CommentKarma,
		LinkKarma:            a.LinkKarma,
		TotalKarma:           a.TotalKarma,
		IsEmployee:           a.IsEmployee,
		IsMod:                a.IsMod,
		IsGold:               a.IsGold,
		Verified:             a.Verified,
		HasVerifiedEmail:     a.HasVerifiedEmail,
		IsSuspended:          a.IsSuspended,
		IconImg:              a.IconImg,
		SubredditTitle:       a.Subreddit.Title,
		SubredditSubscribers: a.Subreddit.Subscribers,
		SubredditOver18:      a.Subreddit.Over18,
		AvgPostScore:         stats.AvgPostScore,
		AvgPostComments:      stats.AvgPostComments,
		TotalPostsAnalyzed:   stats.TotalPostsAnalyzed,
		PreferredContentType: stats.PreferredContentType,
		MostActivePostingHr:  stats.MostActiveHr,
		MostActivePostingDay: stats.MostActiveDay,
		LastScrapedAt:        &now,
	}
	if u.TotalKarma == 0 {
		u.TotalKarma = a.CommentKarma + a.LinkKarma
	}
	if a.CreatedUTC > 0 {
		created := time.Unix(int64(a.CreatedUTC), 0).UTC()
		u.CreatedUTC = &created
		u.AccountAgeDays = int(now.Sub(created).Hours() / 24)
		if u.AccountAgeDays > 0 {
			u.KarmaPerDay = float64(u.TotalKarma) / float64(u.AccountAgeDays)
		}
	}
	return u
}
