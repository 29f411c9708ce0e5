// Package instagram implements the cyclic creator scrape: profile refresh,
// reel and feed ingestion with media archival, per-creator rollups, viral
// flagging and related-profile discovery.
package instagram

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	igapi "github.com/trawlhq/trawl/internal/adapter/instagram"
	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/domain"
	"github.com/trawlhq/trawl/pkg/textx"
)

// ProcessorConfig tunes one creator pass.
type ProcessorConfig struct {
	// PageSize is the item count requested per API page.
	PageSize int
	// TargetExisting and TargetNew bound how many items are pulled per
	// endpoint for creators with and without prior media rows.
	TargetExisting int
	TargetNew      int

	ViralDetection  bool
	ViralMinPlays   int64
	ViralMultiplier float64
}

func (c *ProcessorConfig) defaults() {
	if c.PageSize <= 0 {
		c.PageSize = 30
	}
	if c.TargetExisting <= 0 {
		c.TargetExisting = 30
	}
	if c.TargetNew <= 0 {
		c.TargetNew = 90
	}
	if c.ViralMinPlays <= 0 {
		c.ViralMinPlays = 50000
	}
	if c.ViralMultiplier <= 0 {
		c.ViralMultiplier = 5
	}
}

// CreatorResult summarizes one ProcessCreator call.
type CreatorResult struct {
	ReelsFetched int
	PostsFetched int
	NewMedia     int
	Viral        int
}

// Processor runs the per-creator pipeline against the Instagram API and the
// stores. Safe for concurrent use across creators.
type Processor struct {
	cfg      ProcessorConfig
	client   *igapi.Client
	creators domain.CreatorStore
	media    domain.IGMediaStore
	files    domain.MediaStore
	disc     domain.DiscoveryPublisher

	// Now is swappable in tests.
	Now func() time.Time
}

func NewProcessor(client *igapi.Client, creators domain.CreatorStore, media domain.IGMediaStore, files domain.MediaStore, disc domain.DiscoveryPublisher, cfg ProcessorConfig) *Processor {
	cfg.defaults()
	return &Processor{
		cfg:      cfg,
		client:   client,
		creators: creators,
		media:    media,
		files:    files,
		disc:     disc,
		Now:      time.Now,
	}
}

// ProcessCreator refreshes one creator: profile row, reels, feed posts and
// the rollup aggregates. Viral flags are judged against the average cached on
// the row that entered the work list, not the average this pass produces, so
// a creator's own new spike cannot hide itself.
func (p *Processor) ProcessCreator(ctx domain.Context, c domain.Creator) (CreatorResult, error) {
	const op = "instagram.creator"
	var res CreatorResult

	profile, raw, err := p.client.Profile(ctx, c.Username)
	if err != nil {
		return res, fmt.Errorf("op=%s user=%s: profile: %w", op, c.Username, err)
	}
	igID := profile.PK.String()
	if igID == "" {
		igID = c.IGUserID
	}
	now := p.Now().UTC()

	picURL := profile.ProfilePicURLHD
	if picURL == "" {
		picURL = profile.ProfilePicURL
	}
	picURL = p.archive(ctx, picURL, domain.ClassProfile, igID, "profile", 0)

	if err := p.creators.Upsert(ctx, buildCreator(c, profile, raw, picURL, now)); err != nil {
		return res, fmt.Errorf("op=%s user=%s: upsert: %w", op, c.Username, err)
	}

	target := p.cfg.TargetExisting
	if prior, cerr := p.media.CountByCreator(ctx, igID, domain.MediaReel); cerr == nil && prior == 0 {
		target = p.cfg.TargetNew
	}

	reels, err := p.paginate(ctx, igID, target, p.client.Reels)
	if err != nil {
		return res, fmt.Errorf("op=%s user=%s: reels: %w", op, c.Username, err)
	}
	res.ReelsFetched = len(reels)

	// Reels already landed at this point; a broken feed endpoint should not
	// throw them away.
	lg := observability.LoggerFromContext(ctx)
	feed, err := p.paginate(ctx, igID, target, p.client.UserFeed)
	if err != nil {
		lg.Warn("user feed fetch failed",
			slog.String("user", c.Username),
			slog.Any("error", err))
		feed = nil
	}
	res.PostsFetched = len(feed)

	avgCached := c.AvgViewsPerReelCached
	var reelRows []domain.IGMedia
	for _, it := range reels {
		m := p.buildMedia(ctx, igID, c.Username, it, domain.MediaReel, avgCached, now)
		isNew, uerr := p.media.Upsert(ctx, m)
		if uerr != nil {
			lg.Warn("media upsert failed",
				slog.String("media_pk", m.MediaPK),
				slog.Any("error", uerr))
			continue
		}
		if isNew {
			res.NewMedia++
		}
		if m.IsViral {
			res.Viral++
		}
		reelRows = append(reelRows, m)
	}
	for _, it := range feed {
		m := p.buildMedia(ctx, igID, c.Username, it, domain.MediaPost, avgCached, now)
		isNew, uerr := p.media.Upsert(ctx, m)
		if uerr != nil {
			lg.Warn("media upsert failed",
				slog.String("media_pk", m.MediaPK),
				slog.Any("error", uerr))
			continue
		}
		if isNew {
			res.NewMedia++
		}
		if m.IsViral {
			res.Viral++
		}
	}

	// An empty pass keeps the previous rollups; zeroing the cached average
	// would blind the next cycle's viral checks.
	if len(reelRows) > 0 {
		total, cerr := p.media.CountByCreator(ctx, igID, domain.MediaReel)
		if cerr != nil {
			total = len(reelRows)
		}
		if err := p.creators.UpdateRollups(ctx, igID, deriveRollups(reelRows, total)); err != nil {
			lg.Warn("rollup update failed",
				slog.String("user", c.Username),
				slog.Any("error", err))
		}
	}
	return res, nil
}

// pageFetch matches Client.Reels and Client.UserFeed.
type pageFetch func(ctx domain.Context, igUserID string, count int, maxID string) (igapi.Page, error)

// paginate follows max_id cursors until target items are collected or the
// endpoint runs out. An empty-response error on any page means exhaustion,
// not failure; whatever was collected so far is returned.
func (p *Processor) paginate(ctx domain.Context, igID string, target int, fetch pageFetch) ([]igapi.MediaItem, error) {
	var items []igapi.MediaItem
	maxID := ""
	for len(items) < target {
		count := p.cfg.PageSize
		if rem := target - len(items); rem < count {
			count = rem
		}
		page, err := fetch(ctx, igID, count, maxID)
		if err != nil {
			if errors.Is(err, domain.ErrEmptyResponse) {
				return items, nil
			}
			return items, err
		}
		items = append(items, page.Items...)
		if !page.MoreAvailable || page.MaxID == "" {
			break
		}
		maxID = page.MaxID
	}
	return items, nil
}

func (p *Processor) buildMedia(ctx domain.Context, igID, username string, it igapi.MediaItem, kind domain.MediaKind, avgCached float64, now time.Time) domain.IGMedia {
	caption := textx.Clean(it.CaptionText())
	pk := it.PK.String()
	m := domain.IGMedia{
		MediaPK:           pk,
		Kind:              kind,
		CreatorID:         igID,
		Username:          username,
		MediaType:         it.MediaType,
		ProductType:       it.ProductType,
		ShortCode:         it.Code,
		Caption:           caption,
		Hashtags:          ExtractHashtags(caption),
		Mentions:          ExtractMentions(caption),
		IsPaidPartnership: it.IsPaidPartnership,
		LikeCount:         it.LikeCount,
		CommentCount:      it.CommentCount,
		PlayCount:         it.PlayCount,
		ViewCount:         it.ViewCount,
		ScrapedAt:         now,
	}
	if it.TakenAt > 0 {
		ts := time.Unix(it.TakenAt, 0).UTC()
		m.TakenAt = &ts
	}

	switch {
	case len(it.CarouselMedia) > 0:
		for i, child := range it.CarouselMedia {
			if v := child.BestVideoURL(); v != "" {
				// One archived video per row; later carousel videos keep
				// their CDN URL via the image track being empty.
				if m.VideoURL == "" {
					m.VideoURL = p.archive(ctx, v, domain.ClassVideo, igID, pk, i)
				}
				continue
			}
			if img := child.BestImageURL(); img != "" {
				m.ImageURLs = append(m.ImageURLs, p.archive(ctx, img, domain.ClassImage, igID, pk, i))
			}
		}
	case it.BestVideoURL() != "":
		m.VideoURL = p.archive(ctx, it.BestVideoURL(), domain.ClassVideo, igID, pk, 0)
		m.ThumbnailURL = it.BestImageURL()
	default:
		if img := it.BestImageURL(); img != "" {
			m.ImageURLs = []string{p.archive(ctx, img, domain.ClassImage, igID, pk, 0)}
		}
	}

	if p.cfg.ViralDetection {
		plays := mediaPlays(m)
		if avgCached > 0 {
			m.ViralMultiplier = float64(plays) / avgCached
		}
		m.IsViral = plays >= p.cfg.ViralMinPlays && float64(plays) >= p.cfg.ViralMultiplier*avgCached
	}
	return m
}

// archive uploads one CDN object and returns its public URL. When the store
// is disabled or the upload fails the original CDN URL is kept, so a media
// row never loses its pointer.
func (p *Processor) archive(ctx domain.Context, cdnURL string, class domain.MediaClass, creatorID, mediaPK string, index int) string {
	if cdnURL == "" {
		return ""
	}
	out, err := p.files.Ingest(ctx, domain.MediaSource{
		URL:       cdnURL,
		Class:     class,
		CreatorID: creatorID,
		MediaPK:   mediaPK,
		Index:     index,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrDisabled) {
			observability.LoggerFromContext(ctx).Warn("media archive failed",
				slog.String("class", string(class)),
				slog.String("media_pk", mediaPK),
				slog.Any("error", err))
		}
		return cdnURL
	}
	return out
}

func buildCreator(cur domain.Creator, pr igapi.Profile, raw []byte, picURL string, now time.Time) domain.Creator {
	id := pr.PK.String()
	if id == "" {
		id = cur.IGUserID
	}
	username := pr.Username
	if username == "" {
		username = cur.Username
	}
	return domain.Creator{
		IGUserID:       id,
		Username:       username,
		FullName:       textx.Clean(pr.FullName),
		Biography:      textx.Clean(pr.Biography),
		ReviewStatus:   cur.ReviewStatus,
		Followers:      pr.FollowerCount,
		Following:      pr.FollowingCount,
		PostsCount:     pr.MediaCount,
		IsPrivate:      pr.IsPrivate,
		IsVerified:     pr.IsVerified,
		ProfilePicURL:  picURL,
		ExternalURL:    pr.ExternalURL,
		LastScrapedAt:  &now,
		RawProfileJSON: raw,
	}
}

// deriveRollups aggregates the reels seen this pass. Engagement is the ratio
// of total interactions to total plays, not a mean of per-reel ratios, so a
// zero-play reel cannot poison it.
func deriveRollups(reels []domain.IGMedia, reelsTotal int) domain.CreatorRollups {
	r := domain.CreatorRollups{ReelsCount: reelsTotal}
	if len(reels) == 0 {
		return r
	}
	var views, interactions int64
	for _, m := range reels {
		views += mediaPlays(m)
		interactions += m.LikeCount + m.CommentCount
	}
	r.TotalViews = views
	r.AvgViews = float64(views) / float64(len(reels))
	if views > 0 {
		r.AvgEngagement = float64(interactions) / float64(views)
	}
	return r
}

// mediaPlays prefers play_count; older API payloads only carry view_count.
func mediaPlays(m domain.IGMedia) int64 {
	if m.PlayCount > 0 {
		return m.PlayCount
	}
	return m.ViewCount
}

// DiscoverRelated walks creators whose related profiles were never pulled
// and inserts unknown ones as pending reviews. A fetch failure leaves the
// source unprocessed so a later cycle retries it. Returns how many creators
// were inserted.
func (p *Processor) DiscoverRelated(ctx domain.Context, limit int) (int, error) {
	const op = "instagram.related"
	sources, err := p.creators.ListRelatedUnprocessed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("op=%s: %w", op, err)
	}
	lg := observability.LoggerFromContext(ctx)
	inserted := 0
	for _, src := range sources {
		related, rerr := p.client.RelatedProfiles(ctx, src.IGUserID)
		if rerr != nil {
			lg.Warn("related profiles fetch failed",
				slog.String("user", src.Username),
				slog.Any("error", rerr))
			continue
		}
		for _, rp := range related {
			id := rp.PK.String()
			if id == "" || rp.Username == "" {
				continue
			}
			isNew, ierr := p.creators.InsertPending(ctx, domain.Creator{
				IGUserID:      id,
				Username:      rp.Username,
				FullName:      rp.FullName,
				IsPrivate:     rp.IsPrivate,
				IsVerified:    rp.IsVerified,
				ProfilePicURL: rp.ProfilePicURL,
			})
			if ierr != nil {
				lg.Warn("pending creator insert failed",
					slog.String("user", rp.Username),
					slog.Any("error", ierr))
				continue
			}
			if !isNew {
				continue
			}
			inserted++
			observability.DiscoveriesTotal.WithLabelValues("creator").Inc()
			if p.disc != nil {
				if perr := p.disc.Publish(ctx, domain.DiscoveryEvent{
					Kind:         domain.DiscoveryCreator,
					Name:         rp.Username,
					Source:       "instagram",
					DiscoveredAt: p.Now().UTC(),
				}); perr != nil {
					lg.Warn("discovery publish failed",
						slog.String("user", rp.Username),
						slog.Any("error", perr))
				}
			}
		}
		if merr := p.creators.MarkRelatedProcessed(ctx, src.IGUserID); merr != nil {
			lg.Warn("mark related processed failed",
				slog.String("user", src.Username),
				slog.Any("error", merr))
		}
	}
	return inserted, nil
}
