// Package domain defines the typed records persisted by the platform and the
// narrow store ports the scrapers depend on. The external database remains the
// source of truth; everything in-process is a cache of these records.
package domain

import (
	"context"
	"time"
)

// Script names used as control-record keys.
const (
	ScriptReddit    = "reddit_scraper"
	ScriptInstagram = "instagram_scraper"
)

// ScraperStatus values written to the control record.
type ScraperStatus string

const (
	StatusStarting ScraperStatus = "starting"
	StatusRunning  ScraperStatus = "running"
	StatusStopped  ScraperStatus = "stopped"
	StatusError    ScraperStatus = "error"
	StatusWaiting  ScraperStatus = "waiting"
)

// ControlRecord is the single operator-facing row per scraper. Enabled is the
// operator's lever; everything else is the scraper reporting back.
type ControlRecord struct {
	ScriptName    string
	ScriptType    string
	Enabled       bool
	Status        ScraperStatus
	PID           *int
	StartedAt     *time.Time
	StoppedAt     *time.Time
	LastHeartbeat *time.Time
	LastError     string
	LastErrorAt   *time.Time
	Config        map[string]any
	UpdatedAt     time.Time
	UpdatedBy     string
}

// ControlPatch is a partial update to a control record; nil fields are left
// untouched. Writes are last-writer-wins.
type ControlPatch struct {
	Enabled   *bool
	Status    *ScraperStatus
	PID       *int
	ClearPID  bool
	StartedAt *time.Time
	StoppedAt *time.Time
	LastError *string
	UpdatedBy string
}

// Proxy is an upstream HTTP proxy plus its rolling health counters. Health is
// mutated in memory by the worker currently using the proxy and flushed to the
// store on a coalescing schedule.
type Proxy struct {
	ID          int64
	DisplayName string
	URL         string
	Username    string
	Password    string
	Priority    int
	MaxThreads  int
	IsActive    bool
	ServiceName string

	TotalRequests     int64
	SuccessCount      int64
	ErrorCount        int64
	ConsecutiveErrors int
	AvgLatencyMS      float64
	LastUsedAt        *time.Time
	LastErrorAt       *time.Time
	LastErrorMsg      string
}

// SuccessRate returns the fraction of successful requests, or 0 when unused.
func (p Proxy) SuccessRate() float64 {
	if p.TotalRequests == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.TotalRequests)
}

// AccountStatus values for Reddit API accounts.
type AccountStatus string

const (
	AccountActive      AccountStatus = "active"
	AccountRateLimited AccountStatus = "rate_limited"
	AccountSuspended   AccountStatus = "suspended"
	AccountDisabled    AccountStatus = "disabled"
	AccountError       AccountStatus = "error"
)

// Account is a Reddit API credential with health tracking.
/// Invariant: Status==active implies RateLimitedUntil and CooldownUntil are in
// the past and HealthScore >= 10.
type Account struct {
	ID                  int64
	Username            string
	ClientID            string
	ClientSecret        string
	Status              AccountStatus
	HealthScore         float64
	RateLimitedUntil    *time.Time
	CooldownUntil       *time.Time
	ConsecutiveFailures int
	SuccessRate         float64
	TotalRequests       int64
	LastUsedAt          *time.Time
}

// Usable reports whether the account may serve a request at the given time.
func (a Account) Usable(now time.Time) bool {
	if a.Status != AccountActive {
		return false
	}
	if a.RateLimitedUntil != nil && a.RateLimitedUntil.After(now) {
		return false
	}
	if a.CooldownUntil != nil && a.CooldownUntil.After(now) {
		return false
	}
	return a.HealthScore >= 10
}

// Subreddit review values assigned by operators (and by auto-classification
// when no operator value exists yet).
const (
	ReviewOk         = "Ok"
	ReviewNoSeller   = "No Seller"
	ReviewBanned     = "Banned"
	ReviewNonRelated = "Non Related"
)

// Subreddit is the canonical row for a scraped subreddit. Review,
// PrimaryCategory, Tags and Over18 are operator-curated: updates merge them
// from the cached row instead of overwriting with derived values.
type Subreddit struct {
	Name                 string
	Title                string
	Description          string
	PublicDescription    string
	Subscribers          int64
	Over18               bool
	CreatedUTC           *time.Time
	AllowImages          bool
	AllowVideos          bool
	AllowPolls           bool
	SpoilersEnabled      bool
	VerificationRequired bool
	RulesData            []SubredditRule
	Engagement           float64
	SubredditScore       float64
	AvgUpvotesPerPost    float64
	BestPostingDay       string
	BestPostingHour      string
	IconImg              string
	CommunityIcon        string
	BannerImg            string
	BannerBackgroundImg  string
	HeaderImg            string
	HeaderTitle          string
	PrimaryColor         string
	KeyColor             string
	SubredditType        string
	URL                  string
	WikiEnabled          bool
	Review               *string
	PrimaryCategory      *string
	Tags                 []string
	LastScrapedAt        *time.Time
}

// SubredditRule is one entry of a subreddit's rules listing.
type SubredditRule struct {
	ShortName   string
	Description string
	Kind        string
	Priority    int
}

// Preferred content types derived for Reddit users.
const (
	ContentImage = "image"
	ContentVideo = "video"
	ContentText  = "text"
	ContentLink  = "link"
)

// RedditUser is the canonical row for a discovered Reddit author. OurCreator
// is operator-curated and preserved across updates.
type RedditUser struct {
	Username             string
	RedditID             string
	CreatedUTC           *time.Time
	AccountAgeDays       int
	CommentKarma         int64
	LinkKarma            int64
	TotalKarma           int64
	IsEmployee           bool
	IsMod                bool
	IsGold               bool
	Verified             bool
	HasVerifiedEmail     bool
	IsSuspended          bool
	IconImg              string
	SubredditTitle       string
	SubredditSubscribers int64
	SubredditOver18      bool
	AvgPostScore         float64
	AvgPostComments      float64
	TotalPostsAnalyzed   int
	KarmaPerDay          float64
	PreferredContentType string
	MostActivePostingHr  *int
	MostActivePostingDay string
	OurCreator           bool
	LastScrapedAt        *time.Time
}

// RedditPost is one submission row, keyed by its Reddit id.
type RedditPost struct {
	RedditID      string
	SubredditName string
	Author        string
	Title         string
	Score         int64
	UpvoteRatio   float64
	NumComments   int64
	CreatedUTC    time.Time
	IsSelf        bool
	IsVideo       bool
	Stickied      bool
	Over18        bool
	Spoiler       bool
	Locked        bool
	Gilded        int
	TotalAwards   int
	NumCrossposts int
	Domain        string
	URL           string
	Permalink     string
	Thumbnail     string
	LinkFlairText string
	ContentType   string
	PostedDay     string
	PostedHour    int
	SourceListing string
	ScrapedAt     time.Time
}

// Creator review states for Instagram creators.
const (
	CreatorReviewOk       = "ok"
	CreatorReviewPending  = "pending"
	CreatorReviewRejected = "rejected"
)

// Creator is the canonical row for an Instagram creator. ReviewStatus,
// BodyTags, TagConfidence, TagsAnalyzedAt and ModelVersion belong to the
// review/tagging layer and are preserved across scraper updates.
type Creator struct {
	IGUserID                 string
	Username                 string
	FullName                 string
	Biography                string
	ReviewStatus             string
	RelatedCreatorsProcessed bool
	Followers                int64
	Following                int64
	PostsCount               int64
	ReelsCount               int64
	IsPrivate                bool
	IsVerified               bool
	ProfilePicURL            string
	ExternalURL              string
	TotalViews               int64
	AvgViewsPerReel          float64
	AvgViewsPerReelCached    float64
	AvgEngagementCached      float64
	BodyTags                 []string
	TagConfidence            *float64
	TagsAnalyzedAt           *time.Time
	ModelVersion             string
	LastScrapedAt            *time.Time
	RawProfileJSON           []byte
}

// MediaKind separates the two Instagram media tables.
type MediaKind string

const (
	MediaReel MediaKind = "reel"
	MediaPost MediaKind = "post"
)

// IGMedia is the canonical row for one Instagram media item (reel or feed
// post). ViralDetectedAt is set on the first false→true viral transition and
// never rewritten afterwards.
type IGMedia struct {
	MediaPK           string
	Kind              MediaKind
	CreatorID         string
	Username          string
	MediaType         int
	ProductType       string
	ShortCode         string
	Caption           string
	Hashtags          []string
	Mentions          []string
	IsPaidPartnership bool
	LikeCount         int64
	CommentCount      int64
	PlayCount         int64
	ViewCount         int64
	ImageURLs         []string
	VideoURL          string
	ThumbnailURL      string
	TakenAt           *time.Time
	IsViral           bool
	ViralMultiplier   float64
	ViralDetectedAt   *time.Time
	ScrapedAt         time.Time
}

// MediaClass selects timeout and key prefix for object storage uploads.
type MediaClass string

const (
	ClassImage   MediaClass = "image"
	ClassVideo   MediaClass = "video"
	ClassProfile MediaClass = "profile"
)

// SystemLogEntry is one append-only row in the durable log sink.
type SystemLogEntry struct {
	ID         string
	Timestamp  time.Time
	Source     string
	ScriptName string
	Level      string
	Message    string
	Context    map[string]any
	DurationMS *int64
}

// DiscoveryKind tags discovery events emitted to the optional event stream.
type DiscoveryKind string

const (
	DiscoverySubreddit DiscoveryKind = "subreddit"
	DiscoveryCreator   DiscoveryKind = "creator"
)

// DiscoveryEvent is published whenever a scraper surfaces a new work target.
type DiscoveryEvent struct {
	Kind         DiscoveryKind
	Name         string
	Source       string
	DiscoveredAt time.Time
}

// Context aliases context.Context the way adapters expect to receive it.
type Context = context.Context
