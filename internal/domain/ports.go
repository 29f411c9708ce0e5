package domain

import "time"

// Repositories (ports)

// ControlStore owns the scraper_control rows and the durable log sink.
// All writes are last-writer-wins; callers treat failures as best-effort
// (log locally, retry on the next tick).
type ControlStore interface {
	Load(ctx Context, name string) (ControlRecord, error)
	List(ctx Context) ([]ControlRecord, error)
	// EnsureExists inserts a disabled row with defaults when none exists.
	EnsureExists(ctx Context, name, scriptType string, defaults map[string]any) error
	SetStatus(ctx Context, name string, patch ControlPatch) error
	Heartbeat(ctx Context, name string, now time.Time) error
}

type SystemLogStore interface {
	Insert(ctx Context, e SystemLogEntry) error
	Recent(ctx Context, scriptName string, limit int) ([]SystemLogEntry, error)
}

type ProxyStore interface {
	List(ctx Context) ([]Proxy, error)
	ListActive(ctx Context) ([]Proxy, error)
	// UpdateHealth writes the mutable health counters of one proxy.
	UpdateHealth(ctx Context, p Proxy) error
	Disable(ctx Context, id int64, reason string) error
}

type AccountStore interface {
	// List returns every account that is not permanently disabled.
	List(ctx Context) ([]Account, error)
	Update(ctx Context, a Account) error
}

type SubredditStore interface {
	Get(ctx Context, name string) (Subreddit, error)
	Exists(ctx Context, name string) (bool, error)
	Upsert(ctx Context, s Subreddit) error
	// InsertDiscovered adds a name-only row when absent; no-op on conflict.
	InsertDiscovered(ctx Context, name string) error
	// ListDueForRefresh returns reviewed-Ok subreddits whose last scrape is
	// older than the cutoff, oldest first.
	ListDueForRefresh(ctx Context, olderThan time.Time, limit int) ([]Subreddit, error)
	ListNeverScraped(ctx Context, limit int) ([]Subreddit, error)
}

type RedditUserStore interface {
	Get(ctx Context, username string) (RedditUser, error)
	Exists(ctx Context, username string) (bool, error)
	Upsert(ctx Context, u RedditUser) error
}

type RedditPostStore interface {
	// UpsertBatch writes posts keyed by reddit_id and reports rows written.
	UpsertBatch(ctx Context, posts []RedditPost) (int, error)
}

type CreatorStore interface {
	Get(ctx Context, igUserID string) (Creator, error)
	GetByUsername(ctx Context, username string) (Creator, error)
	Upsert(ctx Context, c Creator) error
	// InsertPending adds a discovered creator with review_status=pending when
	// absent; reports whether a row was created.
	InsertPending(ctx Context, c Creator) (bool, error)
	// ListForScrape returns creators with the given review status ordered by
	// last_scraped_at ascending, never-scraped first.
	ListForScrape(ctx Context, reviewStatus string, limit int) ([]Creator, error)
	ListRelatedUnprocessed(ctx Context, limit int) ([]Creator, error)
	MarkRelatedProcessed(ctx Context, igUserID string) error
	UpdateRollups(ctx Context, igUserID string, r CreatorRollups) error
}

// CreatorRollups are the per-cycle aggregates cached on the creator row.
type CreatorRollups struct {
	ReelsCount    int
	TotalViews    int64
	AvgViews      float64
	AvgEngagement float64
}

type IGMediaStore interface {
	// Upsert writes one media row keyed by media_pk and reports whether the
	// row is new. Viral detection timestamps survive re-upserts.
	Upsert(ctx Context, m IGMedia) (bool, error)
	CountByCreator(ctx Context, creatorID string, kind MediaKind) (int, error)
}

// MediaStore (port)
// Ingest downloads src.URL and persists it under a deterministic object key,
// returning the public URL. Implementations never mutate an existing object.

type MediaStore interface {
	Ingest(ctx Context, src MediaSource) (string, error)
}

type MediaSource struct {
	URL       string
	Class     MediaClass
	CreatorID string
	MediaPK   string
	Index     int // carousel position; 0 for single media
}

// DiscoveryPublisher (port)

type DiscoveryPublisher interface {
	Publish(ctx Context, ev DiscoveryEvent) error
	Close()
}

// Pacer (port)
// Wait blocks until a request token is available or ctx is done.

type Pacer interface {
	Wait(ctx Context) error
	Allow() bool
}
