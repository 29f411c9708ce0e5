package reddit

// Wire shapes for the public JSON endpoints at www.reddit.com. Timestamps
// arrive as created_utc float seconds; callers convert.

type aboutResponse struct {
	Data SubredditAbout `json:"data"`
}

// SubredditAbout is the payload of /r/{name}/about.json.
type SubredditAbout struct {
	DisplayName         string  `json:"display_name"`
	Title               string  `json:"title"`
	Description         string  `json:"description"`
	PublicDescription   string  `json:"public_description"`
	Subscribers         int64   `json:"subscribers"`
	Over18              bool    `json:"over18"`
	CreatedUTC          float64 `json:"created_utc"`
	AllowImages         bool    `json:"allow_images"`
	AllowVideos         bool    `json:"allow_videos"`
	AllowPolls          bool    `json:"allow_polls"`
	SpoilersEnabled     bool    `json:"spoilers_enabled"`
	IconImg             string  `json:"icon_img"`
	CommunityIcon       string  `json:"community_icon"`
	BannerImg           string  `json:"banner_img"`
	BannerBackgroundImg string  `json:"banner_background_image"`
	HeaderImg           string  `json:"header_img"`
	HeaderTitle         string  `json:"header_title"`
	PrimaryColor        string  `json:"primary_color"`
	KeyColor            string  `json:"key_color"`
	SubredditType       string  `json:"subreddit_type"`
	URL                 string  `json:"url"`
	WikiEnabled         bool    `json:"wiki_enabled"`
}

type rulesResponse struct {
	Rules []RuleEntry `json:"rules"`
}

// RuleEntry is one rule of /r/{name}/about/rules.json.
type RuleEntry struct {
	ShortName   string `json:"short_name"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
	Priority    int    `json:"priority"`
}

type listingResponse struct {
	Data struct {
		Children []listingChild `json:"children"`
		After    string         `json:"after"`
	} `json:"data"`
}

type listingChild struct {
	Kind string   `json:"kind"`
	Data PostData `json:"data"`
}

// PostData is one submission from a hot/top/submitted listing.
type PostData struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Subreddit           string  `json:"subreddit"`
	Author              string  `json:"author"`
	Title               string  `json:"title"`
	SelfText            string  `json:"selftext"`
	Score               int64   `json:"score"`
	UpvoteRatio         float64 `json:"upvote_ratio"`
	NumComments         int64   `json:"num_comments"`
	CreatedUTC          float64 `json:"created_utc"`
	IsSelf              bool    `json:"is_self"`
	IsVideo             bool    `json:"is_video"`
	Stickied            bool    `json:"stickied"`
	Over18              bool    `json:"over_18"`
	Spoiler             bool    `json:"spoiler"`
	Locked              bool    `json:"locked"`
	Gilded              int     `json:"gilded"`
	TotalAwardsReceived int     `json:"total_awards_received"`
	NumCrossposts       int     `json:"num_crossposts"`
	Domain              string  `json:"domain"`
	URL                 string  `json:"url"`
	Permalink           string  `json:"permalink"`
	Thumbnail           string  `json:"thumbnail"`
	LinkFlairText       string  `json:"link_flair_text"`
	PostHint            string  `json:"post_hint"`
}

type userAboutResponse struct {
	Data UserAbout `json:"data"`
}

// UserAbout is the payload of /user/{name}/about.json.
type UserAbout struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	CreatedUTC       float64 `json:"created_utc"`
	CommentKarma     int64   `json:"comment_karma"`
	LinkKarma        int64   `json:"link_karma"`
	TotalKarma       int64   `json:"total_karma"`
	IsEmployee       bool    `json:"is_employee"`
	IsMod            bool    `json:"is_mod"`
	IsGold           bool    `json:"is_gold"`
	Verified         bool    `json:"verified"`
	HasVerifiedEmail bool    `json:"has_verified_email"`
	IsSuspended      bool    `json:"is_suspended"`
	IconImg          string  `json:"icon_img"`
	Subreddit        struct {
		Title       string `json:"title"`
		Subscribers int64  `json:"subscribers"`
		Over18      bool   `json:"over_18"`
	} `json:"subreddit"`
}
