package instagram

import "encoding/json"

// ID accepts Instagram identifiers that arrive as either JSON strings or raw
// numbers; both forms show up across endpoints.
type ID string

func (v *ID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = ID(n.String())
	return nil
}

func (v ID) String() string { return string(v) }

// Profile is the /profile payload.
type Profile struct {
	PK              ID     `json:"pk"`
	Username        string `json:"username"`
	FullName        string `json:"full_name"`
	Biography       string `json:"biography"`
	FollowerCount   int64  `json:"follower_count"`
	FollowingCount  int64  `json:"following_count"`
	MediaCount      int64  `json:"media_count"`
	TotalClipsCount int64  `json:"total_clips_count"`
	IsPrivate       bool   `json:"is_private"`
	IsVerified      bool   `json:"is_verified"`
	ProfilePicURL   string `json:"profile_pic_url"`
	ProfilePicURLHD string `json:"profile_pic_url_hd"`
	ExternalURL     string `json:"external_url"`
	Category        string `json:"category"`
}

type pagingInfo struct {
	MaxID         string `json:"max_id"`
	MoreAvailable bool   `json:"more_available"`
}

type itemsResponse struct {
	Items      []MediaItem `json:"items"`
	PagingInfo pagingInfo  `json:"paging_info"`
	Status     string      `json:"status"`
}

// Page is one slice of a paginated media listing.
type Page struct {
	Items         []MediaItem
	MaxID         string
	MoreAvailable bool
}

// MediaItem is one media object from /reels or /user-feeds. Reel listings
// sometimes wrap the object under a "media" key; Normalize unwraps it.
type MediaItem struct {
	PK                ID             `json:"pk"`
	MediaID           string         `json:"id"`
	MediaType         int            `json:"media_type"`
	ProductType       string         `json:"product_type"`
	Code              string         `json:"code"`
	TakenAt           int64          `json:"taken_at"`
	Caption           *Caption       `json:"caption"`
	LikeCount         int64          `json:"like_count"`
	CommentCount      int64          `json:"comment_count"`
	PlayCount         int64          `json:"play_count"`
	ViewCount         int64          `json:"view_count"`
	IsPaidPartnership bool           `json:"is_paid_partnership"`
	ImageVersions     *ImageVersions `json:"image_versions2"`
	VideoVersions     []VideoVersion `json:"video_versions"`
	CarouselMedia     []MediaItem    `json:"carousel_media"`
	User              *MediaUser     `json:"user"`
	Media             *MediaItem     `json:"media"`
}

// Normalize returns the wrapped media object when present.
func (m MediaItem) Normalize() MediaItem {
	if m.Media != nil {
		return *m.Media
	}
	return m
}

// CaptionText returns the caption text, empty when the caption is null.
func (m MediaItem) CaptionText() string {
	if m.Caption == nil {
		return ""
	}
	return m.Caption.Text
}

// BestImageURL returns the first image candidate URL, if any.
func (m MediaItem) BestImageURL() string {
	if m.ImageVersions == nil || len(m.ImageVersions.Candidates) == 0 {
		return ""
	}
	return m.ImageVersions.Candidates[0].URL
}

// BestVideoURL returns the first video version URL, if any.
func (m MediaItem) BestVideoURL() string {
	if len(m.VideoVersions) == 0 {
		return ""
	}
	return m.VideoVersions[0].URL
}

type Caption struct {
	Text string `json:"text"`
}

type ImageVersions struct {
	Candidates []ImageCandidate `json:"candidates"`
}

type ImageCandidate struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type VideoVersion struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type MediaUser struct {
	PK       ID     `json:"pk"`
	Username string `json:"username"`
}

type relatedResponse struct {
	Users []RelatedProfile `json:"users"`
}

// RelatedProfile is one entry of /related-profiles.
type RelatedProfile struct {
	PK            ID     `json:"pk"`
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	IsPrivate     bool   `json:"is_private"`
	IsVerified    bool   `json:"is_verified"`
	ProfilePicURL string `json:"profile_pic_url"`
}
