package instagram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trawlhq/trawl/internal/domain"
)

type pacerStub struct{ waits int32 }

func (p *pacerStub) Wait(_ domain.Context) error {
	atomic.AddInt32(&p.waits, 1)
	return nil
}

func (p *pacerStub) Allow() bool { return true }

func newTestClient(t *testing.T, handler http.Handler) (*Client, *pacerStub, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	pacer := &pacerStub{}
	c, err := New(Config{
		BaseURL:     srv.URL,
		Host:        "instagram-looter2.p.rapidapi.com",
		APIKey:      "test-key",
		MaxAttempts: 3,
		JitterMin:   time.Microsecond,
		JitterMax:   2 * time.Microsecond,
		Pacer:       pacer,
	})
	require.NoError(t, err)
	return c, pacer, &calls
}

func TestNew_RequiresCredentials(t *testing.T) {
	t.Parallel()
	_, err := New(Config{APIKey: "k"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = New(Config{Host: "h"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestClient_ProfileSetsHeadersAndReturnsRaw(t *testing.T) {
	t.Parallel()
	var gotKey, gotHost, gotQuery string
	c, pacer, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-rapidapi-key")
		gotHost = r.Header.Get("x-rapidapi-host")
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"pk":123456,"username":"dancer","full_name":"Dance R",
			"follower_count":90000,"following_count":150,"media_count":310,
			"is_verified":true,"profile_pic_url":"https://cdn.example/p.jpg"}`))
	}))

	p, raw, err := c.Profile(context.Background(), "dancer")
	require.NoError(t, err)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "instagram-looter2.p.rapidapi.com", gotHost)
	assert.Equal(t, "username=dancer", gotQuery)
	assert.Equal(t, "123456", p.PK.String())
	assert.Equal(t, int64(90000), p.FollowerCount)
	assert.True(t, p.IsVerified)
	assert.Contains(t, string(raw), `"username":"dancer"`)
	assert.Equal(t, int32(1), atomic.LoadInt32(&pacer.waits))
}

func TestClient_ReelsPageAndWrappedMedia(t *testing.T) {
	t.Parallel()
	var gotQuery string
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"items":[
			{"media":{"pk":"111","media_type":2,"play_count":50000,"caption":{"text":"#dance"}}},
			{"pk":"222","media_type":2,"play_count":800}
		],"paging_info":{"max_id":"cursor-1","more_available":true}}`))
	}))

	page, err := c.Reels(context.Background(), "987", 30, "prev-cursor")
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "id=987")
	assert.Contains(t, gotQuery, "count=30")
	assert.Contains(t, gotQuery, "max_id=prev-cursor")
	require.Len(t, page.Items, 2)
	assert.Equal(t, "111", page.Items[0].PK.String())
	assert.Equal(t, "#dance", page.Items[0].CaptionText())
	assert.Equal(t, "222", page.Items[1].PK.String())
	assert.Equal(t, "cursor-1", page.MaxID)
	assert.True(t, page.MoreAvailable)
}

func TestClient_EmptyItemsRetriedOnce(t *testing.T) {
	t.Parallel()
	c, _, calls := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[],"paging_info":{"more_available":false}}`))
	}))

	_, err := c.UserFeed(context.Background(), "987", 30, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmptyResponse)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestClient_EmptyItemsThenData(t *testing.T) {
	t.Parallel()
	var n int32
	c, _, calls := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			_, _ = w.Write([]byte(`{"items":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"pk":"1","media_type":1}],"paging_info":{"more_available":false}}`))
	}))

	page, err := c.UserFeed(context.Background(), "987", 30, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	assert.False(t, page.MoreAvailable)
}

func TestClient_RateLimitRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	var n int32
	c, pacer, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"users":[{"pk":"5","username":"related"}]}`))
	}))

	users, err := c.RelatedProfiles(context.Background(), "987")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "related", users[0].Username)
	// The pacer gates every attempt, including the retried one.
	assert.Equal(t, int32(2), atomic.LoadInt32(&pacer.waits))
}

func TestClient_RateLimitExhausted(t *testing.T) {
	t.Parallel()
	c, _, calls := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.RelatedProfiles(context.Background(), "987")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestClient_ForbiddenFailsFast(t *testing.T) {
	t.Parallel()
	c, _, calls := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, _, err := c.Profile(context.Background(), "gone")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestID_UnmarshalBothForms(t *testing.T) {
	t.Parallel()
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"123","b":4567890123456789,"c":null}`), &v))
	assert.Equal(t, "123", v.A.String())
	assert.Equal(t, "4567890123456789", v.B.String())
	assert.Equal(t, "", v.C.String())
}

func TestMediaItem_URLHelpers(t *testing.T) {
	t.Parallel()
	m := MediaItem{
		ImageVersions: &ImageVersions{Candidates: []ImageCandidate{{URL: "https://cdn/img1.jpg"}, {URL: "https://cdn/img2.jpg"}}},
		VideoVersions: []VideoVersion{{URL: "https://cdn/v.mp4"}},
	}
	assert.Equal(t, "https://cdn/img1.jpg", m.BestImageURL())
	assert.Equal(t, "https://cdn/v.mp4", m.BestVideoURL())
	assert.Empty(t, MediaItem{}.BestImageURL())
	assert.Empty(t, MediaItem{}.BestVideoURL())
	assert.Empty(t, MediaItem{}.CaptionText())
}
