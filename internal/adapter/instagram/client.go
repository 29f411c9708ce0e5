// Package instagram implements the RapidAPI Instagram client. All calls pass
// through a process-wide token bucket; retries use jittered delays so bursts
// from concurrent workers spread out.
package instagram

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/domain"
)

// Config tunes the client.
type Config struct {
	// BaseURL overrides the https://{Host} default; tests point it at a local
	// server.
	BaseURL string
	Host    string
	APIKey  string
	Timeout time.Duration
	// MaxAttempts bounds transient retries per call (429, 5xx, network).
	MaxAttempts int
	// JitterMin/JitterMax bound the randomized delay between attempts.
	JitterMin time.Duration
	JitterMax time.Duration
	// Pacer is the process-wide token bucket acquired before every attempt.
	Pacer domain.Pacer
	// ProxyFunc optionally routes each request through a proxy.
	ProxyFunc func(*http.Request) (*url.URL, error)
}

// Client calls the RapidAPI Instagram endpoints.
type Client struct {
	cfg Config
	hc  *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("op=instagram.new: %w: host required", domain.ErrInvalidArgument)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("op=instagram.new: %w: api key required", domain.ErrInvalidArgument)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://" + cfg.Host
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.JitterMin <= 0 {
		cfg.JitterMin = 2 * time.Second
	}
	if cfg.JitterMax <= cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin + 8*time.Second
	}
	transport := &http.Transport{MaxIdleConnsPerHost: 16}
	if cfg.ProxyFunc != nil {
		transport.Proxy = cfg.ProxyFunc
	}
	return &Client{cfg: cfg, hc: &http.Client{Timeout: cfg.Timeout, Transport: transport}}, nil
}

// Profile fetches /profile and returns the parsed payload plus the raw body
// for the raw_profile_json column.
func (c *Client) Profile(ctx domain.Context, username string) (Profile, []byte, error) {
	body, err := c.get(ctx, "/profile?username="+url.QueryEscape(username))
	if err != nil {
		return Profile{}, nil, err
	}
	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return Profile{}, nil, fmt.Errorf("op=instagram.profile decode: %w", err)
	}
	return p, body, nil
}

// Reels fetches one page of /reels for the given creator.
func (c *Client) Reels(ctx domain.Context, igUserID string, count int, maxID string) (Page, error) {
	path := fmt.Sprintf("/reels?id=%s&count=%d", url.QueryEscape(igUserID), count)
	if maxID != "" {
		path += "&max_id=" + url.QueryEscape(maxID)
	}
	return c.items(ctx, path)
}

// UserFeed fetches one page of /user-feeds (regular posts).
func (c *Client) UserFeed(ctx domain.Context, igUserID string, count int, maxID string) (Page, error) {
	path := fmt.Sprintf("/user-feeds?id=%s&count=%d", url.QueryEscape(igUserID), count)
	if maxID != "" {
		path += "&max_id=" + url.QueryEscape(maxID)
	}
	return c.items(ctx, path)
}

// RelatedProfiles fetches /related-profiles for discovery.
func (c *Client) RelatedProfiles(ctx domain.Context, igUserID string) ([]RelatedProfile, error) {
	body, err := c.get(ctx, "/related-profiles?id="+url.QueryEscape(igUserID))
	if err != nil {
		return nil, err
	}
	var resp relatedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("op=instagram.related decode: %w", err)
	}
	return resp.Users, nil
}

// items decodes a paged listing. An empty items array is retried once before
// being surfaced as ErrEmptyResponse.
func (c *Client) items(ctx domain.Context, path string) (Page, error) {
	for attempt := 0; attempt < 2; attempt++ {
		body, err := c.get(ctx, path)
		if err != nil {
			return Page{}, err
		}
		var resp itemsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return Page{}, fmt.Errorf("op=instagram.items decode: %w", err)
		}
		if len(resp.Items) == 0 {
			if attempt == 0 {
				continue
			}
			return Page{}, fmt.Errorf("op=instagram.items %s: %w", path, domain.ErrEmptyResponse)
		}
		items := make([]MediaItem, 0, len(resp.Items))
		for _, it := range resp.Items {
			items = append(items, it.Normalize())
		}
		return Page{Items: items, MaxID: resp.PagingInfo.MaxID, MoreAvailable: resp.PagingInfo.MoreAvailable}, nil
	}
	return Page{}, fmt.Errorf("op=instagram.items %s: %w", path, domain.ErrEmptyResponse)
}

// get runs one GET with pacing and jittered transient retries.
func (c *Client) get(ctx domain.Context, path string) ([]byte, error) {
	endpoint := c.cfg.BaseURL + path
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleepJitter(ctx); err != nil {
				return nil, err
			}
		}
		if c.cfg.Pacer != nil {
			waitStart := time.Now()
			if err := c.cfg.Pacer.Wait(ctx); err != nil {
				return nil, fmt.Errorf("op=instagram.pace: %w", err)
			}
			observability.RateLimitWaitDuration.Observe(time.Since(waitStart).Seconds())
		}

		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("op=instagram.request: %w", err)
		}
		req.Header.Set("x-rapidapi-key", c.cfg.APIKey)
		req.Header.Set("x-rapidapi-host", c.cfg.Host)

		resp, err := c.hc.Do(req)
		latency := time.Since(start)
		if err != nil {
			cat := domain.Classify(err)
			observability.ObserveAPIRequest("instagram", string(cat), latency)
			lastErr = fmt.Errorf("op=instagram.get %s: %w", path, err)
			if !cat.Retryable() {
				return nil, lastErr
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		cat := domain.ClassifyStatus(resp.StatusCode)
		switch {
		case cat == domain.CategoryNone:
			if readErr != nil {
				observability.ObserveAPIRequest("instagram", string(domain.CategoryRetryable), latency)
				lastErr = fmt.Errorf("op=instagram.read %s: %w", path, readErr)
				continue
			}
			observability.ObserveAPIRequest("instagram", "success", latency)
			return body, nil
		case cat == domain.CategoryRateLimit:
			observability.ObserveAPIRequest("instagram", string(cat), latency)
			lastErr = fmt.Errorf("op=instagram.get %s: status 429: %w", path, domain.ErrRateLimited)
			continue
		case cat.Retryable():
			observability.ObserveAPIRequest("instagram", string(cat), latency)
			lastErr = fmt.Errorf("op=instagram.get %s: status %d: %w", path, resp.StatusCode, domain.ErrUpstream)
			continue
		case cat == domain.CategoryForbidden:
			observability.ObserveAPIRequest("instagram", string(cat), latency)
			return nil, fmt.Errorf("op=instagram.get %s: status %d: %w", path, resp.StatusCode, domain.ErrForbidden)
		case cat == domain.CategoryNotFound:
			observability.ObserveAPIRequest("instagram", string(cat), latency)
			return nil, fmt.Errorf("op=instagram.get %s: status %d: %w", path, resp.StatusCode, domain.ErrNotFound)
		default:
			observability.ObserveAPIRequest("instagram", string(cat), latency)
			return nil, fmt.Errorf("op=instagram.get %s: status %d: %w", path, resp.StatusCode, domain.ErrInvalidArgument)
		}
	}
	return nil, lastErr
}

func (c *Client) sleepJitter(ctx domain.Context) error {
	span := c.cfg.JitterMax - c.cfg.JitterMin
	d := c.cfg.JitterMin + time.Duration(rand.Int63n(int64(span)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
