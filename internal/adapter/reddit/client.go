// Package reddit implements the public-JSON Reddit client used by the
// scraping workers. Each client is bound to one upstream proxy for its whole
// lifetime; rotation happens at the worker level, not per request.
package reddit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/domain"
)

// Outcome describes one HTTP attempt. Proxy and account health tracking feed
// from these via the OnResult hook.
type Outcome struct {
	Endpoint string
	Status   int
	Category domain.Category
	Latency  time.Duration
	Err      error
}

// Success reports whether the attempt completed without an error category.
func (o Outcome) Success() bool { return o.Category == domain.CategoryNone }

// Config tunes one client instance.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	// RetryBase is the first backoff delay; each retry doubles it.
	RetryBase time.Duration
	UserAgent func() string
	// OnResult observes every attempt, including retried ones.
	OnResult func(Outcome)
}

// Client talks to www.reddit.com through an optional proxy.
type Client struct {
	cfg Config
	hc  *http.Client
}

// New builds a client bound to the given proxy; a nil proxy means direct.
func New(cfg Config, proxy *domain.Proxy) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.reddit.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.UserAgent == nil {
		cfg.UserAgent = RandomUserAgent
	}
	transport := &http.Transport{MaxIdleConnsPerHost: 4}
	if proxy != nil {
		u, err := proxyURL(*proxy)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &Client{cfg: cfg, hc: &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(transport),
	}}, nil
}

func proxyURL(p domain.Proxy) (*url.URL, error) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("op=reddit.proxy_url: %w: %v", domain.ErrInvalidArgument, err)
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}

// About fetches /r/{name}/about.json.
func (c *Client) About(ctx domain.Context, name string) (SubredditAbout, error) {
	var resp aboutResponse
	if err := c.doJSON(ctx, "/r/"+url.PathEscape(name)+"/about.json?raw_json=1", &resp); err != nil {
		return SubredditAbout{}, err
	}
	return resp.Data, nil
}

// Rules fetches /r/{name}/about/rules.json.
func (c *Client) Rules(ctx domain.Context, name string) ([]RuleEntry, error) {
	var resp rulesResponse
	if err := c.doJSON(ctx, "/r/"+url.PathEscape(name)+"/about/rules.json?raw_json=1", &resp); err != nil {
		return nil, err
	}
	return resp.Rules, nil
}

// Top fetches the top listing for the given window ("week", "day", ...).
func (c *Client) Top(ctx domain.Context, name, window string, limit int) ([]PostData, error) {
	path := fmt.Sprintf("/r/%s/top.json?t=%s&limit=%d&raw_json=1", url.PathEscape(name), url.QueryEscape(window), limit)
	return c.listing(ctx, path)
}

// Hot fetches the hot listing.
func (c *Client) Hot(ctx domain.Context, name string, limit int) ([]PostData, error) {
	path := fmt.Sprintf("/r/%s/hot.json?limit=%d&raw_json=1", url.PathEscape(name), limit)
	return c.listing(ctx, path)
}

// UserAbout fetches /user/{name}/about.json.
func (c *Client) UserAbout(ctx domain.Context, username string) (UserAbout, error) {
	var resp userAboutResponse
	if err := c.doJSON(ctx, "/user/"+url.PathEscape(username)+"/about.json?raw_json=1", &resp); err != nil {
		return UserAbout{}, err
	}
	return resp.Data, nil
}

// UserSubmitted fetches the author's recent submissions.
func (c *Client) UserSubmitted(ctx domain.Context, username string, limit int) ([]PostData, error) {
	path := fmt.Sprintf("/user/%s/submitted.json?limit=%d&raw_json=1", url.PathEscape(username), limit)
	return c.listing(ctx, path)
}

func (c *Client) listing(ctx domain.Context, path string) ([]PostData, error) {
	var resp listingResponse
	if err := c.doJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	posts := make([]PostData, 0, len(resp.Data.Children))
	for _, child := range resp.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		posts = append(posts, child.Data)
	}
	return posts, nil
}

// doJSON runs one GET with retries. 429, 5xx and network failures retry with
// exponential backoff; 403 and 404 return immediately as sentinel errors.
func (c *Client) doJSON(ctx domain.Context, path string, out any) error {
	endpoint := c.cfg.BaseURL + path
	op := func() error {
		start := time.Now()
		// Rebuild the request each attempt so the User-Agent rotates too.
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=reddit.request: %w", err))
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent())
		req.Header.Set("Accept", "application/json")

		resp, err := c.hc.Do(req)
		latency := time.Since(start)
		if err != nil {
			cat := domain.Classify(err)
			c.report(Outcome{Endpoint: path, Category: cat, Latency: latency, Err: err})
			wrapped := fmt.Errorf("op=reddit.get %s: %w", path, err)
			if !cat.Retryable() {
				return backoff.Permanent(wrapped)
			}
			return wrapped
		}
		defer func() { _ = resp.Body.Close() }()

		cat := domain.ClassifyStatus(resp.StatusCode)
		if cat != domain.CategoryNone {
			c.report(Outcome{Endpoint: path, Status: resp.StatusCode, Category: cat, Latency: latency})
			wrapped := fmt.Errorf("op=reddit.get %s: status %d: %w", path, resp.StatusCode, sentinelForStatus(resp.StatusCode))
			if !cat.Retryable() {
				return backoff.Permanent(wrapped)
			}
			return wrapped
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.report(Outcome{Endpoint: path, Status: resp.StatusCode, Category: domain.CategoryRetryable, Latency: latency, Err: err})
			return fmt.Errorf("op=reddit.read %s: %w", path, err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			c.report(Outcome{Endpoint: path, Status: resp.StatusCode, Category: domain.CategoryValidation, Latency: latency, Err: err})
			return backoff.Permanent(fmt.Errorf("op=reddit.decode %s: %w", path, err))
		}
		c.report(Outcome{Endpoint: path, Status: resp.StatusCode, Latency: latency})
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.RetryBase
	expo.RandomizationFactor = 0
	expo.Multiplier = 2
	expo.MaxInterval = 8 * c.cfg.RetryBase
	expo.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.cfg.MaxRetries)), ctx)
	return backoff.Retry(op, bo)
}

func sentinelForStatus(status int) error {
	switch {
	case status == http.StatusForbidden:
		return domain.ErrForbidden
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case status >= 500:
		return domain.ErrUpstream
	default:
		return domain.ErrInvalidArgument
	}
}

func (c *Client) report(o Outcome) {
	outcome := "success"
	if o.Category != domain.CategoryNone {
		outcome = string(o.Category)
	}
	observability.ObserveAPIRequest("reddit", outcome, o.Latency)
	if c.cfg.OnResult != nil {
		c.cfg.OnResult(o)
	}
}
