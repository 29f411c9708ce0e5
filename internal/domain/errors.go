package domain

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstream        = errors.New("upstream error")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrProxyFailure    = errors.New("proxy failure")
	ErrEmptyResponse   = errors.New("empty response")
	ErrDisabled        = errors.New("scraper disabled")
	ErrInternal        = errors.New("internal error")
	// ErrFatal marks conditions that require operator intervention; the
	// supervisor exits with code 1 instead of retrying the cycle.
	ErrFatal = errors.New("fatal")
)

// Category classifies an outcome for health accounting and retry policy.
// Classification is always derived from typed errors or HTTP status codes,
// never from log message contents.
type Category string

const (
	// CategoryNone is a successful outcome.
	CategoryNone Category = ""
	// CategoryRetryable covers timeouts, refused connections, 5xx and empty
	// upstream pages: retry with backoff, then surface the item as failed.
	CategoryRetryable Category = "retryable"
	// CategoryForbidden is a semantic 403: recorded, never retried.
	CategoryForbidden Category = "forbidden"
	// CategoryNotFound is a semantic 404: recorded, never retried.
	CategoryNotFound Category = "not_found"
	// CategoryRateLimit is a 429: backs off at call level and puts the owning
	// account into cooldown when exhausted.
	CategoryRateLimit Category = "rate_limit"
	// CategoryProxyFailure is a transport error attributable to the proxy.
	CategoryProxyFailure Category = "proxy_failure"
	// CategoryValidation is an impossible value from upstream: log and skip.
	CategoryValidation Category = "validation"
	// CategoryFatal means the process cannot usefully continue.
	CategoryFatal Category = "fatal"
)

// Retryable reports whether the category warrants another attempt.
func (c Category) Retryable() bool {
	switch c {
	case CategoryRetryable, CategoryRateLimit, CategoryProxyFailure:
		return true
	}
	return false
}

// ClassifyStatus maps an HTTP status code to an outcome category.
func ClassifyStatus(code int) Category {
	switch {
	case code == 0:
		return CategoryProxyFailure
	case code >= 200 && code < 300:
		return CategoryNone
	case code == http.StatusForbidden:
		return CategoryForbidden
	case code == http.StatusNotFound:
		return CategoryNotFound
	case code == http.StatusTooManyRequests:
		return CategoryRateLimit
	case code >= 500:
		return CategoryRetryable
	default:
		return CategoryValidation
	}
}

// Classify maps an error produced by a client or store call onto a category.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}
	switch {
	case errors.Is(err, ErrFatal):
		return CategoryFatal
	case errors.Is(err, ErrForbidden):
		return CategoryForbidden
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrRateLimited):
		return CategoryRateLimit
	case errors.Is(err, ErrProxyFailure):
		return CategoryProxyFailure
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, ErrEmptyResponse), errors.Is(err, ErrUpstream):
		return CategoryRetryable
	case errors.Is(err, ErrInvalidArgument):
		return CategoryValidation
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryRetryable
		}
		return CategoryProxyFailure
	}
	// Dial-level failures wrap *net.OpError without implementing net.Error on
	// the outer type in all paths.
	if strings.Contains(err.Error(), "connection refused") {
		return CategoryRetryable
	}
	return CategoryRetryable
}
