package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorConstants(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ErrInvalidArgument", ErrInvalidArgument, "invalid argument"},
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrForbidden", ErrForbidden, "forbidden"},
		{"ErrConflict", ErrConflict, "conflict"},
		{"ErrRateLimited", ErrRateLimited, "rate limited"},
		{"ErrUpstream", ErrUpstream, "upstream error"},
		{"ErrUpstreamTimeout", ErrUpstreamTimeout, "upstream timeout"},
		{"ErrProxyFailure", ErrProxyFailure, "proxy failure"},
		{"ErrEmptyResponse", ErrEmptyResponse, "empty response"},
		{"ErrDisabled", ErrDisabled, "scraper disabled"},
		{"ErrInternal", ErrInternal, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected %s to be %q, got %q", tt.name, tt.expected, tt.err.Error())
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		expected Category
	}{
		{"ok", http.StatusOK, CategoryNone},
		{"created", http.StatusCreated, CategoryNone},
		{"forbidden", http.StatusForbidden, CategoryForbidden},
		{"not found", http.StatusNotFound, CategoryNotFound},
		{"rate limited", http.StatusTooManyRequests, CategoryRateLimit},
		{"server error", http.StatusInternalServerError, CategoryRetryable},
		{"bad gateway", http.StatusBadGateway, CategoryRetryable},
		{"no status", 0, CategoryProxyFailure},
		{"bad request", http.StatusBadRequest, CategoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStatus(tt.code); got != tt.expected {
				t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.code, got, tt.expected)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil", nil, CategoryNone},
		{"forbidden", ErrForbidden, CategoryForbidden},
		{"wrapped forbidden", fmt.Errorf("op=fetch: %w", ErrForbidden), CategoryForbidden},
		{"not found", ErrNotFound, CategoryNotFound},
		{"rate limited", ErrRateLimited, CategoryRateLimit},
		{"proxy failure", ErrProxyFailure, CategoryProxyFailure},
		{"upstream timeout", ErrUpstreamTimeout, CategoryRetryable},
		{"empty response", ErrEmptyResponse, CategoryRetryable},
		{"upstream", ErrUpstream, CategoryRetryable},
		{"invalid argument", ErrInvalidArgument, CategoryValidation},
		{"deadline exceeded", context.DeadlineExceeded, CategoryRetryable},
		{"unknown", errors.New("boom"), CategoryRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestCategoryRetryable(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		expected bool
	}{
		{"retryable", CategoryRetryable, true},
		{"rate limit", CategoryRateLimit, true},
		{"proxy failure", CategoryProxyFailure, true},
		{"forbidden", CategoryForbidden, false},
		{"not found", CategoryNotFound, false},
		{"validation", CategoryValidation, false},
		{"fatal", CategoryFatal, false},
		{"none", CategoryNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.category.Retryable(); got != tt.expected {
				t.Errorf("Retryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}
