package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/trawlhq/trawl/internal/domain"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", slog.Any("error", err))
	}
}

// writeError maps domain sentinels onto HTTP statuses. Internals keep their
// detail out of the response body; the access log carries it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	msg := "internal error"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status, code, msg = http.StatusBadRequest, "INVALID_ARGUMENT", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, code, msg = http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, domain.ErrConflict):
		status, code, msg = http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, domain.ErrForbidden):
		status, code, msg = http.StatusForbidden, "FORBIDDEN", err.Error()
	case errors.Is(err, domain.ErrRateLimited):
		status, code, msg = http.StatusTooManyRequests, "RATE_LIMITED", err.Error()
	case errors.Is(err, domain.ErrUpstreamTimeout):
		status, code, msg = http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT", err.Error()
	case errors.Is(err, domain.ErrUpstream):
		status, code, msg = http.StatusBadGateway, "UPSTREAM_ERROR", err.Error()
	default:
		LoggerFrom(r).Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: msg}})
}
