// Package app wires the control plane router and the background maintenance
// loops that keep the control table honest.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trawlhq/trawl/internal/adapter/httpserver"
	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/config"
)

// ParseOrigins splits a comma separated CORS origin list, defaulting to any.
func ParseOrigins(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}

// BuildRouter assembles the admin API. Reads are open; the start and stop
// routes are rate limited and, when admin credentials are configured,
// behind basic auth.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	timeout := cfg.HTTPWriteTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(timeout))
	r.Use(httpserver.TraceMiddleware())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", srv.HealthHandler())
	r.Get("/success-rate", srv.SuccessRateHandler())

	r.Route("/scraper/{name}", func(sr chi.Router) {
		sr.Get("/status", srv.StatusHandler())
		sr.Get("/status-detailed", srv.StatusDetailedHandler())
		sr.Get("/cycle-status", srv.CycleStatusHandler())

		sr.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
			if cfg.AdminEnabled() {
				wr.Use(httpserver.BasicAuthGuard(cfg.AdminUsername, cfg.AdminPasswordHash))
			}
			wr.Post("/start", srv.StartHandler())
			wr.Post("/stop", srv.StopHandler())
		})
	})

	return httpserver.SecurityHeaders(r)
}
