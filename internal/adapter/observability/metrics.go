package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_api_requests_total",
			Help: "Total number of upstream API requests by source and outcome",
		},
		[]string{"source", "outcome"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_api_request_duration_seconds",
			Help:    "Upstream API request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	ItemsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_items_processed_total",
			Help: "Total number of work items processed by source and result",
		},
		[]string{"source", "result"},
	)
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cycles_total",
			Help: "Total number of scrape cycles by source and outcome",
		},
		[]string{"source", "outcome"},
	)
	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_cycle_duration_seconds",
			Help:    "Scrape cycle duration in seconds",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"source"},
	)

	ProxiesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_proxies_active",
			Help: "Number of proxies currently active in the registry",
		},
	)
	ProxyDisablesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_proxy_disables_total",
			Help: "Total number of proxies auto-disabled for consecutive errors",
		},
	)
	AccountsUsable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_accounts_usable",
			Help: "Number of accounts currently usable for leasing",
		},
	)

	RateLimitWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the outbound token bucket",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	MediaUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_media_uploads_total",
			Help: "Total number of media ingest attempts by class and outcome",
		},
		[]string{"class", "outcome"},
	)
	MediaUploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_media_upload_bytes_total",
			Help: "Total bytes uploaded to object storage",
		},
	)

	DiscoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_discoveries_total",
			Help: "Total number of newly discovered work targets by kind",
		},
		[]string{"kind"},
	)
	StoreRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_store_retries_total",
			Help: "Total number of retried database writes by table",
		},
		[]string{"table"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ItemsProcessedTotal)
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(ProxiesActive)
	prometheus.MustRegister(ProxyDisablesTotal)
	prometheus.MustRegister(AccountsUsable)
	prometheus.MustRegister(RateLimitWaitDuration)
	prometheus.MustRegister(MediaUploadsTotal)
	prometheus.MustRegister(MediaUploadBytes)
	prometheus.MustRegister(DiscoveriesTotal)
	prometheus.MustRegister(StoreRetriesTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveAPIRequest tallies one upstream call.
func ObserveAPIRequest(source, outcome string, dur time.Duration) {
	APIRequestsTotal.WithLabelValues(source, outcome).Inc()
	APIRequestDuration.WithLabelValues(source).Observe(dur.Seconds())
}

// ObserveCycle tallies one completed cycle.
func ObserveCycle(source, outcome string, dur time.Duration) {
	CyclesTotal.WithLabelValues(source, outcome).Inc()
	CycleDuration.WithLabelValues(source).Observe(dur.Seconds())
}
