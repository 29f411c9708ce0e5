package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trawlhq/trawl/internal/adapter/repo/memory"
	"github.com/trawlhq/trawl/internal/config"
	"github.com/trawlhq/trawl/internal/domain"
	"github.com/trawlhq/trawl/internal/service/procman"
)

var fixedNow = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

type serverFixture struct {
	srv      *Server
	control  *memory.ControlStore
	logs     *memory.SystemLogStore
	proxies  *memory.ProxyStore
	accounts *memory.AccountStore
	runner   *procman.Manager
	mux      http.Handler
}

func newServerFixture(t *testing.T, proxies []domain.Proxy, accounts []domain.Account) *serverFixture {
	t.Helper()
	cfg := config.Config{
		RedditStaleAfter:    300 * time.Second,
		InstagramStaleAfter: 120 * time.Second,
		RedditScraperBin:    "yes",
		InstagramScraperBin: "yes",
	}
	runner := procman.New(2 * time.Second)
	runner.InheritIO = false
	t.Cleanup(runner.StopAll)

	f := &serverFixture{
		control:  memory.NewControlStore(),
		logs:     memory.NewSystemLogStore(),
		proxies:  memory.NewProxyStore(proxies...),
		accounts: memory.NewAccountStore(accounts...),
		runner:   runner,
	}
	f.srv = NewServer(cfg, f.control, f.logs, f.proxies, f.accounts, runner)
	f.srv.Now = func() time.Time { return fixedNow }

	r := chi.NewRouter()
	r.Post("/scraper/{name}/start", f.srv.StartHandler())
	r.Post("/scraper/{name}/stop", f.srv.StopHandler())
	r.Get("/scraper/{name}/status", f.srv.StatusHandler())
	r.Get("/scraper/{name}/status-detailed", f.srv.StatusDetailedHandler())
	r.Get("/scraper/{name}/cycle-status", f.srv.CycleStatusHandler())
	r.Get("/health", f.srv.HealthHandler())
	r.Get("/success-rate", f.srv.SuccessRateHandler())
	r.Get("/readyz", f.srv.ReadyzHandler())
	f.mux = r
	return f
}

func (f *serverFixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func seedRunning(f *serverFixture, script, scriptType string, hbAge time.Duration) {
	hb := fixedNow.Add(-hbAge)
	started := fixedNow.Add(-time.Hour)
	f.control.Seed(domain.ControlRecord{
		ScriptName:    script,
		ScriptType:    scriptType,
		Enabled:       true,
		Status:        domain.StatusRunning,
		StartedAt:     &started,
		LastHeartbeat: &hb,
		UpdatedAt:     fixedNow,
	})
}

func TestStartHandler_SpawnsAndRecordsPID(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec, body := f.do(t, http.MethodPost, "/scraper/reddit/start")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ScriptReddit, body["script_name"])
	assert.Equal(t, true, body["enabled"])
	assert.Greater(t, body["pid"].(float64), float64(0))

	row, err := f.control.Load(context.Background(), domain.ScriptReddit)
	require.NoError(t, err)
	assert.True(t, row.Enabled)
	assert.Equal(t, domain.StatusStarting, row.Status)
	require.NotNil(t, row.PID)

	pid, running := f.runner.Running(domain.ScriptReddit)
	require.True(t, running)
	assert.Equal(t, *row.PID, pid)
}

func TestStartHandler_DoubleStartConflicts(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec, _ := f.do(t, http.MethodPost, "/scraper/reddit/start")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := f.do(t, http.MethodPost, "/scraper/reddit/start")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", body["error"].(map[string]any)["code"])

	// The live row must not be poisoned by the duplicate request.
	row, err := f.control.Load(context.Background(), domain.ScriptReddit)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarting, row.Status)
	assert.Empty(t, row.LastError)
}

func TestStartHandler_SpawnFailureRecordedOnRow(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	f.srv.Cfg.RedditScraperBin = "/nonexistent/trawl-test-binary"

	rec, _ := f.do(t, http.MethodPost, "/scraper/reddit/start")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	row, err := f.control.Load(context.Background(), domain.ScriptReddit)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, row.Status)
	assert.NotEmpty(t, row.LastError)
	assert.Nil(t, row.PID)
	// The operator's intent to run survives the failed spawn.
	assert.True(t, row.Enabled)
}

func TestStartHandler_UnknownScraper(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	rec, body := f.do(t, http.MethodPost, "/scraper/tiktok/start")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestStopHandler_DisablesAndSignals(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec, _ := f.do(t, http.MethodPost, "/scraper/reddit/start")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := f.do(t, http.MethodPost, "/scraper/reddit/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, true, body["signaled"])

	row, err := f.control.Load(context.Background(), domain.ScriptReddit)
	require.NoError(t, err)
	assert.False(t, row.Enabled)

	_, running := f.runner.Running(domain.ScriptReddit)
	assert.False(t, running)
}

func TestStopHandler_IdempotentWithoutProcess(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec, body := f.do(t, http.MethodPost, "/scraper/instagram/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, false, body["signaled"])

	// The row exists afterwards so the disable sticks for an external process.
	row, err := f.control.Load(context.Background(), domain.ScriptInstagram)
	require.NoError(t, err)
	assert.False(t, row.Enabled)
	assert.Equal(t, "cyclic", row.ScriptType)
}

func TestStatusHandler_HealthyWithinStaleWindow(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	seedRunning(f, domain.ScriptReddit, "continuous", 60*time.Second)

	rec, body := f.do(t, http.MethodGet, "/scraper/reddit/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, true, body["healthy"])
}

func TestStatusHandler_StaleHeartbeatUnhealthy(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	seedRunning(f, domain.ScriptInstagram, "cyclic", 121*time.Second)

	rec, body := f.do(t, http.MethodGet, "/scraper/instagram/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["healthy"])
}

func TestStatusHandler_StartedButNoHeartbeatYet(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	started := fixedNow.Add(-10 * time.Second)
	f.control.Seed(domain.ControlRecord{
		ScriptName: domain.ScriptReddit,
		ScriptType: "continuous",
		Enabled:    true,
		Status:     domain.StatusStarting,
		StartedAt:  &started,
	})

	rec, body := f.do(t, http.MethodGet, "/scraper/reddit/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["healthy"])
}

func TestStatusHandler_MissingRow(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	rec, _ := f.do(t, http.MethodGet, "/scraper/reddit/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusDetailedHandler_IncludesConfigAndLogs(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	started := fixedNow.Add(-time.Hour)
	f.control.Seed(domain.ControlRecord{
		ScriptName: domain.ScriptInstagram,
		ScriptType: "cyclic",
		Enabled:    true,
		Status:     domain.StatusRunning,
		StartedAt:  &started,
		Config:     map[string]any{"batch_size": 5},
	})
	require.NoError(t, f.logs.Insert(context.Background(), domain.SystemLogEntry{
		Timestamp:  fixedNow.Add(-time.Minute),
		Source:     "scraper",
		ScriptName: domain.ScriptInstagram,
		Level:      "info",
		Message:    "instagram cycle complete",
	}))

	rec, body := f.do(t, http.MethodGet, "/scraper/instagram/status-detailed")
	require.Equal(t, http.StatusOK, rec.Code)

	cfg := body["config"].(map[string]any)
	assert.Equal(t, float64(5), cfg["batch_size"])

	logs := body["recent_logs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, "instagram cycle complete", logs[0].(map[string]any)["message"])
}

func TestCycleStatusHandler_CountdownAgesWaitLog(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	f.control.Seed(domain.ControlRecord{
		ScriptName: domain.ScriptInstagram,
		ScriptType: "cyclic",
		Enabled:    true,
		Status:     domain.StatusWaiting,
	})
	require.NoError(t, f.logs.Insert(context.Background(), domain.SystemLogEntry{
		Timestamp:  fixedNow.Add(-10 * time.Minute),
		Source:     "scraper",
		ScriptName: domain.ScriptInstagram,
		Level:      "info",
		Message:    "waiting for next cycle",
		Context:    map[string]any{"seconds_remaining": 3600},
	}))
	// A newer unrelated entry must not satisfy the scan.
	require.NoError(t, f.logs.Insert(context.Background(), domain.SystemLogEntry{
		Timestamp:  fixedNow.Add(-time.Minute),
		Source:     "scraper",
		ScriptName: domain.ScriptInstagram,
		Level:      "info",
		Message:    "heartbeat",
	}))

	rec, body := f.do(t, http.MethodGet, "/scraper/instagram/cycle-status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cyclic", body["mode"])
	assert.Equal(t, "waiting", body["status"])
	assert.Equal(t, float64(3000), body["seconds_remaining"])
}

func TestCycleStatusHandler_CountdownClampsAtZero(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	f.control.Seed(domain.ControlRecord{
		ScriptName: domain.ScriptInstagram,
		ScriptType: "cyclic",
		Enabled:    true,
		Status:     domain.StatusWaiting,
	})
	require.NoError(t, f.logs.Insert(context.Background(), domain.SystemLogEntry{
		Timestamp:  fixedNow.Add(-2 * time.Hour),
		ScriptName: domain.ScriptInstagram,
		Message:    "waiting for next cycle",
		Context:    map[string]any{"seconds_remaining": 3600},
	}))

	_, body := f.do(t, http.MethodGet, "/scraper/instagram/cycle-status")
	assert.Equal(t, float64(0), body["seconds_remaining"])
}

func TestCycleStatusHandler_NoCountdownWhenRunning(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	seedRunning(f, domain.ScriptInstagram, "cyclic", time.Second)

	rec, body := f.do(t, http.MethodGet, "/scraper/instagram/cycle-status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, body, "seconds_remaining")
}

func TestHealthHandler_DisabledScraperDoesNotFailOverall(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	seedRunning(f, domain.ScriptReddit, "continuous", 30*time.Second)
	f.control.Seed(domain.ControlRecord{
		ScriptName: domain.ScriptInstagram,
		ScriptType: "cyclic",
		Enabled:    false,
		Status:     domain.StatusStopped,
	})

	rec, body := f.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])

	scrapers := body["scrapers"].(map[string]any)
	ig := scrapers[domain.ScriptInstagram].(map[string]any)
	assert.Equal(t, false, ig["healthy"])
	assert.Equal(t, false, ig["enabled"])
}

func TestHealthHandler_EnabledUnhealthyFlipsOverall(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	seedRunning(f, domain.ScriptReddit, "continuous", 10*time.Minute)

	_, body := f.do(t, http.MethodGet, "/health")
	assert.Equal(t, false, body["ok"])
}

func TestSuccessRateHandler_Aggregates(t *testing.T) {
	proxies := []domain.Proxy{
		{ID: 1, IsActive: true, TotalRequests: 100, SuccessCount: 90, ErrorCount: 10, AvgLatencyMS: 200},
		{ID: 2, IsActive: false, TotalRequests: 50, SuccessCount: 25, ErrorCount: 25, AvgLatencyMS: 400},
	}
	accounts := []domain.Account{
		{ID: 1, Username: "good", Status: domain.AccountActive, HealthScore: 80},
		{ID: 2, Username: "bad", Status: domain.AccountSuspended, HealthScore: 20},
	}
	f := newServerFixture(t, proxies, accounts)

	rec, body := f.do(t, http.MethodGet, "/success-rate")
	require.Equal(t, http.StatusOK, rec.Code)

	p := body["proxies"].(map[string]any)
	assert.Equal(t, float64(2), p["total"])
	assert.Equal(t, float64(1), p["active"])
	assert.Equal(t, float64(150), p["total_requests"])
	assert.Equal(t, float64(115), p["success_count"])
	assert.InDelta(t, 115.0/150.0, p["success_rate"].(float64), 1e-9)
	assert.InDelta(t, 300.0, p["avg_latency_ms"].(float64), 1e-9)

	a := body["accounts"].(map[string]any)
	assert.Equal(t, float64(2), a["total"])
	assert.Equal(t, float64(1), a["usable"])
	assert.InDelta(t, 50.0, a["avg_health_score"].(float64), 1e-9)
}

func TestSuccessRateHandler_EmptyPools(t *testing.T) {
	f := newServerFixture(t, nil, nil)

	rec, body := f.do(t, http.MethodGet, "/success-rate")
	require.Equal(t, http.StatusOK, rec.Code)
	p := body["proxies"].(map[string]any)
	assert.Equal(t, float64(0), p["success_rate"])
	a := body["accounts"].(map[string]any)
	assert.Equal(t, float64(0), a["avg_health_score"])
}

func TestReadyzHandler(t *testing.T) {
	f := newServerFixture(t, nil, nil)
	f.srv.DBCheck = func(context.Context) error { return nil }

	rec, body := f.do(t, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ready"])

	f.srv.DBCheck = func(context.Context) error { return errors.New("dial tcp: refused") }
	rec, body = f.do(t, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["ready"])
	checks := body["checks"].([]any)
	require.Len(t, checks, 1)
	assert.Equal(t, false, checks[0].(map[string]any)["ok"])
}
