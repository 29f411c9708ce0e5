// Package httpserver is the admin control plane: it starts and stops the
// scraper processes, reports their health from the control table and
// aggregates proxy and account quality for operators.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trawlhq/trawl/internal/config"
	"github.com/trawlhq/trawl/internal/domain"
	"github.com/trawlhq/trawl/internal/service/procman"
)

// Server carries the control plane dependencies. Check funcs are optional;
// nil checks are skipped by readiness.
type Server struct {
	Cfg      config.Config
	Control  domain.ControlStore
	Logs     domain.SystemLogStore
	Proxies  domain.ProxyStore
	Accounts domain.AccountStore
	Runner   *procman.Manager

	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error

	Now func() time.Time
}

func NewServer(cfg config.Config, control domain.ControlStore, logs domain.SystemLogStore,
	proxies domain.ProxyStore, accounts domain.AccountStore, runner *procman.Manager) *Server {
	return &Server{
		Cfg:      cfg,
		Control:  control,
		Logs:     logs,
		Proxies:  proxies,
		Accounts: accounts,
		Runner:   runner,
		Now:      time.Now,
	}
}

// scriptFor resolves the {name} path segment. Short aliases and full script
// names both work.
func scriptFor(name string) (script, scriptType string, err error) {
	switch name {
	case "reddit", domain.ScriptReddit:
		return domain.ScriptReddit, "continuous", nil
	case "instagram", domain.ScriptInstagram:
		return domain.ScriptInstagram, "cyclic", nil
	default:
		return "", "", fmt.Errorf("op=http.scraper: unknown scraper %q: %w", name, domain.ErrNotFound)
	}
}

func (s *Server) binFor(script string) string {
	if script == domain.ScriptReddit {
		return s.Cfg.RedditScraperBin
	}
	return s.Cfg.InstagramScraperBin
}

func (s *Server) staleAfter(script string) time.Duration {
	if script == domain.ScriptInstagram {
		return s.Cfg.InstagramStaleAfter
	}
	return s.Cfg.RedditStaleAfter
}

// healthy reports whether a control record describes a live scraper: an
// active status plus a heartbeat inside the staleness window. A scraper that
// started but has not heartbeated yet is judged from its start time.
func (s *Server) healthy(rec domain.ControlRecord) bool {
	switch rec.Status {
	case domain.StatusRunning, domain.StatusWaiting, domain.StatusStarting:
	default:
		return false
	}
	ref := rec.LastHeartbeat
	if ref == nil {
		ref = rec.StartedAt
	}
	if ref == nil {
		return false
	}
	return s.Now().Sub(*ref) <= s.staleAfter(rec.ScriptName)
}

// StartHandler flips the control row to enabled and spawns the scraper
// binary. The row is the source of truth; a spawn failure is recorded on it.
func (s *Server) StartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		script, scriptType, err := scriptFor(chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := r.Context()
		if err := s.Control.EnsureExists(ctx, script, scriptType, nil); err != nil {
			writeError(w, r, err)
			return
		}
		enabled := true
		starting := domain.StatusStarting
		if err := s.Control.SetStatus(ctx, script, domain.ControlPatch{
			Enabled:   &enabled,
			Status:    &starting,
			UpdatedBy: "api",
		}); err != nil {
			writeError(w, r, err)
			return
		}

		pid, err := s.Runner.Start(script, s.binFor(script))
		if err != nil {
			// A duplicate start leaves the live row alone; only a real
			// spawn failure is recorded on it.
			if !errors.Is(err, domain.ErrConflict) {
				if patchErr := s.markSpawnFailed(ctx, script, err); patchErr != nil {
					LoggerFrom(r).Warn("control update failed",
						slog.String("script", script), slog.Any("error", patchErr))
				}
			}
			writeError(w, r, err)
			return
		}
		if err := s.Control.SetStatus(ctx, script, domain.ControlPatch{
			PID:       &pid,
			UpdatedBy: "api",
		}); err != nil {
			LoggerFrom(r).Warn("control update failed",
				slog.String("script", script), slog.Any("error", err))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"script_name": script,
			"enabled":     true,
			"pid":         pid,
		})
	}
}

func (s *Server) markSpawnFailed(ctx context.Context, script string, cause error) error {
	st := domain.StatusError
	msg := cause.Error()
	return s.Control.SetStatus(ctx, script, domain.ControlPatch{
		Status:    &st,
		LastError: &msg,
		ClearPID:  true,
		UpdatedBy: "api",
	})
}

// StopHandler disables the control row, then terminates any process this
// server spawned. A scraper running elsewhere sees enabled=false on its next
// poll and drains itself.
func (s *Server) StopHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		script, scriptType, err := scriptFor(chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := r.Context()
		if err := s.Control.EnsureExists(ctx, script, scriptType, nil); err != nil {
			writeError(w, r, err)
			return
		}
		enabled := false
		if err := s.Control.SetStatus(ctx, script, domain.ControlPatch{
			Enabled:   &enabled,
			UpdatedBy: "api",
		}); err != nil {
			writeError(w, r, err)
			return
		}
		signaled := s.Runner.Stop(script)
		writeJSON(w, http.StatusOK, map[string]any{
			"script_name": script,
			"enabled":     false,
			"signaled":    signaled,
		})
	}
}

type statusView struct {
	ScriptName    string     `json:"script_name"`
	ScriptType    string     `json:"script_type"`
	Enabled       bool       `json:"enabled"`
	Status        string     `json:"status"`
	Healthy       bool       `json:"healthy"`
	PID           *int       `json:"pid,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (s *Server) statusView(rec domain.ControlRecord) statusView {
	return statusView{
		ScriptName:    rec.ScriptName,
		ScriptType:    rec.ScriptType,
		Enabled:       rec.Enabled,
		Status:        string(rec.Status),
		Healthy:       s.healthy(rec),
		PID:           rec.PID,
		StartedAt:     rec.StartedAt,
		StoppedAt:     rec.StoppedAt,
		LastHeartbeat: rec.LastHeartbeat,
		LastError:     rec.LastError,
		LastErrorAt:   rec.LastErrorAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		script, _, err := scriptFor(chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		rec, err := s.Control.Load(r.Context(), script)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.statusView(rec))
	}
}

type logView struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Source     string         `json:"source"`
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
	DurationMS *int64         `json:"duration_ms,omitempty"`
}

// StatusDetailedHandler adds the live config overrides and recent system
// logs to the plain status view.
func (s *Server) StatusDetailedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		script, _, err := scriptFor(chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		rec, err := s.Control.Load(r.Context(), script)
		if err != nil {
			writeError(w, r, err)
			return
		}
		entries, err := s.Logs.Recent(r.Context(), script, 20)
		if err != nil {
			writeError(w, r, err)
			return
		}
		logs := make([]logView, 0, len(entries))
		for _, e := range entries {
			logs = append(logs, logView{
				Timestamp:  e.Timestamp,
				Level:      e.Level,
				Source:     e.Source,
				Message:    e.Message,
				Context:    e.Context,
				DurationMS: e.DurationMS,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      s.statusView(rec),
			"config":      rec.Config,
			"recent_logs": logs,
		})
	}
}

// CycleStatusHandler reports where a cyclic scraper is in its loop. While
// waiting, the countdown is reconstructed from the structured wait log the
// supervisor writes, aged by the time since it was written.
func (s *Server) CycleStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		script, scriptType, err := scriptFor(chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		rec, err := s.Control.Load(r.Context(), script)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := map[string]any{
			"script_name":    script,
			"mode":           scriptType,
			"status":         string(rec.Status),
			"enabled":        rec.Enabled,
			"last_heartbeat": rec.LastHeartbeat,
		}
		if rec.Status == domain.StatusWaiting {
			if rem, ok := s.secondsRemaining(r.Context(), script); ok {
				out["seconds_remaining"] = rem
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// secondsRemaining finds the latest "waiting for next cycle" log and ages
// its counter down to now.
func (s *Server) secondsRemaining(ctx context.Context, script string) (int64, bool) {
	entries, err := s.Logs.Recent(ctx, script, 50)
	if err != nil {
		return 0, false
	}
	for _, e := range entries {
		if e.Message != "waiting for next cycle" {
			continue
		}
		base, ok := numberField(e.Context, "seconds_remaining")
		if !ok {
			return 0, false
		}
		rem := base - int64(s.Now().Sub(e.Timestamp).Seconds())
		if rem < 0 {
			rem = 0
		}
		return rem, true
	}
	return 0, false
}

func numberField(m map[string]any, key string) (int64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// HealthHandler summarizes every scraper. Overall health only counts
// enabled scrapers; a deliberately stopped one is not an incident.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := s.Control.List(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		ok := true
		scrapers := make(map[string]any, len(recs))
		for _, rec := range recs {
			h := s.healthy(rec)
			if rec.Enabled && !h {
				ok = false
			}
			scrapers[rec.ScriptName] = map[string]any{
				"status":              string(rec.Status),
				"enabled":             rec.Enabled,
				"healthy":             h,
				"last_heartbeat":      rec.LastHeartbeat,
				"stale_after_seconds": int64(s.staleAfter(rec.ScriptName).Seconds()),
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       ok,
			"scrapers": scrapers,
			"time":     s.Now().UTC(),
		})
	}
}

// SuccessRateHandler aggregates proxy and account quality so operators can
// spot a degrading pool before the scrapers do.
func (s *Server) SuccessRateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proxies, err := s.Proxies.List(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		accounts, err := s.Accounts.List(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}

		var (
			active   int
			requests int64
			success  int64
			failure  int64
			latSum   float64
			latN     int
		)
		for _, p := range proxies {
			if p.IsActive {
				active++
			}
			requests += p.TotalRequests
			success += p.SuccessCount
			failure += p.ErrorCount
			if p.AvgLatencyMS > 0 {
				latSum += p.AvgLatencyMS
				latN++
			}
		}
		proxyRate := 0.0
		if requests > 0 {
			proxyRate = float64(success) / float64(requests)
		}
		avgLatency := 0.0
		if latN > 0 {
			avgLatency = latSum / float64(latN)
		}

		now := s.Now()
		var usable int
		var healthSum float64
		for _, a := range accounts {
			if a.Usable(now) {
				usable++
			}
			healthSum += a.HealthScore
		}
		avgHealth := 0.0
		if len(accounts) > 0 {
			avgHealth = healthSum / float64(len(accounts))
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"proxies": map[string]any{
				"total":          len(proxies),
				"active":         active,
				"total_requests": requests,
				"success_count":  success,
				"error_count":    failure,
				"success_rate":   proxyRate,
				"avg_latency_ms": avgLatency,
			},
			"accounts": map[string]any{
				"total":            len(accounts),
				"usable":           usable,
				"avg_health_score": avgHealth,
			},
		})
	}
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports dependency readiness; any failing check flips the
// response to 503.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var checks []check
		run := func(name string, fn func(ctx context.Context) error) {
			if fn == nil {
				return
			}
			c := check{Name: name, OK: true}
			if err := fn(ctx); err != nil {
				c.OK = false
				c.Details = err.Error()
			}
			checks = append(checks, c)
		}
		run("database", s.DBCheck)
		run("redis", s.RedisCheck)

		status := http.StatusOK
		ready := true
		for _, c := range checks {
			if !c.OK {
				status = http.StatusServiceUnavailable
				ready = false
			}
		}
		writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
	}
}
