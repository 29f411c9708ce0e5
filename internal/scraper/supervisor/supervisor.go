// Package supervisor runs the outer control loop shared by both scrapers:
// the 30-second heartbeat tick, the database-backed enabled gate, the waiting
// state for cyclic scrapers and a bounded graceful drain on shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/domain"
	"github.com/trawlhq/trawl/pkg/textx"
)

// maxStoredError caps error text written to the control row and system logs;
// upstream failures sometimes carry whole HTML bodies.
const maxStoredError = 500

// Probe reports whether the scraper should keep working. Cycles call it at
// work-item boundaries and drain when it returns false.
type Probe func() bool

// Cycle is one full pass over a scraper's work list. overrides carries the
// operator's config JSON from the control row, read fresh at each cycle
// boundary.
type Cycle interface {
	Run(ctx domain.Context, enabled Probe, overrides map[string]any) error
}

// Mode selects the scheduling shape of the loop.
type Mode int

const (
	// ModeContinuous starts the next cycle on the tick after the previous one
	// ends; the cycle paces itself internally.
	ModeContinuous Mode = iota
	// ModeCyclic waits CycleWait between cycles and reports status=waiting.
	ModeCyclic
)

// Config shapes one supervisor instance.
type Config struct {
	// ScriptName is the control-row key, e.g. "reddit_scraper".
	ScriptName string
	ScriptType string
	// Source is the metrics label: "reddit" or "instagram".
	Source string
	Mode   Mode

	Tick         time.Duration // heartbeat and poll interval
	CycleWait    time.Duration // cyclic mode only
	DrainTimeout time.Duration
	EnabledTTL   time.Duration

	PID           int
	DefaultConfig map[string]any
}

func (c *Config) defaults() {
	if c.Tick <= 0 {
		c.Tick = 30 * time.Second
	}
	if c.CycleWait <= 0 {
		c.CycleWait = 4 * time.Hour
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.EnabledTTL <= 0 {
		c.EnabledTTL = 5 * time.Second
	}
	if c.PID == 0 {
		c.PID = os.Getpid()
	}
}

// Supervisor owns one scraper's control record and drives its cycles.
type Supervisor struct {
	cfg     Config
	control domain.ControlStore
	logs    domain.SystemLogStore
	cycle   Cycle
	probe   *EnabledProbe

	lastStatus  domain.ScraperStatus
	nextCycleAt time.Time

	// Now is the clock; tests may replace it.
	Now func() time.Time
}

func New(control domain.ControlStore, logs domain.SystemLogStore, cycle Cycle, cfg Config) *Supervisor {
	cfg.defaults()
	return &Supervisor{
		cfg:     cfg,
		control: control,
		logs:    logs,
		cycle:   cycle,
		probe:   NewEnabledProbe(control, cfg.ScriptName, cfg.EnabledTTL),
		Now:     time.Now,
	}
}

// Run blocks until ctx is canceled or a fatal error occurs. A nil return is a
// clean shutdown (exit 0); non-nil means operator intervention is required
// (exit 1).
func (s *Supervisor) Run(ctx context.Context) error {
	boot, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := s.control.EnsureExists(boot, s.cfg.ScriptName, s.cfg.ScriptType, s.cfg.DefaultConfig)
	cancel()
	if err != nil {
		// No control row means no kill switch; refuse to run.
		return fmt.Errorf("op=supervisor.boot: %w: %w", domain.ErrFatal, err)
	}

	now := s.Now().UTC()
	pid := s.cfg.PID
	starting := domain.StatusStarting
	s.setStatus(domain.ControlPatch{Status: &starting, PID: &pid, StartedAt: &now})
	s.lastStatus = domain.StatusStarting
	s.syslog(slog.LevelInfo, "scraper starting", map[string]any{"pid": pid}, nil)

	go func() {
		<-ctx.Done()
		s.probe.Kill()
	}()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		s.heartbeat()
		switch {
		case !s.probe.Enabled(ctx):
			s.writeStopped()
		case s.cfg.Mode == ModeCyclic && s.Now().Before(s.nextCycleAt):
			s.writeWaiting()
		default:
			if err := s.runCycle(ctx); err != nil && errors.Is(err, domain.ErrFatal) {
				s.writeError(err)
				return err
			}
		}
		select {
		case <-ctx.Done():
			return s.shutdown()
		case <-ticker.C:
		}
	}
}

// runCycle executes one cycle while keeping the heartbeat alive, then applies
// the cyclic-mode wait. Non-fatal errors are recorded and retried on a later
// tick.
func (s *Supervisor) runCycle(ctx context.Context) error {
	running := domain.StatusRunning
	s.setStatus(domain.ControlPatch{Status: &running})
	s.lastStatus = domain.StatusRunning

	overrides := s.loadOverrides(ctx)
	if d, ok := OverrideDuration(overrides, "cycle_wait_seconds"); ok {
		s.cfg.CycleWait = d
	}

	// Every pass gets a sortable id; it rides the context logger so cycle
	// internals and the system_logs summary line can be correlated.
	cycleID := ulid.Make().String()
	lg := observability.LoggerFromContext(ctx).With(slog.String("cycle_id", cycleID))

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cctx = observability.ContextWithLogger(cctx, lg)
	enabled := func() bool { return s.probe.Enabled(cctx) }

	start := s.Now()
	done := make(chan error, 1)
	go func() { done <- s.cycle.Run(cctx, enabled, overrides) }()

	hb := time.NewTicker(s.cfg.Tick)
	defer hb.Stop()
	var err error
drain:
	for {
		select {
		case err = <-done:
			break drain
		case <-hb.C:
			s.heartbeat()
		case <-ctx.Done():
			s.probe.Kill()
			cancel()
			select {
			case err = <-done:
			case <-time.After(s.cfg.DrainTimeout):
				err = fmt.Errorf("op=supervisor.cycle: drain deadline exceeded: %w", ctx.Err())
			}
			break drain
		}
	}

	dur := s.Now().Sub(start)
	durMS := dur.Milliseconds()
	if s.cfg.Mode == ModeCyclic {
		s.nextCycleAt = s.Now().Add(s.cfg.CycleWait)
	}
	switch {
	case err == nil:
		observability.ObserveCycle(s.cfg.Source, "ok", dur)
		s.syslog(slog.LevelInfo, "cycle completed", map[string]any{"cycle_id": cycleID}, &durMS)
	case errors.Is(err, context.Canceled):
		observability.ObserveCycle(s.cfg.Source, "canceled", dur)
		s.syslog(slog.LevelInfo, "cycle canceled", map[string]any{"cycle_id": cycleID}, &durMS)
	default:
		observability.ObserveCycle(s.cfg.Source, "error", dur)
		s.writeError(err)
		s.syslog(slog.LevelError, "cycle failed", map[string]any{
			"cycle_id": cycleID,
			"error":    textx.Truncate(textx.Clean(err.Error()), maxStoredError),
		}, &durMS)
		lg.Error("cycle failed", slog.Any("error", err))
	}
	return err
}

func (s *Supervisor) writeStopped() {
	stopped := domain.StatusStopped
	patch := domain.ControlPatch{Status: &stopped, ClearPID: true}
	if s.lastStatus != domain.StatusStopped {
		now := s.Now().UTC()
		patch.StoppedAt = &now
	}
	s.setStatus(patch)
	s.lastStatus = domain.StatusStopped
}

func (s *Supervisor) writeWaiting() {
	waiting := domain.StatusWaiting
	s.setStatus(domain.ControlPatch{Status: &waiting})
	s.lastStatus = domain.StatusWaiting
	remaining := int(s.nextCycleAt.Sub(s.Now()).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	s.syslog(slog.LevelInfo, "waiting for next cycle",
		map[string]any{"seconds_remaining": remaining}, nil)
}

func (s *Supervisor) writeError(err error) {
	errored := domain.StatusError
	msg := textx.Truncate(textx.Clean(err.Error()), maxStoredError)
	s.setStatus(domain.ControlPatch{Status: &errored, LastError: &msg})
	s.lastStatus = domain.StatusError
}

func (s *Supervisor) shutdown() error {
	s.probe.Kill()
	now := s.Now().UTC()
	stopped := domain.StatusStopped
	s.setStatus(domain.ControlPatch{Status: &stopped, ClearPID: true, StoppedAt: &now})
	s.lastStatus = domain.StatusStopped
	s.syslog(slog.LevelInfo, "scraper stopped", nil, nil)
	return nil
}

// writeCtx returns a short-lived context detached from the run context so
// status writes still go through during shutdown.
func writeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (s *Supervisor) setStatus(patch domain.ControlPatch) {
	patch.UpdatedBy = s.cfg.ScriptName
	ctx, cancel := writeCtx()
	defer cancel()
	if err := s.control.SetStatus(ctx, s.cfg.ScriptName, patch); err != nil {
		slog.Warn("control status write failed",
			slog.String("script", s.cfg.ScriptName),
			slog.Any("error", err))
	}
}

func (s *Supervisor) heartbeat() {
	ctx, cancel := writeCtx()
	defer cancel()
	if err := s.control.Heartbeat(ctx, s.cfg.ScriptName, s.Now().UTC()); err != nil {
		slog.Warn("heartbeat write failed",
			slog.String("script", s.cfg.ScriptName),
			slog.Any("error", err))
	}
}

func (s *Supervisor) syslog(level slog.Level, msg string, fields map[string]any, durMS *int64) {
	if s.logs == nil {
		return
	}
	ctx, cancel := writeCtx()
	defer cancel()
	err := s.logs.Insert(ctx, domain.SystemLogEntry{
		Timestamp:  s.Now().UTC(),
		Source:     "supervisor",
		ScriptName: s.cfg.ScriptName,
		Level:      levelString(level),
		Message:    msg,
		Context:    fields,
		DurationMS: durMS,
	})
	if err != nil {
		slog.Warn("system log insert failed",
			slog.String("script", s.cfg.ScriptName),
			slog.Any("error", err))
	}
}

func levelString(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warning"
	default:
		return "info"
	}
}

// loadOverrides reads the operator config JSON from the control row. Missing
// rows or read errors yield no overrides.
func (s *Supervisor) loadOverrides(ctx context.Context) map[string]any {
	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rec, err := s.control.Load(lctx, s.cfg.ScriptName)
	if err != nil {
		slog.Warn("control config load failed",
			slog.String("script", s.cfg.ScriptName),
			slog.Any("error", err))
		return nil
	}
	return rec.Config
}

// OverrideInt reads an integer override from control-row config JSON, where
// numbers arrive as float64.
func OverrideInt(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// OverrideBool reads a boolean override from control-row config JSON.
func OverrideBool(m map[string]any, key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// OverrideDuration reads a seconds-valued override from control-row config
// JSON.
func OverrideDuration(m map[string]any, key string) (time.Duration, bool) {
	n, ok := OverrideInt(m, key)
	if !ok || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
