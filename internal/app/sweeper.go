package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trawlhq/trawl/internal/config"
	"github.com/trawlhq/trawl/internal/domain"
	"github.com/trawlhq/trawl/internal/service/procman"
)

// StaleSweeper marks control rows whose scraper stopped heartbeating and
// whose process is gone. A quiet but live process is left alone; killing
// the row under it would race its next heartbeat.
type StaleSweeper struct {
	control  domain.ControlStore
	cfg      config.Config
	interval time.Duration

	Alive func(pid int) bool
	Now   func() time.Time
}

func NewStaleSweeper(control domain.ControlStore, cfg config.Config) *StaleSweeper {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &StaleSweeper{
		control:  control,
		cfg:      cfg,
		interval: interval,
		Alive:    procman.Alive,
		Now:      time.Now,
	}
}

// Run sweeps once immediately, then on every tick until the context ends.
func (s *StaleSweeper) Run(ctx context.Context) {
	s.sweepOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StaleSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("app.sweeper")
	ctx, span := tracer.Start(ctx, "sweep_stale_scrapers")
	defer span.End()

	recs, err := s.control.List(ctx)
	if err != nil {
		slog.Error("stale sweep list failed", slog.Any("error", err))
		return
	}

	swept := 0
	for _, rec := range recs {
		if !s.presumedDead(rec) {
			continue
		}
		st := domain.StatusError
		msg := fmt.Sprintf("no heartbeat within %s, process presumed dead",
			s.staleAfter(rec.ScriptName))
		if err := s.control.SetStatus(ctx, rec.ScriptName, domain.ControlPatch{
			Status:    &st,
			LastError: &msg,
			ClearPID:  true,
			UpdatedBy: "sweeper",
		}); err != nil {
			slog.Error("stale sweep update failed",
				slog.String("script", rec.ScriptName), slog.Any("error", err))
			continue
		}
		swept++
		slog.Warn("stale scraper marked dead",
			slog.String("script", rec.ScriptName),
			slog.Any("pid", rec.PID))
	}
	span.SetAttributes(attribute.Int("scrapers.swept", swept))
}

func (s *StaleSweeper) staleAfter(script string) time.Duration {
	if script == domain.ScriptInstagram {
		return s.cfg.InstagramStaleAfter
	}
	return s.cfg.RedditStaleAfter
}

// presumedDead requires all three: an active status, a heartbeat outside the
// staleness window and no live process behind the recorded pid.
func (s *StaleSweeper) presumedDead(rec domain.ControlRecord) bool {
	switch rec.Status {
	case domain.StatusRunning, domain.StatusWaiting, domain.StatusStarting:
	default:
		return false
	}
	ref := rec.LastHeartbeat
	if ref == nil {
		ref = rec.StartedAt
	}
	if ref != nil && s.Now().Sub(*ref) <= s.staleAfter(rec.ScriptName) {
		return false
	}
	if rec.PID != nil && s.Alive(*rec.PID) {
		return false
	}
	return true
}
