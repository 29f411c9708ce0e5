package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trawlhq/trawl/internal/adapter/repo/memory"
	"github.com/trawlhq/trawl/internal/config"
	"github.com/trawlhq/trawl/internal/domain"
)

var sweepNow = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func newTestSweeper(control *memory.ControlStore, alive map[int]bool) *StaleSweeper {
	s := NewStaleSweeper(control, config.Config{
		RedditStaleAfter:    300 * time.Second,
		InstagramStaleAfter: 120 * time.Second,
		SweepInterval:       time.Minute,
	})
	s.Now = func() time.Time { return sweepNow }
	s.Alive = func(pid int) bool { return alive[pid] }
	return s
}

func seedControl(control *memory.ControlStore, script string, status domain.ScraperStatus, hbAge time.Duration, pid *int) {
	hb := sweepNow.Add(-hbAge)
	control.Seed(domain.ControlRecord{
		ScriptName:    script,
		ScriptType:    "continuous",
		Enabled:       true,
		Status:        status,
		PID:           pid,
		LastHeartbeat: &hb,
	})
}

func TestSweeper_MarksDeadScraper(t *testing.T) {
	control := memory.NewControlStore()
	pid := 4242
	seedControl(control, domain.ScriptReddit, domain.StatusRunning, 10*time.Minute, &pid)

	s := newTestSweeper(control, map[int]bool{})
	s.sweepOnce(context.Background())

	row, err := control.Load(context.Background(), domain.ScriptReddit)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, row.Status)
	assert.Contains(t, row.LastError, "presumed dead")
	assert.Nil(t, row.PID)
	// Sweeping reports a crash; it does not override the operator's intent.
	assert.True(t, row.Enabled)
}

func TestSweeper_FreshHeartbeatLeftAlone(t *testing.T) {
	control := memory.NewControlStore()
	seedControl(control, domain.ScriptReddit, domain.StatusRunning, time.Minute, nil)

	s := newTestSweeper(control, map[int]bool{})
	s.sweepOnce(context.Background())

	row, err := control.Load(context.Background(), domain.ScriptReddit)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, row.Status)
}

func TestSweeper_LiveProcessLeftAlone(t *testing.T) {
	control := memory.NewControlStore()
	pid := 777
	seedControl(control, domain.ScriptReddit, domain.StatusRunning, time.Hour, &pid)

	s := newTestSweeper(control, map[int]bool{777: true})
	s.sweepOnce(context.Background())

	row, err := control.Load(context.Background(), domain.ScriptReddit)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, row.Status)
	require.NotNil(t, row.PID)
}

func TestSweeper_InactiveStatusesIgnored(t *testing.T) {
	control := memory.NewControlStore()
	seedControl(control, domain.ScriptReddit, domain.StatusStopped, time.Hour, nil)
	seedControl(control, domain.ScriptInstagram, domain.StatusError, time.Hour, nil)

	s := newTestSweeper(control, map[int]bool{})
	s.sweepOnce(context.Background())

	reddit, _ := control.Load(context.Background(), domain.ScriptReddit)
	assert.Equal(t, domain.StatusStopped, reddit.Status)
	ig, _ := control.Load(context.Background(), domain.ScriptInstagram)
	assert.Equal(t, domain.StatusError, ig.Status)
}

func TestSweeper_InstagramUsesShorterWindow(t *testing.T) {
	control := memory.NewControlStore()
	// 3 minutes: stale for instagram (120s), fresh for reddit (300s).
	seedControl(control, domain.ScriptInstagram, domain.StatusWaiting, 3*time.Minute, nil)
	seedControl(control, domain.ScriptReddit, domain.StatusRunning, 3*time.Minute, nil)

	s := newTestSweeper(control, map[int]bool{})
	s.sweepOnce(context.Background())

	ig, _ := control.Load(context.Background(), domain.ScriptInstagram)
	assert.Equal(t, domain.StatusError, ig.Status)
	reddit, _ := control.Load(context.Background(), domain.ScriptReddit)
	assert.Equal(t, domain.StatusRunning, reddit.Status)
}

func TestSweeper_RunningWithNoEvidenceIsDead(t *testing.T) {
	control := memory.NewControlStore()
	control.Seed(domain.ControlRecord{
		ScriptName: domain.ScriptReddit,
		ScriptType: "continuous",
		Enabled:    true,
		Status:     domain.StatusRunning,
	})

	s := newTestSweeper(control, map[int]bool{})
	s.sweepOnce(context.Background())

	row, _ := control.Load(context.Background(), domain.ScriptReddit)
	assert.Equal(t, domain.StatusError, row.Status)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	control := memory.NewControlStore()
	s := newTestSweeper(control, map[int]bool{})
	s.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
