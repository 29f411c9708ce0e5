package procman

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trawlhq/trawl/internal/domain"
)

func newTestManager(grace time.Duration) *Manager {
	m := New(grace)
	m.InheritIO = false
	return m
}

func TestManager_StartAndStop(t *testing.T) {
	m := newTestManager(5 * time.Second)
	t.Cleanup(m.StopAll)

	pid, err := m.Start("reddit_scraper", "yes")
	require.NoError(t, err)
	require.Greater(t, pid, 0)
	assert.True(t, Alive(pid))

	got, ok := m.Running("reddit_scraper")
	require.True(t, ok)
	assert.Equal(t, pid, got)

	signaled := m.Stop("reddit_scraper")
	assert.True(t, signaled)

	_, ok = m.Running("reddit_scraper")
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return !Alive(pid) },
		2*time.Second, 20*time.Millisecond)
}

func TestManager_StartTwiceConflicts(t *testing.T) {
	m := newTestManager(5 * time.Second)
	t.Cleanup(m.StopAll)

	_, err := m.Start("reddit_scraper", "yes")
	require.NoError(t, err)

	_, err = m.Start("reddit_scraper", "yes")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestManager_RestartAfterExit(t *testing.T) {
	m := newTestManager(5 * time.Second)
	t.Cleanup(m.StopAll)

	_, err := m.Start("instagram_scraper", "true")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := m.Running("instagram_scraper")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)

	// The dead entry must not block a fresh start.
	pid, err := m.Start("instagram_scraper", "yes")
	require.NoError(t, err)
	assert.True(t, Alive(pid))
}

func TestManager_StopEscalatesToKill(t *testing.T) {
	m := newTestManager(200 * time.Millisecond)
	t.Cleanup(m.StopAll)

	pid, err := m.Start("reddit_scraper",
		"sh", "-c", "trap : TERM; while :; do sleep 0.1; done")
	require.NoError(t, err)

	start := time.Now()
	signaled := m.Stop("reddit_scraper")
	assert.True(t, signaled)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Eventually(t, func() bool { return !Alive(pid) },
		2*time.Second, 20*time.Millisecond)
}

func TestManager_StopUnknownScript(t *testing.T) {
	m := newTestManager(time.Second)
	assert.False(t, m.Stop("never_started"))
}

func TestManager_StopBinaryThatExited(t *testing.T) {
	m := newTestManager(time.Second)
	pid, err := m.Start("reddit_scraper", "true")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !Alive(pid) },
		2*time.Second, 20*time.Millisecond)

	assert.False(t, m.Stop("reddit_scraper"))
}

func TestManager_StopAll(t *testing.T) {
	m := newTestManager(5 * time.Second)
	p1, err := m.Start("reddit_scraper", "yes")
	require.NoError(t, err)
	p2, err := m.Start("instagram_scraper", "yes")
	require.NoError(t, err)

	m.StopAll()

	assert.Eventually(t, func() bool { return !Alive(p1) && !Alive(p2) },
		2*time.Second, 20*time.Millisecond)
}

func TestAlive(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
	assert.False(t, Alive(0))
	assert.False(t, Alive(-1))
}

func TestStartMissingBinary(t *testing.T) {
	m := newTestManager(time.Second)
	_, err := m.Start("reddit_scraper", "/nonexistent/binary-for-test")
	require.Error(t, err)
	_, ok := m.Running("reddit_scraper")
	assert.False(t, ok)
}
