// Package procman launches and reaps scraper subprocesses for the control
// plane. Each script name owns at most one live process; Stop escalates from
// SIGTERM to SIGKILL after a grace period so a wedged drain cannot hold the
// operator hostage.
package procman

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/trawlhq/trawl/internal/domain"
)

type proc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Manager tracks one subprocess per script name.
type Manager struct {
	mu    sync.Mutex
	procs map[string]*proc

	// Grace is how long Stop waits after SIGTERM before sending SIGKILL.
	Grace time.Duration
	// InheritIO routes child stdout and stderr to the parent's streams so
	// container logs capture scraper output.
	InheritIO bool
}

func New(grace time.Duration) *Manager {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &Manager{
		procs:     map[string]*proc{},
		Grace:     grace,
		InheritIO: true,
	}
}

// Start launches bin for the given script and returns its pid. A script that
// already has a live process reports ErrConflict.
func (m *Manager) Start(name, bin string, args ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.procs[name]; ok {
		select {
		case <-p.done:
			delete(m.procs, name)
		default:
			return 0, fmt.Errorf("op=procman.start %s: already running pid=%d: %w",
				name, p.cmd.Process.Pid, domain.ErrConflict)
		}
	}

	cmd := exec.Command(bin, args...)
	cmd.Env = os.Environ()
	if m.InheritIO {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("op=procman.start %s: %w", name, err)
	}

	p := &proc{cmd: cmd, done: make(chan struct{})}
	m.procs[name] = p
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return cmd.Process.Pid, nil
}

// Stop terminates the script's process, SIGTERM first. Reports whether a
// live process was signaled.
func (m *Manager) Stop(name string) bool {
	m.mu.Lock()
	p, ok := m.procs[name]
	if ok {
		delete(m.procs, name)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Exited between the liveness check and the signal.
		return false
	}
	select {
	case <-p.done:
	case <-time.After(m.Grace):
		slog.Warn("graceful stop timed out, killing",
			slog.String("script", name),
			slog.Int("pid", p.cmd.Process.Pid))
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	return true
}

// Running reports the live pid for a script, if any.
func (m *Manager) Running(name string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[name]
	if !ok {
		return 0, false
	}
	select {
	case <-p.done:
		return 0, false
	default:
		return p.cmd.Process.Pid, true
	}
}

// StopAll terminates every tracked process; called at server shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.procs))
	for name := range m.procs {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		m.Stop(name)
	}
}

// Alive reports whether pid refers to a live process. Signal 0 probes
// existence without delivering anything.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
