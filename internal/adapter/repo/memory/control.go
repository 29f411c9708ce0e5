// Package memory provides in-memory implementations of the domain store
// ports. They mirror the semantics of the postgres adapters (operator-field
// preservation, write-once viral timestamps, conflict-free discovery inserts)
// and back the cycle and supervisor tests.
package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trawlhq/trawl/internal/domain"
)

// ControlStore keeps scraper control rows in a map keyed by script name.
type ControlStore struct {
	mu   sync.Mutex
	rows map[string]domain.ControlRecord

	// Now is the clock used for stamped columns; tests may replace it.
	Now func() time.Time
}

var _ domain.ControlStore = (*ControlStore)(nil)

func NewControlStore() *ControlStore {
	return &ControlStore{rows: map[string]domain.ControlRecord{}, Now: time.Now}
}

func (s *ControlStore) Load(_ domain.Context, name string) (domain.ControlRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[name]
	if !ok {
		return domain.ControlRecord{}, fmt.Errorf("op=control.load: %w", domain.ErrNotFound)
	}
	return rec, nil
}

func (s *ControlStore) List(_ domain.Context) ([]domain.ControlRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ControlRecord, 0, len(s.rows))
	for _, rec := range s.rows {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScriptName < out[j].ScriptName })
	return out, nil
}

func (s *ControlStore) EnsureExists(_ domain.Context, name, scriptType string, defaults map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[name]; ok {
		return nil
	}
	s.rows[name] = domain.ControlRecord{
		ScriptName: name,
		ScriptType: scriptType,
		Enabled:    false,
		Status:     domain.StatusStopped,
		Config:     defaults,
		UpdatedAt:  s.Now().UTC(),
	}
	return nil
}

func (s *ControlStore) SetStatus(_ domain.Context, name string, patch domain.ControlPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[name]
	if !ok {
		return fmt.Errorf("op=control.set_status: %w", domain.ErrNotFound)
	}
	now := s.Now().UTC()
	if patch.Enabled != nil {
		rec.Enabled = *patch.Enabled
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.ClearPID {
		rec.PID = nil
	} else if patch.PID != nil {
		pid := *patch.PID
		rec.PID = &pid
	}
	if patch.StartedAt != nil {
		t := *patch.StartedAt
		rec.StartedAt = &t
	}
	if patch.StoppedAt != nil {
		t := *patch.StoppedAt
		rec.StoppedAt = &t
	}
	if patch.LastError != nil {
		rec.LastError = *patch.LastError
		rec.LastErrorAt = &now
	}
	if patch.UpdatedBy != "" {
		rec.UpdatedBy = patch.UpdatedBy
	}
	rec.UpdatedAt = now
	s.rows[name] = rec
	return nil
}

func (s *ControlStore) Heartbeat(_ domain.Context, name string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[name]
	if !ok {
		return fmt.Errorf("op=control.heartbeat: %w", domain.ErrNotFound)
	}
	t := now.UTC()
	rec.LastHeartbeat = &t
	rec.UpdatedAt = t
	s.rows[name] = rec
	return nil
}

// Seed replaces one row wholesale; a test convenience.
func (s *ControlStore) Seed(rec domain.ControlRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rec.ScriptName] = rec
}

// SetEnabled flips the operator lever directly.
func (s *ControlStore) SetEnabled(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.rows[name]
	rec.ScriptName = name
	rec.Enabled = enabled
	s.rows[name] = rec
}
