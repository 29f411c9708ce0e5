package memory

import (
	"sync"
	"time"

	"github.com/trawlhq/trawl/internal/domain"
)

// SystemLogStore keeps log rows in append order.
type SystemLogStore struct {
	mu   sync.Mutex
	rows []domain.SystemLogEntry

	Now func() time.Time
}

var _ domain.SystemLogStore = (*SystemLogStore)(nil)

func NewSystemLogStore() *SystemLogStore {
	return &SystemLogStore{Now: time.Now}
}

func (s *SystemLogStore) Insert(_ domain.Context, e domain.SystemLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = s.Now().UTC()
	}
	s.rows = append(s.rows, e)
	return nil
}

func (s *SystemLogStore) Recent(_ domain.Context, scriptName string, limit int) ([]domain.SystemLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []domain.SystemLogEntry
	for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if s.rows[i].ScriptName == scriptName {
			out = append(out, s.rows[i])
		}
	}
	return out, nil
}

// All returns a copy of every row, oldest first.
func (s *SystemLogStore) All() []domain.SystemLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SystemLogEntry, len(s.rows))
	copy(out, s.rows)
	return out
}
