package memory

import (
	"sync"
	"time"

	"github.com/trawlhq/trawl/internal/domain"
)

// IGMediaStore keeps media rows keyed by media pk across both kinds.
type IGMediaStore struct {
	mu   sync.Mutex
	rows map[string]domain.IGMedia

	Now func() time.Time
}

var _ domain.IGMediaStore = (*IGMediaStore)(nil)

func NewIGMediaStore() *IGMediaStore {
	return &IGMediaStore{rows: map[string]domain.IGMedia{}, Now: time.Now}
}

func (s *IGMediaStore) Upsert(_ domain.Context, m domain.IGMedia) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, exists := s.rows[m.MediaPK]
	if exists && cur.ViralDetectedAt != nil {
		// First detection wins; later writes never move the timestamp.
		m.ViralDetectedAt = cur.ViralDetectedAt
	} else if m.IsViral && m.ViralDetectedAt == nil {
		now := s.Now().UTC()
		m.ViralDetectedAt = &now
	}
	s.rows[m.MediaPK] = m
	return !exists, nil
}

func (s *IGMediaStore) CountByCreator(_ domain.Context, creatorID string, kind domain.MediaKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.rows {
		if m.CreatorID == creatorID && m.Kind == kind {
			n++
		}
	}
	return n, nil
}

// Get returns one row for assertions.
func (s *IGMediaStore) Get(mediaPK string) (domain.IGMedia, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[mediaPK]
	return m, ok
}

// Len reports the number of stored rows.
func (s *IGMediaStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
