package memory

import (
	"fmt"
	"sync"

	"github.com/trawlhq/trawl/internal/domain"
)

// RedditUserStore keeps user rows keyed by username.
type RedditUserStore struct {
	mu   sync.Mutex
	rows map[string]domain.RedditUser
}

var _ domain.RedditUserStore = (*RedditUserStore)(nil)

func NewRedditUserStore(users ...domain.RedditUser) *RedditUserStore {
	s := &RedditUserStore{rows: map[string]domain.RedditUser{}}
	for _, u := range users {
		s.rows[u.Username] = u
	}
	return s
}

func (s *RedditUserStore) Get(_ domain.Context, username string) (domain.RedditUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.rows[username]
	if !ok {
		return domain.RedditUser{}, fmt.Errorf("op=user.get: %w", domain.ErrNotFound)
	}
	return u, nil
}

func (s *RedditUserStore) Exists(_ domain.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[username]
	return ok, nil
}

func (s *RedditUserStore) Upsert(_ domain.Context, u domain.RedditUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rows[u.Username]; ok {
		// OurCreator is operator-curated and survives updates.
		u.OurCreator = cur.OurCreator
	}
	s.rows[u.Username] = u
	return nil
}

// Len reports the number of stored rows.
func (s *RedditUserStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
