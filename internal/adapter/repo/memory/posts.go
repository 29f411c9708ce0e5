package memory

import (
	"sync"

	"github.com/trawlhq/trawl/internal/domain"
)

// RedditPostStore keeps post rows keyed by reddit id.
type RedditPostStore struct {
	mu   sync.Mutex
	rows map[string]domain.RedditPost
}

var _ domain.RedditPostStore = (*RedditPostStore)(nil)

func NewRedditPostStore() *RedditPostStore {
	return &RedditPostStore{rows: map[string]domain.RedditPost{}}
}

func (s *RedditPostStore) UpsertBatch(_ domain.Context, posts []domain.RedditPost) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range posts {
		s.rows[p.RedditID] = p
	}
	return len(posts), nil
}

// Get returns one row for assertions.
func (s *RedditPostStore) Get(redditID string) (domain.RedditPost, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[redditID]
	return p, ok
}

// Len reports the number of stored rows.
func (s *RedditPostStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
