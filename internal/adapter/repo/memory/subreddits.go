package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trawlhq/trawl/internal/domain"
)

// SubredditStore keeps subreddit rows keyed by name.
type SubredditStore struct {
	mu   sync.Mutex
	rows map[string]domain.Subreddit
}

var _ domain.SubredditStore = (*SubredditStore)(nil)

func NewSubredditStore(subs ...domain.Subreddit) *SubredditStore {
	s := &SubredditStore{rows: map[string]domain.Subreddit{}}
	for _, sub := range subs {
		s.rows[sub.Name] = sub
	}
	return s
}

func (s *SubredditStore) Get(_ domain.Context, name string) (domain.Subreddit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.rows[name]
	if !ok {
		return domain.Subreddit{}, fmt.Errorf("op=subreddit.get: %w", domain.ErrNotFound)
	}
	return sub, nil
}

func (s *SubredditStore) Exists(_ domain.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[name]
	return ok, nil
}

func (s *SubredditStore) Upsert(_ domain.Context, sub domain.Subreddit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rows[sub.Name]; ok {
		// Operator-curated columns survive updates.
		sub.Over18 = cur.Over18
		sub.PrimaryCategory = cur.PrimaryCategory
		sub.Tags = cur.Tags
		if cur.Review != nil {
			sub.Review = cur.Review
		}
	}
	s.rows[sub.Name] = sub
	return nil
}

func (s *SubredditStore) InsertDiscovered(_ domain.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[name]; ok {
		return nil
	}
	s.rows[name] = domain.Subreddit{Name: name}
	return nil
}

func (s *SubredditStore) ListDueForRefresh(_ domain.Context, olderThan time.Time, limit int) ([]domain.Subreddit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Subreddit
	for _, sub := range s.rows {
		if sub.Review == nil || *sub.Review != domain.ReviewOk {
			continue
		}
		if sub.LastScrapedAt == nil || !sub.LastScrapedAt.Before(olderThan) {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastScrapedAt.Before(*out[j].LastScrapedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SubredditStore) ListNeverScraped(_ domain.Context, limit int) ([]domain.Subreddit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Subreddit
	for _, sub := range s.rows {
		if sub.LastScrapedAt == nil {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports the number of stored rows.
func (s *SubredditStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
