package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trawlhq/trawl/internal/domain"
)

// ProxyStore keeps proxy rows keyed by id.
type ProxyStore struct {
	mu   sync.Mutex
	rows map[int64]domain.Proxy

	Now func() time.Time
}

var _ domain.ProxyStore = (*ProxyStore)(nil)

func NewProxyStore(proxies ...domain.Proxy) *ProxyStore {
	s := &ProxyStore{rows: map[int64]domain.Proxy{}, Now: time.Now}
	for _, p := range proxies {
		s.rows[p.ID] = p
	}
	return s
}

func (s *ProxyStore) sorted(activeOnly bool) []domain.Proxy {
	out := make([]domain.Proxy, 0, len(s.rows))
	for _, p := range s.rows {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *ProxyStore) List(_ domain.Context) ([]domain.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(false), nil
}

func (s *ProxyStore) ListActive(_ domain.Context) ([]domain.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(true), nil
}

func (s *ProxyStore) UpdateHealth(_ domain.Context, p domain.Proxy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[p.ID]
	if !ok {
		return fmt.Errorf("op=proxy.update_health: %w", domain.ErrNotFound)
	}
	cur.TotalRequests = p.TotalRequests
	cur.SuccessCount = p.SuccessCount
	cur.ErrorCount = p.ErrorCount
	cur.ConsecutiveErrors = p.ConsecutiveErrors
	cur.AvgLatencyMS = p.AvgLatencyMS
	cur.LastUsedAt = p.LastUsedAt
	cur.LastErrorAt = p.LastErrorAt
	cur.LastErrorMsg = p.LastErrorMsg
	s.rows[p.ID] = cur
	return nil
}

func (s *ProxyStore) Disable(_ domain.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("op=proxy.disable: %w", domain.ErrNotFound)
	}
	now := s.Now().UTC()
	cur.IsActive = false
	cur.LastErrorMsg = reason
	cur.LastErrorAt = &now
	s.rows[id] = cur
	return nil
}

// Get returns one row for assertions.
func (s *ProxyStore) Get(id int64) (domain.Proxy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	return p, ok
}
