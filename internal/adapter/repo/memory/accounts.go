package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/trawlhq/trawl/internal/domain"
)

// AccountStore keeps account rows keyed by id.
type AccountStore struct {
	mu   sync.Mutex
	rows map[int64]domain.Account
}

var _ domain.AccountStore = (*AccountStore)(nil)

func NewAccountStore(accounts ...domain.Account) *AccountStore {
	s := &AccountStore{rows: map[int64]domain.Account{}}
	for _, a := range accounts {
		s.rows[a.ID] = a
	}
	return s
}

func (s *AccountStore) List(_ domain.Context) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0, len(s.rows))
	for _, a := range s.rows {
		if a.Status == domain.AccountDisabled {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HealthScore != out[j].HealthScore {
			return out[i].HealthScore > out[j].HealthScore
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *AccountStore) Update(_ domain.Context, a domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[a.ID]; !ok {
		return fmt.Errorf("op=account.update: %w", domain.ErrNotFound)
	}
	s.rows[a.ID] = a
	return nil
}

// Get returns one row for assertions.
func (s *AccountStore) Get(id int64) (domain.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	return a, ok
}
