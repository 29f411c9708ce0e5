package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/trawlhq/trawl/internal/domain"
)

// CreatorStore keeps creator rows keyed by ig user id.
type CreatorStore struct {
	mu   sync.Mutex
	rows map[string]domain.Creator
}

var _ domain.CreatorStore = (*CreatorStore)(nil)

func NewCreatorStore(creators ...domain.Creator) *CreatorStore {
	s := &CreatorStore{rows: map[string]domain.Creator{}}
	for _, c := range creators {
		s.rows[c.IGUserID] = c
	}
	return s
}

func (s *CreatorStore) Get(_ domain.Context, igUserID string) (domain.Creator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[igUserID]
	if !ok {
		return domain.Creator{}, fmt.Errorf("op=creator.get: %w", domain.ErrNotFound)
	}
	return c, nil
}

func (s *CreatorStore) GetByUsername(_ domain.Context, username string) (domain.Creator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.rows {
		if c.Username == username {
			return c, nil
		}
	}
	return domain.Creator{}, fmt.Errorf("op=creator.get_by_username: %w", domain.ErrNotFound)
}

func (s *CreatorStore) Upsert(_ domain.Context, c domain.Creator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rows[c.IGUserID]; ok {
		// Review, tagging and rollup columns belong to other writers.
		c.ReviewStatus = cur.ReviewStatus
		c.RelatedCreatorsProcessed = cur.RelatedCreatorsProcessed
		c.BodyTags = cur.BodyTags
		c.TagConfidence = cur.TagConfidence
		c.TagsAnalyzedAt = cur.TagsAnalyzedAt
		c.ModelVersion = cur.ModelVersion
		c.ReelsCount = cur.ReelsCount
		c.TotalViews = cur.TotalViews
		c.AvgViewsPerReel = cur.AvgViewsPerReel
		c.AvgViewsPerReelCached = cur.AvgViewsPerReelCached
		c.AvgEngagementCached = cur.AvgEngagementCached
	}
	s.rows[c.IGUserID] = c
	return nil
}

func (s *CreatorStore) InsertPending(_ domain.Context, c domain.Creator) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[c.IGUserID]; ok {
		return false, nil
	}
	c.ReviewStatus = domain.CreatorReviewPending
	s.rows[c.IGUserID] = c
	return true, nil
}

func (s *CreatorStore) ListForScrape(_ domain.Context, reviewStatus string, limit int) ([]domain.Creator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Creator
	for _, c := range s.rows {
		if c.ReviewStatus == reviewStatus {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.LastScrapedAt == nil && b.LastScrapedAt == nil:
			return a.IGUserID < b.IGUserID
		case a.LastScrapedAt == nil:
			return true
		case b.LastScrapedAt == nil:
			return false
		case !a.LastScrapedAt.Equal(*b.LastScrapedAt):
			return a.LastScrapedAt.Before(*b.LastScrapedAt)
		}
		return a.IGUserID < b.IGUserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *CreatorStore) ListRelatedUnprocessed(_ domain.Context, limit int) ([]domain.Creator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Creator
	for _, c := range s.rows {
		if c.ReviewStatus == domain.CreatorReviewOk && !c.RelatedCreatorsProcessed {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IGUserID < out[j].IGUserID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *CreatorStore) MarkRelatedProcessed(_ domain.Context, igUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[igUserID]
	if !ok {
		return fmt.Errorf("op=creator.mark_related: %w", domain.ErrNotFound)
	}
	c.RelatedCreatorsProcessed = true
	s.rows[igUserID] = c
	return nil
}

func (s *CreatorStore) UpdateRollups(_ domain.Context, igUserID string, r domain.CreatorRollups) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[igUserID]
	if !ok {
		return fmt.Errorf("op=creator.update_rollups: %w", domain.ErrNotFound)
	}
	c.ReelsCount = int64(r.ReelsCount)
	c.TotalViews = r.TotalViews
	c.AvgViewsPerReel = r.AvgViews
	c.AvgViewsPerReelCached = r.AvgViews
	c.AvgEngagementCached = r.AvgEngagement
	s.rows[igUserID] = c
	return nil
}
