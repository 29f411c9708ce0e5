package reddit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trawlhq/trawl/internal/domain"
)

// 2026-08-24 is a Monday.
func onDay(day int, hour int) time.Time {
	return time.Date(2026, 8, day, hour, 30, 0, 0, time.UTC)
}

func scoredPost(score, comments int64, created time.Time) domain.RedditPost {
	return domain.RedditPost{
		RedditID:    created.Format("150405") + "x",
		Score:       score,
		NumComments: comments,
		CreatedUTC:  created,
	}
}

func TestDeriveMetrics_Empty(t *testing.T) {
	m := DeriveMetrics(nil)

	assert.Zero(t, m.SampleSize)
	assert.Zero(t, m.AvgUpvotesPerPost)
	assert.Zero(t, m.Engagement)
	assert.Zero(t, m.Score)
	assert.Equal(t, "N/A", m.BestPostingDay)
	assert.Equal(t, "N/A", m.BestPostingHour)
}

func TestDeriveMetrics_FiltersStickied(t *testing.T) {
	sticky := scoredPost(100000, 9000, onDay(24, 10))
	sticky.Stickied = true
	posts := []domain.RedditPost{
		sticky,
		scoredPost(100, 10, onDay(24, 10)),
		scoredPost(300, 30, onDay(24, 11)),
	}

	m := DeriveMetrics(posts)

	assert.Equal(t, 2, m.SampleSize)
	assert.InDelta(t, 200.0, m.AvgUpvotesPerPost, 1e-9)
}

func TestDeriveMetrics_Averages(t *testing.T) {
	posts := []domain.RedditPost{
		scoredPost(100, 10, onDay(26, 14)),
		scoredPost(200, 20, onDay(26, 14)),
		scoredPost(300, 30, onDay(26, 14)),
	}

	m := DeriveMetrics(posts)

	assert.Equal(t, 3, m.SampleSize)
	assert.InDelta(t, 200.0, m.AvgUpvotesPerPost, 1e-9)
	assert.InDelta(t, 0.1, m.Engagement, 1e-9)
	// sqrt(0.1 * 200 * 1000)
	assert.InDelta(t, 141.4213562, m.Score, 1e-6)
	assert.Equal(t, "Wednesday", m.BestPostingDay)
	assert.Equal(t, "14:00", m.BestPostingHour)
}

func TestDeriveMetrics_LowEngagementHidesWindows(t *testing.T) {
	posts := []domain.RedditPost{
		scoredPost(1000, 1, onDay(24, 9)),
		scoredPost(1000, 1, onDay(24, 9)),
	}

	m := DeriveMetrics(posts)

	assert.InDelta(t, 0.001, m.Engagement, 1e-9)
	assert.Greater(t, m.Score, 0.0)
	assert.Equal(t, "N/A", m.BestPostingDay)
	assert.Equal(t, "N/A", m.BestPostingHour)
}

func TestDeriveMetrics_ZeroScores(t *testing.T) {
	posts := []domain.RedditPost{
		scoredPost(0, 5, onDay(24, 9)),
		scoredPost(0, 7, onDay(24, 9)),
	}

	m := DeriveMetrics(posts)

	assert.Zero(t, m.Engagement)
	assert.Zero(t, m.Score)
	assert.Equal(t, "N/A", m.BestPostingDay)
}

func TestDeriveMetrics_SingleDigitHourPadded(t *testing.T) {
	posts := []domain.RedditPost{scoredPost(10, 10, onDay(24, 9))}

	m := DeriveMetrics(posts)

	assert.Equal(t, "09:00", m.BestPostingHour)
}

func TestModeWeekday_TieResolvesToEarlierDay(t *testing.T) {
	// Two Mondays, two Wednesdays.
	posts := []domain.RedditPost{
		scoredPost(1, 1, onDay(24, 9)),
		scoredPost(1, 1, onDay(24, 10)),
		scoredPost(1, 1, onDay(26, 9)),
		scoredPost(1, 1, onDay(26, 10)),
	}

	assert.Equal(t, "Monday", modeWeekday(posts))
}

func TestModeHour_TieResolvesToEarlierHour(t *testing.T) {
	posts := []domain.RedditPost{
		scoredPost(1, 1, onDay(24, 8)),
		scoredPost(1, 1, onDay(24, 22)),
	}

	assert.Equal(t, 8, modeHour(posts))
}

func TestDeriveUserStats(t *testing.T) {
	mk := func(ct string, score, comments int64, created time.Time) domain.RedditPost {
		p := scoredPost(score, comments, created)
		p.ContentType = ct
		return p
	}
	posts := []domain.RedditPost{
		mk(domain.ContentImage, 40, 4, onDay(24, 20)),
		mk(domain.ContentImage, 60, 6, onDay(25, 20)),
		mk(domain.ContentVideo, 20, 2, onDay(26, 20)),
	}

	s := DeriveUserStats(posts)

	assert.Equal(t, 3, s.TotalPostsAnalyzed)
	assert.InDelta(t, 40.0, s.AvgPostScore, 1e-9)
	assert.InDelta(t, 4.0, s.AvgPostComments, 1e-9)
	assert.Equal(t, domain.ContentImage, s.PreferredContentType)
	require.NotNil(t, s.MostActiveHr)
	assert.Equal(t, 20, *s.MostActiveHr)
	assert.Equal(t, "Monday", s.MostActiveDay)
}

func TestDeriveUserStats_Empty(t *testing.T) {
	s := DeriveUserStats(nil)

	assert.Zero(t, s.TotalPostsAnalyzed)
	assert.Empty(t, s.PreferredContentType)
	assert.Nil(t, s.MostActiveHr)
}

func TestModeContentType_TieOrder(t *testing.T) {
	counts := map[string]int{
		domain.ContentVideo: 2,
		domain.ContentImage: 2,
		domain.ContentText:  1,
	}

	assert.Equal(t, domain.ContentImage, modeContentType(counts))
}
