package reddit

import (
	"fmt"
	"math"
	"time"

	"github.com/trawlhq/trawl/internal/domain"
)

// noBestWindow is emitted when engagement is too thin to recommend a posting
// window.
const noBestWindow = "N/A"

// Metrics are the weekly-top aggregates cached on the subreddit row.
type Metrics struct {
	AvgUpvotesPerPost float64
	Engagement        float64
	Score             float64
	BestPostingDay    string
	BestPostingHour   string
	SampleSize        int
}

// DeriveMetrics computes posting aggregates from the weekly top set.
// Stickied posts are excluded; best day/hour are only recommended when
// engagement clears the 0.01 floor.
func DeriveMetrics(posts []domain.RedditPost) Metrics {
	kept := make([]domain.RedditPost, 0, len(posts))
	for _, p := range posts {
		if !p.Stickied {
			kept = append(kept, p)
		}
	}
	m := Metrics{
		BestPostingDay:  noBestWindow,
		BestPostingHour: noBestWindow,
		SampleSize:      len(kept),
	}
	if len(kept) == 0 {
		return m
	}
	var sumScore, sumComments int64
	for _, p := range kept {
		sumScore += p.Score
		sumComments += p.NumComments
	}
	m.AvgUpvotesPerPost = float64(sumScore) / float64(len(kept))
	if sumScore > 0 {
		m.Engagement = float64(sumComments) / float64(sumScore)
	}
	if m.Engagement > 0 && m.AvgUpvotesPerPost > 0 {
		m.Score = math.Sqrt(m.Engagement * m.AvgUpvotesPerPost * 1000)
	}
	if m.Engagement > 0.01 {
		m.BestPostingDay = modeWeekday(kept)
		m.BestPostingHour = fmt.Sprintf("%02d:00", modeHour(kept))
	}
	return m
}

// modeWeekday returns the most frequent creation weekday; ties resolve to the
// earlier day of the week so results are stable across runs.
func modeWeekday(posts []domain.RedditPost) string {
	var counts [7]int
	for _, p := range posts {
		counts[int(p.CreatedUTC.UTC().Weekday())]++
	}
	best := 0
	for d := 1; d < 7; d++ {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return time.Weekday(best).String()
}

// modeHour returns the most frequent creation hour (UTC); ties resolve to the
// earlier hour.
func modeHour(posts []domain.RedditPost) int {
	var counts [24]int
	for _, p := range posts {
		counts[p.CreatedUTC.UTC().Hour()]++
	}
	best := 0
	for h := 1; h < 24; h++ {
		if counts[h] > counts[best] {
			best = h
		}
	}
	return best
}

// UserStats are the per-author aggregates derived from recent submissions.
type UserStats struct {
	AvgPostScore         float64
	AvgPostComments      float64
	TotalPostsAnalyzed   int
	PreferredContentType string
	MostActiveHr         *int
	MostActiveDay        string
}

// DeriveUserStats computes posting behavior from an author's submitted set.
func DeriveUserStats(posts []domain.RedditPost) UserStats {
	s := UserStats{TotalPostsAnalyzed: len(posts)}
	if len(posts) == 0 {
		return s
	}
	var sumScore, sumComments int64
	typeCounts := map[string]int{}
	for _, p := range posts {
		sumScore += p.Score
		sumComments += p.NumComments
		typeCounts[p.ContentType]++
	}
	s.AvgPostScore = float64(sumScore) / float64(len(posts))
	s.AvgPostComments = float64(sumComments) / float64(len(posts))
	s.PreferredContentType = modeContentType(typeCounts)
	hr := modeHour(posts)
	s.MostActiveHr = &hr
	s.MostActiveDay = modeWeekday(posts)
	return s
}

// modeContentType picks the dominant content type; ties resolve in the fixed
// order image, video, text, link.
func modeContentType(counts map[string]int) string {
	order := []string{domain.ContentImage, domain.ContentVideo, domain.ContentText, domain.ContentLink}
	best := ""
	bestN := 0
	for _, ct := range order {
		if counts[ct] > bestN {
			best = ct
			bestN = counts[ct]
		}
	}
	return best
}
