package reddit

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/trawlhq/trawl/internal/domain"
)

//go:embed keywords.yaml
var defaultKeywords []byte

// Keywords are the marker sets behind subreddit auto-classification. The
// embedded defaults ship with the binary; operators point KEYWORDS_FILE at a
// replacement to tune them without a rebuild.
type Keywords struct {
	NonRelated   []string `yaml:"non_related"`
	Verification []string `yaml:"verification"`
}

// LoadKeywords reads the marker sets from path, falling back to the embedded
// defaults when path is empty.
func LoadKeywords(path string) (Keywords, error) {
	raw := defaultKeywords
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Keywords{}, fmt.Errorf("op=reddit.keywords: %w", err)
		}
		raw = b
	}
	var kw Keywords
	if err := yaml.Unmarshal(raw, &kw); err != nil {
		return Keywords{}, fmt.Errorf("op=reddit.keywords: %w", err)
	}
	for i, k := range kw.NonRelated {
		kw.NonRelated[i] = strings.ToLower(k)
	}
	for i, k := range kw.Verification {
		kw.Verification[i] = strings.ToLower(k)
	}
	return kw, nil
}

// MatchNonRelated reports whether text carries any non-related marker. The
// text must already be lowercased.
func (k Keywords) MatchNonRelated(text string) bool {
	return containsAny(text, k.NonRelated)
}

// MatchVerification reports whether text carries any verification marker.
func (k Keywords) MatchVerification(text string) bool {
	return containsAny(text, k.Verification)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// ClassificationText flattens rules and descriptions into the lowercase
// haystack used for keyword matching.
func ClassificationText(rules []domain.SubredditRule, descriptions ...string) string {
	var b strings.Builder
	for _, r := range rules {
		b.WriteString(r.ShortName)
		b.WriteByte(' ')
		b.WriteString(r.Description)
		b.WriteByte(' ')
	}
	for _, d := range descriptions {
		b.WriteString(d)
		b.WriteByte(' ')
	}
	return strings.ToLower(b.String())
}
