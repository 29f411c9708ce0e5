package instagram

import (
	"regexp"
	"strings"
)

var (
	hashtagRe = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)
	mentionRe = regexp.MustCompile(`@([A-Za-z0-9_.]+)`)
)

// ExtractHashtags returns the caption's hashtags, lowercased and deduplicated
// in first-seen order.
func ExtractHashtags(caption string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, m := range hashtagRe.FindAllStringSubmatch(caption, -1) {
		tag := strings.ToLower(m[1])
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// ExtractMentions returns mentioned usernames, lowercased and deduplicated.
// Sentence punctuation after a mention is not part of the username.
func ExtractMentions(caption string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, m := range mentionRe.FindAllStringSubmatch(caption, -1) {
		name := strings.ToLower(strings.TrimRight(m[1], "."))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
