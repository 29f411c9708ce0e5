// Package textx normalizes text pulled from upstream APIs before it is
// stored. Scraped titles, captions and error bodies occasionally carry
// control bytes or run to absurd lengths.
package textx

import (
	"strings"
	"unicode/utf8"
)

// Clean strips control characters except newline and tab, folds CRLF to
// newline and trims surrounding whitespace.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Truncate caps s at max runes, marking the cut with an ellipsis. max <= 0
// means no cap.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
