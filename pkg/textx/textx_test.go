package textx_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trawlhq/trawl/pkg/textx"
)

func TestClean(t *testing.T) {
	assert.Equal(t, "hello world", textx.Clean("  hello world \x00\x07"))
	assert.Equal(t, "line1\nline2", textx.Clean("line1\r\nline2"))
	assert.Equal(t, "tab\there", textx.Clean("tab\there\x1b\x7f"))
	assert.Equal(t, "caption 🔥", textx.Clean("caption 🔥"))
	assert.Equal(t, "", textx.Clean("\x00\x01\x02"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", textx.Truncate("short", 10))
	assert.Equal(t, "exact", textx.Truncate("exact", 5))
	assert.Equal(t, "lon...", textx.Truncate("long enough to cut", 6))
	assert.Equal(t, "ab", textx.Truncate("abcdef", 2))
	assert.Equal(t, "no cap at all", textx.Truncate("no cap at all", 0))

	// rune-aware, never splits a multibyte character
	assert.Equal(t, "héllo...", textx.Truncate("héllo wörld ééé", 8))
}
