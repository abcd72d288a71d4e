package match

import (
	"strings"
	"unicode/utf8"

	"github.com/matzehuels/lilyview/pkg/anchor"
)

// Range is a 0-based, single-line source range. Columns are rune offsets
// and End is exclusive.
type Range struct {
	Line  int `json:"line"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Resolve maps a decoded anchor back onto text. The line is clamped to the
// document and the columns to the line's length. The closed 1-based column
// interval [Column, End()] becomes the half-open range [Column-1, End()),
// and End is never less than Start.
func Resolve(t anchor.Target, text string) Range {
	lines := strings.Split(text, "\n")
	line := clamp(t.Line-1, 0, len(lines)-1)
	width := utf8.RuneCountInString(strings.TrimSuffix(lines[line], "\r"))

	start := clamp(t.Column-1, 0, width)
	end := clamp(t.End(), 0, width)
	if end < start {
		end = start
	}
	return Range{Line: line, Start: start, End: end}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
