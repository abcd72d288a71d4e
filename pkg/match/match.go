// Package match picks the rendered anchor that best corresponds to a cursor
// position, and maps a clicked anchor back to a source range.
//
// Scores are lower-is-better. A line mismatch outweighs everything else, so
// a same-line anchor always beats an anchor on another line. Being inside an
// anchor's column range outweighs being near it. Among near-ties, tighter and
// better-centered anchors win. The currently selected anchor gets a small
// bonus, and [ChooseBest] keeps it unless a rival improves on it by more than
// a hysteresis band. That keeps the highlight from flickering between
// near-tied candidates as the cursor moves one column at a time.
package match

import (
	"math"

	"github.com/matzehuels/lilyview/pkg/anchor"
)

// Scoring weights. Their ordering matters more than their magnitudes:
// line mismatch ≫ out-of-range ≫ column distance > span > selection bias.
const (
	LinePenalty       = 100000.0
	OutOfRangePenalty = 1500.0
	ColumnWeight      = 10.0
	SpanWeight        = 0.05
	SelectedBonus     = 0.25
)

// DefaultHysteresis is the score band within which the current selection is
// kept over a marginally better candidate.
const DefaultHysteresis = 0.6

// Cursor is a 1-based source position.
type Cursor struct {
	Path   string
	Line   int
	Column int
}

// Score rates how well a matches the 1-based (line, column). Lower is better.
func Score(a anchor.Anchor, line, column int, selected bool) float64 {
	start, end := a.Column, a.End()
	lineDelta := absInt(a.Line - line)
	span := max(0, end-start)
	inRange := lineDelta == 0 && start <= column && column <= end

	colDelta := 0
	if !inRange {
		switch {
		case column < start:
			colDelta = start - column
		case column > end:
			colDelta = column - end
		}
	}
	center := math.Abs(float64(column) - float64(start+end)/2)

	score := float64(lineDelta)*LinePenalty +
		float64(colDelta)*ColumnWeight +
		center +
		float64(span)*SpanWeight
	if !inRange {
		score += OutOfRangePenalty
	}
	if selected {
		score -= SelectedBonus
	}
	return score
}

// ChooseBest returns the lowest-scoring candidate, except that current is
// kept when it is among the candidates and scores within hysteresis of the
// best. It reports false for an empty candidate pool.
func ChooseBest(candidates []anchor.Anchor, line, column int, current *anchor.Anchor, hysteresis float64) (anchor.Anchor, bool) {
	if len(candidates) == 0 {
		return anchor.Anchor{}, false
	}

	bestIdx := -1
	var bestScore, currentScore float64
	currentFound := false

	for i, a := range candidates {
		selected := current != nil && a == *current
		s := Score(a, line, column, selected)
		if selected {
			currentScore = s
			currentFound = true
		}
		if bestIdx < 0 || s < bestScore {
			bestIdx, bestScore = i, s
		}
	}

	best := candidates[bestIdx]
	if currentFound && best != *current && currentScore-bestScore <= hysteresis {
		return *current, true
	}
	return best, true
}

// Candidates narrows all to the anchors worth scoring for c: anchors in the
// cursor's file (falling back to all anchors when none match), then anchors
// on the cursor's line (falling back to the file-filtered set).
func Candidates(all []anchor.Anchor, c Cursor) []anchor.Anchor {
	pool := filter(all, func(a anchor.Anchor) bool { return anchor.SamePath(a.Path, c.Path) })
	if len(pool) == 0 {
		pool = all
	}
	onLine := filter(pool, func(a anchor.Anchor) bool { return a.Line == c.Line })
	if len(onLine) == 0 {
		return pool
	}
	return onLine
}

func filter(in []anchor.Anchor, keep func(anchor.Anchor) bool) []anchor.Anchor {
	var out []anchor.Anchor
	for _, a := range in {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
