package diff

import (
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Similarity returns 1 minus the character-level edit distance between a and
// b divided by the longer length, ignoring surrounding whitespace. Identical
// inputs score 1; disjoint inputs approach 0.
func Similarity(a, b string) float64 {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(EditDistance(a, b))/float64(longest)
}

// EditDistance returns the Levenshtein distance in runes.
func EditDistance(a, b string) int {
	return levenshtein(CharDiff(a, b))
}

// CharDiff returns the character-level diff of a and b. The computation has
// no deadline so results are reproducible.
func CharDiff(a, b string) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return dmp.DiffMain(a, b, false)
}

func levenshtein(diffs []diffmatchpatch.Diff) int {
	dist, ins, del := 0, 0, 0
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			ins += n
		case diffmatchpatch.DiffDelete:
			del += n
		case diffmatchpatch.DiffEqual:
			dist += max(ins, del)
			ins, del = 0, 0
		}
	}
	return dist + max(ins, del)
}
