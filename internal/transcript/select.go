package transcript

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Select greedily picks a set of pairwise non-overlapping candidates.
//
// Candidates are ranked by ascending score, then ascending start, then
// descending span length, then ascending entry index. Each candidate is
// accepted iff it is disjoint from every candidate accepted before it. The
// accepted set is returned sorted by start. The input slice is not modified.
func Select(candidates []Candidate) []Candidate {
	ranked := slices.Clone(candidates)
	slices.SortStableFunc(ranked, func(a, b Candidate) int {
		return cmp.Or(
			cmp.Compare(a.Score, b.Score),
			cmp.Compare(a.Start, b.Start),
			cmp.Compare(b.Len(), a.Len()),
			cmp.Compare(a.EntryIndex, b.EntryIndex),
		)
	})

	accepted := make([]Candidate, 0, len(ranked))
	for _, cand := range ranked {
		if !overlapsAny(cand, accepted) {
			accepted = append(accepted, cand)
		}
	}
	slices.SortFunc(accepted, func(a, b Candidate) int {
		return cmp.Compare(a.Start, b.Start)
	})
	return accepted
}

func overlapsAny(c Candidate, set []Candidate) bool {
	for _, o := range set {
		if c.Overlaps(o) {
			return true
		}
	}
	return false
}

// Apply returns text with every accepted span replaced by its Replacement.
// accepted must be sorted by Start, pairwise disjoint and within the
// character bounds of text, as returned by [Select]; anything else is a
// programming error and panics.
func Apply(text string, accepted []Candidate) string {
	if len(accepted) == 0 {
		return text
	}
	at := byteOffsets(text)
	chars := len(at) - 1
	var sb strings.Builder
	sb.Grow(len(text))
	pos := 0
	for _, c := range accepted {
		if c.Start < pos || c.End < c.Start || c.End > chars {
			panic(fmt.Sprintf("transcript: apply: span [%d,%d) out of order or bounds (cursor %d, text length %d)", c.Start, c.End, pos, chars))
		}
		sb.WriteString(text[at[pos]:at[c.Start]])
		sb.WriteString(c.Replacement)
		pos = c.End
	}
	sb.WriteString(text[at[pos]:])
	return sb.String()
}
