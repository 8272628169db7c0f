package distance

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/phonofix/pkg/phonetic"
)

// SegmentMetric is the closed set of segmental metrics: [FeatureEdit],
// [PlainEdit], [DamerauEdit] and [JaroWinkler]. Use [ParseSegmentMetric] to
// resolve a configured name.
type SegmentMetric interface {
	// Name returns the configuration name of the metric.
	Name() string

	distance(a, b phonetic.Representation) float64
	validate() error
}

// Segment metric names accepted by [ParseSegmentMetric].
const (
	SegmentFeatureEdit = "feature_edit"
	SegmentPlainEdit   = "levenshtein"
	SegmentDamerauEdit = "damerau"
	SegmentJaroWinkler = "jaro_winkler"
)

// ParseSegmentMetric resolves a metric name. indel is the insertion/deletion
// cost used by [FeatureEdit] and is ignored by the other metrics; a
// non-positive value selects 1. The empty name selects FeatureEdit with
// [DefaultSubstitutionFloor].
func ParseSegmentMetric(name string, indel float64) (SegmentMetric, error) {
	if indel <= 0 {
		indel = 1
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SegmentFeatureEdit:
		return FeatureEdit{IndelCost: indel, SubstitutionFloor: DefaultSubstitutionFloor}, nil
	case SegmentPlainEdit, "plain", "plain_edit":
		return PlainEdit{}, nil
	case SegmentDamerauEdit, "damerau_levenshtein":
		return DamerauEdit{}, nil
	case SegmentJaroWinkler, "jarowinkler":
		return JaroWinkler{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown segment metric %q", ErrInvalidConfig, name)
	}
}

// DefaultSubstitutionFloor is the lowest [FeatureEdit] cost of substituting
// two phones whose feature vectors differ.
const DefaultSubstitutionFloor = 0.3

// FeatureEdit is an edit distance whose substitution cost grows with the
// distance between the two segments' feature vectors.
//
// Identical symbols, and different symbols with identical vectors, cost 0.
// Any other pair costs SubstitutionFloor plus the remaining range scaled by
// the fraction of differing features (the mean absolute per-feature
// difference halved), so {-1,+1} opposites cost 1. A segment without a
// feature vector costs a flat 1 against any different symbol. Insertion and
// deletion cost IndelCost.
type FeatureEdit struct {
	IndelCost float64

	// SubstitutionFloor lies in [0,1]. Zero scores purely by feature
	// fraction.
	SubstitutionFloor float64
}

func defaultFeatureEdit() FeatureEdit {
	return FeatureEdit{IndelCost: 1, SubstitutionFloor: DefaultSubstitutionFloor}
}

// Name implements [SegmentMetric].
func (FeatureEdit) Name() string { return SegmentFeatureEdit }

func (m FeatureEdit) validate() error {
	var errs []error
	if m.IndelCost <= 0 || math.IsNaN(m.IndelCost) || math.IsInf(m.IndelCost, 0) {
		errs = append(errs, fmt.Errorf("%w: indel cost must be positive, got %v", ErrInvalidConfig, m.IndelCost))
	}
	if !(m.SubstitutionFloor >= 0 && m.SubstitutionFloor <= 1) {
		errs = append(errs, fmt.Errorf("%w: substitution floor must lie in [0,1], got %v", ErrInvalidConfig, m.SubstitutionFloor))
	}
	return errors.Join(errs...)
}

func (m FeatureEdit) distance(a, b phonetic.Representation) float64 {
	sub := func(i, j int) float64 {
		if a.Segments[i] == b.Segments[j] {
			return 0
		}
		if i >= len(a.Features) || j >= len(b.Features) {
			return 1
		}
		frac := featureFraction(a.Features[i], b.Features[j])
		if frac == 0 {
			return 0
		}
		return m.SubstitutionFloor + (1-m.SubstitutionFloor)*frac
	}
	raw := editCost(len(a.Segments), len(b.Segments), sub, m.IndelCost, m.IndelCost)
	return raw / normLen(len(a.Segments), len(b.Segments))
}

// featureFraction is mean(|x-y|)/2 over the longer vector, zero-padding the
// shorter one, clamped to [0,1].
func featureFraction(x, y []float64) float64 {
	n := max(len(x), len(y))
	if n == 0 {
		return 1
	}
	var sum float64
	for k := range n {
		var xv, yv float64
		if k < len(x) {
			xv = x[k]
		}
		if k < len(y) {
			yv = y[k]
		}
		sum += math.Abs(xv - yv)
	}
	return min(max(sum/float64(n)/2, 0), 1)
}

// PlainEdit is the Levenshtein distance over phone symbols with flat 0/1
// substitution cost.
type PlainEdit struct{}

// Name implements [SegmentMetric].
func (PlainEdit) Name() string { return SegmentPlainEdit }

func (PlainEdit) validate() error { return nil }

func (PlainEdit) distance(a, b phonetic.Representation) float64 {
	sa, sb := intern(a.Segments, b.Segments)
	return float64(matchr.Levenshtein(sa, sb)) / normLen(len(a.Segments), len(b.Segments))
}

// DamerauEdit is the Levenshtein distance with adjacent transpositions, over
// phone symbols.
type DamerauEdit struct{}

// Name implements [SegmentMetric].
func (DamerauEdit) Name() string { return SegmentDamerauEdit }

func (DamerauEdit) validate() error { return nil }

func (DamerauEdit) distance(a, b phonetic.Representation) float64 {
	sa, sb := intern(a.Segments, b.Segments)
	return float64(matchr.DamerauLevenshtein(sa, sb)) / normLen(len(a.Segments), len(b.Segments))
}

// JaroWinkler is 1 minus the Jaro-Winkler similarity over phone symbols. It is
// not an edit distance and is already bounded to [0,1], so it is not
// length-normalised.
type JaroWinkler struct{}

// Name implements [SegmentMetric].
func (JaroWinkler) Name() string { return SegmentJaroWinkler }

func (JaroWinkler) validate() error { return nil }

func (JaroWinkler) distance(a, b phonetic.Representation) float64 {
	if len(a.Segments) == 0 && len(b.Segments) == 0 {
		return 0
	}
	sa, sb := intern(a.Segments, b.Segments)
	return 1 - matchr.JaroWinkler(sa, sb, false)
}

// internBase is the first rune of the Unicode private use area. Phone symbols
// may span several runes ("tʃ", "aɪ"), so each distinct symbol is mapped to
// one private-use rune before handing the pair to the rune-based matchr
// algorithms.
const internBase = 0xE000

func intern(a, b []string) (string, string) {
	ids := make(map[string]rune, len(a)+len(b))
	encode := func(segs []string) string {
		var sb strings.Builder
		sb.Grow(len(segs) * 3)
		for _, s := range segs {
			r, ok := ids[s]
			if !ok {
				r = rune(internBase + len(ids))
				ids[s] = r
			}
			sb.WriteRune(r)
		}
		return sb.String()
	}
	return encode(a), encode(b)
}
