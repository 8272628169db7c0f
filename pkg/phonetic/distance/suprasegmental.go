package distance

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/phonofix/pkg/phonetic"
)

// TonePair is an unordered pair of tone categories used as a confusion table
// key. {1,3} and {3,1} name the same entry.
type TonePair [2]int

// ToneCosts configures the tone edit distance.
type ToneCosts struct {
	// Confusion maps a pair of distinct tones to its substitution cost.
	// Pairs absent from the table cost Substitution. The table is
	// symmetrised at construction; defining both orders with different
	// costs is a configuration error.
	Confusion map[TonePair]float64

	// Substitution is the cost of substituting two different tones that have
	// no confusion entry.
	Substitution float64

	// Insertion and Deletion are the costs of an extra or a missing tone.
	// Keep them equal for a symmetric metric.
	Insertion float64
	Deletion  float64
}

// DefaultToneConfusion returns the default Mandarin tone confusion table.
// Contour-adjacent tones are cheaper to confuse; the neutral tone (5) is
// half-confusable with every full tone.
func DefaultToneConfusion() map[TonePair]float64 {
	return map[TonePair]float64{
		{1, 2}: 0.6,
		{2, 3}: 0.7,
		{3, 4}: 0.6,
		{1, 4}: 0.9,
		{1, 3}: 0.8,
		{2, 4}: 0.9,
		{1, 5}: 0.5,
		{2, 5}: 0.5,
		{3, 5}: 0.5,
		{4, 5}: 0.5,
	}
}

// DefaultToneCosts returns the default confusion table with unit substitution,
// insertion and deletion costs.
func DefaultToneCosts() ToneCosts {
	return ToneCosts{
		Confusion:    DefaultToneConfusion(),
		Substitution: 1,
		Insertion:    1,
		Deletion:     1,
	}
}

func (t ToneCosts) isZero() bool {
	return t.Confusion == nil && t.Substitution == 0 && t.Insertion == 0 && t.Deletion == 0
}

func (t ToneCosts) validate() error {
	if t.isZero() {
		return nil
	}
	var errs []error
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"tone substitution", t.Substitution},
		{"tone insertion", t.Insertion},
		{"tone deletion", t.Deletion},
	} {
		if !validCost(c.v) {
			errs = append(errs, fmt.Errorf("%w: %s cost must be a finite non-negative number, got %v", ErrInvalidConfig, c.name, c.v))
		}
	}
	if _, err := t.build(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// toneTable is a dense symmetric substitution table indexed by tone value.
// Tones outside [ToneMin, ToneNeutral] are substituted at the flat cost.
type toneTable struct {
	sub      [phonetic.ToneNeutral + 1][phonetic.ToneNeutral + 1]float64
	flat     float64
	ins, del float64
}

func (t ToneCosts) build() (toneTable, error) {
	if t.isZero() {
		t = DefaultToneCosts()
	}
	var tt toneTable
	tt.flat, tt.ins, tt.del = t.Substitution, t.Insertion, t.Deletion
	for a := phonetic.ToneMin; a <= phonetic.ToneNeutral; a++ {
		for b := phonetic.ToneMin; b <= phonetic.ToneNeutral; b++ {
			if a != b {
				tt.sub[a][b] = t.Substitution
			}
		}
	}

	seen := make(map[TonePair]float64, len(t.Confusion))
	for pair, cost := range t.Confusion {
		a, b := pair[0], pair[1]
		switch {
		case a < phonetic.ToneMin || a > phonetic.ToneNeutral || b < phonetic.ToneMin || b > phonetic.ToneNeutral:
			return toneTable{}, fmt.Errorf("%w: tone confusion pair %v out of range [%d,%d]", ErrInvalidConfig, pair, phonetic.ToneMin, phonetic.ToneNeutral)
		case a == b:
			return toneTable{}, fmt.Errorf("%w: tone confusion pair %v must name two different tones", ErrInvalidConfig, pair)
		case !validCost(cost):
			return toneTable{}, fmt.Errorf("%w: tone confusion cost for %v must be a finite non-negative number, got %v", ErrInvalidConfig, pair, cost)
		}
		key := TonePair{min(a, b), max(a, b)}
		if prev, ok := seen[key]; ok && prev != cost {
			return toneTable{}, fmt.Errorf("%w: tone confusion pair %v defined twice with costs %v and %v", ErrInvalidConfig, key, prev, cost)
		}
		seen[key] = cost
		tt.sub[a][b] = cost
		tt.sub[b][a] = cost
	}
	return tt, nil
}

func (tt toneTable) lookup(a, b int) float64 {
	if a == b {
		return 0
	}
	if a < phonetic.ToneMin || a > phonetic.ToneNeutral || b < phonetic.ToneMin || b > phonetic.ToneNeutral {
		return tt.flat
	}
	return tt.sub[a][b]
}

// distance is the confusion-weighted edit distance normalised by
// max(len(a), len(b), 1).
func (tt toneTable) distance(a, b []int) float64 {
	sub := func(i, j int) float64 { return tt.lookup(a[i], b[j]) }
	return editCost(len(a), len(b), sub, tt.del, tt.ins) / normLen(len(a), len(b))
}

// StressCosts configures the stress edit distance. Stress levels are compared
// by equality only.
type StressCosts struct {
	Mismatch  float64
	Insertion float64
	Deletion  float64
}

// DefaultStressCosts returns unit mismatch, insertion and deletion costs.
func DefaultStressCosts() StressCosts {
	return StressCosts{Mismatch: 1, Insertion: 1, Deletion: 1}
}

func (s StressCosts) isZero() bool {
	return s == StressCosts{}
}

func (s StressCosts) validate() error {
	if s.isZero() {
		return nil
	}
	var errs []error
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"stress mismatch", s.Mismatch},
		{"stress insertion", s.Insertion},
		{"stress deletion", s.Deletion},
	} {
		if !validCost(c.v) {
			errs = append(errs, fmt.Errorf("%w: %s cost must be a finite non-negative number, got %v", ErrInvalidConfig, c.name, c.v))
		}
	}
	return errors.Join(errs...)
}

func (s StressCosts) distance(a, b []int) float64 {
	sub := func(i, j int) float64 {
		if a[i] == b[j] {
			return 0
		}
		return s.Mismatch
	}
	return editCost(len(a), len(b), sub, s.Deletion, s.Insertion) / normLen(len(a), len(b))
}

func validCost(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
