// Package distance compares two [phonetic.Representation] values and combines
// segmental, feature, tone and stress evidence into one non-negative score.
//
// A [Calculator] is built once from a [Config] and is then immutable and safe
// for concurrent use. Metric names are resolved at construction time into
// closed variants ([SegmentMetric], [FeatureMetric]) so that a correction
// pass never dispatches on strings.
//
// Score combination:
//
//	total = Σ w_c · d_c / Σ w_c
//
// where the sums run only over components c that carry evidence on at least
// one side of this specific pair and have w_c > 0. The feature component is
// also skipped when either side has segments but no feature vectors. A Mandarin-only pair is
// therefore not penalised for lacking English stress marks, and an English
// pair is not penalised for lacking tones.
package distance

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/phonofix/pkg/phonetic"
)

// ErrInvalidConfig is returned (wrapped) by [New] and [Config.Validate].
var ErrInvalidConfig = errors.New("distance: invalid config")

// Component names one of the four distance components.
type Component string

// Component values.
const (
	ComponentSegment Component = "segment"
	ComponentFeature Component = "feature"
	ComponentTone    Component = "tone"
	ComponentStress  Component = "stress"
)

// Weights holds the non-negative weight for every component. Weights need not
// sum to one; they are renormalised per comparison over the components that
// are present for that pair.
type Weights struct {
	Segment float64 `yaml:"segment" json:"segment"`
	Feature float64 `yaml:"feature" json:"feature"`
	Tone    float64 `yaml:"tone" json:"tone"`
	Stress  float64 `yaml:"stress" json:"stress"`
}

// DefaultWeights returns the weights used when none are configured.
func DefaultWeights() Weights {
	return Weights{Segment: 0.45, Feature: 0.25, Tone: 0.2, Stress: 0.1}
}

func (w Weights) validate() error {
	var errs []error
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"segment", w.Segment},
		{"feature", w.Feature},
		{"tone", w.Tone},
		{"stress", w.Stress},
	} {
		if c.v < 0 || math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			errs = append(errs, fmt.Errorf("%w: %s weight must be a finite non-negative number, got %v", ErrInvalidConfig, c.name, c.v))
		}
	}
	if len(errs) == 0 && w.Segment+w.Feature+w.Tone+w.Stress == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one weight must be positive", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// Config is the full calculator configuration.
type Config struct {
	Weights Weights

	// Segment is the segmental metric. Nil selects FeatureEdit with unit
	// indel cost and [DefaultSubstitutionFloor].
	Segment SegmentMetric

	// Feature is the local cost used inside DTW. Nil selects CosineDTW.
	Feature FeatureMetric

	// Tone configures the tone edit distance. The zero value selects
	// DefaultToneCosts.
	Tone ToneCosts

	// Stress configures the stress edit distance. The zero value selects
	// DefaultStressCosts.
	Stress StressCosts
}

// DefaultConfig returns the default calculator configuration: feature-weighted
// segment edit distance, cosine DTW, the default tone confusion table and flat
// stress costs.
func DefaultConfig() Config {
	return Config{
		Weights: DefaultWeights(),
		Segment: defaultFeatureEdit(),
		Feature: CosineDTW{},
		Tone:    DefaultToneCosts(),
		Stress:  DefaultStressCosts(),
	}
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Weights.validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Segment != nil {
		if err := c.Segment.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Tone.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Stress.validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Breakdown is the result of one comparison, with every component exposed.
// Components that were not used hold zero and are absent from Used.
type Breakdown struct {
	Total   float64     `json:"total"`
	Segment float64     `json:"segment"`
	Feature float64     `json:"feature"`
	Tone    float64     `json:"tone"`
	Stress  float64     `json:"stress"`
	Used    []Component `json:"used,omitempty"`
}

// Uses reports whether component c contributed to b.Total.
func (b Breakdown) Uses(c Component) bool {
	for _, u := range b.Used {
		if u == c {
			return true
		}
	}
	return false
}

// Calculator computes distances between representations.
type Calculator struct {
	weights Weights
	segment SegmentMetric
	feature FeatureMetric
	tone    toneTable
	stress  StressCosts
}

// New validates cfg and builds a Calculator. All configuration errors are
// reported here; [Calculator.Compare] never fails.
func New(cfg Config) (*Calculator, error) {
	if cfg.Segment == nil {
		cfg.Segment = defaultFeatureEdit()
	}
	if cfg.Feature == nil {
		cfg.Feature = CosineDTW{}
	}
	if cfg.Stress.isZero() {
		cfg.Stress = DefaultStressCosts()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := cfg.Tone.build()
	if err != nil {
		return nil, err
	}
	return &Calculator{
		weights: cfg.Weights,
		segment: cfg.Segment,
		feature: cfg.Feature,
		tone:    table,
		stress:  cfg.Stress,
	}, nil
}

// Weights returns the configured component weights.
func (c *Calculator) Weights() Weights { return c.weights }

// Distance returns Compare(a, b).Total.
func (c *Calculator) Distance(a, b phonetic.Representation) float64 {
	return c.Compare(a, b).Total
}

// Compare computes every present, positively weighted component and combines
// them. Two empty representations compare as 0.
//
// Cost is O(n·m) in the segment counts for the segment and feature
// components and O(p·q) in the suprasegmental unit counts.
func (c *Calculator) Compare(a, b phonetic.Representation) Breakdown {
	var (
		bd        Breakdown
		sum, wsum float64
	)
	add := func(comp Component, w float64, d float64, dst *float64) {
		*dst = d
		sum += w * d
		wsum += w
		bd.Used = append(bd.Used, comp)
	}

	if c.weights.Segment > 0 && (len(a.Segments) > 0 || len(b.Segments) > 0) {
		add(ComponentSegment, c.weights.Segment, c.segment.distance(a, b), &bd.Segment)
	}
	if c.weights.Feature > 0 && comparableFeatures(a, b) {
		add(ComponentFeature, c.weights.Feature, dtw(a.Features, b.Features, c.feature), &bd.Feature)
	}
	if c.weights.Tone > 0 && (len(a.Tones) > 0 || len(b.Tones) > 0) {
		add(ComponentTone, c.weights.Tone, c.tone.distance(a.Tones, b.Tones), &bd.Tone)
	}
	if c.weights.Stress > 0 && (len(a.Stresses) > 0 || len(b.Stresses) > 0) {
		add(ComponentStress, c.weights.Stress, c.stress.distance(a.Stresses, b.Stresses), &bd.Stress)
	}

	if wsum > 0 {
		bd.Total = sum / wsum
	}
	return bd
}

// comparableFeatures reports whether the feature component has evidence for
// a pair: at least one side carries vectors and neither side has segments
// without them. A symbol-only side leaves the comparison to the segment
// component.
func comparableFeatures(a, b phonetic.Representation) bool {
	if len(a.Features) == 0 && len(b.Features) == 0 {
		return false
	}
	return !symbolOnly(a) && !symbolOnly(b)
}

func symbolOnly(r phonetic.Representation) bool {
	return len(r.Segments) > 0 && len(r.Features) == 0
}
