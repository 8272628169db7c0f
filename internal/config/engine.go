package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/phonofix/internal/transcript"
	"github.com/MrWong99/phonofix/pkg/phonetic/distance"
)

// DistanceConfig translates the engine section into a calculator
// configuration. Unset fields keep [distance.DefaultConfig] values.
func (e EngineConfig) DistanceConfig() (distance.Config, error) {
	cfg := distance.DefaultConfig()
	var errs []error

	seg, err := distance.ParseSegmentMetric(e.SegmentMetric, e.IndelCost)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.Segment = seg
	}
	feat, err := distance.ParseFeatureMetric(e.FeatureMetric)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.Feature = feat
	}

	if e.Weights != nil {
		cfg.Weights = *e.Weights
	}

	overridden := make(map[distance.TonePair]float64, len(e.Tone.Confusion))
	for key, cost := range e.Tone.Confusion {
		pair, err := ParseTonePair(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pair = distance.TonePair{min(pair[0], pair[1]), max(pair[0], pair[1])}
		if prev, ok := overridden[pair]; ok && prev != cost {
			errs = append(errs, fmt.Errorf("engine.tone.confusion: pair %d-%d defined twice with costs %v and %v", pair[0], pair[1], prev, cost))
			continue
		}
		overridden[pair] = cost
		cfg.Tone.Confusion[pair] = cost
	}
	if e.Tone.Substitution != 0 {
		cfg.Tone.Substitution = e.Tone.Substitution
	}
	if e.Tone.Insertion != 0 {
		cfg.Tone.Insertion = e.Tone.Insertion
	}
	if e.Tone.Deletion != 0 {
		cfg.Tone.Deletion = e.Tone.Deletion
	}

	if e.Stress.Mismatch != 0 {
		cfg.Stress.Mismatch = e.Stress.Mismatch
	}
	if e.Stress.Insertion != 0 {
		cfg.Stress.Insertion = e.Stress.Insertion
	}
	if e.Stress.Deletion != 0 {
		cfg.Stress.Deletion = e.Stress.Deletion
	}

	if len(errs) > 0 {
		return distance.Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return distance.Config{}, err
	}
	return cfg, nil
}

// CorrectorOptions translates the engine section into corrector options.
func (e EngineConfig) CorrectorOptions() []transcript.Option {
	opts := []transcript.Option{
		transcript.WithWorkers(e.Workers),
		transcript.WithMaxWindows(e.MaxWindows),
		transcript.WithRequireToneMatch(e.RequireToneMatch),
		transcript.WithRequireStressMatch(e.RequireStressMatch),
	}
	if e.Threshold != nil {
		opts = append(opts, transcript.WithThreshold(*e.Threshold))
	}
	if e.WindowRadius != nil {
		opts = append(opts, transcript.WithWindowRadius(*e.WindowRadius))
	}
	return opts
}

// ParseTonePair parses a confusion table key such as "2-3" or "2,3". The
// order of the two tones is kept as written.
func ParseTonePair(s string) (distance.TonePair, error) {
	a, b, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		a, b, ok = strings.Cut(strings.TrimSpace(s), ",")
	}
	if !ok {
		return distance.TonePair{}, fmt.Errorf("tone pair %q: want \"a-b\"", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return distance.TonePair{}, fmt.Errorf("tone pair %q: %w", s, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return distance.TonePair{}, fmt.Errorf("tone pair %q: %w", s, err)
	}
	return distance.TonePair{x, y}, nil
}
