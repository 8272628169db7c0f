// Package phonetic defines the phonetic representation that flows between a
// [Transcriber] and the distance calculator in package distance.
//
// A [Representation] carries four parallel views of how a span of text sounds:
//
//   - Segments: the ordered phone symbols (IPA), e.g. ["m", "ɪ", "n", "ɪ"].
//   - Features: one articulatory feature vector per segment.
//   - Tones: one tone category (1–5) per tone-bearing unit, e.g. a Mandarin
//     syllable. Empty when the span has no tonal content.
//   - Stresses: one stress level (0–2) per stress-bearing unit, e.g. an
//     English word. Empty when the span has no stress-accent content.
//
// Tones and Stresses index suprasegmental units, not phones, so their length
// is independent of len(Segments).
//
// Representations are immutable by convention: producers must not retain and
// later mutate the slices they return, and consumers must not modify them.
// This allows a single value to be shared between goroutines and caches.
package phonetic

import (
	"context"
	"errors"
	"fmt"
)

// Tone and stress value ranges.
const (
	// ToneMin is the lowest valid tone category.
	ToneMin = 1

	// ToneNeutral is the neutral (unmarked) tone. It is also the highest valid
	// tone category.
	ToneNeutral = 5

	// StressNone marks an unstressed unit.
	StressNone = 0

	// StressSecondary marks a unit with secondary stress.
	StressSecondary = 1

	// StressPrimary marks a unit with primary stress.
	StressPrimary = 2
)

// ErrUnsupported is returned (wrapped) by a [Transcriber] when it cannot
// produce a representation for its input, e.g. because the script is not
// covered or a lexicon entry is missing. Callers should skip the span rather
// than abort.
var ErrUnsupported = errors.New("phonetic: unsupported input")

// ErrInvalidRepresentation is returned by [Representation.Validate].
var ErrInvalidRepresentation = errors.New("phonetic: invalid representation")

// Representation is the normalised output of a transcription for one span of
// text. The zero value is the representation of the empty string.
type Representation struct {
	// Segments is the ordered sequence of phone symbols.
	Segments []string `json:"segments" yaml:"segments" msgpack:"segments"`

	// Features holds one feature vector per segment, all of one length.
	// Values are usually in {-1, 0, +1} but real-valued articulatory
	// coordinates are allowed. Symbol-only transcribers leave Features
	// empty; the distance calculator then skips the feature component and
	// charges a flat substitution cost for differing symbols.
	Features [][]float64 `json:"features,omitempty" yaml:"features,omitempty" msgpack:"features,omitempty"`

	// Tones holds one tone category in [ToneMin, ToneNeutral] per
	// tone-bearing unit.
	Tones []int `json:"tones,omitempty" yaml:"tones,omitempty" msgpack:"tones,omitempty"`

	// Stresses holds one stress level in [StressNone, StressPrimary] per
	// stress-bearing unit.
	Stresses []int `json:"stresses,omitempty" yaml:"stresses,omitempty" msgpack:"stresses,omitempty"`
}

// IsEmpty reports whether r carries no phonetic evidence at all.
func (r Representation) IsEmpty() bool {
	return len(r.Segments) == 0 && len(r.Tones) == 0 && len(r.Stresses) == 0
}

// Validate checks the structural invariants of r: Features is either empty
// or holds exactly one vector per segment, all of the same non-zero length;
// tones lie in [1,5] and stresses in [0,2].
func (r Representation) Validate() error {
	if len(r.Features) != 0 {
		if len(r.Features) != len(r.Segments) {
			return fmt.Errorf("%w: %d feature vectors for %d segments", ErrInvalidRepresentation, len(r.Features), len(r.Segments))
		}
		dim := len(r.Features[0])
		for i, f := range r.Features {
			if len(f) == 0 || len(f) != dim {
				return fmt.Errorf("%w: features[%d] has %d values, features[0] has %d", ErrInvalidRepresentation, i, len(f), dim)
			}
		}
	}
	for i, t := range r.Tones {
		if t < ToneMin || t > ToneNeutral {
			return fmt.Errorf("%w: tones[%d]=%d out of range [%d,%d]", ErrInvalidRepresentation, i, t, ToneMin, ToneNeutral)
		}
	}
	for i, s := range r.Stresses {
		if s < StressNone || s > StressPrimary {
			return fmt.Errorf("%w: stresses[%d]=%d out of range [%d,%d]", ErrInvalidRepresentation, i, s, StressNone, StressPrimary)
		}
	}
	return nil
}

// Concat joins representations in order. Mixed-script transcribers use it to
// assemble per-segment results into one value.
func Concat(reps ...Representation) Representation {
	var out Representation
	for _, r := range reps {
		out.Segments = append(out.Segments, r.Segments...)
		out.Features = append(out.Features, r.Features...)
		out.Tones = append(out.Tones, r.Tones...)
		out.Stresses = append(out.Stresses, r.Stresses...)
	}
	return out
}

// Centroid returns the mean feature vector of r, or nil when r has no
// features. Vectors of unequal length are zero-padded to the longest one.
func (r Representation) Centroid() []float32 {
	if len(r.Features) == 0 {
		return nil
	}
	dim := 0
	for _, f := range r.Features {
		dim = max(dim, len(f))
	}
	sum := make([]float64, dim)
	for _, f := range r.Features {
		for i, v := range f {
			sum[i] += v
		}
	}
	out := make([]float32, dim)
	n := float64(len(r.Features))
	for i, v := range sum {
		out[i] = float32(v / n)
	}
	return out
}

// Transcriber converts text into a [Representation].
//
// Implementations must be deterministic for a fixed configuration, must
// handle mixed-script input by segmenting internally and concatenating the
// per-segment results, and must return the zero Representation (not an
// error) for empty input. Failures should wrap [ErrUnsupported].
//
// Implementations must be safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, text string) (Representation, error)
}

// TranscriberFunc adapts an ordinary function to the [Transcriber] interface.
type TranscriberFunc func(ctx context.Context, text string) (Representation, error)

// Transcribe calls f(ctx, text).
func (f TranscriberFunc) Transcribe(ctx context.Context, text string) (Representation, error) {
	return f(ctx, text)
}
