// Package transcript implements the phonetic correction engine that fixes ASR
// errors in domain-specific vocabulary.
//
// Speech-to-text output is rarely perfect for proper nouns, jargon and
// acronyms: "Mini Map" comes back as "minivan", 张伟 as 张微. The [Corrector]
// finds substrings whose pronunciation is close to a known canonical term even
// though the spelling differs, and replaces them with the canonical form:
//
//  1. Tokenize: the text is split into units (CJK characters, Latin words,
//     digit runs, punctuation) by package tokenize.
//  2. Search: for every term, windows of roughly the term's unit count are
//     transcribed and compared to the term's representation. Windows that
//     score at or below the threshold become [Candidate] values.
//  3. Select: candidates are ranked by score and greedily accepted while they
//     do not overlap an already accepted span ([Select]).
//  4. Apply: accepted spans are replaced in one pass over the original
//     offsets ([Apply]).
//
// A [Corrector] is immutable after construction and safe for concurrent use.
// The [Pipeline] interface wraps it for [types.Transcript] values.
package transcript

import (
	"errors"

	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/phonetic/distance"
)

// ErrInvalidConfig is returned (wrapped) by [NewCorrector] when an option or
// collaborator is invalid.
var ErrInvalidConfig = errors.New("transcript: invalid config")

// Entry is one known term in the knowledge base.
type Entry struct {
	// Canonical is the correct surface form. Every replacement produced for
	// this entry uses it verbatim.
	Canonical string `json:"canonical" yaml:"canonical" msgpack:"canonical"`

	// Aliases are further surface forms (common misspellings, alternative
	// romanisations) that are transcribed and compared alongside Canonical.
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty" msgpack:"aliases,omitempty"`

	// Language is an optional language hint (e.g. "zh", "en"). It is not
	// interpreted by the engine; it is reported on metrics and carried
	// through to callers.
	Language string `json:"language,omitempty" yaml:"language,omitempty" msgpack:"language,omitempty"`

	// Metadata is free-form caller data.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty" msgpack:"metadata,omitempty"`

	// Rep is an optional precomputed representation of Canonical. When nil
	// the Corrector transcribes Canonical at construction time.
	Rep *phonetic.Representation `json:"rep,omitempty" yaml:"-" msgpack:"rep,omitempty"`

	// Units is the cached token count of Canonical. Zero means "compute".
	Units int `json:"units,omitempty" yaml:"-" msgpack:"units,omitempty"`
}

// Candidate is one proposed replacement of the characters [Start, End) of the
// input.
type Candidate struct {
	// Start and End are half-open character (Unicode code point) offsets
	// into the corrected input.
	Start int `json:"start"`
	End   int `json:"end"`

	// Original is the input substring covered by [Start, End).
	Original string `json:"original"`

	// Replacement is the canonical form of the matched entry.
	Replacement string `json:"replacement"`

	// Score is the combined phonetic distance; lower is closer.
	Score float64 `json:"score"`

	// Breakdown exposes the per-component distances behind Score.
	Breakdown distance.Breakdown `json:"breakdown"`

	// EntryIndex is the index of the matched entry in the knowledge base the
	// Corrector was built with.
	EntryIndex int `json:"entry_index"`

	// Language is copied from the matched entry.
	Language string `json:"language,omitempty"`
}

// Len returns the number of characters in the candidate span.
func (c Candidate) Len() int { return c.End - c.Start }

// Overlaps reports whether c and o share at least one character.
func (c Candidate) Overlaps(o Candidate) bool {
	return c.Start < o.End && o.Start < c.End
}

// identity reports whether applying c would leave the text unchanged.
func (c Candidate) identity() bool { return c.Original == c.Replacement }

// Result is the outcome of one [Corrector.Correct] call.
type Result struct {
	// Text is the corrected text.
	Text string `json:"text"`

	// Applied lists the corrections that changed the text, ordered by Start.
	// It is empty (non-nil) when nothing was replaced.
	Applied []Candidate `json:"applied"`

	// Evaluated is the number of window-versus-term distance computations.
	Evaluated int `json:"evaluated"`

	// Skipped is the number of distinct windows whose transcription failed.
	Skipped int `json:"skipped"`

	// Truncated is true when the evaluation budget ran out before the search
	// completed. Corrections found before that point are still applied.
	Truncated bool `json:"truncated,omitempty"`
}
