package transcript

import (
	"context"
	"strings"

	"github.com/MrWong99/phonofix/pkg/types"
)

const defaultLowConfidenceThreshold = 0.5

// Correction captures a single substitution made by the pipeline.
type Correction struct {
	// Original is the span as produced by the ASR provider.
	Original string `json:"original"`

	// Corrected is the canonical term that replaced Original.
	Corrected string `json:"corrected"`

	// Start and End are character offsets of Original in the input text.
	Start int `json:"start"`
	End   int `json:"end"`

	// Confidence is 1 − score, clamped to [0, 1]. Values near 1 mean the
	// span sounded almost exactly like the term.
	Confidence float64 `json:"confidence"`

	// Method describes which stage produced this substitution. The only
	// stage is "phonetic".
	Method string `json:"method"`
}

// CorrectedTranscript is the output of a [Pipeline.Correct] call.
// It pairs the original [types.Transcript] with the fully corrected text and
// an itemised record of every substitution that was applied.
type CorrectedTranscript struct {
	// Original is the raw [types.Transcript] as received.
	Original types.Transcript `json:"original"`

	// Corrected is the full corrected transcript text.
	Corrected string `json:"corrected"`

	// Corrections is the ordered list of substitutions applied to produce
	// Corrected. An empty (non-nil) slice means no corrections were necessary.
	Corrections []Correction `json:"corrections"`

	// Skipped and Truncated are copied from the underlying [Result].
	Skipped   int  `json:"skipped,omitempty"`
	Truncated bool `json:"truncated,omitempty"`
}

// Pipeline applies phonetic correction to a raw [types.Transcript].
//
// Implementations must be safe for concurrent use.
type Pipeline interface {
	// Correct returns a non-nil *CorrectedTranscript on success. When no
	// corrections are needed, Corrected equals transcript.Text and
	// Corrections is an empty (non-nil) slice.
	Correct(ctx context.Context, transcript types.Transcript) (*CorrectedTranscript, error)
}

// Engine is the part of [*Corrector] a [CorrectionPipeline] drives.
type Engine interface {
	CorrectWhere(ctx context.Context, text string, keep func(Candidate) bool) (*Result, error)
}

// Compile-time interface checks.
var (
	_ Engine   = (*Corrector)(nil)
	_ Pipeline = (*CorrectionPipeline)(nil)
)

// PipelineOption is a functional option for configuring a [CorrectionPipeline].
type PipelineOption func(*CorrectionPipeline)

// WithLowConfidenceOnly restricts corrections to spans that overlap at least
// one word whose ASR confidence is below threshold. Transcripts without
// per-word detail are corrected everywhere. Default: disabled.
func WithLowConfidenceOnly(threshold float64) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.lowConfidenceOnly = true
		p.threshold = threshold
	}
}

// CorrectionPipeline is the [Pipeline] implementation over an [Engine].
//
// CorrectionPipeline is safe for concurrent use.
type CorrectionPipeline struct {
	engine            Engine
	lowConfidenceOnly bool
	threshold         float64
}

// NewPipeline constructs a [CorrectionPipeline] over engine.
func NewPipeline(engine Engine, opts ...PipelineOption) *CorrectionPipeline {
	p := &CorrectionPipeline{
		engine:    engine,
		threshold: defaultLowConfidenceThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Correct runs the engine over t.Text and itemises the result.
func (p *CorrectionPipeline) Correct(ctx context.Context, t types.Transcript) (*CorrectedTranscript, error) {
	var keep func(Candidate) bool
	if p.lowConfidenceOnly && len(t.Words) > 0 {
		spans := lowConfidenceSpans(t.Text, t.Words, p.threshold)
		keep = func(c Candidate) bool {
			for _, sp := range spans {
				if c.Start < sp[1] && sp[0] < c.End {
					return true
				}
			}
			return false
		}
	}

	res, err := p.engine.CorrectWhere(ctx, t.Text, keep)
	if err != nil {
		return nil, err
	}

	out := &CorrectedTranscript{
		Original:    t,
		Corrected:   res.Text,
		Corrections: make([]Correction, 0, len(res.Applied)),
		Skipped:     res.Skipped,
		Truncated:   res.Truncated,
	}
	for _, a := range res.Applied {
		out.Corrections = append(out.Corrections, Correction{
			Original:   a.Original,
			Corrected:  a.Replacement,
			Start:      a.Start,
			End:        a.End,
			Confidence: min(max(1-a.Score, 0), 1),
			Method:     "phonetic",
		})
	}
	return out, nil
}

// lowConfidenceSpans locates each word of words in text, in order, and
// returns the character spans of those below threshold. Words that cannot be
// located are ignored.
func lowConfidenceSpans(text string, words []types.WordDetail, threshold float64) []span {
	var spans []span
	chars := charOffsets(text)
	cursor := 0
	for _, wd := range words {
		if wd.Word == "" {
			continue
		}
		i := strings.Index(text[cursor:], wd.Word)
		if i < 0 {
			continue
		}
		start := cursor + i
		end := start + len(wd.Word)
		cursor = end
		if wd.Confidence < threshold {
			spans = append(spans, span{chars[start], chars[end]})
		}
	}
	return spans
}
