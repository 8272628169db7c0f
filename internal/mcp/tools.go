package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/phonofix/internal/engine"
	"github.com/MrWong99/phonofix/internal/observe"
	"github.com/MrWong99/phonofix/internal/transcript"
	"github.com/MrWong99/phonofix/pkg/phonetic/distance"
	"github.com/MrWong99/phonofix/pkg/types"
)

// Tool names.
const (
	ToolCorrectTranscript = "correct_transcript"
	ToolPhoneticDistance  = "phonetic_distance"
	ToolLookupTerms       = "lookup_terms"
)

// MetadataCorrectTranscript describes the correct_transcript tool.
var MetadataCorrectTranscript = &mcpsdk.Tool{
	Name: ToolCorrectTranscript,
	Description: "Correct an automatic speech recognition transcript against the loaded term list. " +
		"Substrings that sound like a known name, jargon word or acronym but are spelled differently " +
		"are replaced with the canonical spelling. Every replacement is itemised with its character offsets " +
		"and a confidence in [0, 1]. When per-word ASR confidences are supplied together with " +
		"low_confidence_only, only spans overlapping a word below the threshold are corrected.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"text"},
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "The transcript text to correct",
			},
			"words": map[string]interface{}{
				"type":        "array",
				"description": "Optional per-word ASR detail, in the order the words appear in text",
				"items": map[string]interface{}{
					"type":     "object",
					"required": []string{"word", "confidence"},
					"properties": map[string]interface{}{
						"word":       map[string]interface{}{"type": "string"},
						"confidence": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
					},
				},
			},
			"low_confidence_only": map[string]interface{}{
				"type":        "boolean",
				"description": "Restrict corrections to spans that overlap a low-confidence word",
			},
			"low_confidence_threshold": map[string]interface{}{
				"type":        "number",
				"description": "Word confidence below which a word counts as low confidence. Default 0.5.",
				"minimum":     0,
				"maximum":     1,
			},
		},
	},
}

// InputCorrectTranscript is the input for the CorrectTranscript tool.
type InputCorrectTranscript struct {
	Text                   string             `json:"text"`
	Words                  []types.WordDetail `json:"words,omitempty"`
	LowConfidenceOnly      bool               `json:"low_confidence_only,omitempty"`
	LowConfidenceThreshold float64            `json:"low_confidence_threshold,omitempty"`
}

// OutputCorrectTranscript is the output for the CorrectTranscript tool.
type OutputCorrectTranscript struct {
	// Corrected is the full corrected text.
	Corrected string `json:"corrected"`
	// Corrections itemises every applied replacement, ordered by offset.
	Corrections []transcript.Correction `json:"corrections"`
	// Skipped counts windows that could not be transcribed.
	Skipped int `json:"skipped"`
	// Truncated is true when the evaluation budget ran out.
	Truncated bool `json:"truncated"`
}

// MetadataPhoneticDistance describes the phonetic_distance tool.
var MetadataPhoneticDistance = &mcpsdk.Tool{
	Name: ToolPhoneticDistance,
	Description: "Compare the pronunciations of two strings. Returns the combined distance (0 = identical, " +
		"lower is closer) and its components: segmental, articulatory-feature, tone and stress distances. " +
		"Only components present on both sides contribute to the total.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"a", "b"},
		"properties": map[string]interface{}{
			"a": map[string]interface{}{"type": "string", "description": "First string"},
			"b": map[string]interface{}{"type": "string", "description": "Second string"},
		},
	},
}

// InputPhoneticDistance is the input for the PhoneticDistance tool.
type InputPhoneticDistance struct {
	A string `json:"a"`
	B string `json:"b"`
}

// OutputPhoneticDistance is the output for the PhoneticDistance tool.
type OutputPhoneticDistance struct {
	Breakdown distance.Breakdown `json:"breakdown"`
}

// MetadataLookupTerms describes the lookup_terms tool.
var MetadataLookupTerms = &mcpsdk.Tool{
	Name: ToolLookupTerms,
	Description: "List the loaded term list, or, when query is given, rank the terms by how close they " +
		"sound to query and return the k closest with their distance breakdown.",
	InputSchema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Optional text to rank terms against",
			},
			"k": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of ranked terms to return. Default 5; 0 returns all.",
				"minimum":     0,
			},
		},
	},
}

// InputLookupTerms is the input for the LookupTerms tool.
type InputLookupTerms struct {
	Query string `json:"query,omitempty"`
	K     *int   `json:"k,omitempty"`
}

// OutputLookupTerms is the output for the LookupTerms tool. Exactly one of
// Terms and Suggestions is populated.
type OutputLookupTerms struct {
	Generation  uint64                  `json:"generation"`
	Terms       []transcript.Entry      `json:"terms,omitempty"`
	Suggestions []transcript.Suggestion `json:"suggestions,omitempty"`
}

const defaultLookupK = 5

// Tools implements the tool handlers over an [engine.Engine]. Every call is
// counted and timed on the configured [observe.Metrics].
type Tools struct {
	engine  *engine.Engine
	metrics *observe.Metrics
}

// NewTools returns the handlers for e. A nil m selects [observe.DefaultMetrics].
func NewTools(e *engine.Engine, m *observe.Metrics) *Tools {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Tools{engine: e, metrics: m}
}

// CorrectTranscript runs the correction pipeline over input.
func (t *Tools) CorrectTranscript(ctx context.Context, _ *mcpsdk.CallToolRequest, input InputCorrectTranscript) (_ *mcpsdk.CallToolResult, _ OutputCorrectTranscript, err error) {
	defer t.record(ctx, ToolCorrectTranscript, time.Now(), &err)

	if strings.TrimSpace(input.Text) == "" {
		return nil, OutputCorrectTranscript{}, errors.New("text is required")
	}
	snap := t.engine.Load()
	if snap == nil {
		return nil, OutputCorrectTranscript{}, engine.ErrNotReady
	}

	p := snap.Pipeline
	if input.LowConfidenceOnly {
		th := input.LowConfidenceThreshold
		if th == 0 {
			th = 0.5
		}
		p = transcript.NewPipeline(snap.Corrector, transcript.WithLowConfidenceOnly(th))
	}
	out, err := p.Correct(ctx, types.Transcript{Text: input.Text, Words: input.Words})
	if err != nil {
		return nil, OutputCorrectTranscript{}, err
	}
	return nil, OutputCorrectTranscript{
		Corrected:   out.Corrected,
		Corrections: out.Corrections,
		Skipped:     out.Skipped,
		Truncated:   out.Truncated,
	}, nil
}

// PhoneticDistance compares the pronunciations of input.A and input.B.
func (t *Tools) PhoneticDistance(ctx context.Context, _ *mcpsdk.CallToolRequest, input InputPhoneticDistance) (_ *mcpsdk.CallToolResult, _ OutputPhoneticDistance, err error) {
	defer t.record(ctx, ToolPhoneticDistance, time.Now(), &err)

	if input.A == "" || input.B == "" {
		return nil, OutputPhoneticDistance{}, errors.New("a and b are required")
	}
	bd, err := t.engine.Distance(ctx, input.A, input.B)
	if err != nil {
		return nil, OutputPhoneticDistance{}, err
	}
	return nil, OutputPhoneticDistance{Breakdown: bd}, nil
}

// LookupTerms lists or ranks the loaded terms.
func (t *Tools) LookupTerms(ctx context.Context, _ *mcpsdk.CallToolRequest, input InputLookupTerms) (_ *mcpsdk.CallToolResult, _ OutputLookupTerms, err error) {
	defer t.record(ctx, ToolLookupTerms, time.Now(), &err)

	snap := t.engine.Load()
	if snap == nil {
		return nil, OutputLookupTerms{}, engine.ErrNotReady
	}
	out := OutputLookupTerms{Generation: snap.Generation}
	if strings.TrimSpace(input.Query) == "" {
		out.Terms = snap.Corrector.Entries()
		return nil, out, nil
	}

	k := defaultLookupK
	if input.K != nil {
		if *input.K < 0 {
			return nil, OutputLookupTerms{}, errors.New("k must not be negative")
		}
		k = *input.K
	}
	out.Suggestions, err = snap.Corrector.Rank(ctx, input.Query, k)
	if err != nil {
		return nil, OutputLookupTerms{}, err
	}
	return nil, out, nil
}

func (t *Tools) record(ctx context.Context, tool string, start time.Time, err *error) {
	status := "ok"
	if *err != nil {
		status = "error"
		observe.Logger(ctx).Debug("mcp tool failed", "tool", tool, "err", *err)
	}
	t.metrics.RecordToolCall(ctx, tool, status)
	t.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("tool", tool)))
}
