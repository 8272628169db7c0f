package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/phonofix/internal/observe"
	"github.com/MrWong99/phonofix/internal/transcript/tokenize"
	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/phonetic/distance"
)

const (
	// DefaultThreshold is the maximum combined distance for a window to be
	// considered a match.
	DefaultThreshold = 0.22

	// DefaultWindowRadius is how many units a window may differ from the
	// term's own unit count.
	DefaultWindowRadius = 1
)

// Scorer compares two representations. [*distance.Calculator] is the
// production implementation.
type Scorer interface {
	Compare(a, b phonetic.Representation) distance.Breakdown
}

// Compile-time interface check.
var _ Scorer = (*distance.Calculator)(nil)

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithThreshold sets the maximum accepted score. Default: [DefaultThreshold].
func WithThreshold(th float64) Option {
	return func(c *Corrector) {
		c.threshold = th
	}
}

// WithWindowRadius sets how far a window's unit count may deviate from a
// term's unit count. Default: [DefaultWindowRadius].
func WithWindowRadius(r int) Option {
	return func(c *Corrector) {
		c.radius = r
	}
}

// WithWorkers sets the number of terms searched concurrently. Values below 1
// are treated as 1 (sequential). Default: 1.
func WithWorkers(n int) Option {
	return func(c *Corrector) {
		c.workers = max(n, 1)
	}
}

// WithMaxWindows bounds the number of window-versus-term comparisons per
// [Corrector.Correct] call. Zero means unlimited. When the budget runs out
// the search stops and [Result.Truncated] is set.
func WithMaxWindows(n int) Option {
	return func(c *Corrector) {
		c.maxWindows = n
	}
}

// WithRequireToneMatch rejects candidates whose tone component is non-zero.
func WithRequireToneMatch(on bool) Option {
	return func(c *Corrector) {
		c.requireTone = on
	}
}

// WithRequireStressMatch rejects candidates whose stress component is
// non-zero.
func WithRequireStressMatch(on bool) Option {
	return func(c *Corrector) {
		c.requireStress = on
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Corrector) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Corrector) {
		if m != nil {
			c.metrics = m
		}
	}
}

// form is one transcribed surface form (canonical or alias) of an entry.
type form struct {
	text  string
	rep   phonetic.Representation
	units int
}

// term groups the usable forms of one entry.
type term struct {
	index int
	forms []form
}

// Corrector finds and replaces phonetically close misspellings of known
// terms. It is immutable after construction and safe for concurrent use.
type Corrector struct {
	tr      phonetic.Transcriber
	scorer  Scorer
	entries []Entry
	terms   []term
	skipped int

	threshold     float64
	radius        int
	workers       int
	maxWindows    int
	requireTone   bool
	requireStress bool

	log     *slog.Logger
	metrics *observe.Metrics
}

// NewCorrector builds a Corrector over entries. Every entry's canonical form
// and aliases are transcribed once (unless [Entry.Rep] is set). Forms that
// fail to transcribe are logged and skipped; an entry with no usable form is
// counted in [Corrector.SkippedEntries] and never matches.
//
// Configuration errors wrap [ErrInvalidConfig].
func NewCorrector(ctx context.Context, tr phonetic.Transcriber, scorer Scorer, entries []Entry, opts ...Option) (*Corrector, error) {
	c := &Corrector{
		tr:        tr,
		scorer:    scorer,
		entries:   append([]Entry(nil), entries...),
		threshold: DefaultThreshold,
		radius:    DefaultWindowRadius,
		workers:   1,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	for i := range c.entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transcript: new corrector: %w", err)
		}
		t, err := c.compileEntry(ctx, i)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("transcript: new corrector: %w", ctx.Err())
			}
			c.skipped++
			c.log.Warn("transcript: term skipped",
				"canonical", c.entries[i].Canonical,
				"err", err,
			)
			continue
		}
		c.terms = append(c.terms, t)
	}
	return c, nil
}

func (c *Corrector) validate() error {
	var errs []error
	if c.tr == nil {
		errs = append(errs, fmt.Errorf("%w: transcriber must not be nil", ErrInvalidConfig))
	}
	if c.scorer == nil {
		errs = append(errs, fmt.Errorf("%w: scorer must not be nil", ErrInvalidConfig))
	}
	if c.threshold < 0 || math.IsNaN(c.threshold) || math.IsInf(c.threshold, 0) {
		errs = append(errs, fmt.Errorf("%w: threshold must be a finite non-negative number, got %v", ErrInvalidConfig, c.threshold))
	}
	if c.radius < 0 {
		errs = append(errs, fmt.Errorf("%w: window radius must be non-negative, got %d", ErrInvalidConfig, c.radius))
	}
	if c.maxWindows < 0 {
		errs = append(errs, fmt.Errorf("%w: max windows must be non-negative, got %d", ErrInvalidConfig, c.maxWindows))
	}
	return errors.Join(errs...)
}

// compileEntry resolves the forms of entries[i]. It fails only when no form
// is usable.
func (c *Corrector) compileEntry(ctx context.Context, i int) (term, error) {
	e := c.entries[i]
	if strings.TrimSpace(e.Canonical) == "" {
		return term{}, errors.New("empty canonical form")
	}
	t := term{index: i}

	units := e.Units
	if units <= 0 {
		units = tokenize.Count(e.Canonical)
	}
	if e.Rep != nil {
		if err := e.Rep.Validate(); err != nil {
			return term{}, err
		}
		if !e.Rep.IsEmpty() {
			t.forms = append(t.forms, form{text: e.Canonical, rep: *e.Rep, units: units})
		}
	} else {
		f, err := c.compileForm(ctx, e.Canonical, units)
		if err != nil {
			c.log.Debug("transcript: canonical form not transcribable", "canonical", e.Canonical, "err", err)
		} else {
			t.forms = append(t.forms, f)
		}
	}

	for _, alias := range e.Aliases {
		if strings.TrimSpace(alias) == "" {
			continue
		}
		f, err := c.compileForm(ctx, alias, tokenize.Count(alias))
		if err != nil {
			c.log.Debug("transcript: alias not transcribable", "canonical", e.Canonical, "alias", alias, "err", err)
			continue
		}
		t.forms = append(t.forms, f)
	}

	if len(t.forms) == 0 {
		return term{}, fmt.Errorf("no transcribable form: %w", phonetic.ErrUnsupported)
	}
	return t, nil
}

func (c *Corrector) compileForm(ctx context.Context, text string, units int) (form, error) {
	rep, err := c.tr.Transcribe(ctx, text)
	if err != nil {
		return form{}, err
	}
	if err := rep.Validate(); err != nil {
		return form{}, err
	}
	if rep.IsEmpty() || units == 0 {
		return form{}, fmt.Errorf("%q has no phonetic content: %w", text, phonetic.ErrUnsupported)
	}
	return form{text: text, rep: rep, units: units}, nil
}

// Entries returns a copy of the knowledge base the Corrector was built with.
func (c *Corrector) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Len returns the number of usable terms.
func (c *Corrector) Len() int { return len(c.terms) }

// SkippedEntries returns the number of entries that could not be transcribed
// at construction time.
func (c *Corrector) SkippedEntries() int { return c.skipped }

// Threshold returns the configured score threshold.
func (c *Corrector) Threshold() float64 { return c.threshold }

// Correct finds and replaces misspelled terms in text.
//
// An empty knowledge base or blank text returns text unchanged with an empty
// Applied list. Transcription failures for individual windows are skipped and
// counted in [Result.Skipped]. The only error returned is the context's.
func (c *Corrector) Correct(ctx context.Context, text string) (*Result, error) {
	return c.CorrectWhere(ctx, text, nil)
}

// CorrectWhere is like [Corrector.Correct] but only candidates for which keep
// returns true take part in selection. A nil keep admits every candidate.
func (c *Corrector) CorrectWhere(ctx context.Context, text string, keep func(Candidate) bool) (_ *Result, err error) {
	ctx, span := observe.StartSpan(ctx, "transcript.Correct",
		trace.WithAttributes(
			attribute.Int("text.bytes", len(text)),
			attribute.Int("terms", len(c.terms)),
		),
	)
	defer observe.EndSpan(span, &err)

	start := time.Now()
	res := &Result{Text: text, Applied: []Candidate{}}
	if len(c.terms) == 0 || strings.TrimSpace(text) == "" {
		c.record(ctx, start, res)
		return res, nil
	}

	tokens := tokenize.Tokenize(text)
	found, stats, err := c.search(ctx, text, tokens)
	if err != nil {
		return nil, fmt.Errorf("transcript: correct: %w", err)
	}
	res.Evaluated = stats.evaluated
	res.Skipped = stats.skipped
	res.Truncated = stats.truncated

	if keep != nil {
		found = slices.DeleteFunc(found, func(cand Candidate) bool { return !keep(cand) })
	}
	accepted := Select(found)
	res.Text = Apply(text, accepted)
	for _, cand := range accepted {
		if !cand.identity() {
			res.Applied = append(res.Applied, cand)
		}
	}

	span.SetAttributes(
		attribute.Int("windows.evaluated", res.Evaluated),
		attribute.Int("windows.skipped", res.Skipped),
		attribute.Int("corrections", len(res.Applied)),
	)
	if res.Truncated {
		observe.Logger(ctx).Warn("transcript: evaluation budget exhausted",
			"max_windows", c.maxWindows,
			"evaluated", res.Evaluated,
		)
	}
	c.record(ctx, start, res)
	return res, nil
}

func (c *Corrector) record(ctx context.Context, start time.Time, res *Result) {
	langs := make([]string, len(res.Applied))
	for i, a := range res.Applied {
		langs[i] = a.Language
	}
	c.metrics.RecordCorrection(ctx, observe.CorrectionStats{
		Seconds:   time.Since(start).Seconds(),
		Evaluated: res.Evaluated,
		Skipped:   res.Skipped,
		Applied:   langs,
	})
}
