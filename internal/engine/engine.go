// Package engine holds the live correction engine behind an atomic pointer so
// that knowledge-base and configuration reloads can swap it without
// interrupting in-flight requests.
//
// A [Snapshot] bundles everything one correction needs: the transcriber, the
// distance calculator, the compiled [transcript.Corrector] and the
// [transcript.CorrectionPipeline] that wraps it. Snapshots are immutable. The
// [Engine] publishes the current one; callers that need several operations to
// see the same knowledge base should call [Engine.Load] once and work on the
// returned snapshot.
//
// This package lives under internal/ because it encapsulates application-private
// processing logic and is not intended to be imported by external code.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/phonofix/internal/observe"
	"github.com/MrWong99/phonofix/internal/transcript"
	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/phonetic/distance"
	"github.com/MrWong99/phonofix/pkg/types"
)

// ErrNotReady is returned by every [Engine] operation before the first
// snapshot has been stored.
var ErrNotReady = errors.New("engine: not ready")

// Params describes one engine build.
type Params struct {
	// TranscriberName is the registry name of Transcriber, reported to
	// clients and in logs.
	TranscriberName string

	// Transcriber converts text spans to phonetic representations. Required.
	Transcriber phonetic.Transcriber

	// Distance configures the calculator. The zero value is not valid; start
	// from [distance.DefaultConfig].
	Distance distance.Config

	// Entries is the knowledge base.
	Entries []transcript.Entry

	// CorrectorOptions and PipelineOptions are passed through unchanged.
	CorrectorOptions []transcript.Option
	PipelineOptions  []transcript.PipelineOption
}

// Snapshot is one immutable, fully built engine.
type Snapshot struct {
	// Generation is assigned by [Engine.Store] and increases by one with
	// every swap. It is zero for snapshots that were never stored.
	Generation uint64

	// Built is the time [Build] finished.
	Built time.Time

	TranscriberName string
	Transcriber     phonetic.Transcriber
	Calculator      *distance.Calculator
	Corrector       *transcript.Corrector
	Pipeline        *transcript.CorrectionPipeline
}

// Build compiles params into a [Snapshot]. Every knowledge-base entry is
// transcribed here, so Build may take a while for large term lists; ctx
// cancellation aborts it.
func Build(ctx context.Context, params Params) (_ *Snapshot, err error) {
	ctx, span := observe.StartSpan(ctx, "engine.Build")
	defer observe.EndSpan(span, &err)

	if params.Transcriber == nil {
		return nil, fmt.Errorf("engine: build: %w: transcriber is required", transcript.ErrInvalidConfig)
	}
	calc, err := distance.New(params.Distance)
	if err != nil {
		return nil, fmt.Errorf("engine: build: %w", err)
	}
	c, err := transcript.NewCorrector(ctx, params.Transcriber, calc, params.Entries, params.CorrectorOptions...)
	if err != nil {
		return nil, fmt.Errorf("engine: build: %w", err)
	}
	return &Snapshot{
		Built:           time.Now(),
		TranscriberName: params.TranscriberName,
		Transcriber:     params.Transcriber,
		Calculator:      calc,
		Corrector:       c,
		Pipeline:        transcript.NewPipeline(c, params.PipelineOptions...),
	}, nil
}

// Distance transcribes a and b with the snapshot's transcriber and compares
// them.
func (s *Snapshot) Distance(ctx context.Context, a, b string) (distance.Breakdown, error) {
	ra, err := s.transcribe(ctx, a)
	if err != nil {
		return distance.Breakdown{}, err
	}
	rb, err := s.transcribe(ctx, b)
	if err != nil {
		return distance.Breakdown{}, err
	}
	return s.Calculator.Compare(ra, rb), nil
}

func (s *Snapshot) transcribe(ctx context.Context, text string) (phonetic.Representation, error) {
	rep, err := s.Transcriber.Transcribe(ctx, text)
	if err == nil {
		err = rep.Validate()
	}
	if err != nil {
		return phonetic.Representation{}, fmt.Errorf("engine: transcribe %q: %w", text, err)
	}
	return rep, nil
}

// Option is a functional option for [New].
type Option func(*Engine)

// WithLogger sets the logger used to report swaps. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine publishes the current [Snapshot]. All methods are safe for
// concurrent use.
type Engine struct {
	cur atomic.Pointer[Snapshot]
	gen atomic.Uint64
	log *slog.Logger
}

// Compile-time interface check.
var _ transcript.Engine = (*Engine)(nil)

// New returns an empty Engine. Operations fail with [ErrNotReady] until
// [Engine.Store] or [Engine.Rebuild] succeeds.
func New(opts ...Option) *Engine {
	e := &Engine{log: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Load returns the current snapshot, or nil before the first swap.
func (e *Engine) Load() *Snapshot { return e.cur.Load() }

// Store publishes s, stamping it with the next generation number. s must not
// be modified afterwards.
func (e *Engine) Store(s *Snapshot) {
	s.Generation = e.gen.Add(1)
	e.cur.Store(s)
	e.log.Info("engine: snapshot published",
		"generation", s.Generation,
		"transcriber", s.TranscriberName,
		"terms", s.Corrector.Len(),
		"skipped_terms", s.Corrector.SkippedEntries(),
	)
}

// Rebuild builds params and publishes the result. On error the current
// snapshot stays in place.
func (e *Engine) Rebuild(ctx context.Context, params Params) (*Snapshot, error) {
	s, err := Build(ctx, params)
	if err != nil {
		return nil, err
	}
	e.Store(s)
	return s, nil
}

// Ready returns nil once a snapshot has been published. It has the
// signature of a health check.
func (e *Engine) Ready(context.Context) error {
	if e.cur.Load() == nil {
		return ErrNotReady
	}
	return nil
}

func (e *Engine) snapshot() (*Snapshot, error) {
	s := e.cur.Load()
	if s == nil {
		return nil, ErrNotReady
	}
	return s, nil
}

// Correct corrects text with the current snapshot.
func (e *Engine) Correct(ctx context.Context, text string) (*transcript.Result, error) {
	return e.CorrectWhere(ctx, text, nil)
}

// CorrectWhere is [transcript.Corrector.CorrectWhere] on the current snapshot.
func (e *Engine) CorrectWhere(ctx context.Context, text string, keep func(transcript.Candidate) bool) (*transcript.Result, error) {
	s, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return s.Corrector.CorrectWhere(ctx, text, keep)
}

// CorrectTranscript runs the current snapshot's pipeline over t.
func (e *Engine) CorrectTranscript(ctx context.Context, t types.Transcript) (*transcript.CorrectedTranscript, error) {
	s, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return s.Pipeline.Correct(ctx, t)
}

// Distance compares the pronunciations of a and b.
func (e *Engine) Distance(ctx context.Context, a, b string) (distance.Breakdown, error) {
	s, err := e.snapshot()
	if err != nil {
		return distance.Breakdown{}, err
	}
	return s.Distance(ctx, a, b)
}

// Terms returns a copy of the current knowledge base, or nil before the first
// swap.
func (e *Engine) Terms() []transcript.Entry {
	s := e.cur.Load()
	if s == nil {
		return nil
	}
	return s.Corrector.Entries()
}

// Similar ranks the current knowledge base against query. See
// [transcript.Corrector.Rank].
func (e *Engine) Similar(ctx context.Context, query string, k int) ([]transcript.Suggestion, error) {
	s, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return s.Corrector.Rank(ctx, query, k)
}
