package transcript

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/phonofix/internal/observe"
	"github.com/MrWong99/phonofix/internal/transcript/tokenize"
	"github.com/MrWong99/phonofix/pkg/phonetic"
	"github.com/MrWong99/phonofix/pkg/phonetic/distance"
)

// span is a half-open range [0]..[1], in bytes for window keys and in
// characters for candidate spans.
type span [2]int

type searchStats struct {
	evaluated int
	skipped   int
	truncated bool
}

// windowCache memoises window transcriptions for one Correct call so that a
// window shared by many terms is transcribed once. Failures are remembered
// per text and the failing spans are collected for Result.Skipped.
type windowCache struct {
	tr    phonetic.Transcriber
	log   *slog.Logger
	group singleflight.Group

	mu     sync.Mutex
	reps   map[string]windowRep
	failed map[span]struct{}
}

type windowRep struct {
	rep phonetic.Representation
	err error
}

func newWindowCache(tr phonetic.Transcriber, log *slog.Logger) *windowCache {
	return &windowCache{
		tr:     tr,
		log:    log,
		reps:   make(map[string]windowRep),
		failed: make(map[span]struct{}),
	}
}

// get returns the representation of text, which occupies sp in the input.
// Context errors are returned but never memoised.
func (w *windowCache) get(ctx context.Context, text string, sp span) (phonetic.Representation, error) {
	w.mu.Lock()
	r, ok := w.reps[text]
	w.mu.Unlock()
	if !ok {
		v, _, _ := w.group.Do(text, func() (any, error) {
			rep, err := w.tr.Transcribe(ctx, text)
			if err == nil {
				err = rep.Validate()
			}
			r := windowRep{rep: rep, err: err}
			if err != nil && ctx.Err() != nil {
				return r, nil
			}
			if err != nil {
				w.log.Debug("transcript: window not transcribable", "window", text, "err", err)
			}
			w.mu.Lock()
			w.reps[text] = r
			w.mu.Unlock()
			return r, nil
		})
		r = v.(windowRep)
	}
	if r.err != nil && ctx.Err() == nil {
		w.mu.Lock()
		w.failed[sp] = struct{}{}
		w.mu.Unlock()
	}
	return r.rep, r.err
}

func (w *windowCache) skipped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.failed)
}

// budget hands out evaluation slots. A zero limit is unlimited.
type budget struct {
	limit     int64
	used      atomic.Int64
	exhausted atomic.Bool
}

func (b *budget) take() bool {
	n := b.used.Add(1)
	if b.limit > 0 && n > b.limit {
		b.used.Add(-1)
		b.exhausted.Store(true)
		return false
	}
	return true
}

func (b *budget) release() { b.used.Add(-1) }

// search scores every window of tokens against every term and returns the
// candidates at or below the threshold, sorted by position.
//
// For each term the window lengths range over
// [max(1, units-radius), units+radius], and every start position is tried,
// so the work is O(terms × lengths × positions) distance computations, each
// O(n·m) in the segment counts. Window transcriptions are shared between
// terms through a per-call memo.
//
// Terms are fanned out over an errgroup limited to the configured worker
// count. Workers only read shared immutable state; results are merged and
// sorted before returning, so the output does not depend on scheduling
// unless the evaluation budget runs out.
func (c *Corrector) search(ctx context.Context, text string, tokens []tokenize.Token) ([]Candidate, searchStats, error) {
	ctx, sp := observe.StartSpan(ctx, "transcript.search")
	defer sp.End()

	wc := newWindowCache(c.tr, c.log)
	b := &budget{limit: int64(c.maxWindows)}
	results := make([][]Candidate, len(c.terms))
	chars := charOffsets(text)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i := range c.terms {
		g.Go(func() error {
			found, err := c.searchTerm(gctx, text, chars, tokens, c.terms[i], wc, b)
			results[i] = found
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, searchStats{}, err
	}

	var out []Candidate
	for _, r := range results {
		out = append(out, r...)
	}
	slices.SortFunc(out, byPosition)

	stats := searchStats{
		evaluated: int(b.used.Load()),
		skipped:   wc.skipped(),
		truncated: b.exhausted.Load(),
	}
	sp.SetAttributes(
		attribute.Int("candidates", len(out)),
		attribute.Bool("truncated", stats.truncated),
	)
	return out, stats, nil
}

// searchTerm returns the candidates for one term. Across the term's forms
// the lowest score per span wins. chars converts window byte offsets to the
// character offsets reported on candidates.
func (c *Corrector) searchTerm(ctx context.Context, text string, chars []int, tokens []tokenize.Token, t term, wc *windowCache, b *budget) ([]Candidate, error) {
	entry := c.entries[t.index]
	best := make(map[span]Candidate)

scan:
	for _, f := range t.forms {
		lo := max(1, f.units-c.radius)
		hi := f.units + c.radius
		for w := range tokenize.Windows(tokens, lo, hi) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !b.take() {
				break scan
			}
			key := span{w.Start, w.End}
			rep, err := wc.get(ctx, w.Text(text), key)
			if err != nil {
				b.release()
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				continue
			}

			bd := c.scorer.Compare(rep, f.rep)
			if !c.accept(bd) {
				continue
			}
			if prev, ok := best[key]; ok && prev.Score <= bd.Total {
				continue
			}
			best[key] = Candidate{
				Start:       chars[w.Start],
				End:         chars[w.End],
				Original:    w.Text(text),
				Replacement: entry.Canonical,
				Score:       bd.Total,
				Breakdown:   bd,
				EntryIndex:  t.index,
				Language:    entry.Language,
			}
		}
	}

	cands := make([]Candidate, 0, len(best))
	for _, cand := range best {
		cands = append(cands, cand)
	}
	return dropOverlappingTies(cands), nil
}

// accept applies the threshold and the optional suprasegmental gates.
func (c *Corrector) accept(bd distance.Breakdown) bool {
	if bd.Total > c.threshold {
		return false
	}
	if c.requireTone && bd.Uses(distance.ComponentTone) && bd.Tone > 0 {
		return false
	}
	if c.requireStress && bd.Uses(distance.ComponentStress) && bd.Stress > 0 {
		return false
	}
	return true
}

// dropOverlappingTies resolves ties within one term: among overlapping
// candidates with equal score only the shortest span survives, then the
// earliest. Overlapping candidates with different scores are left for
// Select.
func dropOverlappingTies(cands []Candidate) []Candidate {
	slices.SortFunc(cands, func(a, b Candidate) int {
		return cmp.Or(
			cmp.Compare(a.Score, b.Score),
			cmp.Compare(a.Len(), b.Len()),
			cmp.Compare(a.Start, b.Start),
		)
	})
	kept := make([]Candidate, 0, len(cands))
	for _, cand := range cands {
		tied := false
		for _, k := range kept {
			if k.Score == cand.Score && k.Overlaps(cand) {
				tied = true
				break
			}
		}
		if !tied {
			kept = append(kept, cand)
		}
	}
	return kept
}

func byPosition(a, b Candidate) int {
	return cmp.Or(
		cmp.Compare(a.Start, b.Start),
		cmp.Compare(a.End, b.End),
		cmp.Compare(a.EntryIndex, b.EntryIndex),
		cmp.Compare(a.Score, b.Score),
	)
}
