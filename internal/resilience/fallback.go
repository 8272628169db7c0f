// Package resilience provides transcriber failover.
//
// [Fallback] chains a primary [phonetic.Transcriber] with fallback backends.
// Text the primary cannot read (e.g. a Han character missing from the pinyin
// table) is handed to the next backend in registration order, so one
// unsupported word does not take the whole window out of the search.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/phonofix/pkg/phonetic"
)

// ErrAllFailed is returned when every transcriber in a [Fallback] fails.
// The individual errors are joined into the returned error, so
// errors.Is(err, phonetic.ErrUnsupported) still holds when every backend
// declined the input.
var ErrAllFailed = errors.New("resilience: all transcribers failed")

type entry struct {
	name string
	tr   phonetic.Transcriber
}

// Fallback is a [phonetic.Transcriber] that tries its primary first and then
// each fallback in the order they were added. The first successful
// representation is returned.
//
// Context errors stop the chain immediately. Entries must not be added after
// the first call to Transcribe.
type Fallback struct {
	entries []entry
	log     *slog.Logger
}

// Compile-time interface check.
var _ phonetic.Transcriber = (*Fallback)(nil)

// NewFallback creates a [Fallback] with primary as the first entry.
func NewFallback(primary phonetic.Transcriber, primaryName string) *Fallback {
	return &Fallback{
		entries: []entry{{name: primaryName, tr: primary}},
		log:     slog.Default(),
	}
}

// AddFallback appends a fallback transcriber.
func (f *Fallback) AddFallback(name string, tr phonetic.Transcriber) {
	f.entries = append(f.entries, entry{name: name, tr: tr})
}

// Names returns the entry names, primary first.
func (f *Fallback) Names() []string {
	names := make([]string, len(f.entries))
	for i, e := range f.entries {
		names[i] = e.name
	}
	return names
}

// String returns the chain as "primary>fallback1>fallback2".
func (f *Fallback) String() string { return strings.Join(f.Names(), ">") }

// Transcribe implements [phonetic.Transcriber].
func (f *Fallback) Transcribe(ctx context.Context, text string) (phonetic.Representation, error) {
	errs := make([]error, 0, len(f.entries))
	for i, e := range f.entries {
		rep, err := e.tr.Transcribe(ctx, text)
		if err == nil {
			if i > 0 {
				f.log.Debug("transcribed by fallback", "transcriber", e.name, "text", text)
			}
			return rep, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return phonetic.Representation{}, ctxErr
		}
		if !errors.Is(err, phonetic.ErrUnsupported) {
			f.log.Warn("transcriber failed, trying next", "transcriber", e.name, "err", err)
		}
		errs = append(errs, err)
	}
	return phonetic.Representation{}, fmt.Errorf("%w for %q: %w", ErrAllFailed, text, errors.Join(errs...))
}
