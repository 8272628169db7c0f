// Package mock provides a map-backed [phonetic.Transcriber] for tests.
//
// Reps is consulted first for an exact match on the input text. Inputs
// missing from Reps fall back to Fallback when set, and fail with
// [phonetic.ErrUnsupported] otherwise. Every call is recorded.
//
// Example:
//
//	tr := &mock.Transcriber{Reps: map[string]phonetic.Representation{
//	    "hello": {Segments: []string{"h", "ɛ", "l", "o"}},
//	}}
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/phonofix/pkg/phonetic"
)

// Transcriber is a mock implementation of phonetic.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Reps maps exact input text to its representation.
	Reps map[string]phonetic.Representation

	// Fallback, if non-nil, handles inputs missing from Reps.
	Fallback phonetic.Transcriber

	// Errs maps exact input text to an error returned instead of a result.
	Errs map[string]error

	// Calls records every input passed to Transcribe, in call order.
	Calls []string
}

// Compile-time interface check.
var _ phonetic.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns the configured result.
func (m *Transcriber) Transcribe(ctx context.Context, text string) (phonetic.Representation, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, text)
	rep, ok := m.Reps[text]
	err := m.Errs[text]
	fallback := m.Fallback
	m.mu.Unlock()

	switch {
	case err != nil:
		return phonetic.Representation{}, err
	case ok:
		return rep, nil
	case text == "":
		return phonetic.Representation{}, nil
	case fallback != nil:
		return fallback.Transcribe(ctx, text)
	}
	return phonetic.Representation{}, fmt.Errorf("mock: no representation for %q: %w", text, phonetic.ErrUnsupported)
}

// CallCount returns how many times Transcribe was called with text.
func (m *Transcriber) CallCount(text string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == text {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}
