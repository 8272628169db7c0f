package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/phonofix/internal/resilience"
	"github.com/MrWong99/phonofix/pkg/phonetic"
)

// ErrProviderNotRegistered is returned by [Registry.CreateTranscriber] when no
// factory has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// DefaultTranscriber is the backend used when transcriber.name is empty.
const DefaultTranscriber = "rules"

// TranscriberFactory constructs a transcriber from its configuration block.
type TranscriberFactory func(TranscriberConfig) (phonetic.Transcriber, error)

// Registry maps transcriber names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[string]TranscriberFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: make(map[string]TranscriberFactory),
	}
}

// RegisterTranscriber registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// CreateTranscriber instantiates the transcriber registered under
// entry.Name, or [DefaultTranscriber] when the name is empty. When
// entry.Fallback is set the result is a [resilience.Fallback] chain.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// one of the names.
func (r *Registry) CreateTranscriber(entry TranscriberConfig) (phonetic.Transcriber, error) {
	primary, err := r.create(entry)
	if err != nil || len(entry.Fallback) == 0 {
		return primary, err
	}
	chain := resilience.NewFallback(primary, entry.ID())
	for _, fb := range entry.Fallback {
		if len(fb.Fallback) > 0 {
			return nil, fmt.Errorf("config: transcriber %q: nested fallbacks are not supported", fb.Name)
		}
		tr, err := r.create(fb)
		if err != nil {
			return nil, err
		}
		chain.AddFallback(fb.ID(), tr)
	}
	return chain, nil
}

func (r *Registry) create(entry TranscriberConfig) (phonetic.Transcriber, error) {
	name := entry.Name
	if name == "" {
		name = DefaultTranscriber
	}
	r.mu.RLock()
	factory, ok := r.transcriber[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, name)
	}
	return factory(entry)
}

// Transcribers returns the registered transcriber names, sorted.
func (r *Registry) Transcribers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transcriber))
	for name := range r.transcriber {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// OptString extracts a string value from an Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptBool extracts a boolean value from an Options map. Returns false if the
// key is absent or the value is not a bool.
func OptBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}
