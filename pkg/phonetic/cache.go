package phonetic

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of distinct substrings a [CachedTranscriber]
// remembers when constructed with a non-positive size.
const DefaultCacheSize = 4096

// CacheStats is a point-in-time snapshot of a [CachedTranscriber]'s counters.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Len    int   `json:"len"`
}

// CachedTranscriber memoises another [Transcriber] keyed by the exact input
// string. Transcription is a pure function of the text for a fixed
// configuration, so a cached value is always valid. Errors are not cached.
//
// CachedTranscriber is safe for concurrent use. Concurrent misses for the same
// key may both reach the inner transcriber; the last write wins, which is
// harmless because both values are equal.
type CachedTranscriber struct {
	inner Transcriber
	cache *lru.Cache[string, Representation]

	hits   atomic.Int64
	misses atomic.Int64

	onLookup func(ctx context.Context, hit bool)
}

// CacheOption configures a [CachedTranscriber].
type CacheOption func(*CachedTranscriber)

// WithLookupHook registers fn to be called after every cache lookup. It is
// typically used to feed a metrics counter. fn must be safe for concurrent
// use.
func WithLookupHook(fn func(ctx context.Context, hit bool)) CacheOption {
	return func(c *CachedTranscriber) {
		c.onLookup = fn
	}
}

// Compile-time interface check.
var _ Transcriber = (*CachedTranscriber)(nil)

// NewCachedTranscriber wraps inner with an LRU cache holding up to size
// entries. A non-positive size selects [DefaultCacheSize].
func NewCachedTranscriber(inner Transcriber, size int, opts ...CacheOption) (*CachedTranscriber, error) {
	if inner == nil {
		return nil, fmt.Errorf("phonetic: cached transcriber: inner transcriber must not be nil")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, Representation](size)
	if err != nil {
		return nil, fmt.Errorf("phonetic: cached transcriber: %w", err)
	}
	ct := &CachedTranscriber{inner: inner, cache: c}
	for _, o := range opts {
		o(ct)
	}
	return ct, nil
}

// Transcribe returns the cached representation for text or computes and
// stores it.
func (c *CachedTranscriber) Transcribe(ctx context.Context, text string) (Representation, error) {
	if rep, ok := c.cache.Get(text); ok {
		c.hits.Add(1)
		if c.onLookup != nil {
			c.onLookup(ctx, true)
		}
		return rep, nil
	}
	c.misses.Add(1)
	if c.onLookup != nil {
		c.onLookup(ctx, false)
	}
	rep, err := c.inner.Transcribe(ctx, text)
	if err != nil {
		return Representation{}, err
	}
	c.cache.Add(text, rep)
	return rep, nil
}

// Stats returns the current hit/miss counters and cache occupancy.
func (c *CachedTranscriber) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Len:    c.cache.Len(),
	}
}

// Purge drops every cached representation. Call it after the inner
// transcriber's configuration changes.
func (c *CachedTranscriber) Purge() {
	c.cache.Purge()
}
