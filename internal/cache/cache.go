// Package cache stores adapter lookups, including misses, for a fixed TTL.
package cache

import (
	"context"
	"strings"
	"time"

	"trackmeta/internal/metadata"
)

// DefaultTTL is how long a lookup result stays valid.
const DefaultTTL = 7 * 24 * time.Hour

// Cache holds adapter results keyed by Key. A stored nil Candidate records
// that the provider had no match. Implementations must be safe for
// concurrent use; backend failures are reported as misses.
type Cache interface {
	Get(ctx context.Context, key string) (c *metadata.Candidate, found bool)
	Set(ctx context.Context, key string, c *metadata.Candidate)
}

// Key builds the cache key for one provider lookup.
func Key(provider, artist, title string) string {
	return provider + ":" + artist + ":" + title
}

func providerOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// Recorder counts cache lookups.
type Recorder interface {
	CacheLookup(provider string, hit bool)
}

// Instrumented reports every Get to a Recorder.
type Instrumented struct {
	Cache
	rec Recorder
}

// WithRecorder wraps c so lookups are counted by rec.
func WithRecorder(c Cache, rec Recorder) *Instrumented {
	return &Instrumented{Cache: c, rec: rec}
}

func (i *Instrumented) Get(ctx context.Context, key string) (*metadata.Candidate, bool) {
	c, ok := i.Cache.Get(ctx, key)
	i.rec.CacheLookup(providerOf(key), ok)
	return c, ok
}
