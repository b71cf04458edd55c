package lyrics

import (
	"context"

	"trackmeta/internal/cache"
	"trackmeta/internal/metadata"
)

// Source names LRCLib in cache keys and metrics.
const Source = "LRCLib"

// Cached stores lookups in the shared response cache, misses included.
// Failures are not stored.
type Cached struct {
	fetcher metadata.LyricsFetcher
	cache   cache.Cache
}

// NewCached wraps f with c.
func NewCached(f metadata.LyricsFetcher, c cache.Cache) *Cached {
	return &Cached{fetcher: f, cache: c}
}

func (c *Cached) Lyrics(ctx context.Context, artist, title, album string) (string, error) {
	key := cache.Key(Source, artist, title)
	if hit, ok := c.cache.Get(ctx, key); ok {
		if hit == nil {
			return "", nil
		}
		return hit.Lyrics, nil
	}

	text, err := c.fetcher.Lyrics(ctx, artist, title, album)
	if err != nil {
		return "", err
	}

	var entry *metadata.Candidate
	if text != "" {
		entry = &metadata.Candidate{Lyrics: text, Source: Source}
	}
	c.cache.Set(ctx, key, entry)
	return text, nil
}
