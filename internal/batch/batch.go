// Package batch enriches many tracks with a bounded number of workers.
package batch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"trackmeta/internal/logger"
	"trackmeta/internal/metadata"
)

// DefaultWorkers is used when Run is given a non-positive worker count.
const DefaultWorkers = 4

// Item is one track to enrich.
type Item struct {
	Artist string `json:"artist" validate:"required"`
	Title  string `json:"title" validate:"required"`
}

// Result pairs an Item with its winning candidate, if any.
type Result struct {
	Item
	Match *metadata.Candidate `json:"match,omitempty"`
}

type Stats struct {
	Total     int
	Matched   int
	Unmatched int
}

// Enricher is satisfied by *metadata.Aggregator and *pipeline.Pipeline.
type Enricher interface {
	Enrich(ctx context.Context, artist, title string) *metadata.Candidate
}

type Hooks struct {
	OnStart    func(total int)
	OnProgress func(done int, r Result)
}

// Run enriches items using up to workers concurrent lookups. Results keep
// the input order. When ctx is cancelled, items not yet started are left
// without a match and ctx's error is returned with the partial results.
func Run(ctx context.Context, e Enricher, items []Item, workers int, log *logger.Logger, hooks Hooks) ([]Result, Stats, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	stats := Stats{Total: len(items)}
	results := make([]Result, len(items))
	for i, it := range items {
		results[i].Item = it
	}

	if hooks.OnStart != nil {
		hooks.OnStart(len(items))
	}
	log.Info("Starting batch", "tracks", len(items), "workers", workers)

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

dispatch:
	for i := range items {
		select {
		case <-gctx.Done():
			log.Warn("Batch cancelled, waiting for active lookups to finish")
			break dispatch
		default:
		}

		i := i
		g.Go(func() error {
			match := e.Enrich(gctx, items[i].Artist, items[i].Title)

			mu.Lock()
			results[i].Match = match
			done++
			n := done
			if match != nil {
				stats.Matched++
			}
			r := results[i]
			mu.Unlock()

			log.Debug("Batch item finished", "index", i+1, "artist", items[i].Artist, "matched", match != nil)
			if hooks.OnProgress != nil {
				hooks.OnProgress(n, r)
			}
			return nil
		})
	}

	_ = g.Wait()
	stats.Unmatched = stats.Total - stats.Matched
	log.Info("Batch completed", "matched", stats.Matched, "unmatched", stats.Unmatched)

	if err := ctx.Err(); err != nil {
		return results, stats, fmt.Errorf("batch cancelled: %w", err)
	}
	return results, stats, nil
}

// ReadItems parses a JSON array of {"artist","title"} objects, or one
// "Artist - Title" pair per line. Blank lines and lines starting with #
// are skipped.
func ReadItems(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch input: %w", err)
	}

	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var items []Item
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("invalid batch JSON: %w", err)
		}
		return items, nil
	}

	var items []Item
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		artist, title, ok := strings.Cut(text, " - ")
		if !ok || strings.TrimSpace(artist) == "" || strings.TrimSpace(title) == "" {
			return nil, fmt.Errorf("line %d: expected \"Artist - Title\", got %q", line, text)
		}
		items = append(items, Item{Artist: strings.TrimSpace(artist), Title: strings.TrimSpace(title)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch input: %w", err)
	}
	return items, nil
}
