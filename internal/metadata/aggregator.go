package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"trackmeta/internal/logger"
)

// DefaultDeadline bounds a whole enrichment call, independent of the
// per-adapter timeouts.
const DefaultDeadline = 12 * time.Second

const lyricsTimeout = 10 * time.Second

// Outcome labels reported to an Observer.
const (
	OutcomeMatch     = "match"
	OutcomeNotFound  = "not_found"
	OutcomeAbandoned = "abandoned"
)

// LyricsFetcher supplies lyrics for the winning candidate when its source
// did not provide any.
type LyricsFetcher interface {
	Lyrics(ctx context.Context, artist, title, album string) (string, error)
}

// Observer receives per-provider and per-call results, typically for
// metrics. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveProvider(provider, outcome string, elapsed time.Duration)
	ObserveEnrich(source string, elapsed time.Duration)
}

// Outcome records what one adapter contributed to an enrichment call.
type Outcome struct {
	Provider  string
	Priority  int
	Candidate *Candidate
	Err       error
	Elapsed   time.Duration
	Abandoned bool
}

// Label returns the Observer outcome label.
func (o Outcome) Label() string {
	switch {
	case o.Abandoned:
		return OutcomeAbandoned
	case o.Err != nil:
		return ErrorKind(o.Err)
	case o.Candidate != nil:
		return OutcomeMatch
	default:
		return OutcomeNotFound
	}
}

// Result is the detailed output of an enrichment call.
type Result struct {
	Query    Query
	Winner   *Candidate
	Outcomes []Outcome
}

// ProviderStatus describes a configured adapter at a point in time.
type ProviderStatus struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

// Aggregator fans a Query out to every enabled Provider, waits for them up
// to a deadline and picks a single winning Candidate.
type Aggregator struct {
	providers []Provider
	logger    *logger.Logger
	deadline  time.Duration
	threshold float64
	inFlight  *semaphore.Weighted
	lyrics    LyricsFetcher
	observer  Observer
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDeadline overrides DefaultDeadline.
func WithDeadline(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.deadline = d
		}
	}
}

// WithThreshold overrides ConfidenceThreshold for the final filter.
func WithThreshold(t float64) Option {
	return func(a *Aggregator) {
		if t > 0 {
			a.threshold = t
		}
	}
}

// WithMaxInFlight bounds the number of adapter calls running at once across
// all concurrent Enrich calls. Zero means unbounded.
func WithMaxInFlight(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.inFlight = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithLyrics enables filling lyrics on the winner.
func WithLyrics(f LyricsFetcher) Option {
	return func(a *Aggregator) { a.lyrics = f }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(a *Aggregator) { a.observer = o }
}

// NewAggregator creates an Aggregator over a fixed list of providers.
func NewAggregator(providers []Provider, log *logger.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		providers: providers,
		logger:    log.Named("aggregator"),
		deadline:  DefaultDeadline,
		threshold: ConfidenceThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Status reports every configured provider and whether it is currently
// enabled, highest priority first.
func (a *Aggregator) Status(ctx context.Context) []ProviderStatus {
	statuses := lo.Map(a.providers, func(p Provider, _ int) ProviderStatus {
		return ProviderStatus{Name: p.Name(), Priority: p.Priority(), Enabled: p.Enabled(ctx)}
	})
	sort.SliceStable(statuses, func(i, j int) bool { return statuses[i].Priority > statuses[j].Priority })
	return statuses
}

// LogEnabled logs the providers that are enabled right now.
func (a *Aggregator) LogEnabled(ctx context.Context) {
	enabled := lo.FilterMap(a.Status(ctx), func(s ProviderStatus, _ int) (string, bool) {
		return s.Name, s.Enabled
	})
	a.logger.Info("Metadata enrichment ready", "providers", len(a.providers), "enabled", enabled)
}

// Enrich returns the winning Candidate for artist/title, or nil when no
// provider produced a qualifying match. Adapter failures never surface here.
func (a *Aggregator) Enrich(ctx context.Context, artist, title string) *Candidate {
	return a.EnrichDetailed(ctx, Query{Artist: artist, Title: title}).Winner
}

// EnrichDetailed is Enrich with the per-provider outcomes attached.
func (a *Aggregator) EnrichDetailed(ctx context.Context, q Query) Result {
	start := time.Now()
	deadline := start.Add(a.deadline)
	res := Result{Query: q}

	if q.Blank() {
		a.logger.Debug("Skipping enrichment, artist or title is blank")
		return res
	}

	enabled := lo.Filter(a.providers, func(p Provider, _ int) bool { return p.Enabled(ctx) })
	if len(enabled) == 0 {
		a.logger.Warn("No metadata providers are enabled")
		a.observeEnrich("", start)
		return res
	}

	a.logger.Info("Querying providers", "count", len(enabled), "artist", q.Artist, "title", q.Title)

	res.Outcomes = a.gather(ctx, deadline, enabled, q)

	for _, o := range res.Outcomes {
		a.report(o)
	}

	winner := a.selectWinner(res.Outcomes)
	if winner == nil {
		a.logger.Info("No metadata found from any provider", "artist", q.Artist, "title", q.Title)
		a.observeEnrich("", start)
		return res
	}

	if winner.Lyrics == "" && a.lyrics != nil {
		a.fillLyrics(ctx, deadline, winner, q.Title)
	}

	a.logger.Info("Selected best match",
		"source", winner.Source,
		"artist", winner.Artist,
		"album", winner.Album,
		"year", winner.Year,
		"cover", winner.CoverArtURL != "",
		"confidence", winner.Confidence,
	)

	res.Winner = winner
	a.observeEnrich(winner.Source, start)
	return res
}

// gather runs one task per provider and waits until all of them finish or
// the deadline passes. Unfinished tasks are recorded as abandoned; their
// results are discarded when they eventually arrive.
func (a *Aggregator) gather(parent context.Context, deadline time.Time, providers []Provider, q Query) []Outcome {
	ctx, cancel := context.WithDeadline(parent, deadline)
	defer cancel()

	results := make(chan Outcome, len(providers))
	for _, p := range providers {
		go func(p Provider) {
			results <- a.run(ctx, p, q)
		}(p)
	}

	outcomes := make([]Outcome, 0, len(providers))
	done := make(map[string]bool, len(providers))

wait:
	for range providers {
		select {
		case o := <-results:
			outcomes = append(outcomes, o)
			done[o.Provider] = true
		case <-ctx.Done():
			break wait
		}
	}

	for _, p := range providers {
		if !done[p.Name()] {
			outcomes = append(outcomes, Outcome{
				Provider:  p.Name(),
				Priority:  p.Priority(),
				Abandoned: true,
				Elapsed:   a.deadline,
			})
		}
	}
	return outcomes
}

func (a *Aggregator) run(ctx context.Context, p Provider, q Query) (o Outcome) {
	start := time.Now()
	o = Outcome{Provider: p.Name(), Priority: p.Priority()}

	defer func() {
		if r := recover(); r != nil {
			o.Candidate = nil
			o.Err = fmt.Errorf("provider %s panicked: %v", p.Name(), r)
		}
		o.Elapsed = time.Since(start)
	}()

	if a.inFlight != nil {
		if err := a.inFlight.Acquire(ctx, 1); err != nil {
			o.Abandoned = true
			return o
		}
		defer a.inFlight.Release(1)
	}

	o.Candidate, o.Err = p.FindMetadata(ctx, q)
	if o.Err != nil {
		o.Candidate = nil
	}
	return o
}

func (a *Aggregator) report(o Outcome) {
	if a.observer != nil {
		a.observer.ObserveProvider(o.Provider, o.Label(), o.Elapsed)
	}

	switch {
	case o.Abandoned:
		a.logger.Warn("Provider did not finish before deadline", "provider", o.Provider)
	case o.Err == nil && o.Candidate != nil:
		a.logger.Debug("Provider candidate",
			"provider", o.Provider,
			"artist", o.Candidate.Artist,
			"album", o.Candidate.Album,
			"year", o.Candidate.Year,
			"confidence", o.Candidate.Confidence,
		)
	case o.Err == nil:
		a.logger.Debug("Provider returned no match", "provider", o.Provider)
	case errors.Is(o.Err, ErrMalformedResponse):
		a.logger.Error("Provider response could not be parsed", o.Err, "provider", o.Provider)
	case errors.Is(o.Err, ErrNetwork), errors.Is(o.Err, ErrAuth), errors.Is(o.Err, ErrRateLimited):
		a.logger.Warn("Provider lookup failed", "provider", o.Provider, "kind", ErrorKind(o.Err), "error", o.Err.Error())
	default:
		a.logger.Error("Provider lookup failed", o.Err, "provider", o.Provider)
	}
}

type ranked struct {
	candidate Candidate
	priority  int
}

// selectWinner applies the priority-over-confidence policy. Confidence only
// breaks ties between equal priorities, then source name keeps the choice
// deterministic. A winner without cover art borrows it from the next
// qualifying candidate that has one.
func (a *Aggregator) selectWinner(outcomes []Outcome) *Candidate {
	qualifying := lo.FilterMap(outcomes, func(o Outcome, _ int) (ranked, bool) {
		if o.Err != nil || o.Abandoned || o.Candidate == nil {
			return ranked{}, false
		}
		c := *o.Candidate
		if c.Confidence < a.threshold || c.Confidence > 1 {
			return ranked{}, false
		}
		return ranked{candidate: c, priority: o.Priority}, true
	})
	if len(qualifying) == 0 {
		return nil
	}

	sort.SliceStable(qualifying, func(i, j int) bool { return outranks(qualifying[i], qualifying[j]) })

	winner := qualifying[0].candidate
	if winner.CoverArtURL == "" {
		if donor, ok := lo.Find(qualifying[1:], func(r ranked) bool { return r.candidate.CoverArtURL != "" }); ok {
			a.logger.Debug("Merging cover art", "from", donor.candidate.Source, "into", winner.Source)
			winner.CoverArtURL = donor.candidate.CoverArtURL
		}
	}
	return &winner
}

func outranks(a, b ranked) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if a.candidate.Confidence != b.candidate.Confidence {
		return a.candidate.Confidence > b.candidate.Confidence
	}
	return a.candidate.Source < b.candidate.Source
}

// fillLyrics shares the call's deadline with the adapters. A lookup still
// running at the deadline is abandoned and the winner keeps no lyrics.
func (a *Aggregator) fillLyrics(ctx context.Context, deadline time.Time, c *Candidate, title string) {
	if d := time.Now().Add(lyricsTimeout); d.Before(deadline) {
		deadline = d
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	artist, album := c.Artist, c.Album
	go func() {
		text, err := a.lyrics.Lyrics(ctx, artist, title, album)
		done <- reply{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			a.logger.Warn("Lyrics lookup failed", "artist", artist, "error", r.err.Error())
			return
		}
		c.Lyrics = r.text
	case <-ctx.Done():
		a.logger.Warn("Lyrics lookup did not finish before deadline", "artist", artist)
	}
}

func (a *Aggregator) observeEnrich(source string, start time.Time) {
	if a.observer != nil {
		a.observer.ObserveEnrich(source, time.Since(start))
	}
}
