package metadata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trackmeta/internal/logger"
)

type mockProvider struct {
	name     string
	priority int
	enabled  bool
	result   *Candidate
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (m *mockProvider) Name() string                 { return m.name }
func (m *mockProvider) Priority() int                { return m.priority }
func (m *mockProvider) Enabled(context.Context) bool { return m.enabled }

func (m *mockProvider) FindMetadata(ctx context.Context, _ Query) (*Candidate, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, NetworkError(m.name, ctx.Err())
		}
	}
	return m.result, m.err
}

func candidate(source string, confidence float64) *Candidate {
	return &Candidate{Artist: "The Beatles", Album: "Let It Be", Source: source, Confidence: confidence}
}

func TestEnrich_PriorityOverHigherConfidence(t *testing.T) {
	mb := &mockProvider{name: "MusicBrainz", priority: 60, enabled: true, result: candidate("MusicBrainz", 0.72)}
	it := &mockProvider{name: "iTunes", priority: 65, enabled: true, result: candidate("iTunes", 0.95)}

	agg := NewAggregator([]Provider{mb, it}, logger.Nop())
	got := agg.Enrich(context.Background(), "The Beatles", "Let It Be")
	if got == nil || got.Source != "iTunes" {
		t.Fatalf("winner = %+v, want iTunes", got)
	}
}

func TestEnrich_NoQualifyingCandidate(t *testing.T) {
	providers := []Provider{
		&mockProvider{name: "a", priority: 60, enabled: true, result: candidate("a", 0.69)},
		&mockProvider{name: "b", priority: 80, enabled: true, result: candidate("b", 0.5)},
		&mockProvider{name: "c", priority: 70, enabled: true},
	}

	agg := NewAggregator(providers, logger.Nop())
	if got := agg.Enrich(context.Background(), "A", "B"); got != nil {
		t.Errorf("expected not found, got %+v", got)
	}
}

func TestEnrich_ConfidenceOutOfRangeIsIgnored(t *testing.T) {
	bogus := &mockProvider{name: "bogus", priority: 90, enabled: true, result: candidate("bogus", 1.5)}
	ok := &mockProvider{name: "ok", priority: 60, enabled: true, result: candidate("ok", 0.8)}

	got := NewAggregator([]Provider{bogus, ok}, logger.Nop()).Enrich(context.Background(), "A", "B")
	if got == nil || got.Source != "ok" {
		t.Fatalf("winner = %+v, want ok", got)
	}
}

func TestEnrich_DisabledProviderNotQueried(t *testing.T) {
	disabled := &mockProvider{name: "Spotify", priority: 80, enabled: false, result: candidate("Spotify", 1.0)}
	enabled := &mockProvider{name: "iTunes", priority: 65, enabled: true, result: candidate("iTunes", 0.9)}

	res := NewAggregator([]Provider{disabled, enabled}, logger.Nop()).
		EnrichDetailed(context.Background(), Query{Artist: "A", Title: "B"})

	if disabled.calls.Load() != 0 {
		t.Errorf("disabled provider called %d times", disabled.calls.Load())
	}
	if len(res.Outcomes) != 1 {
		t.Errorf("expected 1 outcome, got %d", len(res.Outcomes))
	}
	if res.Winner == nil || res.Winner.Source != "iTunes" {
		t.Errorf("winner = %+v, want iTunes", res.Winner)
	}
}

func TestEnrich_ErrorsDegradeToNotFound(t *testing.T) {
	providers := []Provider{
		&mockProvider{name: "net", priority: 80, enabled: true, err: NetworkError("net", errors.New("connection refused"))},
		&mockProvider{name: "auth", priority: 75, enabled: true, err: AuthError("auth", 401, nil)},
		&mockProvider{name: "bad", priority: 70, enabled: true, err: MalformedError("bad", 200, errors.New("unexpected EOF"))},
		&mockProvider{name: "limited", priority: 65, enabled: true, err: RateLimitError("limited", 429)},
		&mockProvider{name: "ok", priority: 60, enabled: true, result: candidate("ok", 0.75)},
	}

	res := NewAggregator(providers, logger.Nop()).EnrichDetailed(context.Background(), Query{Artist: "A", Title: "B"})
	if res.Winner == nil || res.Winner.Source != "ok" {
		t.Fatalf("winner = %+v, want ok", res.Winner)
	}

	labels := map[string]string{}
	for _, o := range res.Outcomes {
		labels[o.Provider] = o.Label()
	}
	want := map[string]string{"net": "network", "auth": "auth", "bad": "malformed", "limited": "rate_limited", "ok": "match"}
	for name, label := range want {
		if labels[name] != label {
			t.Errorf("outcome %s = %q, want %q", name, labels[name], label)
		}
	}
}

func TestEnrich_CandidateWithErrorIsDiscarded(t *testing.T) {
	p := &mockProvider{name: "p", priority: 80, enabled: true, result: candidate("p", 0.9), err: errors.New("boom")}
	if got := NewAggregator([]Provider{p}, logger.Nop()).Enrich(context.Background(), "A", "B"); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

type panickingProvider struct{ mockProvider }

func (p *panickingProvider) FindMetadata(context.Context, Query) (*Candidate, error) {
	panic("nil map")
}

func TestEnrich_PanicIsContained(t *testing.T) {
	bad := &panickingProvider{mockProvider{name: "bad", priority: 90, enabled: true}}
	ok := &mockProvider{name: "ok", priority: 60, enabled: true, result: candidate("ok", 0.9)}

	got := NewAggregator([]Provider{bad, ok}, logger.Nop()).Enrich(context.Background(), "A", "B")
	if got == nil || got.Source != "ok" {
		t.Fatalf("winner = %+v, want ok", got)
	}
}

func TestEnrich_DeadlineAbandonsSlowProviders(t *testing.T) {
	slow := &mockProvider{name: "slow", priority: 80, enabled: true, result: candidate("slow", 1.0), delay: 2 * time.Second}
	fast := &mockProvider{name: "fast", priority: 60, enabled: true, result: candidate("fast", 0.8)}

	agg := NewAggregator([]Provider{slow, fast}, logger.Nop(), WithDeadline(100*time.Millisecond))

	start := time.Now()
	res := agg.EnrichDetailed(context.Background(), Query{Artist: "A", Title: "B"})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Enrich took %v, deadline not enforced", elapsed)
	}
	if res.Winner == nil || res.Winner.Source != "fast" {
		t.Fatalf("winner = %+v, want fast", res.Winner)
	}

	var abandoned bool
	for _, o := range res.Outcomes {
		if o.Provider == "slow" {
			abandoned = o.Label() == OutcomeAbandoned || o.Label() == "network"
		}
	}
	if !abandoned {
		t.Error("slow provider should be recorded as abandoned")
	}
}

func TestEnrich_BlankQuerySkipsFanOut(t *testing.T) {
	p := &mockProvider{name: "p", priority: 60, enabled: true, result: candidate("p", 1.0)}
	agg := NewAggregator([]Provider{p}, logger.Nop())

	for _, q := range []Query{{Artist: "", Title: "B"}, {Artist: "A", Title: "  "}} {
		if got := agg.Enrich(context.Background(), q.Artist, q.Title); got != nil {
			t.Errorf("Enrich(%q, %q) = %+v, want nil", q.Artist, q.Title, got)
		}
	}
	if p.calls.Load() != 0 {
		t.Errorf("provider called %d times for blank queries", p.calls.Load())
	}
}

func TestEnrich_NoEnabledProviders(t *testing.T) {
	p := &mockProvider{name: "p", priority: 60, enabled: false}
	if got := NewAggregator([]Provider{p}, logger.Nop()).Enrich(context.Background(), "A", "B"); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestEnrich_CoverArtMerged(t *testing.T) {
	spotify := &mockProvider{name: "Spotify", priority: 80, enabled: true, result: candidate("Spotify", 0.9)}
	genius := &mockProvider{name: "Genius", priority: 75, enabled: true, result: candidate("Genius", 0.8)}
	genius.result.CoverArtURL = "https://images.genius.com/cover.jpg"
	mb := &mockProvider{name: "MusicBrainz", priority: 60, enabled: true, result: candidate("MusicBrainz", 0.8)}
	mb.result.CoverArtURL = "https://coverartarchive.org/release/x/front-500"

	got := NewAggregator([]Provider{mb, spotify, genius}, logger.Nop()).Enrich(context.Background(), "A", "B")
	if got == nil || got.Source != "Spotify" {
		t.Fatalf("winner = %+v, want Spotify", got)
	}
	if got.CoverArtURL != "https://images.genius.com/cover.jpg" {
		t.Errorf("CoverArtURL = %q, want cover from next-highest priority", got.CoverArtURL)
	}
	if spotify.result.CoverArtURL != "" {
		t.Error("merge must not mutate the provider's candidate")
	}
}

func TestEnrich_TieBreakIsDeterministic(t *testing.T) {
	a := &mockProvider{name: "alpha", priority: 70, enabled: true, result: candidate("alpha", 0.8)}
	b := &mockProvider{name: "beta", priority: 70, enabled: true, result: candidate("beta", 0.9)}
	c := &mockProvider{name: "gamma", priority: 70, enabled: true, result: candidate("gamma", 0.9)}

	agg := NewAggregator([]Provider{c, a, b}, logger.Nop())
	for i := 0; i < 20; i++ {
		got := agg.Enrich(context.Background(), "A", "B")
		if got == nil || got.Source != "beta" {
			t.Fatalf("run %d: winner = %+v, want beta", i, got)
		}
	}
}

type stubLyrics struct {
	text string
	err  error
	got  []string
}

func (s *stubLyrics) Lyrics(_ context.Context, artist, title, album string) (string, error) {
	s.got = []string{artist, title, album}
	return s.text, s.err
}

func TestEnrich_LyricsFill(t *testing.T) {
	p := &mockProvider{name: "p", priority: 60, enabled: true, result: candidate("p", 0.9)}
	lyrics := &stubLyrics{text: "When I find myself in times of trouble"}

	got := NewAggregator([]Provider{p}, logger.Nop(), WithLyrics(lyrics)).Enrich(context.Background(), "The Beatles", "Let It Be")
	if got == nil {
		t.Fatal("expected a winner")
	}
	if got.Lyrics != lyrics.text {
		t.Errorf("Lyrics = %q", got.Lyrics)
	}
	if lyrics.got[1] != "Let It Be" || lyrics.got[2] != "Let It Be" {
		t.Errorf("lyrics lookup args = %v", lyrics.got)
	}
}

func TestEnrich_LyricsFailureKeepsWinner(t *testing.T) {
	p := &mockProvider{name: "p", priority: 60, enabled: true, result: candidate("p", 0.9)}
	lyrics := &stubLyrics{err: fmt.Errorf("lrclib down")}

	got := NewAggregator([]Provider{p}, logger.Nop(), WithLyrics(lyrics)).Enrich(context.Background(), "A", "B")
	if got == nil || got.Lyrics != "" {
		t.Fatalf("winner = %+v, want winner without lyrics", got)
	}
}

// slowLyrics ignores its context, like a client stuck in a retry delay.
type slowLyrics struct{ delay time.Duration }

func (s slowLyrics) Lyrics(context.Context, string, string, string) (string, error) {
	time.Sleep(s.delay)
	return "too late", nil
}

func TestEnrich_LyricsBoundedByDeadline(t *testing.T) {
	p := &mockProvider{name: "p", priority: 60, enabled: true, result: candidate("p", 0.9)}
	agg := NewAggregator([]Provider{p}, logger.Nop(),
		WithDeadline(100*time.Millisecond),
		WithLyrics(slowLyrics{delay: 600 * time.Millisecond}),
	)

	start := time.Now()
	got := agg.Enrich(context.Background(), "A", "B")
	elapsed := time.Since(start)

	if got == nil {
		t.Fatal("expected a winner")
	}
	if got.Lyrics != "" {
		t.Errorf("Lyrics = %q, want none after the deadline", got.Lyrics)
	}
	if elapsed > 400*time.Millisecond {
		t.Errorf("Enrich took %v, want it bounded by the 100ms deadline", elapsed)
	}
}

type gatedProvider struct {
	mockProvider
	mu      sync.Mutex
	current int
	peak    int
}

func (g *gatedProvider) FindMetadata(ctx context.Context, q Query) (*Candidate, error) {
	g.mu.Lock()
	g.current++
	if g.current > g.peak {
		g.peak = g.current
	}
	g.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	g.mu.Lock()
	g.current--
	g.mu.Unlock()
	return g.result, nil
}

func TestEnrich_MaxInFlightBoundsConcurrency(t *testing.T) {
	p := &gatedProvider{mockProvider: mockProvider{name: "p", priority: 60, enabled: true, result: candidate("p", 0.9)}}
	agg := NewAggregator([]Provider{p}, logger.Nop(), WithMaxInFlight(2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Enrich(context.Background(), "A", "B")
		}()
	}
	wg.Wait()

	if p.peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p.peak)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]string
	sources  []string
}

func (r *recordingObserver) ObserveProvider(provider, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]string{}
	}
	r.outcomes[provider] = outcome
}

func (r *recordingObserver) ObserveEnrich(source string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source)
}

func TestEnrich_Observer(t *testing.T) {
	obs := &recordingObserver{}
	providers := []Provider{
		&mockProvider{name: "hit", priority: 60, enabled: true, result: candidate("hit", 0.9)},
		&mockProvider{name: "miss", priority: 70, enabled: true},
	}

	NewAggregator(providers, logger.Nop(), WithObserver(obs)).Enrich(context.Background(), "A", "B")

	if obs.outcomes["hit"] != OutcomeMatch || obs.outcomes["miss"] != OutcomeNotFound {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
	if len(obs.sources) != 1 || obs.sources[0] != "hit" {
		t.Errorf("sources = %v", obs.sources)
	}
}

func TestStatus_SortedByPriority(t *testing.T) {
	providers := []Provider{
		&mockProvider{name: "MusicBrainz", priority: 60, enabled: true},
		&mockProvider{name: "Spotify", priority: 80, enabled: false},
		&mockProvider{name: "Genius", priority: 75, enabled: true},
	}

	statuses := NewAggregator(providers, logger.Nop()).Status(context.Background())
	want := []string{"Spotify", "Genius", "MusicBrainz"}
	for i, s := range statuses {
		if s.Name != want[i] {
			t.Errorf("statuses[%d] = %s, want %s", i, s.Name, want[i])
		}
	}
	if statuses[0].Enabled {
		t.Error("Spotify should be reported disabled")
	}
}
