package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveProvider(t *testing.T) {
	m := New()
	m.ObserveProvider("iTunes", "match", 120*time.Millisecond)
	m.ObserveProvider("iTunes", "match", 80*time.Millisecond)
	m.ObserveProvider("Spotify", "auth", time.Second)

	if got := testutil.ToFloat64(m.providerCalls.WithLabelValues("iTunes", "match")); got != 2 {
		t.Errorf("iTunes match = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.providerCalls.WithLabelValues("Spotify", "auth")); got != 1 {
		t.Errorf("Spotify auth = %v, want 1", got)
	}
}

func TestObserveEnrich_NoWinner(t *testing.T) {
	m := New()
	m.ObserveEnrich("", time.Second)
	m.ObserveEnrich("Last.fm", time.Second)

	if got := testutil.ToFloat64(m.enrichTotal.WithLabelValues("none")); got != 1 {
		t.Errorf("none = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.enrichTotal.WithLabelValues("Last.fm")); got != 1 {
		t.Errorf("Last.fm = %v, want 1", got)
	}
}

func TestCacheLookup(t *testing.T) {
	m := New()
	m.CacheLookup("Genius", true)
	m.CacheLookup("Genius", false)
	m.CacheLookup("Genius", false)

	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("Genius", "miss")); got != 2 {
		t.Errorf("miss = %v, want 2", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveHTTP("POST", "/api/enrich", 200, 10*time.Millisecond)
	m.JobStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`trackmeta_http_requests_total{method="POST",route="/api/enrich",status="200"} 1`,
		"trackmeta_batch_jobs_active 1",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
