package genius

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"trackmeta/internal/logger"
	"trackmeta/internal/metadata"
	"trackmeta/internal/provider"
	"trackmeta/internal/settings"
)

const searchBody = `{"meta":{"status":200},"response":{"hits":[
	{"type":"song","result":{
		"id": 3039923,
		"title": "HUMBLE.",
		"primary_artist": {"id": 1421, "name": "Kendrick Lamar", "image_url": "https://images.genius.com/artist.jpg"},
		"song_art_image_url": "https://images.genius.com/song.jpg",
		"header_image_url": "https://images.genius.com/header.jpg",
		"verified_annotations_count": 0
	}}
]}}`

const songBody = `{"response":{"song":{
	"release_date": "2017-03-30",
	"album": {"id": 330710, "name": "DAMN. (Collector's Edition)"}
}}}`

const tracksBody = `{"response":{"tracks":[
	{"number":1},{"number":2},{"number":3},{"number":4},{"number":5},{"number":6},{"number":7}
]}}`

type fakeGenius struct {
	*httptest.Server
	calls       atomic.Int32
	search      string
	songStatus  int
	tracksCalls atomic.Int32
	rawQuery    string
}

func newFakeGenius(t *testing.T) *fakeGenius {
	t.Helper()
	f := &fakeGenius{search: searchBody, songStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"meta":{"status":401}}`))
			return
		}
		f.rawQuery = r.URL.RawQuery
		w.Write([]byte(f.search))
	})
	mux.HandleFunc("/songs/3039923", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(f.songStatus)
		w.Write([]byte(songBody))
	})
	mux.HandleFunc("/albums/330710/tracks", func(w http.ResponseWriter, r *http.Request) {
		f.tracksCalls.Add(1)
		w.Write([]byte(tracksBody))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newTestClient(url string, tok string) *Client {
	store := settings.NewMemoryStore(nil)
	if tok != "" {
		store.Set(context.Background(), settings.GeniusToken.Key, tok)
	}
	return New(provider.Options{BaseURL: url}, settings.NewResolver(store, logger.Nop()))
}

var humble = metadata.Query{Artist: "Kendrick Lamar", Title: "HUMBLE."}

func TestFindMetadata(t *testing.T) {
	f := newFakeGenius(t)
	c := newTestClient(f.URL, "test-token")

	got, err := c.FindMetadata(context.Background(), humble)
	if err != nil {
		t.Fatalf("FindMetadata() error: %v", err)
	}
	want := metadata.Candidate{
		Artist:         "Kendrick Lamar",
		Album:          "DAMN.",
		Year:           2017,
		CoverArtURL:    "https://images.genius.com/song.jpg",
		ArtistImageURL: "https://images.genius.com/artist.jpg",
		TotalTracks:    7,
		Confidence:     1.0,
		Source:         "Genius",
	}
	if got == nil || *got != want {
		t.Errorf("candidate = %+v\nwant        %+v", got, want)
	}
	if f.rawQuery != "q=Kendrick%20Lamar%20HUMBLE." {
		t.Errorf("raw query = %q", f.rawQuery)
	}
}

func TestFindMetadata_AnnotatedTitle(t *testing.T) {
	f := newFakeGenius(t)
	f.search = `{"response":{"hits":[{"result":{
		"id": 1, "title": "Sicko Mode (feat. Drake)",
		"primary_artist": {"name": "Travis Scott"},
		"header_image_url": "https://images.genius.com/header.jpg",
		"verified_annotations_count": 3
	}}]}}`
	c := newTestClient(f.URL, "test-token")

	got, err := c.FindMetadata(context.Background(), metadata.Query{Artist: "Travis Scott", Title: "SICKO MODE"})
	if err != nil || got == nil {
		t.Fatalf("FindMetadata() = %v, %v", got, err)
	}
	if got.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", got.Confidence)
	}
	if got.CoverArtURL != "https://images.genius.com/header.jpg" {
		t.Errorf("cover = %q, want header image fallback", got.CoverArtURL)
	}
	if got.Album != "" {
		t.Errorf("album = %q, want empty when song detail fails", got.Album)
	}
}

func TestFindMetadata_VerifiedBoost(t *testing.T) {
	f := newFakeGenius(t)
	f.search = `{"response":{"hits":[{"result":{
		"title": "Humble Pie", "primary_artist": {"name": "Kendrick Lamar"}, "verified_annotations_count": 2
	}}]}}`
	c := newTestClient(f.URL, "test-token")

	got, _ := c.FindMetadata(context.Background(), metadata.Query{Artist: "Kendrick Lamar", Title: "Humble"})
	want := 0.4 + 0.85*0.6 + 0.05
	if got == nil {
		t.Fatal("expected a candidate")
	}
	if diff := got.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", got.Confidence, want)
	}
}

func TestFindMetadata_DetailFailureKeepsCandidate(t *testing.T) {
	f := newFakeGenius(t)
	f.songStatus = http.StatusInternalServerError
	c := newTestClient(f.URL, "test-token")

	got, err := c.FindMetadata(context.Background(), humble)
	if err != nil || got == nil {
		t.Fatalf("FindMetadata() = %v, %v", got, err)
	}
	if got.Album != "" || got.TotalTracks != 0 {
		t.Errorf("candidate = %+v", got)
	}
	if f.tracksCalls.Load() != 0 {
		t.Error("album tracks fetched without album")
	}
}

func TestFindMetadata_NoHits(t *testing.T) {
	f := newFakeGenius(t)
	f.search = `{"response":{"hits":[]}}`
	c := newTestClient(f.URL, "test-token")

	got, err := c.FindMetadata(context.Background(), humble)
	if got != nil || err != nil {
		t.Errorf("FindMetadata() = %v, %v", got, err)
	}
}

func TestFindMetadata_Unauthorized(t *testing.T) {
	f := newFakeGenius(t)
	c := newTestClient(f.URL, "revoked")

	_, err := c.FindMetadata(context.Background(), humble)
	if !errors.Is(err, metadata.ErrAuth) {
		t.Errorf("err = %v, want ErrAuth", err)
	}
}

func TestDisabledWithoutToken(t *testing.T) {
	f := newFakeGenius(t)
	t.Setenv("GENIUS_ACCESS_TOKEN", "")
	c := newTestClient(f.URL, "")

	if c.Enabled(context.Background()) {
		t.Error("Enabled() = true without token")
	}
	if got, err := c.FindMetadata(context.Background(), humble); got != nil || err != nil {
		t.Errorf("FindMetadata() = %v, %v", got, err)
	}
	if f.calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", f.calls.Load())
	}
}

func TestEnabledFromEnvironment(t *testing.T) {
	f := newFakeGenius(t)
	t.Setenv("GENIUS_ACCESS_TOKEN", "test-token")
	c := newTestClient(f.URL, "")

	if !c.Enabled(context.Background()) {
		t.Error("Enabled() = false with env token")
	}
	if got, err := c.FindMetadata(context.Background(), humble); got == nil || err != nil {
		t.Errorf("FindMetadata() = %v, %v", got, err)
	}
}
