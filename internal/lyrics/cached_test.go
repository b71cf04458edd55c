package lyrics

import (
	"context"
	"errors"
	"testing"

	"trackmeta/internal/cache"
)

type countingFetcher struct {
	text  string
	err   error
	calls int
}

func (f *countingFetcher) Lyrics(context.Context, string, string, string) (string, error) {
	f.calls++
	return f.text, f.err
}

func TestCachedServesRepeatLookups(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"found", "[00:01.00] When I find myself"},
		{"not found", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &countingFetcher{text: tt.text}
			mem := cache.NewMemory(0, 0)
			c := NewCached(f, mem)

			for i := 0; i < 2; i++ {
				got, err := c.Lyrics(context.Background(), "The Beatles", "Let It Be", "Let It Be")
				if err != nil {
					t.Fatalf("call %d: %v", i+1, err)
				}
				if got != tt.text {
					t.Errorf("call %d: lyrics = %q, want %q", i+1, got, tt.text)
				}
			}
			if f.calls != 1 {
				t.Errorf("fetcher calls = %d, want 1", f.calls)
			}
			if _, ok := mem.Get(context.Background(), "LRCLib:The Beatles:Let It Be"); !ok {
				t.Error("lookup not stored under the LRCLib key")
			}
		})
	}
}

func TestCachedDoesNotStoreFailures(t *testing.T) {
	f := &countingFetcher{err: errors.New("lrclib down")}
	c := NewCached(f, cache.NewMemory(0, 0))

	for i := 0; i < 2; i++ {
		if _, err := c.Lyrics(context.Background(), "A", "B", ""); err == nil {
			t.Fatalf("call %d: expected an error", i+1)
		}
	}
	if f.calls != 2 {
		t.Errorf("fetcher calls = %d, want 2", f.calls)
	}
}
