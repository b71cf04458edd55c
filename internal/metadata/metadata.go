package metadata

import (
	"context"
	"strings"
)

// ConfidenceThreshold is the minimum confidence a candidate needs to be
// returned by an adapter or selected by the Aggregator.
const ConfidenceThreshold = 0.70

// Query identifies the track being enriched.
type Query struct {
	Artist string
	Title  string
}

// Blank reports whether either field is empty after trimming.
func (q Query) Blank() bool {
	return strings.TrimSpace(q.Artist) == "" || strings.TrimSpace(q.Title) == ""
}

// Candidate is one adapter's proposed enrichment for a Query. Optional
// fields are left at their zero value when the provider has no data.
type Candidate struct {
	Artist         string  `json:"artist"`
	Album          string  `json:"album,omitempty"`
	Year           int     `json:"year,omitempty"`
	Genre          string  `json:"genre,omitempty"`
	CoverArtURL    string  `json:"coverArtUrl,omitempty"`
	ArtistImageURL string  `json:"artistImageUrl,omitempty"`
	Lyrics         string  `json:"lyrics,omitempty"`
	TotalTracks    int     `json:"totalTracks,omitempty"`
	Confidence     float64 `json:"confidence"`
	Source         string  `json:"source"`
}

// Provider is the interface that metadata adapters must implement.
//
// FindMetadata returns (nil, nil) when the catalog has no match at or above
// ConfidenceThreshold, and a *ProviderError when the lookup itself failed.
// Enabled is evaluated on every call because credentials can change at
// runtime.
type Provider interface {
	Name() string
	Priority() int
	Enabled(ctx context.Context) bool
	FindMetadata(ctx context.Context, q Query) (*Candidate, error)
}
