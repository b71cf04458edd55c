// Package musicbrainz looks up recordings in the MusicBrainz database. The
// service needs no key but allows roughly one request per second per client.
package musicbrainz

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trackmeta/internal/metadata"
	"trackmeta/internal/provider"
	"trackmeta/internal/ratelimit"
)

const (
	Name        = "MusicBrainz"
	Priority    = 60
	MinInterval = 1100 * time.Millisecond

	defaultURL     = "https://musicbrainz.org/ws/2"
	defaultTimeout = 10 * time.Second
	coverArtURL    = "https://coverartarchive.org/release/%s/front-500"
)

var scorer = metadata.DefaultScorer

// Client is a MusicBrainz Web API client that implements metadata.Provider.
type Client struct {
	opts   provider.Options
	limits *ratelimit.Registry
}

// New creates a MusicBrainz client. Requests are spaced through limits,
// which gets a MinInterval limiter for this provider unless one is
// already registered.
func New(opts provider.Options, limits *ratelimit.Registry) *Client {
	if limits == nil {
		limits = ratelimit.NewRegistry()
	}
	if _, ok := limits.Get(Name); !ok {
		limits.Set(Name, MinInterval)
	}
	opts = opts.Fill(defaultURL, defaultTimeout)
	opts.Logger = opts.Logger.Named("musicbrainz")
	return &Client{opts: opts, limits: limits}
}

func (c *Client) Name() string                 { return Name }
func (c *Client) Priority() int                { return Priority }
func (c *Client) Enabled(context.Context) bool { return true }

// FindMetadata searches recordings by artist and title and returns the
// first one with a release that scores at or above the threshold.
func (c *Client) FindMetadata(ctx context.Context, q metadata.Query) (*metadata.Candidate, error) {
	if q.Blank() {
		return nil, nil
	}
	return provider.Cached(ctx, c.opts.Cache, Name, q, func(ctx context.Context) (*metadata.Candidate, error) {
		return c.search(ctx, q)
	})
}

func (c *Client) search(ctx context.Context, q metadata.Query) (*metadata.Candidate, error) {
	if err := c.limits.Throttle(ctx, Name); err != nil {
		return nil, metadata.NetworkError(Name, err)
	}

	params := url.Values{}
	params.Set("query", buildQuery(q))
	params.Set("fmt", "json")
	params.Set("limit", "5")

	c.opts.Logger.Debug("Querying MusicBrainz", "artist", q.Artist, "title", q.Title)

	resp, err := provider.Get(ctx, c.opts.HTTPClient, Name, provider.Request{
		URL:    c.opts.BaseURL + "/recording?" + params.Encode(),
		Header: http.Header{"Accept": {"application/json"}},
	})
	if err != nil {
		return nil, err
	}
	if err := provider.CheckStatus(Name, resp); err != nil {
		return nil, err
	}

	var searchResp searchResponse
	if err := provider.Decode(Name, resp, &searchResp); err != nil {
		return nil, err
	}

	return pickCandidate(q, searchResp.Recordings), nil
}

func buildQuery(q metadata.Query) string {
	return fmt.Sprintf(`artist:"%s" AND recording:"%s"`, escape(q.Artist), escape(q.Title))
}

var escaper = strings.NewReplacer(`"`, `\"`, `:`, `\:`)

func escape(s string) string {
	return escaper.Replace(s)
}

func pickCandidate(q metadata.Query, recordings []recording) *metadata.Candidate {
	for _, rec := range recordings {
		if len(rec.Releases) == 0 {
			continue
		}

		artist := creditedArtist(rec.ArtistCredit)
		confidence := scorer.Score(q, artist, rec.Title, 0)
		if confidence < metadata.ConfidenceThreshold {
			continue
		}

		rel := rec.Releases[0]
		if artist == "" {
			artist = q.Artist
		}
		c := &metadata.Candidate{
			Artist:     artist,
			Album:      rel.Title,
			Year:       provider.ParseYear(rel.Date),
			Confidence: confidence,
			Source:     Name,
		}
		if rel.ID != "" {
			c.CoverArtURL = fmt.Sprintf(coverArtURL, rel.ID)
		}
		if rel.TrackCount > 0 {
			c.TotalTracks = rel.TrackCount
		}
		return c
	}
	return nil
}

func creditedArtist(credits []artistCredit) string {
	if len(credits) == 0 {
		return ""
	}
	if credits[0].Name != "" {
		return credits[0].Name
	}
	return credits[0].Artist.Name
}

// MusicBrainz API response types

type searchResponse struct {
	Recordings []recording `json:"recordings"`
}

type recording struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	ArtistCredit []artistCredit `json:"artist-credit"`
	Releases     []release      `json:"releases"`
}

type artistCredit struct {
	Name   string     `json:"name"`
	Artist artistInfo `json:"artist"`
}

type artistInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type release struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Date       string `json:"date"`
	TrackCount int    `json:"track-count"`
}
