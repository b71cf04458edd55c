// Package itunes looks up songs through Apple's iTunes Search API.
package itunes

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"trackmeta/internal/metadata"
	"trackmeta/internal/provider"
)

const (
	Name     = "iTunes"
	Priority = 65

	defaultURL     = "https://itunes.apple.com/search"
	defaultTimeout = 8 * time.Second
)

var scorer = metadata.Scorer{Contains: 0.8, Baseline: 0.4}

// Client is an iTunes Search API client that implements metadata.Provider.
type Client struct {
	opts provider.Options
}

// New creates a new iTunes client.
func New(opts provider.Options) *Client {
	opts = opts.Fill(defaultURL, defaultTimeout)
	opts.Logger = opts.Logger.Named("itunes")
	return &Client{opts: opts}
}

func (c *Client) Name() string                 { return Name }
func (c *Client) Priority() int                { return Priority }
func (c *Client) Enabled(context.Context) bool { return true }

func (c *Client) FindMetadata(ctx context.Context, q metadata.Query) (*metadata.Candidate, error) {
	if q.Blank() {
		return nil, nil
	}
	return provider.Cached(ctx, c.opts.Cache, Name, q, func(ctx context.Context) (*metadata.Candidate, error) {
		return c.search(ctx, q)
	})
}

func (c *Client) search(ctx context.Context, q metadata.Query) (*metadata.Candidate, error) {
	if err := c.opts.Throttle(ctx, Name); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("term", q.Artist+" "+q.Title)
	params.Set("media", "music")
	params.Set("entity", "song")
	params.Set("limit", "5")

	c.opts.Logger.Debug("Querying iTunes Search", "artist", q.Artist, "title", q.Title)

	resp, err := provider.Get(ctx, c.opts.HTTPClient, Name, provider.Request{
		URL: c.opts.BaseURL + "?" + params.Encode(),
	})
	if err != nil {
		return nil, err
	}
	if err := provider.CheckStatus(Name, resp); err != nil {
		return nil, err
	}

	// The API answers with Content-Type text/javascript, so the body is
	// validated and read as JSON regardless of the declared type.
	if !gjson.ValidBytes(resp.Body) {
		return nil, metadata.MalformedError(Name, resp.StatusCode,
			errors.New("invalid JSON body: "+provider.Excerpt(resp.Body)))
	}

	results := gjson.GetBytes(resp.Body, "results")
	if !results.Exists() {
		return nil, metadata.MalformedError(Name, resp.StatusCode,
			errors.New("missing results field: "+provider.Excerpt(resp.Body)))
	}

	var found *metadata.Candidate
	results.ForEach(func(_, item gjson.Result) bool {
		found = candidateFrom(q, item)
		return found == nil
	})
	return found, nil
}

// candidateFrom scores one search result. Apple's artwork is not offered
// as cover art because its licence does not permit redistribution.
func candidateFrom(q metadata.Query, item gjson.Result) *metadata.Candidate {
	artist := strings.TrimSpace(item.Get("artistName").String())
	title := item.Get("trackName").String()

	confidence := scorer.Score(q, artist, title, 0)
	if confidence < metadata.ConfidenceThreshold {
		return nil
	}

	return &metadata.Candidate{
		Artist:      artist,
		Album:       item.Get("collectionName").String(),
		Year:        provider.ParseYear(item.Get("releaseDate").String()),
		Genre:       item.Get("primaryGenreName").String(),
		TotalTracks: int(item.Get("trackCount").Int()),
		Confidence:  confidence,
		Source:      Name,
	}
}
