// Package deezer looks up tracks through Deezer's public search API. No
// credentials are needed. Deezer's CDN artwork is not passed on because it
// may not be redistributed.
package deezer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"trackmeta/internal/metadata"
	"trackmeta/internal/provider"
)

const (
	Name     = "Deezer"
	Priority = 55

	defaultURL     = "https://api.deezer.com"
	defaultTimeout = 8 * time.Second

	// quotaExceeded is the API error code for "too many requests".
	quotaExceeded = 4
)

// Client is a Deezer API client that implements metadata.Provider.
type Client struct {
	opts provider.Options
}

// New creates a new Deezer client.
func New(opts provider.Options) *Client {
	opts = opts.Fill(defaultURL, defaultTimeout)
	opts.Logger = opts.Logger.Named("deezer")
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

	c.opts.Logger.Debug("Querying Deezer search", "artist", q.Artist, "title", q.Title)

	resp, err := provider.Get(ctx, c.opts.HTTPClient, Name, provider.Request{
		URL: fmt.Sprintf("%s/search?q=%s&limit=5", c.opts.BaseURL, url.QueryEscape(buildQuery(q))),
	})
	if err != nil {
		return nil, err
	}
	if err := provider.CheckStatus(Name, resp); err != nil {
		return nil, err
	}

	var sr searchResponse
	if err := provider.Decode(Name, resp, &sr); err != nil {
		return nil, err
	}

	// Deezer reports API errors in a 200 body.
	if sr.Error != nil {
		if sr.Error.Code == quotaExceeded {
			return nil, &metadata.ProviderError{
				Provider:   Name,
				Kind:       metadata.ErrRateLimited,
				StatusCode: resp.StatusCode,
				Err:        errors.New(sr.Error.Message),
			}
		}
		return nil, metadata.MalformedError(Name, resp.StatusCode,
			fmt.Errorf("%s: %s", sr.Error.Type, sr.Error.Message))
	}

	for _, item := range sr.Data {
		if cand := candidateFrom(q, item); cand != nil {
			return cand, nil
		}
	}
	return nil, nil
}

// buildQuery uses Deezer's advanced search fields. Quotes are dropped
// because they would end the field value.
func buildQuery(q metadata.Query) string {
	clean := func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
	}
	var parts []string
	if t := clean(q.Title); t != "" {
		parts = append(parts, `track:"`+t+`"`)
	}
	if a := clean(q.Artist); a != "" {
		parts = append(parts, `artist:"`+a+`"`)
	}
	return strings.Join(parts, " ")
}

func candidateFrom(q metadata.Query, item trackItem) *metadata.Candidate {
	title := item.TitleShort
	if title == "" {
		title = item.Title
	}

	confidence := metadata.DefaultScorer.Score(q, item.Artist.Name, title, 0)
	if confidence < metadata.ConfidenceThreshold {
		return nil
	}

	return &metadata.Candidate{
		Artist:     item.Artist.Name,
		Album:      item.Album.Title,
		Confidence: confidence,
		Source:     Name,
	}
}

type searchResponse struct {
	Data  []trackItem `json:"data"`
	Error *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type trackItem struct {
	ID         int       `json:"id"`
	Title      string    `json:"title"`
	TitleShort string    `json:"title_short"`
	Artist     artist    `json:"artist"`
	Album      albumInfo `json:"album"`
}

type artist struct {
	Name string `json:"name"`
}

type albumInfo struct {
	Title string `json:"title"`
}
