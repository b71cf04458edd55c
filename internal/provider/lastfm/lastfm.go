// Package lastfm looks up tracks through the Last.fm track.getInfo API,
// which carries community tags used as the genre.
package lastfm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"trackmeta/internal/metadata"
	"trackmeta/internal/provider"
	"trackmeta/internal/settings"
)

const (
	Name     = "Last.fm"
	Priority = 70

	defaultURL     = "https://ws.audioscrobbler.com/2.0/"
	defaultTimeout = 10 * time.Second

	albumBoost = 0.1
)

// Last.fm API error codes that change how a failure is reported.
const (
	errInvalidParameters = 6
	errInvalidAPIKey     = 10
	errServiceOffline    = 11
	errTemporary         = 16
	errSuspendedKey      = 26
	errRateLimit         = 29
)

var scorer = metadata.DefaultScorer

// Client is a Last.fm API client that implements metadata.Provider.
type Client struct {
	opts     provider.Options
	resolver *settings.Resolver
}

// New creates a Last.fm client. The API key is resolved on every call.
func New(opts provider.Options, resolver *settings.Resolver) *Client {
	opts = opts.Fill(defaultURL, defaultTimeout)
	opts.Logger = opts.Logger.Named("lastfm")
	return &Client{opts: opts, resolver: resolver}
}

func (c *Client) Name() string  { return Name }
func (c *Client) Priority() int { return Priority }

func (c *Client) Enabled(ctx context.Context) bool {
	return c.apiKey(ctx) != ""
}

func (c *Client) apiKey(ctx context.Context) string {
	return c.resolver.Get(ctx, settings.LastFMAPIKey)
}

func (c *Client) FindMetadata(ctx context.Context, q metadata.Query) (*metadata.Candidate, error) {
	if q.Blank() {
		return nil, nil
	}
	key := c.apiKey(ctx)
	if key == "" {
		return nil, nil
	}
	return provider.Cached(ctx, c.opts.Cache, Name, q, func(ctx context.Context) (*metadata.Candidate, error) {
		return c.getInfo(ctx, q, key)
	})
}

func (c *Client) getInfo(ctx context.Context, q metadata.Query, apiKey string) (*metadata.Candidate, error) {
	if err := c.opts.Throttle(ctx, Name); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("method", "track.getInfo")
	params.Set("api_key", apiKey)
	params.Set("artist", q.Artist)
	params.Set("track", q.Title)
	params.Set("format", "json")
	params.Set("autocorrect", "1")

	c.opts.Logger.Debug("Querying Last.fm", "artist", q.Artist, "title", q.Title)

	resp, err := provider.Get(ctx, c.opts.HTTPClient, Name, provider.Request{
		URL: c.opts.BaseURL + "?" + params.Encode(),
	})
	if err != nil {
		return nil, err
	}

	// Errors arrive as {"error": N, "message": "..."} with either a 200 or
	// a 4xx status, so the envelope is checked before the status.
	body := resp.Body
	if gjson.ValidBytes(body) {
		if code := gjson.GetBytes(body, "error"); code.Exists() {
			return nil, apiError(resp, int(code.Int()), gjson.GetBytes(body, "message").String())
		}
	}
	if err := provider.CheckStatus(Name, resp); err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, metadata.MalformedError(Name, resp.StatusCode,
			errors.New("invalid JSON body: "+provider.Excerpt(body)))
	}

	track := gjson.GetBytes(body, "track")
	if !track.Exists() {
		return nil, nil
	}
	return candidateFrom(q, track), nil
}

func apiError(resp *provider.Response, code int, message string) error {
	err := fmt.Errorf("last.fm error %d: %s", code, message)
	switch code {
	case errInvalidParameters:
		// "Track not found"
		return nil
	case errInvalidAPIKey, errSuspendedKey:
		return metadata.AuthError(Name, resp.StatusCode, err)
	case errRateLimit:
		return &metadata.ProviderError{Provider: Name, Kind: metadata.ErrRateLimited, StatusCode: resp.StatusCode, Err: err}
	case errServiceOffline, errTemporary:
		return &metadata.ProviderError{Provider: Name, Kind: metadata.ErrNetwork, StatusCode: resp.StatusCode, Err: err}
	default:
		return metadata.MalformedError(Name, resp.StatusCode, err)
	}
}

func candidateFrom(q metadata.Query, track gjson.Result) *metadata.Candidate {
	artist := track.Get("artist.name").String()
	album := track.Get("album")

	boost := 0.0
	if album.Exists() {
		boost = albumBoost
	}
	confidence := scorer.Score(q, artist, track.Get("name").String(), boost)
	if confidence < metadata.ConfidenceThreshold {
		return nil
	}

	if artist == "" {
		artist = q.Artist
	}
	return &metadata.Candidate{
		Artist:     artist,
		Album:      album.Get("title").String(),
		Year:       provider.FindYear(album.Get("wiki.published").String()),
		Genre:      firstTag(track.Get("toptags.tag")),
		Confidence: confidence,
		Source:     Name,
	}
}

// firstTag handles toptags.tag being either a list or a single object.
func firstTag(tags gjson.Result) string {
	var name string
	if tags.IsArray() {
		name = tags.Get("0.name").String()
	} else {
		name = tags.Get("name").String()
	}
	if name == "" {
		return ""
	}
	return provider.TitleCase(name)
}
