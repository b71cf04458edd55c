// Package spotify looks up tracks through the Spotify Web API using the
// client-credentials flow.
package spotify

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"trackmeta/internal/metadata"
	"trackmeta/internal/provider"
	"trackmeta/internal/settings"
	"trackmeta/internal/token"
)

const (
	Name     = "Spotify"
	Priority = 80

	defaultURL      = "https://api.spotify.com/v1"
	defaultTokenURL = "https://accounts.spotify.com/api/token"
	defaultTimeout  = 10 * time.Second
)

var scorer = metadata.Scorer{Contains: 0.85, Baseline: 0.5}

// Client is a Spotify Web API client that implements metadata.Provider.
type Client struct {
	opts     provider.Options
	resolver *settings.Resolver
	tokens   *token.Manager

	cacheMu    sync.Mutex
	genreCache map[string][]string // artist ID → genres
}

// New creates a Spotify client. An empty tokenURL uses Spotify's accounts
// service. Credentials are resolved on every call.
func New(opts provider.Options, resolver *settings.Resolver, tokenURL string) *Client {
	opts = opts.Fill(defaultURL, defaultTimeout)
	opts.Logger = opts.Logger.Named("spotify")
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}

	c := &Client{
		opts:       opts,
		resolver:   resolver,
		genreCache: make(map[string][]string),
	}
	c.tokens = token.NewManager(tokenURL, c.credentials, opts.HTTPClient, opts.Logger)
	return c
}

func (c *Client) credentials(ctx context.Context) (string, string) {
	return c.resolver.Get(ctx, settings.SpotifyClientID), c.resolver.Get(ctx, settings.SpotifyClientSecret)
}

func (c *Client) Name() string  { return Name }
func (c *Client) Priority() int { return Priority }

func (c *Client) Enabled(ctx context.Context) bool {
	id, secret := c.credentials(ctx)
	return id != "" && secret != ""
}

func (c *Client) FindMetadata(ctx context.Context, q metadata.Query) (*metadata.Candidate, error) {
	if q.Blank() || !c.Enabled(ctx) {
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
	params.Set("q", "artist:"+q.Artist+" track:"+q.Title)
	params.Set("type", "track")
	params.Set("limit", "5")

	c.opts.Logger.Debug("Querying Spotify", "artist", q.Artist, "title", q.Title)

	resp, err := c.get(ctx, c.opts.BaseURL+"/search?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var searchResp searchResponse
	if err := provider.Decode(Name, resp, &searchResp); err != nil {
		return nil, err
	}

	for _, item := range searchResp.Tracks.Items {
		if item.Album == nil || item.Album.Name == "" {
			continue
		}
		var artist string
		if len(item.Artists) > 0 {
			artist = item.Artists[0].Name
		}

		confidence := scorer.Score(q, artist, item.Name, float64(item.Popularity)/1000)
		if confidence < metadata.ConfidenceThreshold {
			continue
		}

		if artist == "" {
			artist = q.Artist
		}
		return &metadata.Candidate{
			Artist:      artist,
			Album:       item.Album.Name,
			Year:        provider.ParseYear(item.Album.ReleaseDate),
			Genre:       c.genre(ctx, item),
			TotalTracks: item.Album.TotalTracks,
			Confidence:  confidence,
			Source:      Name,
		}, nil
	}
	return nil, nil
}

// get issues an authorized GET. A 401 means the cached token was revoked
// or expired early: it is dropped and the request is retried once with a
// fresh one.
func (c *Client) get(ctx context.Context, reqURL string) (*provider.Response, error) {
	resp, tok, err := c.getWithToken(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.opts.Logger.Debug("Access token rejected, refreshing")
		c.tokens.Invalidate(tok)
		if resp, _, err = c.getWithToken(ctx, reqURL); err != nil {
			return nil, err
		}
	}
	if err := provider.CheckStatus(Name, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// getWithToken also returns the token it sent, so a 401 invalidates only
// that token.
func (c *Client) getWithToken(ctx context.Context, reqURL string) (*provider.Response, string, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, "", tokenError(err)
	}
	resp, err := provider.Get(ctx, c.opts.HTTPClient, Name, provider.Request{
		URL:    reqURL,
		Header: http.Header{"Authorization": {"Bearer " + tok}},
	})
	return resp, tok, err
}

func tokenError(err error) error {
	var xe *token.ExchangeError
	switch {
	case errors.As(err, &xe) && xe.StatusCode != 0:
		return metadata.AuthError(Name, xe.StatusCode, err)
	case errors.Is(err, token.ErrNoCredentials):
		return metadata.AuthError(Name, 0, err)
	default:
		// Token endpoint unreachable, or the caller gave up waiting.
		return metadata.NetworkError(Name, err)
	}
}

// genre prefers album genres, falling back to the primary artist's. It is
// best-effort: lookup failures leave the genre empty.
func (c *Client) genre(ctx context.Context, item trackItem) string {
	if len(item.Album.Genres) > 0 {
		return provider.TitleCase(item.Album.Genres[0])
	}
	if len(item.Artists) == 0 || item.Artists[0].ID == "" {
		return ""
	}
	genres, err := c.artistGenres(ctx, item.Artists[0].ID)
	if err != nil {
		c.opts.Logger.Debug("Artist genre lookup failed", "artist_id", item.Artists[0].ID, "error", err.Error())
		return ""
	}
	if len(genres) == 0 {
		return ""
	}
	return provider.TitleCase(genres[0])
}

// artistGenres returns genres for an artist, using cache when available.
func (c *Client) artistGenres(ctx context.Context, artistID string) ([]string, error) {
	c.cacheMu.Lock()
	if genres, ok := c.genreCache[artistID]; ok {
		c.cacheMu.Unlock()
		return genres, nil
	}
	c.cacheMu.Unlock()

	resp, err := c.get(ctx, c.opts.BaseURL+"/artists/"+url.PathEscape(artistID))
	if err != nil {
		return nil, err
	}
	var artistResp artistResponse
	if err := provider.Decode(Name, resp, &artistResp); err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.genreCache[artistID] = artistResp.Genres
	c.cacheMu.Unlock()
	return artistResp.Genres, nil
}

// Spotify API response types

type searchResponse struct {
	Tracks struct {
		Items []trackItem `json:"items"`
	} `json:"tracks"`
}

type trackItem struct {
	Name       string     `json:"name"`
	Popularity int        `json:"popularity"`
	Artists    []artist   `json:"artists"`
	Album      *albumInfo `json:"album"`
}

type artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type albumInfo struct {
	Name        string   `json:"name"`
	ReleaseDate string   `json:"release_date"`
	TotalTracks int      `json:"total_tracks"`
	Genres      []string `json:"genres"`
}

type artistResponse struct {
	Genres []string `json:"genres"`
}
