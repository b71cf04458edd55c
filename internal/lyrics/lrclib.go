// Package lyrics fetches song lyrics from LRCLib.
package lyrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

// DefaultURL is the LRCLib exact-match endpoint.
const DefaultURL = "https://lrclib.net/api/get"

const defaultUserAgent = "trackmeta/1.0 (+https://github.com/trackmeta/trackmeta)"

type Result struct {
	Synced string // LRC format with timestamps, empty if unavailable
	Plain  string // plain text lyrics, empty if unavailable
}

// Text returns the synced lyrics when present, otherwise the plain ones.
func (r Result) Text() string {
	if r.Synced != "" {
		return r.Synced
	}
	return r.Plain
}

type Client struct {
	httpClient *http.Client
	apiURL     string
	userAgent  string
	retryDelay time.Duration
}

// NewClient creates a Client. An empty apiURL selects DefaultURL and a nil
// httpClient gets a 10 second timeout.
func NewClient(apiURL string, httpClient *http.Client) *Client {
	if apiURL == "" {
		apiURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		apiURL:     apiURL,
		userAgent:  defaultUserAgent,
		retryDelay: 2 * time.Second,
	}
}

// Lyrics returns the best available lyrics text, or "" when LRCLib has none.
func (c *Client) Lyrics(ctx context.Context, artist, title, album string) (string, error) {
	result, err := c.Fetch(ctx, artist, title, album)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// Fetch retrieves lyrics for the given track from LRCLib.
// Returns empty Result (no error) when lyrics are not found.
// Retries once on transient network errors.
func (c *Client) Fetch(ctx context.Context, artist, title, album string) (Result, error) {
	result, err := c.doFetch(ctx, artist, title, album)
	if err == nil {
		return result, nil
	}

	// API errors would fail identically on retry.
	if !isTransient(err) {
		return Result{}, err
	}

	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Result{}, err
	case <-t.C:
	}
	return c.doFetch(ctx, artist, title, album)
}

func isTransient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) doFetch(ctx context.Context, artist, title, album string) (Result, error) {
	params := url.Values{}
	params.Set("artist_name", artist)
	params.Set("track_name", title)
	if album != "" {
		params.Set("album_name", album)
	}

	reqURL := fmt.Sprintf("%s?%s", c.apiURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create lrclib request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("lrclib request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Result{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("lrclib returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read lrclib response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return Result{}, fmt.Errorf("failed to decode lrclib response: %w", err)
	}

	return Result{
		Synced: apiResp.SyncedLyrics,
		Plain:  apiResp.PlainLyrics,
	}, nil
}

type apiResponse struct {
	SyncedLyrics string `json:"syncedLyrics"`
	PlainLyrics  string `json:"plainLyrics"`
}
