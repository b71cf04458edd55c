// Package genius looks up songs through the Genius API. Genius is strong
// on contemporary and non-English releases and carries song artwork and
// artist images.
package genius

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trackmeta/internal/metadata"
	"trackmeta/internal/provider"
	"trackmeta/internal/settings"
)

const (
	Name     = "Genius"
	Priority = 75

	defaultURL     = "https://api.genius.com"
	defaultTimeout = 10 * time.Second

	verifiedBoost = 0.05
)

var scorer = metadata.Scorer{Contains: 0.85, Baseline: 0.5, Title: metadata.StripAnnotations}

// Client is a Genius API client that implements metadata.Provider.
type Client struct {
	opts     provider.Options
	resolver *settings.Resolver
}

// New creates a Genius client. The access token is resolved on every call.
func New(opts provider.Options, resolver *settings.Resolver) *Client {
	opts = opts.Fill(defaultURL, defaultTimeout)
	opts.Logger = opts.Logger.Named("genius")
	return &Client{opts: opts, resolver: resolver}
}

func (c *Client) Name() string  { return Name }
func (c *Client) Priority() int { return Priority }

func (c *Client) Enabled(ctx context.Context) bool {
	return c.accessToken(ctx) != ""
}

func (c *Client) accessToken(ctx context.Context) string {
	return c.resolver.Get(ctx, settings.GeniusToken)
}

func (c *Client) FindMetadata(ctx context.Context, q metadata.Query) (*metadata.Candidate, error) {
	if q.Blank() {
		return nil, nil
	}
	tok := c.accessToken(ctx)
	if tok == "" {
		return nil, nil
	}
	return provider.Cached(ctx, c.opts.Cache, Name, q, func(ctx context.Context) (*metadata.Candidate, error) {
		return c.search(ctx, q, tok)
	})
}

func (c *Client) search(ctx context.Context, q metadata.Query, tok string) (*metadata.Candidate, error) {
	if err := c.opts.Throttle(ctx, Name); err != nil {
		return nil, err
	}
	// Genius expects %20 for spaces in the search term.
	term := strings.ReplaceAll(url.QueryEscape(q.Artist+" "+q.Title), "+", "%20")

	c.opts.Logger.Debug("Querying Genius", "artist", q.Artist, "title", q.Title)

	var searchResp searchResponse
	if err := c.getJSON(ctx, tok, "/search?q="+term, &searchResp); err != nil {
		return nil, err
	}

	for _, hit := range searchResp.Response.Hits {
		song := hit.Result
		if song == nil {
			continue
		}

		var artist, artistImage string
		if song.PrimaryArtist != nil {
			artist = song.PrimaryArtist.Name
			artistImage = song.PrimaryArtist.ImageURL
		}

		boost := 0.0
		if song.VerifiedAnnotationsCount > 0 {
			boost = verifiedBoost
		}
		confidence := scorer.Score(q, artist, song.Title, boost)
		if confidence < metadata.ConfidenceThreshold {
			continue
		}

		if artist == "" {
			artist = q.Artist
		}
		cand := &metadata.Candidate{
			Artist:         artist,
			CoverArtURL:    firstNonEmpty(song.SongArtImageURL, song.HeaderImageURL),
			ArtistImageURL: artistImage,
			Confidence:     confidence,
			Source:         Name,
		}
		c.addAlbum(ctx, tok, song.ID, cand)
		return cand, nil
	}
	return nil, nil
}

// addAlbum fills album, year and track count from the song and album
// endpoints. Both lookups are best-effort.
func (c *Client) addAlbum(ctx context.Context, tok string, songID int64, cand *metadata.Candidate) {
	if songID == 0 {
		return
	}

	var detail songResponse
	if err := c.getJSON(ctx, tok, "/songs/"+strconv.FormatInt(songID, 10), &detail); err != nil {
		c.opts.Logger.Warn("Song detail lookup failed", "song_id", songID, "error", err.Error())
		return
	}
	song := detail.Response.Song
	if song.Album == nil {
		return
	}
	cand.Album = metadata.CleanAlbumName(song.Album.Name)
	cand.Year = provider.ParseYear(song.ReleaseDate)

	if song.Album.ID == 0 {
		return
	}
	var tracks albumTracksResponse
	path := "/albums/" + strconv.FormatInt(song.Album.ID, 10) + "/tracks?per_page=50"
	if err := c.getJSON(ctx, tok, path, &tracks); err != nil {
		c.opts.Logger.Warn("Album tracks lookup failed", "album_id", song.Album.ID, "error", err.Error())
		return
	}
	cand.TotalTracks = len(tracks.Response.Tracks)
}

func (c *Client) getJSON(ctx context.Context, tok, path string, v any) error {
	resp, err := provider.Get(ctx, c.opts.HTTPClient, Name, provider.Request{
		URL:    c.opts.BaseURL + path,
		Header: http.Header{"Authorization": {"Bearer " + tok}},
	})
	if err != nil {
		return err
	}
	if err := provider.CheckStatus(Name, resp); err != nil {
		return err
	}
	return provider.Decode(Name, resp, v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Genius API response types

type searchResponse struct {
	Response struct {
		Hits []hit `json:"hits"`
	} `json:"response"`
}

type hit struct {
	Result *song `json:"result"`
}

type song struct {
	ID                       int64       `json:"id"`
	Title                    string      `json:"title"`
	PrimaryArtist            *artistInfo `json:"primary_artist"`
	SongArtImageURL          string      `json:"song_art_image_url"`
	HeaderImageURL           string      `json:"header_image_url"`
	VerifiedAnnotationsCount int         `json:"verified_annotations_count"`
}

type artistInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

type albumInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type songResponse struct {
	Response struct {
		Song struct {
			Album       *albumInfo `json:"album"`
			ReleaseDate string     `json:"release_date"`
		} `json:"song"`
	} `json:"response"`
}

type albumTracksResponse struct {
	Response struct {
		Tracks []struct {
			Number int `json:"number"`
		} `json:"tracks"`
	} `json:"response"`
}
