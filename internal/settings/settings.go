// Package settings resolves provider credentials from the runtime settings
// store with an environment variable fallback.
package settings

import (
	"context"
	"errors"
	"os"
	"strings"

	"trackmeta/internal/logger"
)

// ErrBlankValue is returned by Store.Set when asked to store a blank value.
// Stored keys are never overwritten with blanks; use Delete to clear one.
var ErrBlankValue = errors.New("refusing to store blank setting value")

// Credential names a setting key and its environment fallback.
type Credential struct {
	Key string
	Env string
}

// Provider credentials.
var (
	SpotifyClientID     = Credential{Key: "metadata.spotify.client-id", Env: "SPOTIFY_CLIENT_ID"}
	SpotifyClientSecret = Credential{Key: "metadata.spotify.client-secret", Env: "SPOTIFY_CLIENT_SECRET"}
	GeniusToken         = Credential{Key: "metadata.genius.token", Env: "GENIUS_ACCESS_TOKEN"}
	LastFMAPIKey        = Credential{Key: "metadata.lastfm.api-key", Env: "LASTFM_API_KEY"}
)

// Known lists every credential the providers read.
var Known = []Credential{SpotifyClientID, SpotifyClientSecret, GeniusToken, LastFMAPIKey}

// Reader is the read side of a settings store. Get returns "" for a
// missing key.
type Reader interface {
	Get(ctx context.Context, key string) (string, error)
}

// Store is a persistent key/value settings store.
type Store interface {
	Reader
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string]string, error)
}

// Resolver reads credentials fresh on every call so keys changed by an
// administrator apply without a restart.
type Resolver struct {
	store  Reader
	getenv func(string) string
	logger *logger.Logger
}

// NewResolver creates a Resolver. A nil store means environment only.
func NewResolver(store Reader, log *logger.Logger) *Resolver {
	return &Resolver{store: store, getenv: os.Getenv, logger: log.Named("settings")}
}

// Resolve returns the stored value for key if non-blank, else the value of
// envVar if non-blank, else "".
func (r *Resolver) Resolve(ctx context.Context, key, envVar string) string {
	if r.store != nil && key != "" {
		v, err := r.store.Get(ctx, key)
		if err != nil {
			r.logger.Warn("Settings store read failed, using environment", "key", key, "error", err.Error())
		} else if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	if envVar == "" {
		return ""
	}
	return strings.TrimSpace(r.getenv(envVar))
}

// Get resolves a Credential.
func (r *Resolver) Get(ctx context.Context, c Credential) string {
	return r.Resolve(ctx, c.Key, c.Env)
}

// Mask hides all but the last four characters of a secret.
func Mask(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}
