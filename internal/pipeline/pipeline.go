// Package pipeline assembles the enrichment stack from configuration:
// settings store, credential resolver, response cache, rate limits, the
// provider adapters, lyrics and the aggregator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"trackmeta/internal/cache"
	"trackmeta/internal/config"
	"trackmeta/internal/logger"
	"trackmeta/internal/lyrics"
	"trackmeta/internal/metadata"
	"trackmeta/internal/metrics"
	"trackmeta/internal/provider"
	"trackmeta/internal/provider/deezer"
	"trackmeta/internal/provider/genius"
	"trackmeta/internal/provider/itunes"
	"trackmeta/internal/provider/lastfm"
	"trackmeta/internal/provider/musicbrainz"
	"trackmeta/internal/provider/spotify"
	"trackmeta/internal/ratelimit"
	"trackmeta/internal/settings"
)

const janitorInterval = 30 * time.Minute

// Deps overrides parts of the stack that New would otherwise build from
// configuration. Zero values are built normally.
type Deps struct {
	HTTPClient      *http.Client
	Settings        settings.Store
	Cache           cache.Cache
	Metrics         *metrics.Metrics
	SpotifyTokenURL string
}

// Pipeline is a ready-to-use enrichment stack.
type Pipeline struct {
	Aggregator *metadata.Aggregator
	Settings   settings.Store
	Resolver   *settings.Resolver
	Metrics    *metrics.Metrics
	Limits     *ratelimit.Registry

	logger  *logger.Logger
	cancel  context.CancelFunc
	closers []func() error
}

// New builds the stack described by cfg. Close releases what it opened.
func New(ctx context.Context, cfg config.Config, log *logger.Logger, deps Deps) (*Pipeline, error) {
	bgCtx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{logger: log, cancel: cancel}

	if err := p.openSettings(ctx, cfg.Settings, deps.Settings); err != nil {
		p.Close()
		return nil, err
	}
	p.Resolver = settings.NewResolver(p.Settings, log)

	p.Metrics = deps.Metrics
	if p.Metrics == nil {
		p.Metrics = metrics.New()
	}

	lookupCache, err := p.openCache(ctx, bgCtx, cfg.Cache, deps.Cache)
	if err != nil {
		p.Close()
		return nil, err
	}

	p.Limits = ratelimit.NewRegistry()
	instrumented := cache.WithRecorder(lookupCache, p.Metrics)
	base := provider.Options{
		HTTPClient: deps.HTTPClient,
		Cache:      instrumented,
		Logger:     log,
		Limits:     p.Limits,
	}
	providers := p.buildProviders(cfg.Providers, base, deps.SpotifyTokenURL)

	opts := []metadata.Option{
		metadata.WithDeadline(cfg.Enrich.Deadline),
		metadata.WithThreshold(cfg.Enrich.ConfidenceThreshold),
		metadata.WithMaxInFlight(cfg.Enrich.MaxInFlight),
		metadata.WithObserver(p.Metrics),
	}
	if cfg.Lyrics.Enabled {
		client := lyrics.NewClient(cfg.Lyrics.BaseURL, deps.HTTPClient)
		opts = append(opts, metadata.WithLyrics(lyrics.NewCached(client, instrumented)))
	}
	p.Aggregator = metadata.NewAggregator(providers, log, opts...)
	return p, nil
}

func (p *Pipeline) openSettings(ctx context.Context, cfg config.SettingsConfig, store settings.Store) error {
	switch {
	case store != nil:
		p.Settings = store
	case cfg.Path == "":
		p.logger.Debug("Settings kept in memory")
		p.Settings = settings.NewMemoryStore(nil)
	default:
		db, err := settings.OpenSQLite(ctx, config.ExpandHome(cfg.Path))
		if err != nil {
			return fmt.Errorf("failed to open settings store: %w", err)
		}
		p.logger.Debug("Settings store opened", "path", db.Path())
		p.Settings = db
		p.closers = append(p.closers, db.Close)
	}
	return nil
}

func (p *Pipeline) openCache(ctx, bgCtx context.Context, cfg config.CacheConfig, c cache.Cache) (cache.Cache, error) {
	if c != nil {
		return c, nil
	}
	if cfg.Backend == "redis" {
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.TTL,
		}, p.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		p.closers = append(p.closers, r.Close)
		return r, nil
	}
	mem := cache.NewMemory(cfg.TTL, cfg.MaxEntries)
	go mem.RunJanitor(bgCtx, janitorInterval)
	return mem, nil
}

// buildProviders creates the enabled adapters and registers their
// configured rate limits.
func (p *Pipeline) buildProviders(cfg config.ProvidersConfig, base provider.Options, tokenURL string) []metadata.Provider {
	with := func(pc config.ProviderConfig, name string) provider.Options {
		o := base
		o.BaseURL = pc.BaseURL
		o.Timeout = pc.Timeout
		if pc.MinInterval > 0 {
			p.Limits.Set(name, pc.MinInterval)
		}
		return o
	}

	var providers []metadata.Provider
	if cfg.MusicBrainz.Enabled {
		// MusicBrainz allows about one request per second; a setting can
		// only slow it down further.
		mb := cfg.MusicBrainz
		if mb.MinInterval < musicbrainz.MinInterval {
			if mb.MinInterval > 0 {
				p.logger.Warn("Raising MusicBrainz min_interval to the service limit",
					"configured", mb.MinInterval, "used", musicbrainz.MinInterval)
			}
			mb.MinInterval = musicbrainz.MinInterval
		}
		providers = append(providers, musicbrainz.New(with(mb, musicbrainz.Name), p.Limits))
	}
	if cfg.ITunes.Enabled {
		providers = append(providers, itunes.New(with(cfg.ITunes, itunes.Name)))
	}
	if cfg.LastFM.Enabled {
		providers = append(providers, lastfm.New(with(cfg.LastFM, lastfm.Name), p.Resolver))
	}
	if cfg.Spotify.Enabled {
		providers = append(providers, spotify.New(with(cfg.Spotify, spotify.Name), p.Resolver, tokenURL))
	}
	if cfg.Genius.Enabled {
		providers = append(providers, genius.New(with(cfg.Genius, genius.Name), p.Resolver))
	}
	if cfg.Deezer.Enabled {
		providers = append(providers, deezer.New(with(cfg.Deezer, deezer.Name)))
	}
	return providers
}

// Enrich runs one lookup through the aggregator.
func (p *Pipeline) Enrich(ctx context.Context, artist, title string) *metadata.Candidate {
	return p.Aggregator.Enrich(ctx, artist, title)
}

// Close stops background work and closes opened stores, newest first.
func (p *Pipeline) Close() error {
	p.cancel()
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
