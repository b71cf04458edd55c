package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			modify: func(c *Config) {},
		},
		{
			name:    "confidence threshold 0.0",
			modify:  func(c *Config) { c.Enrich.ConfidenceThreshold = 0.0 },
			wantErr: "enrich.confidence_threshold",
		},
		{
			name:    "confidence threshold below adapter floor",
			modify:  func(c *Config) { c.Enrich.ConfidenceThreshold = 0.5 },
			wantErr: "enrich.confidence_threshold",
		},
		{
			name:   "confidence threshold 0.7",
			modify: func(c *Config) { c.Enrich.ConfidenceThreshold = 0.7 },
		},
		{
			name:   "confidence threshold 0.85",
			modify: func(c *Config) { c.Enrich.ConfidenceThreshold = 0.85 },
		},
		{
			name:   "confidence threshold 1.0",
			modify: func(c *Config) { c.Enrich.ConfidenceThreshold = 1.0 },
		},
		{
			name:    "confidence threshold negative",
			modify:  func(c *Config) { c.Enrich.ConfidenceThreshold = -0.1 },
			wantErr: "enrich.confidence_threshold",
		},
		{
			name:    "confidence threshold above 1",
			modify:  func(c *Config) { c.Enrich.ConfidenceThreshold = 1.1 },
			wantErr: "enrich.confidence_threshold",
		},
		{
			name:    "zero deadline",
			modify:  func(c *Config) { c.Enrich.Deadline = 0 },
			wantErr: "enrich.deadline",
		},
		{
			name:    "unknown cache backend",
			modify:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "cache.backend must be one of [memory redis]",
		},
		{
			name: "redis backend without addr",
			modify: func(c *Config) {
				c.Cache.Backend = "redis"
				c.Cache.Redis.Addr = ""
			},
			wantErr: "cache.redis.addr is required",
		},
		{
			name:    "bad redis addr",
			modify:  func(c *Config) { c.Cache.Redis.Addr = "not an address" },
			wantErr: "cache.redis.addr",
		},
		{
			name:    "redis db out of range",
			modify:  func(c *Config) { c.Cache.Redis.DB = 16 },
			wantErr: "cache.redis.db",
		},
		{
			name:    "workers 0",
			modify:  func(c *Config) { c.Batch.Workers = 0 },
			wantErr: "batch.workers",
		},
		{
			name:   "workers 32",
			modify: func(c *Config) { c.Batch.Workers = 32; c.Enrich.MaxInFlight = 0 },
		},
		{
			name: "in-flight bound below workers",
			modify: func(c *Config) {
				c.Batch.Workers = 8
				c.Enrich.MaxInFlight = 4
			},
			wantErr: "enrich.max_in_flight",
		},
		{
			name:    "provider base url",
			modify:  func(c *Config) { c.Providers.Spotify.BaseURL = "not a url" },
			wantErr: "providers.spotify.base_url",
		},
		{
			name:    "negative provider timeout",
			modify:  func(c *Config) { c.Providers.Genius.Timeout = -time.Second },
			wantErr: "providers.genius.timeout",
		},
		{
			name:    "empty server addr",
			modify:  func(c *Config) { c.Server.Addr = "" },
			wantErr: "server.addr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `enrich:
  deadline: 5s
  confidence_threshold: 0.8
cache:
  backend: redis
  ttl: 24h
  redis:
    addr: redis:6379
    db: 2
providers:
  musicbrainz:
    min_interval: 2s
  genius:
    enabled: false
settings:
  path: ~/trackmeta/settings.db
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error: %v", err)
	}

	if cfg.Enrich.Deadline != 5*time.Second {
		t.Errorf("Deadline = %v, want 5s", cfg.Enrich.Deadline)
	}
	if cfg.Enrich.ConfidenceThreshold != 0.8 {
		t.Errorf("ConfidenceThreshold = %f, want 0.8", cfg.Enrich.ConfidenceThreshold)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.TTL != 24*time.Hour || cfg.Cache.Redis.DB != 2 {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Providers.MusicBrainz.MinInterval != 2*time.Second || !cfg.Providers.MusicBrainz.Enabled {
		t.Errorf("MusicBrainz = %+v", cfg.Providers.MusicBrainz)
	}
	if cfg.Providers.Genius.Enabled {
		t.Error("Genius should be disabled")
	}
	if !cfg.Providers.Spotify.Enabled {
		t.Error("unset providers keep their defaults")
	}
	if cfg.Batch.Workers != 4 {
		t.Errorf("Workers = %d, want default 4", cfg.Batch.Workers)
	}
	if want := filepath.Join(homeDir(), "trackmeta", "settings.db"); cfg.Settings.Path != want {
		t.Errorf("Settings.Path = %q, want %q", cfg.Settings.Path, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	cfg, err := LoadConfigFile("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadConfigFile() should return defaults for missing file, got error: %v", err)
	}
	if cfg.Enrich.Deadline != 12*time.Second {
		t.Errorf("expected default deadline 12s, got %v", cfg.Enrich.Deadline)
	}
}

func TestLoadConfigFileInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("enrich: [unclosed"), 0600)
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveConfigFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Enrich.MaxInFlight = 24

	if err := SaveConfigFile(cfg, path); err != nil {
		t.Fatalf("SaveConfigFile() error: %v", err)
	}
	loaded, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error: %v", err)
	}
	if loaded.Enrich != cfg.Enrich || loaded.Providers != cfg.Providers {
		t.Errorf("round trip changed config:\n got %+v\nwant %+v", loaded.Enrich, cfg.Enrich)
	}
}

func TestExpandHome(t *testing.T) {
	home := homeDir()
	tests := []struct {
		input string
		want  string
	}{
		{"~/Music", filepath.Join(home, "Music")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"~notslash", "~notslash"},
	}

	for _, tt := range tests {
		got := ExpandHome(tt.input)
		if got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
