package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config contains the program configuration. Provider credentials are not
// part of it; they are resolved from the settings store and environment.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	Settings  SettingsConfig  `yaml:"settings"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Providers ProvidersConfig `yaml:"providers"`
	Lyrics    LyricsConfig    `yaml:"lyrics"`
	Batch     BatchConfig     `yaml:"batch"`
}

type LogConfig struct {
	Verbose bool   `yaml:"verbose"`
	File    string `yaml:"file"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
}

type CacheConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=memory redis"`
	TTL        time.Duration `yaml:"ttl" validate:"gt=0"`
	MaxEntries int           `yaml:"max_entries" validate:"gte=0"`
	Redis      RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0,lte=15"`
}

// SettingsConfig locates the runtime settings database. An empty path keeps
// settings in memory for the life of the process.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// EnrichConfig bounds an enrichment call. ConfidenceThreshold can only
// raise the adapters' 0.70 floor.
type EnrichConfig struct {
	Deadline            time.Duration `yaml:"deadline" validate:"gt=0"`
	MaxInFlight         int           `yaml:"max_in_flight" validate:"gte=0"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" validate:"gte=0.7,lte=1"`
}

// ProviderConfig tunes one adapter. Zero durations use the adapter's
// defaults.
type ProviderConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	MinInterval time.Duration `yaml:"min_interval" validate:"gte=0"`
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
}

type ProvidersConfig struct {
	MusicBrainz ProviderConfig `yaml:"musicbrainz"`
	ITunes      ProviderConfig `yaml:"itunes"`
	LastFM      ProviderConfig `yaml:"lastfm"`
	Spotify     ProviderConfig `yaml:"spotify"`
	Genius      ProviderConfig `yaml:"genius"`
	// Deezer needs no credentials and is off unless enabled.
	Deezer ProviderConfig `yaml:"deezer"`
}

type LyricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

type BatchConfig struct {
	Workers int `yaml:"workers" validate:"gte=1,lte=32"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTL:        7 * 24 * time.Hour,
			MaxEntries: 50000,
			Redis:      RedisConfig{Addr: "localhost:6379"},
		},
		Settings: SettingsConfig{
			Path: filepath.Join(dataDir(), "settings.db"),
		},
		Enrich: EnrichConfig{
			Deadline:            12 * time.Second,
			MaxInFlight:         16,
			ConfidenceThreshold: 0.70,
		},
		Providers: ProvidersConfig{
			MusicBrainz: ProviderConfig{Enabled: true, MinInterval: 1100 * time.Millisecond},
			ITunes:      ProviderConfig{Enabled: true},
			LastFM:      ProviderConfig{Enabled: true},
			Spotify:     ProviderConfig{Enabled: true},
			Genius:      ProviderConfig{Enabled: true},
			Deezer:      ProviderConfig{Enabled: false},
		},
		Lyrics: LyricsConfig{Enabled: true},
		Batch:  BatchConfig{Workers: 4},
	}
}

// LoadConfigFile loads configuration from a YAML file.
// If path is empty, searches standard locations. Returns defaults if no file found.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.Log.File = ExpandHome(cfg.Log.File)
	cfg.Settings.Path = ExpandHome(cfg.Settings.Path)

	return cfg, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() string {
	home := homeDir()
	locations := []string{
		"./trackmeta.yaml",
		"./trackmeta.yml",
		filepath.Join(home, ".config", "trackmeta", "config.yaml"),
		filepath.Join(home, ".config", "trackmeta", "config.yml"),
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// SaveConfigFile saves the current configuration to a YAML file
func SaveConfigFile(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	return filepath.Join(homeDir(), ".config", "trackmeta", "config.yaml")
}

// GetDefaultLogPath returns the default log directory path
func GetDefaultLogPath() string {
	return filepath.Join(dataDir(), "logs")
}

func dataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "trackmeta")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their YAML names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required when cache.backend is redis")
	}

	if c.Enrich.MaxInFlight > 0 && c.Enrich.MaxInFlight < c.Batch.Workers {
		return fmt.Errorf("enrich.max_in_flight (%d) must be at least batch.workers (%d)",
			c.Enrich.MaxInFlight, c.Batch.Workers)
	}

	return nil
}

// describe turns "Config.cache.backend" plus its failed tag into a short
// message.
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "url", "hostname_port":
		return fmt.Sprintf("%s must be a valid %s, got %q", field, fe.Tag(), fe.Value())
	default:
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
	}
}
