// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Spotify  SpotifyConfig  `yaml:"spotify"`
	Playback PlaybackConfig `yaml:"playback"`
	Resolver ResolverConfig `yaml:"resolver"`
	Playlist PlaylistConfig `yaml:"playlist"`
	Panel    PanelConfig    `yaml:"panel"`
	Log      LogConfig      `yaml:"log"`
}

// DiscordConfig represents chat platform credentials.
type DiscordConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// SpotifyConfig represents playlist provider credentials. Both fields empty
// disables playlist import; setting only one is a configuration error.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// Enabled reports whether playlist import is configured.
func (c SpotifyConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// PlaybackConfig represents per-session playback defaults.
type PlaybackConfig struct {
	DefaultVolume float64 `yaml:"default_volume" default:"0.15" validate:"gte=0,lte=1"`
	VolumeStep    float64 `yaml:"volume_step" default:"0.05" validate:"gt=0,lte=0.5"`
	PlayerBinary  string  `yaml:"player_binary" default:"mpv"`
}

// ResolverConfig represents track resolution configuration.
type ResolverConfig struct {
	TimeoutSec int              `yaml:"timeout_sec" default:"30" validate:"gte=1,lte=300"`
	Searchers  []SearcherConfig `yaml:"searchers" validate:"dive"`
}

// SearcherConfig represents a single search backend in the fallback chain.
type SearcherConfig struct {
	Type     string         `yaml:"type" validate:"required"`
	Settings map[string]any `yaml:"settings"`
}

// Timeout returns the per-resolution deadline.
func (c ResolverConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// PlaylistConfig represents playlist import limits.
type PlaylistConfig struct {
	PageSize  int `yaml:"page_size" default:"100" validate:"gte=1,lte=100"`
	MaxTracks int `yaml:"max_tracks" default:"200" validate:"gte=1,lte=1000"`
}

// PanelConfig represents status panel timings and persistence.
type PanelConfig struct {
	RefreshIntervalSec   int    `yaml:"refresh_interval_sec" default:"5" validate:"gte=1"`
	InactivityTimeoutSec int    `yaml:"inactivity_timeout_sec" default:"300" validate:"gte=10"`
	SweepIntervalSec     int    `yaml:"sweep_interval_sec" default:"30" validate:"gte=1"`
	StorePath            string `yaml:"store_path" default:"data/panels.json"`
}

// RefreshInterval returns the playing-state refresh period.
func (c PanelConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

// InactivityTimeout returns the idle threshold for panel eviction.
func (c PanelConfig) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutSec) * time.Second
}

// SweepInterval returns the eviction sweep period.
func (c PanelConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if len(cfg.Resolver.Searchers) == 0 {
		cfg.Resolver.Searchers = []SearcherConfig{
			{Type: "ytmusic"},
			{Type: "ytsearch"},
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if (c.Spotify.ClientID == "") != (c.Spotify.ClientSecret == "") {
		return errors.New("spotify client_id and client_secret must be set together")
	}

	return nil
}
