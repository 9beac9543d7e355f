// Package config loads application configuration from an optional TOML file,
// a .env file, and environment variables (in increasing precedence).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

var (
	// ErrMissingCredentials is returned when SPOTIFY_CLIENT_ID or SPOTIFY_CLIENT_SECRET is not set.
	ErrMissingCredentials = errors.New("missing SPOTIFY_CLIENT_ID or SPOTIFY_CLIENT_SECRET")

	// ErrMissingDatabaseURL is returned when DATABASE_URL is not set.
	ErrMissingDatabaseURL = errors.New("missing DATABASE_URL")

	// ErrMissingSecret is returned when JWT_SECRET is not set.
	ErrMissingSecret = errors.New("missing JWT_SECRET")
)

// Duration is a time.Duration that decodes from strings like "10s" or "24h".
// A whole number of days such as "1d" or "7d" is also accepted.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count %q", days)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Config holds the full application configuration.
type Config struct {
	Addr        string        `toml:"addr"`
	DatabaseURL string        `toml:"database_url"`
	FrontendURL string        `toml:"frontend_url"`
	LogLevel    string        `toml:"log_level"`
	AWSRegion   string        `toml:"aws_region"`
	Spotify     SpotifyConfig `toml:"spotify"`
	Session     SessionConfig `toml:"session"`
}

// SpotifyConfig holds provider credentials and catalog settings.
type SpotifyConfig struct {
	ClientID        string   `toml:"client_id"`
	ClientSecret    string   `toml:"client_secret"`
	RedirectURI     string   `toml:"redirect_uri"`
	Market          string   `toml:"market"`
	PlaylistID      string   `toml:"playlist_id"` // public playlist behind /catalog/featured
	UpstreamTimeout Duration `toml:"upstream_timeout"`
	RateLimit       float64  `toml:"rate_limit"` // outbound catalog requests per second
}

// SessionConfig holds session token settings.
type SessionConfig struct {
	Secret       string   `toml:"secret"`
	TTL          Duration `toml:"ttl"`
	CookieSecure bool     `toml:"cookie_secure"`
}

// Default returns a Config with defaults for every optional field.
func Default() *Config {
	return &Config{
		Addr:        "127.0.0.1:4000",
		FrontendURL: "http://127.0.0.1:5173",
		LogLevel:    "info",
		AWSRegion:   "us-east-1",
		Spotify: SpotifyConfig{
			RedirectURI:     "http://127.0.0.1:4000/auth/spotify/callback",
			Market:          "MX",
			UpstreamTimeout: Duration{10 * time.Second},
			RateLimit:       10,
		},
		Session: SessionConfig{
			TTL: Duration{24 * time.Hour},
		},
	}
}

// Load builds the configuration. A missing .env file is ignored; path may be
// empty to skip the TOML file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return ErrMissingCredentials
	}
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.Session.Secret == "" {
		return ErrMissingSecret
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Addr, "ADDR")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.FrontendURL, "FRONTEND_URL")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.AWSRegion, "AWS_REGION")
	setString(&cfg.Spotify.ClientID, "SPOTIFY_CLIENT_ID")
	setString(&cfg.Spotify.ClientSecret, "SPOTIFY_CLIENT_SECRET")
	setString(&cfg.Spotify.RedirectURI, "SPOTIFY_REDIRECT_URI")
	setString(&cfg.Spotify.Market, "SPOTIFY_MARKET")
	setString(&cfg.Spotify.PlaylistID, "SPOTIFY_PLAYLIST_ID")
	setString(&cfg.Session.Secret, "JWT_SECRET")

	if err := setDuration(&cfg.Spotify.UpstreamTimeout, "UPSTREAM_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Session.TTL, "JWT_EXPIRES"); err != nil {
		return err
	}

	if v := os.Getenv("CATALOG_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parsing CATALOG_RATE_LIMIT: %w", err)
		}
		cfg.Spotify.RateLimit = f
	}

	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing COOKIE_SECURE: %w", err)
		}
		cfg.Session.CookieSecure = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if err := dst.UnmarshalText([]byte(v)); err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	return nil
}
