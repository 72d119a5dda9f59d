// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Danse117/weaver/pkg/logging"
)

// AppName names the XDG directories.
const AppName = "weaver"

// CallbackPath is the route prefix providers redirect back to.
const CallbackPath = "/accounts/callback/"

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config represents the server configuration
type Config struct {
	// BaseURL is the public origin of the app, used to build callback URLs.
	BaseURL string `yaml:"base_url" env:"WEAVER_BASE_URL"`
	Listen  string `yaml:"listen" env:"WEAVER_LISTEN"`

	// CORSOrigins lists the dashboard origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins" env:"WEAVER_CORS_ORIGINS"`

	Session   SessionConfig   `yaml:"session"`
	State     StateConfig     `yaml:"state"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       logging.Config  `yaml:"log"`

	TikTok ProviderConfig `yaml:"tiktok" envPrefix:"TIKTOK_"`
}

// SessionConfig describes how sessions issued by the backend-as-a-service
// are verified.
type SessionConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"WEAVER_JWT_SECRET"`
	Audience  string `yaml:"audience" env:"WEAVER_JWT_AUDIENCE"`
	Cookie    string `yaml:"cookie" env:"WEAVER_SESSION_COOKIE"`
}

// StateConfig tunes OAuth state records and their browser cookie.
type StateConfig struct {
	TTL          time.Duration `yaml:"ttl" env:"WEAVER_STATE_TTL"`
	CookieSecret string        `yaml:"cookie_secret" env:"WEAVER_COOKIE_SECRET"`
	SecureCookie bool          `yaml:"secure_cookie" env:"WEAVER_SECURE_COOKIE"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend" env:"WEAVER_STORAGE"`
	Path    string `yaml:"path" env:"WEAVER_DB_PATH"`
}

// RateLimitConfig is the per-token provider budget.
type RateLimitConfig struct {
	Budget int           `yaml:"budget" env:"WEAVER_RATE_BUDGET"`
	Window time.Duration `yaml:"window" env:"WEAVER_RATE_WINDOW"`
}

// MetricsConfig tunes the dashboard metrics cache.
type MetricsConfig struct {
	CacheMaxAge time.Duration `yaml:"cache_max_age" env:"WEAVER_METRICS_MAX_AGE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Session: SessionConfig{
			Cookie: "sb-access-token",
		},
		State: StateConfig{
			TTL:          10 * time.Minute,
			SecureCookie: true,
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
		},
		RateLimit: RateLimitConfig{
			Budget: 600,
			Window: time.Minute,
		},
		Metrics: MetricsConfig{
			CacheMaxAge: time.Hour,
		},
		Log:    logging.DefaultConfig(),
		TikTok: *GetProviderDefaults("tiktok"),
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// Load loads configuration from a file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.TikTok.fill(GetProviderDefaults("tiktok"))
	return cfg, nil
}

// LoadWithDefaults loads config from path, or from the default location
// when path is empty, and applies environment overrides. A missing
// default file is not an error.
func LoadWithDefaults(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg, err := Load(path)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}

	if err := cfg.ApplyEnvVars(); err != nil {
		return nil, err
	}

	if cfg.Storage.Path == "" && cfg.Storage.Backend == BackendSQLite {
		cfg.Storage.Path = filepath.Join(xdg.DataHome, AppName, "weaver.db")
	}
	return cfg, nil
}

// ApplyEnvVars applies environment variable overrides
func (c *Config) ApplyEnvVars() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

// RedirectURI returns the callback URL registered for platform. The
// connect handler and the token exchange both read it from here.
func (c *Config) RedirectURI(platform string) string {
	return strings.TrimRight(c.BaseURL, "/") + CallbackPath + platform
}

// Validate checks that required configuration is present
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base URL is required (set base_url or WEAVER_BASE_URL)")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base URL %q must be an absolute URL", c.BaseURL)
	}
	if c.Session.JWTSecret == "" {
		return errors.New("session JWT secret is required (set session.jwt_secret or WEAVER_JWT_SECRET)")
	}
	if c.TikTok.ClientKey == "" {
		return errors.New("tiktok client key is required (set tiktok.client_key or TIKTOK_CLIENT_KEY)")
	}
	if c.TikTok.ClientSecret == "" {
		return errors.New("tiktok client secret is required (set tiktok.client_secret or TIKTOK_CLIENT_SECRET)")
	}
	if c.RateLimit.Budget <= 0 {
		return fmt.Errorf("rate limit budget must be positive, got %d", c.RateLimit.Budget)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	if c.State.TTL <= 0 || c.State.TTL > time.Hour {
		return fmt.Errorf("state TTL must be within (0, 1h], got %s", c.State.TTL)
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage path is required for the sqlite backend (set storage.path or WEAVER_DB_PATH)")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q (want %q or %q)", c.Storage.Backend, BackendSQLite, BackendMemory)
	}
	return nil
}

// CookieSecret returns the key material for the state cookie. When none
// is configured the JWT secret is used.
func (c *Config) CookieSecret() []byte {
	if c.State.CookieSecret != "" {
		return []byte(c.State.CookieSecret)
	}
	return []byte(c.Session.JWTSecret)
}
