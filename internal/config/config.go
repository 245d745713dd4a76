// Package config loads quakecast configuration from a YAML file with
// QUAKECAST_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otiai10/quakecast/internal/security"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QUAKECAST_"

// Config represents the application configuration
type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	API      APIConfig      `yaml:"api"`
	Relay    RelayConfig    `yaml:"relay"`
	Store    StoreConfig    `yaml:"store"`
	Settings SettingsConfig `yaml:"settings"`
	Geocode  GeocodeConfig  `yaml:"geocode"`
	Admin    AdminConfig    `yaml:"admin"`
	Notify   NotifyConfig   `yaml:"notify"`
	Security SecurityConfig `yaml:"security"`
	Log      LogConfig      `yaml:"log"`
}

// FeedConfig describes the upstream earthquake feed.
type FeedConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Transport      string `yaml:"transport"` // "websocket" | "sse"
	Bearer         string `yaml:"bearer"`
	Topic          string `yaml:"topic"`
	ClientID       string `yaml:"client_id"`
	FixedTS        int64  `yaml:"fixed_ts"`         // epoch seconds; 0 = unset
	SinceWindowSec int    `yaml:"since_window_sec"` // 0 = unset
	PingSec        int    `yaml:"ping_sec"`         // 0 disables heartbeats
	SnapshotURL    string `yaml:"snapshot_url"`
	MaxSignatures  int    `yaml:"max_signatures"` // 0 = unbounded
}

// SinceWindow returns SinceWindowSec as a duration.
func (f FeedConfig) SinceWindow() time.Duration {
	return time.Duration(f.SinceWindowSec) * time.Second
}

// PingInterval returns PingSec as a duration.
func (f FeedConfig) PingInterval() time.Duration {
	return time.Duration(f.PingSec) * time.Second
}

// APIConfig represents the HTTP server.
type APIConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"` // overlay build output; empty disables static hosting
}

// RelayConfig represents the WebSocket relay.
type RelayConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Addr             string `yaml:"addr"` // listen address of `quakecast relay`
	Upstream         string `yaml:"upstream"`
	AllowQueryTarget bool   `yaml:"allow_query_target"`
}

// StoreConfig selects where the last-seen event id is kept.
type StoreConfig struct {
	Type        string `yaml:"type"` // "memory" | "bolt" | "firestore" | "none"
	Path        string `yaml:"path"`
	ProjectID   string `yaml:"project_id"`
	Database    string `yaml:"database"`
	Credentials string `yaml:"credentials"`
}

// Store types.
const (
	StoreMemory    = "memory"
	StoreBolt      = "bolt"
	StoreFirestore = "firestore"
	StoreNone      = "none"
)

// SettingsConfig locates the overlay settings file.
type SettingsConfig struct {
	File string `yaml:"file"`
}

// GeocodeConfig represents the reverse-geocoding helper.
type GeocodeConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	TTL     time.Duration `yaml:"ttl"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
}

// AdminConfig guards settings writes and test alerts.
type AdminConfig struct {
	User                string   `yaml:"user"`
	Pass                string   `yaml:"pass"`
	FirebaseProjectID   string   `yaml:"firebase_project_id"`
	FirebaseCredentials string   `yaml:"firebase_credentials"`
	AllowedEmails       []string `yaml:"allowed_emails"`
}

// NotifyConfig represents webhook forwarding and signed ingest.
type NotifyConfig struct {
	Webhooks     []WebhookConfig `yaml:"webhooks"`
	Retry        RetryConfig     `yaml:"retry"`
	Verify       bool            `yaml:"verify"` // handshake with every target at startup
	IngestSecret string          `yaml:"ingest_secret"`
}

// WebhookConfig is one forwarding target.
type WebhookConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// RetryConfig controls webhook redelivery.
type RetryConfig struct {
	MaxRetries int `yaml:"max_retries"`
	InitialMs  int `yaml:"initial_ms"`
	MaxMs      int `yaml:"max_ms"`
}

// SecurityConfig represents security-related settings.
type SecurityConfig struct {
	AllowLocal         bool   `yaml:"allow_local"` // localhost targets for development
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
	RateLimitEnabled   bool   `yaml:"rate_limit_enabled"`
	RateLimitRPM       int    `yaml:"rate_limit_rpm"`
}

// GetCORSAllowedOrigins splits the comma-separated origins list.
func (s *SecurityConfig) GetCORSAllowedOrigins() []string {
	if s == nil || s.CORSAllowedOrigins == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(s.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Feed: FeedConfig{
			Transport: "websocket",
			Topic:     "earthquake_alerts",
			ClientID:  "obs-overlay",
			PingSec:   25,
		},
		API:      APIConfig{Addr: ":8080"},
		Relay:    RelayConfig{Enabled: true, Addr: ":8081"},
		Store:    StoreConfig{Type: StoreBolt, Path: "data/quakecast.db"},
		Settings: SettingsConfig{File: "data/settings.json"},
		Geocode:  GeocodeConfig{Enabled: true, TTL: 6 * time.Hour, RPS: 2, Burst: 4},
		Notify: NotifyConfig{
			Retry: RetryConfig{MaxRetries: 3, InitialMs: 1000, MaxMs: 60000},
		},
		Security: SecurityConfig{RateLimitEnabled: true, RateLimitRPM: 60},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads configuration from the YAML file at path, applies environment
// overrides and validates the result. A missing file is not an error: the
// defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse YAML: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv builds configuration from defaults and environment only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) applyEnv() error {
	envString("FEED_ENDPOINT", &c.Feed.Endpoint)
	envString("FEED_TRANSPORT", &c.Feed.Transport)
	envString("FEED_BEARER", &c.Feed.Bearer)
	envString("FEED_TOPIC", &c.Feed.Topic)
	envString("FEED_CLIENT_ID", &c.Feed.ClientID)
	envString("FEED_SNAPSHOT_URL", &c.Feed.SnapshotURL)
	envString("API_ADDR", &c.API.Addr)
	envString("API_STATIC_DIR", &c.API.StaticDir)
	envString("RELAY_ADDR", &c.Relay.Addr)
	envString("ADMIN_USER", &c.Admin.User)
	envString("ADMIN_PASS", &c.Admin.Pass)
	envString("ADMIN_FIREBASE_PROJECT_ID", &c.Admin.FirebaseProjectID)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("STORE_TYPE", &c.Store.Type)
	envString("STORE_PATH", &c.Store.Path)
	envString("STORE_PROJECT_ID", &c.Store.ProjectID)
	envString("STORE_DATABASE", &c.Store.Database)
	envString("SETTINGS_FILE", &c.Settings.File)
	envString("INGEST_SECRET", &c.Notify.IngestSecret)
	envString("CORS_ALLOWED_ORIGINS", &c.Security.CORSAllowedOrigins)

	// The relay upstream also honours the names used by earlier deployments.
	for _, name := range []string{"UPSTREAM_WS_URL", "EMSC_UPSTREAM_WS_URL"} {
		if v := os.Getenv(name); v != "" {
			c.Relay.Upstream = v
		}
	}
	envString("RELAY_UPSTREAM", &c.Relay.Upstream)

	var errs []error
	errs = append(errs,
		envInt64("FEED_FIXED_TS", &c.Feed.FixedTS),
		envInt("FEED_SINCE_WINDOW_SEC", &c.Feed.SinceWindowSec),
		envInt("FEED_PING_SEC", &c.Feed.PingSec),
		envInt("RATE_LIMIT_RPM", &c.Security.RateLimitRPM),
		envBool("RELAY_ENABLED", &c.Relay.Enabled),
		envBool("ALLOW_LOCAL", &c.Security.AllowLocal),
		envBool("RATE_LIMIT_ENABLED", &c.Security.RateLimitEnabled),
		envBool("LOG_JSON", &c.Log.JSON),
		envBool("GEOCODE_ENABLED", &c.Geocode.Enabled),
	)
	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = b
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Feed.Validate(); err != nil {
		return err
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr is required")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if c.Relay.Upstream != "" {
		if err := checkScheme(c.Relay.Upstream, "ws", "wss"); err != nil {
			return fmt.Errorf("relay.upstream: %w", err)
		}
	}
	if c.Security.RateLimitRPM < 0 {
		return fmt.Errorf("security.rate_limit_rpm must be non-negative")
	}

	for i, w := range c.Notify.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("notify.webhooks[%d].url is required", i)
		}
		if w.Secret == "" {
			return fmt.Errorf("notify.webhooks[%d].secret is required", i)
		}
		if err := security.ValidateWebhookURL(w.URL, c.Security.AllowLocal); err != nil {
			return fmt.Errorf("notify.webhooks[%d].url: %w", i, err)
		}
	}
	r := c.Notify.Retry
	if r.MaxRetries < 0 || r.InitialMs < 0 || r.MaxMs < 0 {
		return fmt.Errorf("notify.retry values must be non-negative")
	}
	return nil
}

// Validate checks the feed section. An empty endpoint is allowed; the
// connector reports it at startup.
func (f FeedConfig) Validate() error {
	switch f.Transport {
	case "websocket":
		if f.Endpoint != "" {
			if err := checkScheme(f.Endpoint, "ws", "wss"); err != nil {
				return fmt.Errorf("feed.endpoint: %w", err)
			}
		}
	case "sse":
		if f.Endpoint != "" {
			if err := checkScheme(f.Endpoint, "http", "https"); err != nil {
				return fmt.Errorf("feed.endpoint: %w", err)
			}
		}
	default:
		return fmt.Errorf("unsupported feed.transport: %q (supported: websocket, sse)", f.Transport)
	}

	if f.FixedTS < 0 {
		return fmt.Errorf("feed.fixed_ts must be non-negative")
	}
	if f.SinceWindowSec < 0 {
		return fmt.Errorf("feed.since_window_sec must be non-negative")
	}
	if f.PingSec < 0 {
		return fmt.Errorf("feed.ping_sec must be non-negative")
	}
	if f.MaxSignatures < 0 {
		return fmt.Errorf("feed.max_signatures must be non-negative")
	}
	if f.SnapshotURL != "" {
		if err := checkScheme(f.SnapshotURL, "http", "https"); err != nil {
			return fmt.Errorf("feed.snapshot_url: %w", err)
		}
	}
	return nil
}

// Validate checks the store section.
func (s StoreConfig) Validate() error {
	switch s.Type {
	case StoreMemory, StoreNone:
	case StoreBolt:
		if s.Path == "" {
			return fmt.Errorf("store.path is required for bolt")
		}
	case StoreFirestore:
		if s.ProjectID == "" {
			return fmt.Errorf("store.project_id is required for firestore")
		}
	default:
		return fmt.Errorf("unsupported store.type: %q (supported: memory, bolt, firestore, none)", s.Type)
	}
	return nil
}

func checkScheme(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			if u.Host == "" {
				return fmt.Errorf("invalid URL: missing host")
			}
			return nil
		}
	}
	return fmt.Errorf("unsupported URL scheme %q (supported: %s)", u.Scheme, strings.Join(schemes, ", "))
}
