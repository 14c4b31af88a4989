package oembedfilter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ferro-labs/oembed-filter/providers"
)

// Config holds the configuration for the embed filter.
type Config struct {
	// Lazyload renders a thumbnail card instead of the player when the
	// provider returns a thumbnail.
	Lazyload Flag `json:"lazyload" yaml:"lazyload"`
	// MaxWidth and MaxHeight are sent to oEmbed endpoints as maxwidth and
	// maxheight; 0 omits them.
	MaxWidth  int `json:"maxwidth,omitempty" yaml:"maxwidth,omitempty"`
	MaxHeight int `json:"maxheight,omitempty" yaml:"maxheight,omitempty"`
	// Discovery lets endpoints flagged with discovery resolve their API url
	// from the linked page.
	Discovery bool `json:"discovery,omitempty" yaml:"discovery,omitempty"`

	Fetch   FetchConfig   `json:"fetch" yaml:"fetch"`
	Cache   CacheConfig   `json:"cache" yaml:"cache"`
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	// Plugins configuration (optional).
	Plugins []PluginConfig `json:"plugins,omitempty" yaml:"plugins,omitempty"`
	// AdminTokens are the bearer tokens accepted by the admin API.
	AdminTokens []AdminToken `json:"admin_tokens,omitempty" yaml:"admin_tokens,omitempty"`
	// LocalProviders are seeded into the provider store with source "local::".
	LocalProviders []providers.Provider `json:"local_providers,omitempty" yaml:"local_providers,omitempty"`
}

// FetchConfig controls requests to oEmbed endpoints.
type FetchConfig struct {
	Timeout           Duration             `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	UserAgent         string               `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	RequestsPerSecond float64              `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	Burst             float64              `json:"burst,omitempty" yaml:"burst,omitempty"`
	MaxConcurrent     int                  `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	CircuitBreaker    CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures the per-endpoint breakers.
type CircuitBreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	SuccessThreshold int      `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
	Timeout          Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	Backend    string   `json:"backend,omitempty" yaml:"backend,omitempty"`
	TTL        Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	MaxEntries int      `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
	RedisURL   string   `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
}

// CatalogConfig controls downloads of the public provider catalog.
type CatalogConfig struct {
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// Schedule is a 5-field cron expression; empty disables scheduled refresh.
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	// EnableNew enables providers that appear in a download for the first time.
	EnableNew bool `json:"enable_new,omitempty" yaml:"enable_new,omitempty"`
}

// StoreConfig selects the provider store. An empty driver keeps providers in
// memory.
type StoreConfig struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// AdminToken is a bearer token for the admin API.
type AdminToken struct {
	Name   string   `json:"name" yaml:"name"`
	Token  string   `json:"token" yaml:"token"`
	Scopes []string `json:"scopes" yaml:"scopes"`
}

// PluginConfig holds plugin configuration.
type PluginConfig struct {
	Name    string                 `json:"name" yaml:"name"`
	Type    string                 `json:"type" yaml:"type"`
	Stage   string                 `json:"stage" yaml:"stage"`
	Enabled bool                   `json:"enabled" yaml:"enabled"`
	Config  map[string]interface{} `json:"config" yaml:"config"`
}

// Defaults applied by DefaultConfig and by New for zero values.
const (
	DefaultFetchTimeout  = 10 * time.Second
	DefaultMaxConcurrent = 4
	DefaultCacheTTL      = time.Hour
	DefaultCacheEntries  = 1000
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Fetch: FetchConfig{
			Timeout:       Duration(DefaultFetchTimeout),
			MaxConcurrent: DefaultMaxConcurrent,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 1,
				Timeout:          Duration(30 * time.Second),
			},
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTL:        Duration(DefaultCacheTTL),
			MaxEntries: DefaultCacheEntries,
		},
		Catalog: CatalogConfig{URL: providers.DefaultCatalogURL},
	}
}

// Flag is a boolean setting that also accepts 0/1 as a number or string.
type Flag bool

func parseFlag(s string) (Flag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = false
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := parseFlag(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseFlag(node.Value)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// MarshalJSON writes the flag as 0 or 1.
func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

// Duration is a time.Duration written as "10s" in config files. Plain
// numbers are read as seconds.
type Duration time.Duration

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(d), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		*d = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
