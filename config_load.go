package oembedfilter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/ferro-labs/oembed-filter/plugin"
	"github.com/ferro-labs/oembed-filter/providers"
)

// LoadConfig reads and parses a config file from the given path. Values
// missing from the file keep their DefaultConfig value.
// Supported formats: JSON (.json), JSON with comments (.jsonc), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json", ".jsonc":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
		if err := json.Unmarshal(std, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .jsonc, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a catalog refresh schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return cronParser.Parse(spec)
}

// ValidateConfig validates a Config for correctness.
func ValidateConfig(cfg Config) error {
	if cfg.MaxWidth < 0 || cfg.MaxHeight < 0 {
		return fmt.Errorf("maxwidth and maxheight must not be negative")
	}
	if cfg.Fetch.Timeout < 0 {
		return fmt.Errorf("fetch.timeout must not be negative")
	}
	if cfg.Fetch.MaxConcurrent < 0 {
		return fmt.Errorf("fetch.max_concurrent must not be negative")
	}
	if cfg.Fetch.RequestsPerSecond < 0 || cfg.Fetch.Burst < 0 {
		return fmt.Errorf("fetch.requests_per_second and fetch.burst must not be negative")
	}
	if cfg.Fetch.CircuitBreaker.FailureThreshold < 0 || cfg.Fetch.CircuitBreaker.SuccessThreshold < 0 {
		return fmt.Errorf("circuit breaker thresholds must not be negative")
	}

	switch cfg.Cache.Backend {
	case "", "memory", "none":
	case "redis":
		if cfg.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend: %q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}

	switch cfg.Store.Driver {
	case "", "memory":
	case "sqlite", "postgres":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver: %q", cfg.Store.Driver)
	}

	if cfg.Catalog.Schedule != "" {
		if _, err := ParseSchedule(cfg.Catalog.Schedule); err != nil {
			return fmt.Errorf("invalid catalog.schedule: %w", err)
		}
	}

	for _, pc := range cfg.Plugins {
		if _, ok := plugin.GetFactory(pc.Name); !ok {
			return fmt.Errorf("unknown plugin: %s", pc.Name)
		}
		switch plugin.Stage(pc.Stage) {
		case plugin.StageBeforeEmbed, plugin.StageAfterEmbed, plugin.StageOnError:
		default:
			return fmt.Errorf("plugin %s: unknown stage %q", pc.Name, pc.Stage)
		}
	}

	seen := make(map[string]bool)
	for _, t := range cfg.AdminTokens {
		if t.Token == "" || t.Name == "" {
			return fmt.Errorf("admin tokens need a name and a token")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate admin token name %q", t.Name)
		}
		seen[t.Name] = true
		for _, s := range t.Scopes {
			if s != "admin" && s != "read_only" {
				return fmt.Errorf("admin token %q: unknown scope %q", t.Name, s)
			}
		}
	}

	for _, p := range cfg.LocalProviders {
		if p.Source == "" {
			p.Source = providers.SourceLocal
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("local provider %q: %w", p.Name, err)
		}
	}

	return nil
}
