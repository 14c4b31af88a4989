package main

import (
	"fmt"
	"strings"

	oembedfilter "github.com/ferro-labs/oembed-filter"
	"github.com/ferro-labs/oembed-filter/internal/admin"
	"github.com/kelseyhightower/envconfig"
)

// serverEnv is the environment of the server, read with the OEMBED_ prefix.
type serverEnv struct {
	Addr          string   `envconfig:"ADDR" default:":8080"`
	Config        string   `envconfig:"CONFIG"`
	LogLevel      string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string   `envconfig:"LOG_FORMAT" default:"json"`
	StoreDriver   string   `envconfig:"STORE_DRIVER"`
	StoreDSN      string   `envconfig:"STORE_DSN"`
	RedisURL      string   `envconfig:"REDIS_URL"`
	AdminToken    string   `envconfig:"ADMIN_TOKEN"`
	ReadOnlyToken string   `envconfig:"ADMIN_READ_ONLY_TOKEN"`
	OTLPEndpoint  string   `envconfig:"OTLP_ENDPOINT"`
	CORSOrigins   []string `envconfig:"CORS_ORIGINS"`
	EmbedLog      bool     `envconfig:"EMBED_LOG" default:"true"`
}

func loadEnv() (serverEnv, error) {
	var env serverEnv
	if err := envconfig.Process("OEMBED", &env); err != nil {
		return env, fmt.Errorf("read environment: %w", err)
	}
	return env, nil
}

// loadConfig reads the config file named by env, if any, and overlays the
// environment on it.
func loadConfig(env serverEnv) (oembedfilter.Config, error) {
	cfg := oembedfilter.DefaultConfig()
	if env.Config != "" {
		loaded, err := oembedfilter.LoadConfig(env.Config)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}

	if env.StoreDriver != "" {
		cfg.Store.Driver = env.StoreDriver
	}
	if env.StoreDSN != "" {
		cfg.Store.DSN = env.StoreDSN
		if cfg.Store.Driver == "" || cfg.Store.Driver == "memory" {
			cfg.Store.Driver = "sqlite"
			if strings.HasPrefix(env.StoreDSN, "postgres://") || strings.HasPrefix(env.StoreDSN, "postgresql://") {
				cfg.Store.Driver = "postgres"
			}
		}
	}
	if env.RedisURL != "" {
		cfg.Cache.Backend = "redis"
		cfg.Cache.RedisURL = env.RedisURL
	}
	if env.AdminToken != "" {
		cfg.AdminTokens = append(cfg.AdminTokens, oembedfilter.AdminToken{
			Name:   "env-admin",
			Token:  env.AdminToken,
			Scopes: []string{admin.ScopeAdmin},
		})
	}
	if env.ReadOnlyToken != "" {
		cfg.AdminTokens = append(cfg.AdminTokens, oembedfilter.AdminToken{
			Name:   "env-read-only",
			Token:  env.ReadOnlyToken,
			Scopes: []string{admin.ScopeReadOnly},
		})
	}

	if err := oembedfilter.ValidateConfig(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
