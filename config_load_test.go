package oembedfilter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	_ "github.com/ferro-labs/oembed-filter/internal/plugins/hostfilter"
	_ "github.com/ferro-labs/oembed-filter/internal/plugins/maxsize"
	"github.com/ferro-labs/oembed-filter/providers"
)

func TestLoadConfig_JSON(t *testing.T) {
	data := `{
		"lazyload": 1,
		"maxwidth": 640,
		"fetch": {"timeout": "3s", "max_concurrent": 8},
		"cache": {"backend": "none"},
		"plugins": [
			{"name": "host-filter", "type": "guardrail", "stage": "before_embed", "enabled": true,
			 "config": {"blocked_hosts": ["example.com"]}}
		]
	}`
	path := writeTempFile(t, "config.json", data)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Lazyload {
		t.Error("expected lazyload on")
	}
	if cfg.MaxWidth != 640 {
		t.Errorf("expected maxwidth 640, got %d", cfg.MaxWidth)
	}
	if cfg.Fetch.Timeout.Std() != 3*time.Second {
		t.Errorf("expected 3s timeout, got %s", cfg.Fetch.Timeout.Std())
	}
	if cfg.Cache.Backend != "none" {
		t.Errorf("expected cache backend none, got %q", cfg.Cache.Backend)
	}
	// Defaults survive for keys the file leaves out.
	if cfg.Fetch.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("expected default failure threshold 5, got %d", cfg.Fetch.CircuitBreaker.FailureThreshold)
	}
	if cfg.Catalog.URL != providers.DefaultCatalogURL {
		t.Errorf("expected default catalog url, got %q", cfg.Catalog.URL)
	}
	if err := ValidateConfig(*cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadConfig_JSONC(t *testing.T) {
	data := `{
		// render cards until the visitor clicks
		"lazyload": "1",
		"catalog": {
			"schedule": "0 3 * * *", /* nightly */
			"enable_new": true,
		},
	}`
	path := writeTempFile(t, "config.jsonc", data)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bool(cfg.Lazyload) || cfg.Catalog.Schedule != "0 3 * * *" || !cfg.Catalog.EnableNew {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	data := `
lazyload: 0
maxheight: 480
cache:
  backend: memory
  ttl: 10m
  max_entries: 50
store:
  driver: sqlite
  dsn: file:oembed.db
admin_tokens:
  - name: ops
    token: secret
    scopes: [admin]
local_providers:
  - name: Intranet video
    enabled: true
    endpoints:
      - pattern: '^https://video\.example\.edu/v/(\w+)$'
        template: '<video src="https://cdn.example.edu/$1.mp4"></video>'
`
	path := writeTempFile(t, "config.yaml", data)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := CacheConfig{Backend: "memory", TTL: Duration(10 * time.Minute), MaxEntries: 50}
	if diff := cmp.Diff(want, cfg.Cache); diff != "" {
		t.Errorf("cache config mismatch (-want +got):\n%s", diff)
	}
	if cfg.Lazyload {
		t.Error("expected lazyload off")
	}
	if len(cfg.LocalProviders) != 1 || cfg.LocalProviders[0].Endpoints[0].Template == "" {
		t.Fatalf("expected one local provider with a template, got %+v", cfg.LocalProviders)
	}
	if err := ValidateConfig(*cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	_, err := LoadConfig("/tmp/does-not-exist-config-12345.json")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeTempFile(t, "bad.json", `{invalid`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	path := writeTempFile(t, "config.toml", `lazyload = 1`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestFlag_Values(t *testing.T) {
	tests := []struct {
		in      string
		want    Flag
		wantErr bool
	}{
		{`0`, false, false},
		{`1`, true, false},
		{`"0"`, false, false},
		{`"1"`, true, false},
		{`true`, true, false},
		{`false`, false, false},
		{`"maybe"`, false, true},
	}
	for _, tc := range tests {
		var f Flag
		err := f.UnmarshalJSON([]byte(tc.in))
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: expected error=%v, got %v", tc.in, tc.wantErr, err)
			continue
		}
		if f != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.in, tc.want, f)
		}
	}
}

func TestValidateConfig_Default(t *testing.T) {
	if err := ValidateConfig(DefaultConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateConfig_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative maxwidth", func(c *Config) { c.MaxWidth = -1 }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis without url", func(c *Config) { c.Cache.Backend = "redis" }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"sqlite without dsn", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"bad schedule", func(c *Config) { c.Catalog.Schedule = "every day" }},
		{"unknown plugin", func(c *Config) {
			c.Plugins = []PluginConfig{{Name: "nope", Stage: "before_embed"}}
		}},
		{"unknown stage", func(c *Config) {
			c.Plugins = []PluginConfig{{Name: "max-size", Stage: "before_request"}}
		}},
		{"unknown scope", func(c *Config) {
			c.AdminTokens = []AdminToken{{Name: "a", Token: "t", Scopes: []string{"root"}}}
		}},
		{"duplicate token name", func(c *Config) {
			c.AdminTokens = []AdminToken{{Name: "a", Token: "t1"}, {Name: "a", Token: "t2"}}
		}},
		{"invalid local provider", func(c *Config) {
			c.LocalProviders = []providers.Provider{{Name: "x"}}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := ValidateConfig(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}
