// Package ratelimit provides a guardrail plugin that caps how many links per
// second each provider may embed. Links over budget stay plain anchors
// instead of waiting for the provider.
package ratelimit

import (
	"context"
	"fmt"

	internalrl "github.com/ferro-labs/oembed-filter/internal/ratelimit"
	"github.com/ferro-labs/oembed-filter/plugin"
)

func init() {
	plugin.RegisterFactory("embed-rate-limit", func() plugin.Plugin {
		return &Plugin{}
	})
}

// Plugin enforces a per-provider token bucket on embeds.
type Plugin struct {
	limits *internalrl.Store
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string { return "embed-rate-limit" }

// Type returns the plugin lifecycle hook type.
func (p *Plugin) Type() plugin.PluginType { return plugin.TypeGuardrail }

func number(config map[string]interface{}, key string, def float64) (float64, error) {
	v, ok := config[key]
	if !ok {
		return def, nil
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("embed-rate-limit: %s must be a number", key)
	}
}

// Init reads embeds_per_second (default 10) and burst (default equal to
// the rate).
func (p *Plugin) Init(config map[string]interface{}) error {
	rps, err := number(config, "embeds_per_second", 10)
	if err != nil {
		return err
	}
	burst, err := number(config, "burst", 0)
	if err != nil {
		return err
	}
	p.limits = internalrl.NewStore(rps, burst)
	return nil
}

// Execute rejects the link when its provider is over budget.
func (p *Plugin) Execute(_ context.Context, pctx *plugin.Context) error {
	if !p.limits.Allow(pctx.Provider) {
		pctx.Reject = true
		pctx.Reason = "embed rate limit exceeded for " + pctx.Provider
	}
	return nil
}
