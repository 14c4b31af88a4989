// Package maxsize provides a guardrail plugin that caps the embed size asked
// of providers and can refuse embeds that come back larger. Register it with
// a blank import:
//
//	_ "github.com/ferro-labs/oembed-filter/internal/plugins/maxsize"
package maxsize

import (
	"context"
	"fmt"

	"github.com/ferro-labs/oembed-filter/plugin"
)

func init() {
	plugin.RegisterFactory("max-size", func() plugin.Plugin {
		return &MaxSize{}
	})
}

// MaxSize limits maxwidth/maxheight at before_embed and, with
// reject_oversize, rejects larger responses at after_embed.
type MaxSize struct {
	maxWidth       int
	maxHeight      int
	rejectOversize bool
}

// Name returns the plugin identifier.
func (m *MaxSize) Name() string { return "max-size" }

// Type returns the plugin lifecycle hook type.
func (m *MaxSize) Type() plugin.PluginType { return plugin.TypeGuardrail }

func intOption(config map[string]interface{}, key string, def int) (int, error) {
	v, ok := config[key]
	if !ok {
		return def, nil
	}
	switch val := v.(type) {
	case float64:
		return int(val), nil
	case int:
		return val, nil
	default:
		return 0, fmt.Errorf("max-size: %s must be a number", key)
	}
}

// Init reads max_width (default 1280), max_height (default 720) and
// reject_oversize.
func (m *MaxSize) Init(config map[string]interface{}) error {
	var err error
	if m.maxWidth, err = intOption(config, "max_width", 1280); err != nil {
		return err
	}
	if m.maxHeight, err = intOption(config, "max_height", 720); err != nil {
		return err
	}
	m.rejectOversize, _ = config["reject_oversize"].(bool)
	return nil
}

func capSize(requested, limit int) int {
	if limit <= 0 {
		return requested
	}
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

// Execute caps the request before the fetch and checks the response after.
func (m *MaxSize) Execute(_ context.Context, pctx *plugin.Context) error {
	if pctx.Response == nil {
		pctx.MaxWidth = capSize(pctx.MaxWidth, m.maxWidth)
		pctx.MaxHeight = capSize(pctx.MaxHeight, m.maxHeight)
		return nil
	}
	if !m.rejectOversize {
		return nil
	}
	w, h := int(pctx.Response.Width), int(pctx.Response.Height)
	if m.maxWidth > 0 && w > m.maxWidth {
		pctx.Reject = true
		pctx.Reason = fmt.Sprintf("embed width %d exceeds limit of %d", w, m.maxWidth)
		return nil
	}
	if m.maxHeight > 0 && h > m.maxHeight {
		pctx.Reject = true
		pctx.Reason = fmt.Sprintf("embed height %d exceeds limit of %d", h, m.maxHeight)
	}
	return nil
}
