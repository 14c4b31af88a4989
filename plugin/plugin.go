// Package plugin defines the Plugin interface and the stages at which plugins
// hook into the embed pipeline.
//
// Every matched link runs through three stages: before_embed (before the
// oEmbed request or template expansion; plugins may reject the link or adjust
// the requested size), after_embed (after the markup has been produced;
// plugins may rewrite it) and on_error (when resolving the link failed).
//
// Plugins are registered by name via RegisterFactory and created from config
// when the filter starts. Built-ins live in internal/plugins/* and register
// themselves through a blank import, e.g.
// _ "github.com/ferro-labs/oembed-filter/internal/plugins/hostfilter".
package plugin

import (
	"context"

	"github.com/ferro-labs/oembed-filter/oembed"
)

// Plugin is the interface all plugins must implement.
type Plugin interface {
	Name() string
	Type() PluginType
	Init(config map[string]interface{}) error
	Execute(ctx context.Context, pctx *Context) error
}

// PluginType categorizes plugins.
//
//nolint:revive // plugin.PluginType reads better at call sites than plugin.Type
type PluginType string

// Plugin categories.
const (
	TypeGuardrail PluginType = "guardrail"
	TypeLogging   PluginType = "logging"
	TypeTransform PluginType = "transform"
)

// Stage defines when a plugin runs for a link.
type Stage string

// Pipeline stages.
const (
	StageBeforeEmbed Stage = "before_embed"
	StageAfterEmbed  Stage = "after_embed"
	StageOnError     Stage = "on_error"
)

// Context carries one link through the pipeline.
type Context struct {
	// Link is the anchor href being embedded.
	Link string
	// Provider is the matched provider name.
	Provider string
	// MaxWidth and MaxHeight are sent to the oEmbed endpoint; 0 omits them.
	MaxWidth  int
	MaxHeight int
	// Response is set after a successful fetch (nil for template providers).
	Response *oembed.Response
	// Markup replaces the anchor. after_embed plugins may rewrite it; an
	// empty Markup keeps the anchor.
	Markup   string
	CacheHit bool
	Metadata map[string]interface{}
	Error    error
	Skip     bool
	Reject   bool
	Reason   string
}

// NewContext creates a plugin context for a matched link.
func NewContext(link, provider string) *Context {
	return &Context{
		Link:     link,
		Provider: provider,
		Metadata: make(map[string]interface{}),
	}
}
