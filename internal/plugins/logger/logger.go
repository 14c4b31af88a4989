// Package logger provides a logging plugin that writes one structured line
// per embedded link and per failure. Register it with a blank import:
//
//	_ "github.com/ferro-labs/oembed-filter/internal/plugins/logger"
package logger

import (
	"context"
	"log/slog"

	"github.com/ferro-labs/oembed-filter/internal/logging"
	"github.com/ferro-labs/oembed-filter/plugin"
)

func init() {
	plugin.RegisterFactory("embed-logger", func() plugin.Plugin {
		return &EmbedLogger{}
	})
}

// EmbedLogger logs the outcome of each link it sees.
type EmbedLogger struct {
	logLevel slog.Level
}

// Name returns the plugin identifier.
func (l *EmbedLogger) Name() string { return "embed-logger" }

// Type returns the plugin lifecycle hook type.
func (l *EmbedLogger) Type() plugin.PluginType { return plugin.TypeLogging }

// Init reads level (debug, info, warn, error; default info).
func (l *EmbedLogger) Init(config map[string]interface{}) error {
	level, _ := config["level"].(string)
	l.logLevel = logging.ParseLevel(level)
	return nil
}

// Execute logs at whichever stage the plugin is attached to.
func (l *EmbedLogger) Execute(ctx context.Context, pctx *plugin.Context) error {
	log := logging.FromContext(ctx)
	switch {
	case pctx.Error != nil:
		log.Log(ctx, slog.LevelError, "embed failed",
			"provider", pctx.Provider,
			"url", pctx.Link,
			"error", pctx.Error.Error(),
		)
	case pctx.Markup != "":
		attrs := []any{
			"provider", pctx.Provider,
			"url", pctx.Link,
			"cache_hit", pctx.CacheHit,
			"bytes", len(pctx.Markup),
		}
		if pctx.Response != nil {
			attrs = append(attrs, "type", pctx.Response.Type)
		}
		log.Log(ctx, l.logLevel, "link embedded", attrs...)
	default:
		log.Log(ctx, l.logLevel, "link matched",
			"provider", pctx.Provider,
			"url", pctx.Link,
			"maxwidth", pctx.MaxWidth,
			"maxheight", pctx.MaxHeight,
		)
	}
	return nil
}
