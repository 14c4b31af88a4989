// Package hostfilter provides a guardrail plugin that keeps links to blocked
// hosts, or links containing blocked words, as plain anchors. Register it
// with a blank import:
//
//	_ "github.com/ferro-labs/oembed-filter/internal/plugins/hostfilter"
package hostfilter

import (
	"context"
	"net/url"
	"strings"

	"github.com/ferro-labs/oembed-filter/plugin"
)

func init() {
	plugin.RegisterFactory("host-filter", func() plugin.Plugin {
		return &HostFilter{}
	})
}

// HostFilter rejects links by host or by substring.
type HostFilter struct {
	blockedHosts []string
	blockedWords []string
}

// Name returns the plugin identifier.
func (h *HostFilter) Name() string { return "host-filter" }

// Type returns the plugin lifecycle hook type.
func (h *HostFilter) Type() plugin.PluginType { return plugin.TypeGuardrail }

func stringList(v interface{}) []string {
	var out []string
	switch list := v.(type) {
	case []interface{}:
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, strings.ToLower(s))
			}
		}
	case []string:
		for _, s := range list {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

// Init reads blocked_hosts and blocked_words. A blocked host also blocks its
// subdomains.
func (h *HostFilter) Init(config map[string]interface{}) error {
	h.blockedHosts = stringList(config["blocked_hosts"])
	h.blockedWords = stringList(config["blocked_words"])
	return nil
}

// Execute rejects the link when it matches a block rule.
func (h *HostFilter) Execute(_ context.Context, pctx *plugin.Context) error {
	if pctx.Link == "" {
		return nil
	}
	link := strings.ToLower(pctx.Link)
	if u, err := url.Parse(link); err == nil && u.Hostname() != "" {
		host := u.Hostname()
		for _, blocked := range h.blockedHosts {
			if host == blocked || strings.HasSuffix(host, "."+blocked) {
				pctx.Reject = true
				pctx.Reason = "blocked host: " + blocked
				return nil
			}
		}
	}
	for _, word := range h.blockedWords {
		if strings.Contains(link, word) {
			pctx.Reject = true
			pctx.Reason = "blocked word detected: " + word
			return nil
		}
	}
	return nil
}
