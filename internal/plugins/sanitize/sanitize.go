// Package sanitize provides a transform plugin that runs provider markup
// through a bluemonday policy before it reaches the page. Register it with a
// blank import:
//
//	_ "github.com/ferro-labs/oembed-filter/internal/plugins/sanitize"
//
// The policy re-encodes attribute values, so "&" in player URLs comes out as
// "&amp;". Browsers read both the same way.
package sanitize

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ferro-labs/oembed-filter/plugin"
)

func init() {
	plugin.RegisterFactory("sanitize", func() plugin.Plugin {
		return &Sanitize{}
	})
}

// Sanitize strips scripts and unknown attributes from embed markup while
// keeping iframes pointed at allowed hosts.
type Sanitize struct {
	policy *bluemonday.Policy
}

// Name returns the plugin identifier.
func (s *Sanitize) Name() string { return "sanitize" }

// Type returns the plugin lifecycle hook type.
func (s *Sanitize) Type() plugin.PluginType { return plugin.TypeTransform }

// Init reads iframe_hosts, the hosts iframes may load from. Without it any
// https iframe is kept.
func (s *Sanitize) Init(config map[string]interface{}) error {
	var hosts []string
	switch list := config["iframe_hosts"].(type) {
	case []interface{}:
		for _, h := range list {
			if str, ok := h.(string); ok && str != "" {
				hosts = append(hosts, regexp.QuoteMeta(strings.ToLower(str)))
			}
		}
	case []string:
		for _, h := range list {
			hosts = append(hosts, regexp.QuoteMeta(strings.ToLower(h)))
		}
	case nil:
	default:
		return fmt.Errorf("sanitize: iframe_hosts must be a list of hosts")
	}

	src := `^https://[^/]+/`
	if len(hosts) > 0 {
		src = `^https://(` + strings.Join(hosts, "|") + `)(/|$)`
	}

	p := bluemonday.UGCPolicy()
	p.AllowElements("iframe")
	p.AllowAttrs("src").Matching(regexp.MustCompile(`(?i)` + src)).OnElements("iframe")
	p.AllowAttrs("width", "height", "frameborder", "scrolling", "title", "allow", "allowfullscreen").OnElements("iframe")
	p.AllowAttrs("class", "data-url", "data-embed").OnElements("div")
	s.policy = p
	return nil
}

// Execute sanitizes the markup produced for the link.
func (s *Sanitize) Execute(_ context.Context, pctx *plugin.Context) error {
	if pctx.Markup == "" || s.policy == nil {
		return nil
	}
	pctx.Markup = s.policy.Sanitize(pctx.Markup)
	return nil
}
