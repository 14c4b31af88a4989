package hostfilter

import (
	"context"
	"testing"

	"github.com/ferro-labs/oembed-filter/plugin"
)

func initFilter(t *testing.T, config map[string]interface{}) *HostFilter {
	t.Helper()
	f := &HostFilter{}
	if err := f.Init(config); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return f
}

func TestHostFilter_Init(t *testing.T) {
	f := initFilter(t, map[string]interface{}{
		"blocked_hosts": []interface{}{"Vimeo.com", 42},
		"blocked_words": []string{"Private"},
	})
	if len(f.blockedHosts) != 1 || f.blockedHosts[0] != "vimeo.com" {
		t.Errorf("unexpected hosts %v", f.blockedHosts)
	}
	if len(f.blockedWords) != 1 || f.blockedWords[0] != "private" {
		t.Errorf("unexpected words %v", f.blockedWords)
	}
}

func TestHostFilter_Execute(t *testing.T) {
	f := initFilter(t, map[string]interface{}{
		"blocked_hosts": []interface{}{"vimeo.com"},
		"blocked_words": []interface{}{"/private/"},
	})
	tests := []struct {
		link   string
		reject bool
		reason string
	}{
		{"https://vimeo.com/115538038", true, "blocked host: vimeo.com"},
		{"https://player.VIMEO.com/video/1", true, "blocked host: vimeo.com"},
		{"https://notvimeo.com/1", false, ""},
		{"https://issuu.com/private/docs/x", true, "blocked word detected: /private/"},
		{"https://youtu.be/abuQk-6M5R4", false, ""},
	}
	for _, tc := range tests {
		pctx := plugin.NewContext(tc.link, "test")
		if err := f.Execute(context.Background(), pctx); err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if pctx.Reject != tc.reject || pctx.Reason != tc.reason {
			t.Errorf("%s: expected reject=%v reason=%q, got %v %q", tc.link, tc.reject, tc.reason, pctx.Reject, pctx.Reason)
		}
	}
}

func TestHostFilter_Registered(t *testing.T) {
	if _, ok := plugin.GetFactory("host-filter"); !ok {
		t.Fatal("expected host-filter factory to be registered")
	}
}
