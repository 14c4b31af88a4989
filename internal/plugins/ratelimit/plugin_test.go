package ratelimit

import (
	"context"
	"testing"

	"github.com/ferro-labs/oembed-filter/plugin"
)

func TestPlugin_PerProviderBudget(t *testing.T) {
	p := &Plugin{}
	if err := p.Init(map[string]interface{}{"embeds_per_second": 0.001, "burst": 2}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		pctx := plugin.NewContext("https://youtu.be/x", "YouTube")
		_ = p.Execute(context.Background(), pctx)
		if pctx.Reject {
			t.Fatalf("expected embed %d within burst", i+1)
		}
	}
	pctx := plugin.NewContext("https://youtu.be/x", "YouTube")
	_ = p.Execute(context.Background(), pctx)
	if !pctx.Reject || pctx.Reason != "embed rate limit exceeded for YouTube" {
		t.Errorf("expected rejection, got %v %q", pctx.Reject, pctx.Reason)
	}

	other := plugin.NewContext("https://vimeo.com/1", "Vimeo")
	_ = p.Execute(context.Background(), other)
	if other.Reject {
		t.Error("expected Vimeo to have its own budget")
	}
}

func TestPlugin_InitValidation(t *testing.T) {
	if err := (&Plugin{}).Init(map[string]interface{}{"burst": "lots"}); err == nil {
		t.Error("expected error for non-numeric burst")
	}
}
