package providers

import (
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	list, err := DefaultCatalog()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"YouTube": false, "SoundCloud": false, "Office Mix": false, "Vimeo": false,
		"Ted": false, "Poll Everywhere": false, "SlideShare": false, "ISSUU": false,
	}
	for _, p := range list {
		if p.Enabled {
			t.Errorf("expected %s to be disabled", p.Name)
		}
		if p.SourceType() != SourceTypeDownload {
			t.Errorf("expected download source for %s, got %s", p.Name, p.Source)
		}
		if _, ok := want[p.Name]; ok {
			want[p.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in default catalog", name)
		}
	}
}

func TestParseCatalog_SchemaError(t *testing.T) {
	_, err := ParseCatalog([]byte(`[{"provider_url":"https://x.example"}]`), "test")
	if err == nil {
		t.Fatal("expected schema validation error")
	}
}

func TestParseCatalog_DropsSchemelessEndpoints(t *testing.T) {
	doc := `[
	  {"provider_name":"A","provider_url":"https://a.example","endpoints":[{"url":"https://a.example/oembed"}]},
	  {"provider_name":"B","provider_url":"https://b.example","endpoints":[{"url":"https://b.example/oembed","schemes":["https://b.example/*"]}]},
	  {"provider_name":"B","provider_url":"https://b.example","endpoints":[{"url":"https://b2.example/oembed","schemes":["https://b.example/*"]}]}
	]`
	list, err := ParseCatalog([]byte(doc), "https://mirror.example/providers.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(list))
	}
	if list[0].Name != "B" || list[0].Endpoints[0].URL != "https://b.example/oembed" {
		t.Errorf("unexpected provider %+v", list[0])
	}
	if list[0].Source != "download::https://mirror.example/providers.json" {
		t.Errorf("unexpected source %s", list[0].Source)
	}
}

func TestParseCatalog_InvalidJSON(t *testing.T) {
	if _, err := ParseCatalog([]byte(`{`), "x"); err == nil {
		t.Fatal("expected parse error")
	}
}
