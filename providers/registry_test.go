package providers

import (
	"strings"
	"testing"
)

func youtube(id int64, enabled bool) Provider {
	return Provider{
		ID:      id,
		Name:    "YouTube",
		Source:  SourceDownload + DefaultCatalogURL,
		Enabled: enabled,
		Endpoints: []Endpoint{{
			URL:     "https://www.youtube.com/oembed",
			Schemes: []string{"https://*.youtube.com/watch*", "https://youtu.be/*"},
		}},
	}
}

func TestCompileScheme(t *testing.T) {
	tests := []struct {
		scheme string
		url    string
		want   bool
	}{
		{"https://*.youtube.com/watch*", "https://www.youtube.com/watch?v=abuQk-6M5R4", true},
		{"https://*.youtube.com/watch*", "http://www.youtube.com/watch?v=abuQk-6M5R4", true},
		{"http://soundcloud.com/*", "https://soundcloud.com/el-silenzio-fatal/track", true},
		{"https://vimeo.com/*", "HTTPS://VIMEO.COM/115538038", true},
		{"https://www.ted.com/talks/*", "https://ted.com/talks/aj_jacobs_how_healthy_living_nearly_killed_me", false},
		{"https://issuu.com/*/docs/*", "https://issuu.com/thinkuni/docs/think_issue12", true},
		{"https://issuu.com/*/docs/*", "https://issuu.com/thinkuni", false},
		{"https://www.slideshare.net/*/*", "https://www.slideshare.net.evil.com/a/b", false},
		{"spotify:*", "spotify:track:1", true},
	}
	for _, tc := range tests {
		re, err := CompileScheme(tc.scheme)
		if err != nil {
			t.Fatalf("CompileScheme(%q): %v", tc.scheme, err)
		}
		if got := re.MatchString(tc.url); got != tc.want {
			t.Errorf("scheme %q url %q: expected %v, got %v", tc.scheme, tc.url, tc.want, got)
		}
	}
}

func TestCompileScheme_Empty(t *testing.T) {
	if _, err := CompileScheme("  "); err == nil {
		t.Fatal("expected error for empty scheme")
	}
}

func TestRegistry_MatchSkipsDisabled(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(youtube(1, false)); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Match("https://www.youtube.com/watch?v=x"); ok {
		t.Fatal("expected disabled provider not to match")
	}
	if r.Len() != 0 {
		t.Fatalf("expected 0 providers, got %d", r.Len())
	}
}

func TestRegistry_MatchOrderByID(t *testing.T) {
	r := NewRegistry()
	second := youtube(2, true)
	second.Name = "Second"
	first := youtube(1, true)
	first.Name = "First"
	if err := r.Replace([]Provider{second, first}); err != nil {
		t.Fatal(err)
	}

	m, ok := r.Match("https://youtu.be/abc")
	if !ok {
		t.Fatal("expected match")
	}
	if m.Provider.Name != "First" {
		t.Errorf("expected First, got %s", m.Provider.Name)
	}
}

func TestRegistry_ReplaceKeepsOldOnError(t *testing.T) {
	r := NewRegistry()
	if err := r.Replace([]Provider{youtube(1, true)}); err != nil {
		t.Fatal(err)
	}
	bad := Provider{ID: 2, Name: "bad", Enabled: true, Source: SourceLocal,
		Endpoints: []Endpoint{{Pattern: "(", Template: "x"}}}
	if err := r.Replace([]Provider{bad}); err == nil {
		t.Fatal("expected compile error")
	}
	if _, ok := r.Get("YouTube"); !ok {
		t.Error("expected previous providers to survive a failed replace")
	}
}

func TestMatch_RenderTemplate(t *testing.T) {
	r := NewRegistry()
	p := Provider{
		ID:      5,
		Name:    "Local YouTube",
		Source:  SourceLocal,
		Enabled: true,
		Endpoints: []Endpoint{{
			Pattern:  `^https?://(?:www\.)?youtube\.com/watch\?v=(?P<id>[\w-]+)`,
			Template: `<iframe src="https://www.youtube.com/embed/${id}" data-src="{url}"></iframe>`,
		}},
	}
	if err := r.Register(p); err != nil {
		t.Fatal(err)
	}
	link := "https://www.youtube.com/watch?v=abuQk-6M5R4&t=1"
	m, ok := r.Match(link)
	if !ok {
		t.Fatal("expected template match")
	}
	out, err := m.Render(link)
	if err != nil {
		t.Fatal(err)
	}
	want := `<iframe src="https://www.youtube.com/embed/abuQk-6M5R4" data-src="https://www.youtube.com/watch?v=abuQk-6M5R4&amp;t=1"></iframe>`
	if out != want {
		t.Errorf("expected %s, got %s", want, out)
	}
}

func TestMatch_RenderEscapesCaptures(t *testing.T) {
	r := NewRegistry()
	p := Provider{
		ID:      6,
		Name:    "Tube",
		Source:  SourceLocal,
		Enabled: true,
		Endpoints: []Endpoint{{
			Pattern:  `^https://tube\.example/watch\?v=(.+)$`,
			Template: `<iframe src="https://tube.example/embed/$1"></iframe>`,
		}},
	}
	if err := r.Register(p); err != nil {
		t.Fatal(err)
	}
	link := `https://tube.example/watch?v=x"><script>alert(1)</script>`
	m, ok := r.Match(link)
	if !ok {
		t.Fatal("expected template match")
	}
	out, err := m.Render(link)
	if err != nil {
		t.Fatal(err)
	}
	want := `<iframe src="https://tube.example/embed/x&#34;&gt;&lt;script&gt;alert(1)&lt;/script&gt;"></iframe>`
	if out != want {
		t.Errorf("expected %s, got %s", want, out)
	}
}

func TestMatch_RenderOnAPIEndpoint(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(youtube(1, true))
	m, _ := r.Match("https://youtu.be/x")
	if _, err := m.Render("https://youtu.be/x"); err != ErrNotTemplate {
		t.Errorf("expected ErrNotTemplate, got %v", err)
	}
}

func TestEndpoint_RequestURL(t *testing.T) {
	e := Endpoint{URL: "https://vimeo.com/api/oembed.{format}"}
	got, err := e.RequestURL("https://vimeo.com/115538038", 640, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "https://vimeo.com/api/oembed.json?") {
		t.Errorf("expected json path, got %s", got)
	}
	if strings.Contains(got, "format=") {
		t.Errorf("expected no format param, got %s", got)
	}
	if !strings.Contains(got, "maxwidth=640") || strings.Contains(got, "maxheight") {
		t.Errorf("unexpected size params in %s", got)
	}

	e = Endpoint{URL: "https://www.youtube.com/oembed"}
	got, _ = e.RequestURL("https://www.youtube.com/watch?v=abc", 0, 0)
	want := "https://www.youtube.com/oembed?format=json&url=https%3A%2F%2Fwww.youtube.com%2Fwatch%3Fv%3Dabc"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestProvider_Validate(t *testing.T) {
	tests := []struct {
		name    string
		p       Provider
		wantErr string
	}{
		{"valid", youtube(1, true), ""},
		{"missing name", Provider{Source: SourceLocal, Endpoints: youtube(1, true).Endpoints}, "name is required"},
		{"bad source", Provider{Name: "x", Source: "ftp::", Endpoints: youtube(1, true).Endpoints}, "unknown source"},
		{"no endpoints", Provider{Name: "x", Source: SourceLocal}, "at least one endpoint"},
		{"no schemes", Provider{Name: "x", Source: SourceLocal, Endpoints: []Endpoint{{URL: "https://a.example/oembed"}}}, "scheme"},
		{"half template", Provider{Name: "x", Source: SourceLocal, Endpoints: []Endpoint{{Pattern: "a"}}}, "set together"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestProvider_SourceType(t *testing.T) {
	p := Provider{Source: "plugin::filter_embedquestion"}
	if p.SourceType() != SourceTypePlugin {
		t.Errorf("expected plugin, got %s", p.SourceType())
	}
	if p.IsLocal() {
		t.Error("expected plugin provider not to be local")
	}
}
