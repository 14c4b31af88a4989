// Package providers defines the oEmbed provider model and the registry the
// filter uses to decide which links can be embedded.
//
// A Provider describes one external service: the URL schemes that identify
// its content and either the oEmbed API endpoint to ask for embed markup or a
// local regex-to-markup template. Providers come from three sources: the
// public oEmbed catalog ("download::"), locally configured rules ("local::")
// and rules contributed by plugins ("plugin::").
//
// Core types: Provider, Endpoint, Registry, Match.
package providers

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Source prefixes identify where a provider definition came from.
const (
	SourceDownload = "download::"
	SourceLocal    = "local::"
	SourcePlugin   = "plugin::"
)

// Source types as shown in the management page.
const (
	SourceTypeDownload = "download"
	SourceTypeLocal    = "local"
	SourceTypePlugin   = "plugin"
)

// Provider is a named rule describing how to recognize links to one external
// service and how to turn them into embeddable markup.
type Provider struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	Source    string     `json:"source"`
	Enabled   bool       `json:"enabled"`
	Endpoints []Endpoint `json:"endpoints"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
}

// Endpoint is either an oEmbed API endpoint (URL + Schemes) or a local
// template (Pattern + Template).
type Endpoint struct {
	URL       string   `json:"url,omitempty"`
	Schemes   []string `json:"schemes,omitempty"`
	Formats   []string `json:"formats,omitempty"`
	Discovery bool     `json:"discovery,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Template  string   `json:"template,omitempty"`
}

// IsTemplate reports whether the endpoint renders locally instead of calling
// an oEmbed API.
func (e Endpoint) IsTemplate() bool {
	return e.Pattern != "" && e.Template != ""
}

// RequestURL builds the oEmbed API request for target. A "{format}"
// placeholder in the endpoint URL is replaced by "json"; otherwise the format
// is passed as a query parameter. Non-positive sizes are omitted.
func (e Endpoint) RequestURL(target string, maxWidth, maxHeight int) (string, error) {
	if e.URL == "" {
		return "", errors.New("endpoint has no api url")
	}
	raw := e.URL
	inPath := strings.Contains(raw, "{format}")
	if inPath {
		raw = strings.ReplaceAll(raw, "{format}", "json")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url %q: %w", e.URL, err)
	}
	q := u.Query()
	q.Set("url", target)
	if !inPath {
		q.Set("format", "json")
	}
	if maxWidth > 0 {
		q.Set("maxwidth", strconv.Itoa(maxWidth))
	}
	if maxHeight > 0 {
		q.Set("maxheight", strconv.Itoa(maxHeight))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SourceType returns the part of Source before "::", e.g. "download".
func (p Provider) SourceType() string {
	typ, _, _ := strings.Cut(p.Source, "::")
	return typ
}

// IsLocal reports whether the provider was configured locally.
func (p Provider) IsLocal() bool {
	return p.SourceType() == SourceTypeLocal
}

// Validate checks the provider definition. Every scheme and pattern must
// compile.
func (p Provider) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	switch p.SourceType() {
	case SourceTypeDownload, SourceTypeLocal, SourceTypePlugin:
	default:
		return fmt.Errorf("unknown source %q", p.Source)
	}
	if len(p.Endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}
	for i, e := range p.Endpoints {
		if err := e.validate(); err != nil {
			return fmt.Errorf("endpoint %d: %w", i, err)
		}
	}
	return nil
}

func (e Endpoint) validate() error {
	if e.IsTemplate() {
		if _, err := regexp.Compile(e.Pattern); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		return nil
	}
	if e.Pattern != "" || e.Template != "" {
		return errors.New("pattern and template must be set together")
	}
	if e.URL == "" {
		return errors.New("url is required")
	}
	if u, err := url.Parse(strings.ReplaceAll(e.URL, "{format}", "json")); err != nil || u.Host == "" {
		return fmt.Errorf("invalid url %q", e.URL)
	}
	if len(e.Schemes) == 0 {
		return errors.New("at least one scheme is required")
	}
	for _, s := range e.Schemes {
		if _, err := CompileScheme(s); err != nil {
			return err
		}
	}
	return nil
}
