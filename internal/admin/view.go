package admin

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/ferro-labs/oembed-filter/providers"
	"github.com/ferro-labs/oembed-filter/web"
)

// Row classes of the management table.
const (
	classDimmed  = "dimmed_text"
	classEditing = "oembed-provider-editing"
)

// ProviderModel is the view model of one management table row.
type ProviderModel struct {
	PID          int64  `json:"pid"`
	ProviderName string `json:"providername"`
	ProviderURL  string `json:"providerurl"`
	Source       string `json:"source"`
	SourceType   string `json:"sourcetype"`
	Enabled      bool   `json:"enabled"`
	EnableAction string `json:"enableaction"`
	EnableLabel  string `json:"enablelabel"`
	Editing      bool   `json:"editing"`
	Deletable    bool   `json:"deletable"`
	RowClass     string `json:"rowclass"`

	FormHTML template.HTML `json:"-"`
}

func newProviderModel(p providers.Provider, editing bool) ProviderModel {
	m := ProviderModel{
		PID:          p.ID,
		ProviderName: p.Name,
		ProviderURL:  p.URL,
		Source:       p.Source,
		SourceType:   p.SourceType(),
		Enabled:      p.Enabled,
		Editing:      editing,
		Deletable:    p.IsLocal(),
	}
	var classes []string
	if p.Enabled {
		m.EnableAction, m.EnableLabel = "disable", "Disable"
	} else {
		m.EnableAction, m.EnableLabel = "enable", "Enable"
		classes = append(classes, classDimmed)
	}
	if editing {
		classes = append(classes, classEditing)
	}
	m.RowClass = strings.Join(classes, " ")
	return m
}

func renderRow(m ProviderModel) (string, error) {
	return web.Render("managementpagerow.html", m)
}

// ProviderForm is the edit form of one provider.
type ProviderForm struct {
	PID        int64
	Name       string
	URL        string
	Enabled    bool
	Endpoints  string
	Local      bool
	SourceType string
	Errors     map[string]string
}

func newProviderForm(p providers.Provider) ProviderForm {
	eps, _ := json.MarshalIndent(p.Endpoints, "", "  ")
	return ProviderForm{
		PID:        p.ID,
		Name:       p.Name,
		URL:        p.URL,
		Enabled:    p.Enabled,
		Endpoints:  string(eps),
		Local:      p.IsLocal(),
		SourceType: p.SourceType(),
		Errors:     map[string]string{},
	}
}

func renderForm(f ProviderForm) (string, error) {
	return web.Render("providerform.html", f)
}

// formScript is the js returned with an edit fragment.
func formScript(pid int64) string {
	return fmt.Sprintf("window.oembedManageProviders.initForm(%d);", pid)
}

// parseProviderForm applies URL-encoded form data to p. Endpoints are only
// taken from the form for local providers. The returned form carries field
// errors when the result is invalid.
func parseProviderForm(p providers.Provider, formdata string) (providers.Provider, ProviderForm, bool) {
	form := newProviderForm(p)
	values, err := url.ParseQuery(formdata)
	if err != nil {
		form.Errors["form"] = "invalid form data"
		return p, form, false
	}

	form.Name = strings.TrimSpace(values.Get("name"))
	form.URL = strings.TrimSpace(values.Get("url"))
	form.Enabled = isChecked(values.Get("enabled"))
	if form.Local && values.Has("endpoints") {
		form.Endpoints = values.Get("endpoints")
	}

	updated := p
	updated.Name = form.Name
	updated.URL = form.URL
	updated.Enabled = form.Enabled

	if form.Name == "" {
		form.Errors["name"] = "Provider name is required"
	}
	if form.URL != "" {
		if u, err := url.Parse(form.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			form.Errors["url"] = "Provider URL must be an absolute http(s) URL"
		}
	}
	if form.Local {
		var eps []providers.Endpoint
		if err := json.Unmarshal([]byte(form.Endpoints), &eps); err != nil {
			form.Errors["endpoints"] = "Endpoints must be a JSON array"
		} else {
			updated.Endpoints = eps
		}
	}
	if len(form.Errors) == 0 {
		if err := updated.Validate(); err != nil {
			key := "form"
			if strings.Contains(err.Error(), "endpoint") {
				key = "endpoints"
			}
			form.Errors[key] = err.Error()
		}
	}
	return updated, form, len(form.Errors) == 0
}

func isChecked(v string) bool {
	switch strings.ToLower(v) {
	case "1", "on", "true", "yes":
		return true
	}
	return false
}

type pageSection struct {
	Title      string
	SourceType string
	Rows       []ProviderModel
}

type pageData struct {
	Settings Settings
	Sections []pageSection
	Script   template.JS
	BaseURL  string
}

var sectionTitles = []struct{ typ, title string }{
	{providers.SourceTypeDownload, "Downloaded providers"},
	{providers.SourceTypeLocal, "Local providers"},
	{providers.SourceTypePlugin, "Plugin providers"},
}

// renderPage renders the full management page. The row being edited carries
// its open form.
func renderPage(list []providers.Provider, editing int64, settings Settings, baseURL string) (string, error) {
	script, err := web.Script("manageproviders.js")
	if err != nil {
		return "", err
	}
	data := pageData{Settings: settings, Script: template.JS(script), BaseURL: baseURL} //nolint:gosec // embedded asset
	for _, sec := range sectionTitles {
		s := pageSection{Title: sec.title, SourceType: sec.typ}
		for _, p := range list {
			if p.SourceType() != sec.typ {
				continue
			}
			m := newProviderModel(p, p.ID == editing)
			if m.Editing {
				html, err := renderForm(newProviderForm(p))
				if err != nil {
					return "", err
				}
				m.FormHTML = template.HTML(html) //nolint:gosec // rendered by html/template
			}
			s.Rows = append(s.Rows, m)
		}
		data.Sections = append(data.Sections, s)
	}
	return web.Render("managementpage.html", data)
}
