package providers

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultCatalogURL is the public oEmbed provider list.
const DefaultCatalogURL = "https://oembed.com/providers.json"

//go:embed catalog.json
var defaultCatalog []byte

const catalogSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["provider_name", "endpoints"],
    "properties": {
      "provider_name": {"type": "string", "minLength": 1},
      "provider_url": {"type": "string"},
      "endpoints": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["url"],
          "properties": {
            "url": {"type": "string", "minLength": 1},
            "schemes": {"type": "array", "items": {"type": "string"}},
            "formats": {"type": "array", "items": {"type": "string"}},
            "discovery": {"type": "boolean"}
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func catalogValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("catalog.schema.json", strings.NewReader(catalogSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile("catalog.schema.json")
	})
	return compiledSchema, schemaErr
}

type catalogEntry struct {
	ProviderName string     `json:"provider_name"`
	ProviderURL  string     `json:"provider_url"`
	Endpoints    []Endpoint `json:"endpoints"`
}

// ParseCatalog validates and decodes a providers.json document. Every
// provider gets the "download::<source>" source and is disabled. Endpoints
// without schemes cannot match links and are dropped, as are providers left
// with no endpoints.
func ParseCatalog(data []byte, source string) ([]Provider, error) {
	schema, err := catalogValidator()
	if err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	var entries []catalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	out := make([]Provider, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.ProviderName] {
			continue
		}
		p := Provider{
			Name:   e.ProviderName,
			URL:    e.ProviderURL,
			Source: SourceDownload + source,
		}
		for _, ep := range e.Endpoints {
			if len(ep.Schemes) == 0 {
				continue
			}
			ep.Pattern, ep.Template = "", ""
			p.Endpoints = append(p.Endpoints, ep)
		}
		if len(p.Endpoints) == 0 {
			continue
		}
		if err := p.Validate(); err != nil {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out, nil
}

// DefaultCatalog returns the catalog bundled with the binary, used to seed an
// empty store before the first download.
func DefaultCatalog() ([]Provider, error) {
	return ParseCatalog(defaultCatalog, DefaultCatalogURL)
}
