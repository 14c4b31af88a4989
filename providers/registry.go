package providers

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// Match is the result of a successful Registry lookup.
type Match struct {
	Provider Provider
	Endpoint Endpoint
	// Submatches holds the capture groups of a template endpoint's pattern.
	Submatches []int
	pattern    *regexp.Regexp
}

type compiledEndpoint struct {
	endpoint Endpoint
	schemes  []*regexp.Regexp
	pattern  *regexp.Regexp
}

type compiledProvider struct {
	provider  Provider
	endpoints []compiledEndpoint
}

// Registry holds the enabled providers in ascending ID order. Lookups take the
// first provider whose scheme or pattern matches.
type Registry struct {
	mu        sync.RWMutex
	providers []compiledProvider
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func compile(p Provider) (compiledProvider, error) {
	cp := compiledProvider{provider: p}
	for _, e := range p.Endpoints {
		ce := compiledEndpoint{endpoint: e}
		if e.IsTemplate() {
			re, err := regexp.Compile(e.Pattern)
			if err != nil {
				return cp, fmt.Errorf("provider %s: invalid pattern: %w", p.Name, err)
			}
			ce.pattern = re
		} else {
			for _, s := range e.Schemes {
				re, err := CompileScheme(s)
				if err != nil {
					return cp, fmt.Errorf("provider %s: %w", p.Name, err)
				}
				ce.schemes = append(ce.schemes, re)
			}
		}
		cp.endpoints = append(cp.endpoints, ce)
	}
	return cp, nil
}

// Register compiles p and adds it to the registry. Disabled providers are
// ignored.
func (r *Registry) Register(p Provider) error {
	if !p.Enabled {
		return nil
	}
	cp, err := compile(p)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, cp)
	sortCompiled(r.providers)
	return nil
}

// Replace swaps the registry contents for the enabled providers in list.
// Nothing changes when any provider fails to compile.
func (r *Registry) Replace(list []Provider) error {
	next := make([]compiledProvider, 0, len(list))
	for _, p := range list {
		if !p.Enabled {
			continue
		}
		cp, err := compile(p)
		if err != nil {
			return err
		}
		next = append(next, cp)
	}
	sortCompiled(next)

	r.mu.Lock()
	r.providers = next
	r.mu.Unlock()
	return nil
}

func sortCompiled(list []compiledProvider) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].provider.ID < list[j].provider.ID
	})
}

// Match returns the first enabled provider endpoint matching rawURL.
func (r *Registry) Match(rawURL string) (Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cp := range r.providers {
		for _, ce := range cp.endpoints {
			if ce.pattern != nil {
				if loc := ce.pattern.FindStringSubmatchIndex(rawURL); loc != nil {
					return Match{Provider: cp.provider, Endpoint: ce.endpoint, Submatches: loc, pattern: ce.pattern}, true
				}
				continue
			}
			for _, re := range ce.schemes {
				if re.MatchString(rawURL) {
					return Match{Provider: cp.provider, Endpoint: ce.endpoint}, true
				}
			}
		}
	}
	return Match{}, false
}

// Get returns an enabled provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cp := range r.providers {
		if cp.provider.Name == name {
			return cp.provider, true
		}
	}
	return Provider{}, false
}

// List returns the registered providers in match order.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	for i, cp := range r.providers {
		out[i] = cp.provider
	}
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
