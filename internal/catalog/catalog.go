// Package catalog downloads the public oEmbed provider list and merges it
// into the provider store.
//
// The list is fetched from catalog.url (default https://oembed.com/providers.json),
// validated, and reconciled by provider name with the providers already stored
// for the same "download::<url>" source. Local and plugin providers are never
// touched. A bundled copy of the list seeds an empty store so the filter works
// before the first download.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oembedfilter "github.com/ferro-labs/oembed-filter"
	"github.com/ferro-labs/oembed-filter/internal/admin"
	"github.com/ferro-labs/oembed-filter/internal/logging"
	"github.com/ferro-labs/oembed-filter/internal/metrics"
	"github.com/ferro-labs/oembed-filter/internal/telemetry"
	"github.com/ferro-labs/oembed-filter/providers"
)

const (
	defaultTimeout  = 30 * time.Second
	maxCatalogBytes = 8 << 20
)

// DefaultEnabled names the bundled providers enabled when an empty store is
// seeded.
var DefaultEnabled = []string{"YouTube", "SoundCloud", "Vimeo", "SlideShare", "ISSUU"}

// Refresher downloads the catalog and reconciles the store with it.
type Refresher struct {
	url       string
	enableNew bool
	store     admin.ProviderStore
	sink      admin.ProviderSink
	client    *http.Client
}

// NewRefresher creates a Refresher for cfg. sink, if not nil, receives the
// provider list after every change. A nil client gets a traced client with a
// 30s timeout.
func NewRefresher(cfg oembedfilter.CatalogConfig, store admin.ProviderStore, sink admin.ProviderSink, client *http.Client) *Refresher {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = providers.DefaultCatalogURL
	}
	if client == nil {
		client = &http.Client{
			Timeout:   defaultTimeout,
			Transport: telemetry.NewTransport(nil),
		}
	}
	return &Refresher{
		url:       url,
		enableNew: cfg.EnableNew,
		store:     store,
		sink:      sink,
		client:    client,
	}
}

// Source returns the store source of downloaded providers.
func (r *Refresher) Source() string {
	return providers.SourceDownload + r.url
}

// Refresh downloads the catalog, merges it and publishes the result.
func (r *Refresher) Refresh(ctx context.Context) (admin.RefreshResult, error) {
	log := logging.FromContext(ctx)

	list, err := r.download(ctx)
	if err != nil {
		metrics.CatalogRefreshes.WithLabelValues(metrics.ResultError).Inc()
		log.Warn("catalog download failed", "url", r.url, "error", err)
		return admin.RefreshResult{Source: r.Source()}, err
	}

	res, err := Merge(ctx, r.store, r.Source(), list, r.enableNew)
	if err != nil {
		metrics.CatalogRefreshes.WithLabelValues(metrics.ResultError).Inc()
		log.Warn("catalog merge failed", "url", r.url, "error", err,
			"added", res.Added, "updated", res.Updated, "removed", res.Removed)
		// Changes applied before the failure stay in the store; the filter
		// must see them too.
		if res.Added+res.Updated+res.Removed > 0 {
			if perr := admin.Publish(ctx, r.store, r.sink); perr != nil {
				log.Error("publish after failed merge", "error", perr)
			}
		}
		return res, err
	}
	if err := admin.Publish(ctx, r.store, r.sink); err != nil {
		metrics.CatalogRefreshes.WithLabelValues(metrics.ResultError).Inc()
		return res, fmt.Errorf("publish providers: %w", err)
	}

	metrics.CatalogRefreshes.WithLabelValues("success").Inc()
	log.Info("catalog refreshed",
		"url", r.url,
		"added", res.Added,
		"updated", res.Updated,
		"removed", res.Removed,
	)
	return res, nil
}

func (r *Refresher) download(ctx context.Context) ([]providers.Provider, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog fetch: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes))
	if err != nil {
		return nil, fmt.Errorf("catalog read: %w", err)
	}
	return providers.ParseCatalog(data, r.url)
}

// Seed fills a store without downloaded providers from the bundled catalog
// and publishes the result. It reports whether anything was added.
func (r *Refresher) Seed(ctx context.Context) (bool, error) {
	existing, err := r.store.List(ctx, admin.ProviderQuery{SourceType: providers.SourceTypeDownload})
	if err != nil {
		return false, fmt.Errorf("list providers: %w", err)
	}
	if len(existing) > 0 {
		return false, admin.Publish(ctx, r.store, r.sink)
	}

	list, err := providers.DefaultCatalog()
	if err != nil {
		return false, fmt.Errorf("bundled catalog: %w", err)
	}
	enabled := make(map[string]bool, len(DefaultEnabled))
	for _, name := range DefaultEnabled {
		enabled[name] = true
	}
	for i := range list {
		list[i].Source = r.Source()
		list[i].Enabled = r.enableNew || enabled[list[i].Name]
		if _, err := r.store.Create(ctx, list[i]); err != nil {
			return false, fmt.Errorf("seed provider %s: %w", list[i].Name, err)
		}
	}
	logging.FromContext(ctx).Info("provider store seeded from bundled catalog", "providers", len(list))
	return true, admin.Publish(ctx, r.store, r.sink)
}

// Merge reconciles the providers stored for source with list. Providers
// matched by name keep their ID and enabled flag and take the new URL and
// endpoints. Unmatched entries of list are created, enabled when enableNew
// is set. Stored providers of source missing from list are deleted.
func Merge(ctx context.Context, store admin.ProviderStore, source string, list []providers.Provider, enableNew bool) (admin.RefreshResult, error) {
	res := admin.RefreshResult{Source: source}

	stored, err := store.List(ctx, admin.ProviderQuery{Source: source})
	if err != nil {
		return res, fmt.Errorf("list providers: %w", err)
	}
	byName := make(map[string]providers.Provider, len(stored))
	for _, p := range stored {
		byName[p.Name] = p
	}

	seen := make(map[string]bool, len(list))
	for _, p := range list {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		p.Source = source

		old, ok := byName[p.Name]
		if !ok {
			p.ID = 0
			p.Enabled = enableNew
			if _, err := store.Create(ctx, p); err != nil {
				return res, fmt.Errorf("add provider %s: %w", p.Name, err)
			}
			res.Added++
			continue
		}
		if old.URL == p.URL && sameEndpoints(old.Endpoints, p.Endpoints) {
			continue
		}
		old.URL = p.URL
		old.Endpoints = p.Endpoints
		if _, err := store.Update(ctx, old); err != nil {
			return res, fmt.Errorf("update provider %s: %w", p.Name, err)
		}
		res.Updated++
	}

	for name, p := range byName {
		if seen[name] {
			continue
		}
		if err := store.Delete(ctx, p.ID); err != nil {
			return res, fmt.Errorf("remove provider %s: %w", name, err)
		}
		res.Removed++
	}
	return res, nil
}

func sameEndpoints(a, b []providers.Endpoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.URL != y.URL || x.Discovery != y.Discovery || x.Pattern != y.Pattern || x.Template != y.Template {
			return false
		}
		if strings.Join(x.Schemes, "\n") != strings.Join(y.Schemes, "\n") ||
			strings.Join(x.Formats, "\n") != strings.Join(y.Formats, "\n") {
			return false
		}
	}
	return true
}
