package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	oembedfilter "github.com/ferro-labs/oembed-filter"
	"github.com/ferro-labs/oembed-filter/internal/admin"
	"github.com/ferro-labs/oembed-filter/internal/catalog"
	"github.com/ferro-labs/oembed-filter/internal/circuitbreaker"
	"github.com/ferro-labs/oembed-filter/internal/embedlog"
	"github.com/ferro-labs/oembed-filter/providers"
)

// providerStore is a provider store that also keeps the admin settings.
type providerStore interface {
	admin.ProviderStore
	admin.SettingsStore
}

// app holds the wired server components.
type app struct {
	filter    *oembedfilter.Filter
	store     providerStore
	logs      *embedlog.SQLStore
	refresher *catalog.Refresher
	scheduler *catalog.Scheduler
	settings  *admin.SettingsManager
	tokens    *admin.TokenStore
	edits     *admin.EditTracker

	closers []io.Closer
}

// breakers reads the breaker states of the filter's current client.
type breakers struct{ f *oembedfilter.Filter }

func (b breakers) States() map[string]circuitbreaker.State {
	return b.f.Client().Breakers().States()
}

func openStore(cfg oembedfilter.StoreConfig) (providerStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return admin.NewMemoryStore(), nil
	default:
		return admin.OpenSQLStore(cfg.Driver, cfg.DSN)
	}
}

// newApp builds the filter and its stores, seeds the provider store and
// publishes the providers to the filter.
func newApp(ctx context.Context, cfg oembedfilter.Config, withEmbedLog bool) (*app, error) {
	f, err := oembedfilter.New(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{filter: f, edits: admin.NewEditTracker(), closers: []io.Closer{f}}

	if err := f.LoadPlugins(); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("load plugins: %w", err)
	}
	if n := len(f.Plugins()); n > 0 {
		slog.Info("plugins loaded", "count", n)
	}

	store, err := openStore(cfg.Store)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open provider store: %w", err)
	}
	a.store = store
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	if withEmbedLog && cfg.Store.Driver != "" && cfg.Store.Driver != "memory" {
		logs, err := embedlog.Open(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open embed log: %w", err)
		}
		a.logs = logs
		a.closers = append(a.closers, logs)
		f.AddHook(embedlog.Hook(logs))
	}

	if err := addLocalProviders(ctx, store, cfg.LocalProviders); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.refresher = catalog.NewRefresher(cfg.Catalog, store, f, nil)
	if _, err := a.refresher.Seed(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("seed providers: %w", err)
	}
	a.scheduler, err = catalog.NewScheduler(cfg.Catalog.Schedule, a.refresher)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.settings, err = admin.NewSettingsManager(ctx, f, store)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("settings: %w", err)
	}
	a.tokens = admin.NewTokenStore(cfg.AdminTokens)
	return a, nil
}

// addLocalProviders stores configured local providers that are not stored
// yet. Stored copies win so admin edits survive restarts.
func addLocalProviders(ctx context.Context, store admin.ProviderStore, list []providers.Provider) error {
	for _, p := range list {
		if p.Source == "" {
			p.Source = providers.SourceLocal
		}
		p.ID = 0
		if _, err := store.Create(ctx, p); err != nil && !errors.Is(err, admin.ErrDuplicate) {
			return fmt.Errorf("add local provider %s: %w", p.Name, err)
		}
	}
	return nil
}

func (a *app) handlers() *admin.Handlers {
	h := &admin.Handlers{
		Providers: a.store,
		Filter:    a.filter,
		Settings:  a.settings,
		Catalog:   a.refresher,
		Breakers:  breakers{a.filter},
		Edits:     a.edits,
		BaseURL:   "/admin",
	}
	if a.logs != nil {
		h.Logs = a.logs
		h.LogAdmin = a.logs
	}
	return h
}

// Close releases stores and the cache in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
