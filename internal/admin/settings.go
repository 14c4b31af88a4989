package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	oembedfilter "github.com/ferro-labs/oembed-filter"
)

// Settings are the filter options editable from the admin page.
type Settings struct {
	Lazyload  oembedfilter.Flag `json:"lazyload"`
	MaxWidth  int               `json:"maxwidth"`
	MaxHeight int               `json:"maxheight"`
	Discovery bool              `json:"discovery"`
}

// ErrInvalidSettings wraps settings the filter rejects.
var ErrInvalidSettings = errors.New("invalid settings")

// SettingsStore persists Settings.
type SettingsStore interface {
	SaveSettings(ctx context.Context, s Settings) error
	LoadSettings(ctx context.Context) (Settings, bool, error)
	DeleteSettings(ctx context.Context) error
}

// ConfigManager exposes the filter config operations needed by the admin API.
type ConfigManager interface {
	Config() oembedfilter.Config
	ReloadConfig(cfg oembedfilter.Config) error
}

func settingsFrom(cfg oembedfilter.Config) Settings {
	return Settings{
		Lazyload:  cfg.Lazyload,
		MaxWidth:  cfg.MaxWidth,
		MaxHeight: cfg.MaxHeight,
		Discovery: cfg.Discovery,
	}
}

func (s Settings) applyTo(cfg oembedfilter.Config) oembedfilter.Config {
	cfg.Lazyload = s.Lazyload
	cfg.MaxWidth = s.MaxWidth
	cfg.MaxHeight = s.MaxHeight
	cfg.Discovery = s.Discovery
	return cfg
}

// SettingsManager connects runtime filter settings to optional persistent
// storage.
type SettingsManager struct {
	mu      sync.Mutex
	cfg     ConfigManager
	initial Settings
	store   SettingsStore
}

// NewSettingsManager creates a manager and applies persisted settings, if
// any, to the filter.
func NewSettingsManager(ctx context.Context, cfg ConfigManager, store SettingsStore) (*SettingsManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	m := &SettingsManager{
		cfg:     cfg,
		initial: settingsFrom(cfg.Config()),
		store:   store,
	}
	if store != nil {
		persisted, ok, err := store.LoadSettings(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := cfg.ReloadConfig(persisted.applyTo(cfg.Config())); err != nil {
				return nil, fmt.Errorf("apply persisted settings: %w", err)
			}
		}
	}
	return m, nil
}

// Get returns the active settings.
func (m *SettingsManager) Get() Settings {
	return settingsFrom(m.cfg.Config())
}

// Update applies s to the filter and persists it. If persisting fails the
// previous settings are restored.
func (m *SettingsManager) Update(ctx context.Context, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.cfg.Config()
	if err := m.cfg.ReloadConfig(s.applyTo(prev)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if m.store != nil {
		if err := m.store.SaveSettings(ctx, s); err != nil {
			if rerr := m.cfg.ReloadConfig(prev); rerr != nil {
				return fmt.Errorf("save settings: %w (restore failed: %v)", err, rerr)
			}
			return fmt.Errorf("save settings: %w", err)
		}
	}
	return nil
}

// Reset restores the settings the filter started with and forgets the
// persisted ones.
func (m *SettingsManager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.cfg.ReloadConfig(m.initial.applyTo(m.cfg.Config())); err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.DeleteSettings(ctx); err != nil {
			return err
		}
	}
	return nil
}
