package admin

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ferro-labs/oembed-filter/providers"
)

// Store errors.
var (
	ErrNotFound  = errors.New("provider not found")
	ErrNotLocal  = errors.New("only local providers can be deleted")
	ErrDuplicate = errors.New("a provider with this name already exists for the source")
)

// ProviderQuery filters List results. Zero values match everything.
type ProviderQuery struct {
	// Search matches a case-insensitive substring of the name.
	Search string
	// SourceType is "download", "local" or "plugin".
	SourceType string
	// Source matches the full source string, e.g. "download::https://oembed.com/providers.json".
	Source  string
	Enabled *bool
}

func (q ProviderQuery) matches(p providers.Provider) bool {
	if q.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(q.Search)) {
		return false
	}
	if q.SourceType != "" && p.SourceType() != q.SourceType {
		return false
	}
	if q.Source != "" && p.Source != q.Source {
		return false
	}
	if q.Enabled != nil && p.Enabled != *q.Enabled {
		return false
	}
	return true
}

// ProviderStore persists provider definitions. List returns providers in
// ascending ID order. Names are unique per source.
type ProviderStore interface {
	List(ctx context.Context, q ProviderQuery) ([]providers.Provider, error)
	Get(ctx context.Context, id int64) (providers.Provider, error)
	Create(ctx context.Context, p providers.Provider) (providers.Provider, error)
	Update(ctx context.Context, p providers.Provider) (providers.Provider, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) (providers.Provider, error)
	Delete(ctx context.Context, id int64) error
}

// MemoryStore is an in-memory ProviderStore and SettingsStore.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[int64]providers.Provider
	nextID   int64
	settings *Settings
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[int64]providers.Provider),
		nextID: 1,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func cloneProvider(p providers.Provider) providers.Provider {
	eps := make([]providers.Endpoint, len(p.Endpoints))
	for i, e := range p.Endpoints {
		e.Schemes = append([]string(nil), e.Schemes...)
		e.Formats = append([]string(nil), e.Formats...)
		eps[i] = e
	}
	p.Endpoints = eps
	return p
}

func (s *MemoryStore) nameTaken(source, name string, except int64) bool {
	for id, p := range s.byID {
		if id != except && p.Source == source && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// List implements ProviderStore.
func (s *MemoryStore) List(_ context.Context, q ProviderQuery) ([]providers.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]providers.Provider, 0, len(s.byID))
	for _, p := range s.byID {
		if q.matches(p) {
			out = append(out, cloneProvider(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get implements ProviderStore.
func (s *MemoryStore) Get(_ context.Context, id int64) (providers.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return providers.Provider{}, ErrNotFound
	}
	return cloneProvider(p), nil
}

// Create implements ProviderStore. The ID is assigned by the store.
func (s *MemoryStore) Create(_ context.Context, p providers.Provider) (providers.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTaken(p.Source, p.Name, 0) {
		return providers.Provider{}, ErrDuplicate
	}
	now := s.now()
	p.ID = s.nextID
	s.nextID++
	p.CreatedAt, p.UpdatedAt = now, now
	s.byID[p.ID] = cloneProvider(p)
	return p, nil
}

// Update implements ProviderStore. CreatedAt is kept.
func (s *MemoryStore) Update(_ context.Context, p providers.Provider) (providers.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[p.ID]
	if !ok {
		return providers.Provider{}, ErrNotFound
	}
	if s.nameTaken(p.Source, p.Name, p.ID) {
		return providers.Provider{}, ErrDuplicate
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = s.now()
	s.byID[p.ID] = cloneProvider(p)
	return p, nil
}

// SetEnabled implements ProviderStore.
func (s *MemoryStore) SetEnabled(_ context.Context, id int64, enabled bool) (providers.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return providers.Provider{}, ErrNotFound
	}
	p.Enabled = enabled
	p.UpdatedAt = s.now()
	s.byID[id] = p
	return cloneProvider(p), nil
}

// Delete implements ProviderStore.
func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

// SaveSettings implements SettingsStore.
func (s *MemoryStore) SaveSettings(_ context.Context, st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &st
	return nil
}

// LoadSettings implements SettingsStore.
func (s *MemoryStore) LoadSettings(_ context.Context) (Settings, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return Settings{}, false, nil
	}
	return *s.settings, true, nil
}

// DeleteSettings implements SettingsStore.
func (s *MemoryStore) DeleteSettings(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = nil
	return nil
}

// ProviderSink receives the full provider list after every change.
type ProviderSink interface {
	SetProviders(list []providers.Provider) error
}

// Publish loads every provider from store and hands them to sink. The sink
// keeps only the enabled ones.
func Publish(ctx context.Context, store ProviderStore, sink ProviderSink) error {
	if sink == nil {
		return nil
	}
	list, err := store.List(ctx, ProviderQuery{})
	if err != nil {
		return err
	}
	return sink.SetProviders(list)
}
