// Package oembedfilter rewrites links to known media services in HTML into
// embedded players and viewers, using each provider's oEmbed API or a locally
// configured template.
package oembedfilter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ferro-labs/oembed-filter/internal/cache"
	"github.com/ferro-labs/oembed-filter/internal/circuitbreaker"
	"github.com/ferro-labs/oembed-filter/internal/logging"
	"github.com/ferro-labs/oembed-filter/internal/metrics"
	"github.com/ferro-labs/oembed-filter/internal/telemetry"
	"github.com/ferro-labs/oembed-filter/oembed"
	"github.com/ferro-labs/oembed-filter/plugin"
	"github.com/ferro-labs/oembed-filter/providers"
)

// Event subjects published to hooks.
const (
	SubjectLinkEmbedded     = "oembed.link.embedded"
	SubjectLinkFailed       = "oembed.link.failed"
	SubjectLinkRejected     = "oembed.link.rejected"
	SubjectProvidersChanged = "oembed.providers.changed"
)

// EventHookFunc is called asynchronously for filter events.
type EventHookFunc func(ctx context.Context, subject string, data map[string]interface{})

// Option configures a Filter.
type Option func(*Filter)

// WithCache replaces the configured response cache. A nil cache turns
// caching off.
func WithCache(c cache.Cache) Option {
	return func(f *Filter) {
		f.cache = c
		f.cacheSet = true
	}
}

// WithClient replaces the oEmbed client built from the fetch config.
func WithClient(c *oembed.Client) Option {
	return func(f *Filter) { f.client = c }
}

// WithHTTPClient sets the HTTP client the oEmbed client is built on.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Filter) { f.httpClient = hc }
}

// Filter is the embed filter. It is safe for concurrent use.
type Filter struct {
	mu         sync.RWMutex
	config     Config
	registry   *providers.Registry
	client     *oembed.Client
	httpClient *http.Client
	ownClient  bool
	cache      cache.Cache
	cacheSet   bool
	plugins    *plugin.Manager
	hooks      []EventHookFunc
}

// New creates a Filter from cfg. The filter starts without providers; load
// them with SetProviders.
func New(cfg Config, opts ...Option) (*Filter, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	f := &Filter{
		config:   cfg,
		registry: providers.NewRegistry(),
		plugins:  plugin.NewManager(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = oembed.NewClient(f.clientOptions(cfg))
		f.ownClient = true
	}
	if !f.cacheSet {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := cache.New(ctx, cache.Options{
			Backend:    cfg.Cache.Backend,
			TTL:        cfg.Cache.TTL.Std(),
			MaxEntries: cfg.Cache.MaxEntries,
			RedisURL:   cfg.Cache.RedisURL,
		})
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		f.cache = c
	}
	return f, nil
}

func (f *Filter) clientOptions(cfg Config) oembed.ClientOptions {
	timeout := cfg.Fetch.Timeout.Std()
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	hc := f.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout, Transport: telemetry.NewTransport(http.DefaultTransport)}
	}
	cb := cfg.Fetch.CircuitBreaker
	return oembed.ClientOptions{
		HTTPClient:    hc,
		Timeout:       timeout,
		UserAgent:     cfg.Fetch.UserAgent,
		RatePerSecond: cfg.Fetch.RequestsPerSecond,
		Burst:         cfg.Fetch.Burst,
		Breaker: circuitbreaker.Settings{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			Timeout:          cb.Timeout.Std(),
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				logging.Logger.Warn("circuit breaker state change",
					"endpoint", name, "from", from.String(), "to", to.String())
			},
		},
	}
}

// SetProviders replaces the active providers. Disabled providers are
// dropped. On error the previous providers stay active.
func (f *Filter) SetProviders(list []providers.Provider) error {
	if err := f.registry.Replace(list); err != nil {
		return err
	}
	n := f.registry.Len()
	metrics.EnabledProviders.Set(float64(n))
	f.publishEvent(context.Background(), SubjectProvidersChanged, map[string]interface{}{
		"enabled": n,
	})
	return nil
}

// Providers returns the enabled providers in match order.
func (f *Filter) Providers() []providers.Provider {
	return f.registry.List()
}

// Client returns the oEmbed client used for fetches.
func (f *Filter) Client() *oembed.Client {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.client
}

// Cache returns the response cache, or nil when caching is off.
func (f *Filter) Cache() cache.Cache {
	return f.cache
}

// Lazyload reports whether embeds render as thumbnail cards.
func (f *Filter) Lazyload() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return bool(f.config.Lazyload)
}

// SetLazyload switches lazyload rendering.
func (f *Filter) SetLazyload(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config.Lazyload = Flag(on)
}

// ReloadConfig validates and applies a new configuration. The fetch client
// is rebuilt; the cache backend and loaded plugins are kept.
func (f *Filter) ReloadConfig(cfg Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fetchChanged := f.config.Fetch != cfg.Fetch
	f.config = cfg
	// Breaker and rate-limit state lives in the client; keep it unless the
	// fetch settings changed.
	if f.ownClient && fetchChanged {
		f.client = oembed.NewClient(f.clientOptions(cfg))
		metrics.CircuitBreakerState.Reset()
	}
	return nil
}

// Config returns a copy of the current configuration.
func (f *Filter) Config() Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.config
}

// AddHook registers an event hook.
func (f *Filter) AddHook(hook EventHookFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, hook)
}

// RegisterPlugin adds a plugin at the given stage.
func (f *Filter) RegisterPlugin(stage plugin.Stage, p plugin.Plugin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plugins.Register(stage, p)
}

// LoadPlugins initializes and registers plugins from the filter configuration.
func (f *Filter) LoadPlugins() error {
	for _, pc := range f.Config().Plugins {
		if !pc.Enabled {
			continue
		}
		factory, ok := plugin.GetFactory(pc.Name)
		if !ok {
			return fmt.Errorf("unknown plugin: %s", pc.Name)
		}
		p := factory()
		if err := p.Init(pc.Config); err != nil {
			return fmt.Errorf("plugin %s init failed: %w", pc.Name, err)
		}
		if err := f.RegisterPlugin(plugin.Stage(pc.Stage), p); err != nil {
			return fmt.Errorf("plugin %s register failed: %w", pc.Name, err)
		}
	}
	return nil
}

// Plugins lists the loaded plugins.
func (f *Filter) Plugins() []plugin.Registration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.plugins.Registrations()
}

// Close releases the cache backend.
func (f *Filter) Close() error {
	if c, ok := f.cache.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// publishEvent calls all registered hooks asynchronously.
func (f *Filter) publishEvent(ctx context.Context, subject string, data map[string]interface{}) {
	f.mu.RLock()
	hooks := make([]EventHookFunc, len(f.hooks))
	copy(hooks, f.hooks)
	f.mu.RUnlock()

	for _, h := range hooks {
		fn := h
		go fn(ctx, subject, data)
	}
}

// Apply rewrites every provider link of text into its embed. Links that
// cannot be resolved stay as they are. When ctx ends before all links are
// resolved, the partially filtered text is returned with ctx's error.
func (f *Filter) Apply(ctx context.Context, text string) (string, error) {
	if !hasAnchor(text) {
		return text, nil
	}
	start := time.Now()
	defer func() { metrics.FilterDuration.Observe(time.Since(start).Seconds()) }()

	anchors := scanAnchors(text, f.registry)
	if len(anchors) == 0 {
		return text, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "oembed.filter",
		trace.WithAttributes(attribute.Int("oembed.links", len(anchors))))
	defer span.End()

	f.mu.RLock()
	cfg := f.config
	client := f.client
	plugins := f.plugins
	f.mu.RUnlock()

	limit := cfg.Fetch.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	results := make([]string, len(anchors))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, a := range anchors {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, a anchor) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = f.resolve(ctx, cfg, client, plugins, a)
		}(i, a)
	}
	wg.Wait()

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for i, a := range anchors {
		b.WriteString(text[prev:a.start])
		if results[i] != "" {
			b.WriteString(results[i])
		} else {
			b.WriteString(text[a.start:a.end])
		}
		prev = a.end
	}
	b.WriteString(text[prev:])

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return b.String(), err
	}
	return b.String(), nil
}

// resolve turns one anchor into markup. An empty result keeps the anchor.
func (f *Filter) resolve(ctx context.Context, cfg Config, client *oembed.Client, plugins *plugin.Manager, a anchor) string {
	name := a.match.Provider.Name
	ctx, span := telemetry.StartSpan(ctx, "oembed.resolve",
		trace.WithAttributes(attribute.String("oembed.provider", name)))
	defer span.End()

	pctx := plugin.NewContext(a.href, name)
	pctx.MaxWidth, pctx.MaxHeight = cfg.MaxWidth, cfg.MaxHeight

	if plugins.HasPlugins() {
		if err := plugins.RunBefore(ctx, pctx); err != nil {
			return f.fail(ctx, plugins, pctx, err)
		}
	}

	markup, err := f.embed(ctx, cfg, client, a.match, pctx)
	if err != nil {
		span.RecordError(err)
		return f.fail(ctx, plugins, pctx, err)
	}
	pctx.Markup = markup

	if plugins.HasPlugins() {
		if err := plugins.RunAfter(ctx, pctx); err != nil {
			return f.fail(ctx, plugins, pctx, err)
		}
	}
	if pctx.Markup == "" {
		metrics.LinksTotal.WithLabelValues(name, metrics.ResultSkipped).Inc()
		return ""
	}

	metrics.LinksTotal.WithLabelValues(name, metrics.ResultEmbedded).Inc()
	data := map[string]interface{}{
		"trace_id":  logging.TraceIDFromContext(ctx),
		"provider":  name,
		"url":       a.href,
		"cache_hit": pctx.CacheHit,
	}
	if pctx.Response != nil {
		data["type"] = pctx.Response.Type
	} else {
		data["type"] = "template"
	}
	f.publishEvent(ctx, SubjectLinkEmbedded, data)
	return pctx.Markup
}

func (f *Filter) fail(ctx context.Context, plugins *plugin.Manager, pctx *plugin.Context, err error) string {
	pctx.Error = err
	if plugins.HasPlugins() {
		plugins.RunOnError(ctx, pctx)
	}

	subject, result := SubjectLinkFailed, metrics.ResultError
	if errors.Is(err, plugin.ErrRejected) {
		subject, result = SubjectLinkRejected, metrics.ResultRejected
	}
	metrics.LinksTotal.WithLabelValues(pctx.Provider, result).Inc()
	logging.FromContext(ctx).Debug("link left unchanged",
		"provider", pctx.Provider, "url", pctx.Link, "error", err)
	f.publishEvent(ctx, subject, map[string]interface{}{
		"trace_id": logging.TraceIDFromContext(ctx),
		"provider": pctx.Provider,
		"url":      pctx.Link,
		"error":    err.Error(),
	})
	return ""
}

// embed produces the markup for a matched link: local template expansion,
// or an oEmbed response from the cache or the provider.
func (f *Filter) embed(ctx context.Context, cfg Config, client *oembed.Client, m providers.Match, pctx *plugin.Context) (string, error) {
	if m.Endpoint.IsTemplate() {
		return m.Render(pctx.Link)
	}

	reqURL, err := f.requestURL(ctx, cfg, client, m.Endpoint, pctx)
	if err != nil {
		return "", err
	}

	key := cache.Key(reqURL)
	var resp *oembed.Response
	if f.cache != nil {
		if cached, ok := f.cache.Get(ctx, key); ok {
			metrics.CacheHits.Inc()
			resp = cached
			pctx.CacheHit = true
		} else {
			metrics.CacheMisses.Inc()
		}
	}
	if resp == nil {
		start := time.Now()
		resp, err = client.Fetch(ctx, reqURL)
		metrics.FetchDuration.WithLabelValues(pctx.Provider).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.FetchErrors.WithLabelValues(pctx.Provider, fetchErrorType(err)).Inc()
			return "", err
		}
		if f.cache != nil {
			ttl := cfg.Cache.TTL.Std()
			if ttl <= 0 {
				ttl = DefaultCacheTTL
			}
			f.cache.Set(ctx, key, resp, resp.CacheTTL(ttl))
		}
	}
	pctx.Response = resp

	return resp.Markup(oembed.RenderOptions{Lazyload: bool(cfg.Lazyload), Link: pctx.Link})
}

// requestURL builds the oEmbed request for the link. With discovery on and
// an endpoint that supports it, the endpoint advertised by the page wins.
func (f *Filter) requestURL(ctx context.Context, cfg Config, client *oembed.Client, e providers.Endpoint, pctx *plugin.Context) (string, error) {
	if cfg.Discovery && e.Discovery {
		discovered, err := client.Discover(ctx, pctx.Link, pctx.MaxWidth, pctx.MaxHeight)
		if err == nil {
			return discovered, nil
		}
		logging.FromContext(ctx).Debug("oembed discovery failed, using endpoint",
			"url", pctx.Link, "error", err)
	}
	return e.RequestURL(pctx.Link, pctx.MaxWidth, pctx.MaxHeight)
}

func fetchErrorType(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, oembed.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, oembed.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, oembed.ErrNotFound):
		return "not_found"
	case errors.Is(err, oembed.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, oembed.ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "http_error"
	}
}
