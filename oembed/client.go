package oembed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ferro-labs/oembed-filter/internal/circuitbreaker"
	"github.com/ferro-labs/oembed-filter/internal/ratelimit"
	"github.com/ferro-labs/oembed-filter/internal/version"
)

// Fetch errors. Status errors for other codes are *StatusError.
var (
	ErrUnauthorized   = errors.New("oembed: unauthorized")
	ErrNotFound       = errors.New("oembed: not found")
	ErrNotImplemented = errors.New("oembed: format not implemented")
	ErrRateLimited    = errors.New("oembed: rate limited")
	ErrCircuitOpen    = circuitbreaker.ErrCircuitOpen
	ErrNoDiscovery    = errors.New("oembed: page advertises no json endpoint")
)

const defaultMaxBody = 1 << 20

// StatusError reports an unexpected HTTP status from a provider.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("oembed: %s returned %d", e.URL, e.Code)
}

// ClientOptions configures a Client. Zero values get defaults: a 10s
// timeout, the package user agent, no rate limiting and default breaker
// thresholds.
type ClientOptions struct {
	HTTPClient    *http.Client
	Timeout       time.Duration
	UserAgent     string
	RatePerSecond float64
	Burst         float64
	Breaker       circuitbreaker.Settings
	MaxBodyBytes  int64
}

// Client fetches oEmbed responses. Requests are paced per host and guarded
// by a per-host circuit breaker.
type Client struct {
	http     *http.Client
	ua       string
	limits   *ratelimit.Store
	breakers *circuitbreaker.Group
	maxBody  int64
}

// NewClient creates a Client.
func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Client{
		http:     hc,
		ua:       ua,
		limits:   ratelimit.NewStore(opts.RatePerSecond, opts.Burst),
		breakers: circuitbreaker.NewGroup(opts.Breaker),
		maxBody:  maxBody,
	}
}

// Breakers exposes the per-host breakers for health reporting.
func (c *Client) Breakers() *circuitbreaker.Group {
	return c.breakers
}

// countsAgainstEndpoint decides whether err says the endpoint is unhealthy.
func countsAgainstEndpoint(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrUnauthorized) &&
		!errors.Is(err, ErrNotImplemented) &&
		!errors.Is(err, ErrInvalidResponse) &&
		!errors.Is(err, ErrNoDiscovery)
}

// Fetch requests requestURL (built by providers.Endpoint.RequestURL) and
// decodes the response.
func (c *Client) Fetch(ctx context.Context, requestURL string) (*Response, error) {
	var resp *Response
	err := c.guard(ctx, requestURL, func() error {
		var ferr error
		resp, ferr = c.fetch(ctx, requestURL)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// guard runs fn behind the rate limiter and breaker of rawURL's host.
func (c *Client) guard(ctx context.Context, rawURL string, fn func() error) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("oembed: parse request url: %w", err)
	}
	if err := c.limits.Wait(ctx, u.Host); err != nil {
		if errors.Is(err, ratelimit.ErrLimited) {
			return fmt.Errorf("%w: %s", ErrRateLimited, u.Host)
		}
		return err
	}
	return c.breakers.Get(u.Host).Do(fn, countsAgainstEndpoint)
}

func (c *Client) fetch(ctx context.Context, requestURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("oembed: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.ua)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oembed: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusNotImplemented:
		return nil, ErrNotImplemented
	default:
		return nil, &StatusError{Code: res.StatusCode, URL: requestURL}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("oembed: read response: %w", err)
	}
	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Discover loads pageURL and returns the absolute URL of the JSON oEmbed
// endpoint the page advertises through
// <link rel="alternate" type="application/json+oembed">. Positive sizes are
// set as maxwidth and maxheight on the returned URL.
func (c *Client) Discover(ctx context.Context, pageURL string, maxWidth, maxHeight int) (string, error) {
	var endpoint *url.URL
	err := c.guard(ctx, pageURL, func() error {
		var derr error
		endpoint, derr = c.discover(ctx, pageURL)
		return derr
	})
	if err != nil {
		return "", err
	}
	q := endpoint.Query()
	if maxWidth > 0 {
		q.Set("maxwidth", strconv.Itoa(maxWidth))
	}
	if maxHeight > 0 {
		q.Set("maxheight", strconv.Itoa(maxHeight))
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

func (c *Client) discover(ctx context.Context, pageURL string) (*url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("oembed: parse page url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("oembed: create discovery request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", c.ua)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oembed: discovery request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, &StatusError{Code: res.StatusCode, URL: pageURL}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(res.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("oembed: parse page: %w", err)
	}
	href, ok := doc.Find(`link[type="application/json+oembed"]`).First().Attr("href")
	if !ok || href == "" {
		return nil, ErrNoDiscovery
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("oembed: invalid discovery href %q: %w", href, err)
	}
	return base.ResolveReference(ref), nil
}
