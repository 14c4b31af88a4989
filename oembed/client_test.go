package oembed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ferro-labs/oembed-filter/internal/circuitbreaker"
)

func TestClient_Fetch(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		if r.URL.Query().Get("url") != "https://vimeo.com/115538038" {
			t.Errorf("unexpected url param %q", r.URL.Query().Get("url"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"video","version":"1.0","title":"Vimeo","width":"640","height":360,
			"html":"<iframe src=\"https://player.vimeo.com/video/115538038?app_id=1\"></iframe>"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{UserAgent: "test-agent"})
	resp, err := c.Fetch(context.Background(), srv.URL+"/api/oembed.json?url=https%3A%2F%2Fvimeo.com%2F115538038")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != TypeVideo || resp.Width != 640 || resp.Height != 360 {
		t.Errorf("unexpected response %+v", resp)
	}
	if gotUA != "test-agent" || gotAccept != "application/json" {
		t.Errorf("expected headers test-agent/application/json, got %q/%q", gotUA, gotAccept)
	}
}

func TestClient_FetchStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusNotImplemented, ErrNotImplemented},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := NewClient(ClientOptions{})
		_, err := c.Fetch(context.Background(), srv.URL)
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		srv.Close()
	}
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{Breaker: circuitbreaker.Settings{FailureThreshold: 2}})
	for i := 0; i < 2; i++ {
		_, err := c.Fetch(context.Background(), srv.URL)
		var se *StatusError
		if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
			t.Fatalf("expected 502 StatusError, got %v", err)
		}
	}
	if _, err := c.Fetch(context.Background(), srv.URL); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("expected 2 upstream hits, got %d", hits.Load())
	}
}

func TestClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{Breaker: circuitbreaker.Settings{FailureThreshold: 1}})
	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background(), srv.URL); !errors.Is(err, ErrNotFound) {
			t.Fatalf("attempt %d: expected ErrNotFound, got %v", i, err)
		}
	}
}

func TestClient_InvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"type":"video"}`))
	}))
	defer srv.Close()

	_, err := NewClient(ClientOptions{}).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"type":"link"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{RatePerSecond: 0.01, Burst: 1})
	if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := c.Fetch(ctx, srv.URL); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestClient_Discover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<!DOCTYPE html><html><head>
<link rel="alternate" type="text/xml+oembed" href="/oembed?format=xml">
<link rel="alternate" type="application/json+oembed" href="/oembed?format=json&amp;url=x">
</head><body></body></html>`))
	}))
	defer srv.Close()

	got, err := NewClient(ClientOptions{}).Discover(context.Background(), srv.URL+"/watch/1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := srv.URL + "/oembed?format=json&url=x"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestClient_DiscoverNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>x</title></head></html>`))
	}))
	defer srv.Close()

	_, err := NewClient(ClientOptions{}).Discover(context.Background(), srv.URL, 0, 0)
	if !errors.Is(err, ErrNoDiscovery) {
		t.Fatalf("expected ErrNoDiscovery, got %v", err)
	}
}

func TestClient_DiscoverAddsSizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head>
<link rel="alternate" type="application/json+oembed" href="/oembed?url=x&amp;maxwidth=1000">
</head></html>`))
	}))
	defer srv.Close()

	got, err := NewClient(ClientOptions{}).Discover(context.Background(), srv.URL, 400, 300)
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("maxwidth") != "400" || q.Get("maxheight") != "300" || q.Get("url") != "x" {
		t.Errorf("expected maxwidth=400 maxheight=300 url=x, got %s", u.RawQuery)
	}
}

func TestClient_DiscoverUsesBreakerAndLimiter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{Breaker: circuitbreaker.Settings{FailureThreshold: 1, Timeout: time.Minute}})
	var se *StatusError
	if _, err := c.Discover(context.Background(), srv.URL, 0, 0); !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if _, err := c.Discover(context.Background(), srv.URL, 0, 0); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 page request, got %d", calls.Load())
	}

	limited := NewClient(ClientOptions{RatePerSecond: 0.01, Burst: 1})
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<link type="application/json+oembed" href="/o">`))
	}))
	defer page.Close()
	if _, err := limited.Discover(context.Background(), page.URL, 0, 0); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := limited.Discover(ctx, page.URL, 0, 0); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestClient_FetchNumericVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"version":1,"type":"rich","width":"100%","height":1e300,"html":"<iframe></iframe>"}`))
	}))
	defer srv.Close()

	resp, err := NewClient(ClientOptions{}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Version != "1" {
		t.Errorf("expected version 1, got %q", resp.Version)
	}
	if resp.Height != maxDimension {
		t.Errorf("expected height capped at %d, got %d", maxDimension, resp.Height)
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Code: 503, URL: "https://x.example/oembed"}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("expected status in message, got %q", err.Error())
	}
}
