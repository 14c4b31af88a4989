package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ferro-labs/oembed-filter/oembed"
)

var ctx = context.Background()

func resp(title string) *oembed.Response {
	return &oembed.Response{Type: oembed.TypeVideo, Title: title, HTML: "<iframe></iframe>"}
}

func TestMemory_ImplementsCache(_ *testing.T) {
	var _ Cache = (*Memory)(nil)
	var _ Cache = (*Redis)(nil)
}

func TestMemory_SetAndGet(t *testing.T) {
	c := NewMemory(10, time.Minute)
	c.Set(ctx, "key1", resp("first"), 0)

	got, ok := c.Get(ctx, "key1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Title != "first" {
		t.Errorf("expected first, got %s", got.Title)
	}
	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("expected cache miss")
	}
}

func TestMemory_PerEntryTTL(t *testing.T) {
	c := NewMemory(10, time.Hour)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set(ctx, "short", resp("short"), time.Minute)
	c.Set(ctx, "default", resp("default"), 0)

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "short"); ok {
		t.Error("expected short entry to expire")
	}
	if _, ok := c.Get(ctx, "default"); !ok {
		t.Error("expected default entry to survive")
	}
	if c.Len(ctx) != 1 {
		t.Errorf("expected expired entry to be removed, len %d", c.Len(ctx))
	}
}

func TestMemory_LRUAccessOrder(t *testing.T) {
	c := NewMemory(2, time.Minute)
	c.Set(ctx, "a", resp("a"), 0)
	c.Set(ctx, "b", resp("b"), 0)
	c.Get(ctx, "a")
	c.Set(ctx, "c", resp("c"), 0)

	if _, ok := c.Get(ctx, "a"); !ok {
		t.Error("expected 'a' to be present (recently accessed)")
	}
	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("expected 'b' to be evicted (LRU)")
	}
}

func TestMemory_UpdateDeleteClear(t *testing.T) {
	c := NewMemory(10, time.Minute)
	c.Set(ctx, "k", resp("old"), 0)
	c.Set(ctx, "k", resp("new"), 0)
	if got, _ := c.Get(ctx, "k"); got.Title != "new" || c.Len(ctx) != 1 {
		t.Fatalf("expected single updated entry, got %v len %d", got, c.Len(ctx))
	}
	c.Delete(ctx, "k")
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected miss after delete")
	}
	c.Set(ctx, "a", resp("a"), 0)
	if err := c.Clear(ctx); err != nil || c.Len(ctx) != 0 {
		t.Errorf("expected empty cache after clear, len %d err %v", c.Len(ctx), err)
	}
}

func TestMemory_Concurrent(_ *testing.T) {
	c := NewMemory(100, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%26))
			c.Set(ctx, key, resp(key), 0)
			c.Get(ctx, key)
			c.Len(ctx)
		}(i)
	}
	wg.Wait()
}

func TestKeyIsStable(t *testing.T) {
	a := Key("https://www.youtube.com/oembed?format=json&url=x")
	if a != Key("https://www.youtube.com/oembed?format=json&url=x") || len(a) != 64 {
		t.Errorf("unexpected key %q", a)
	}
	if a == Key("https://www.youtube.com/oembed?format=json&url=y") {
		t.Error("expected distinct keys for distinct urls")
	}
}

func TestNewBackends(t *testing.T) {
	c, err := New(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*Memory); !ok {
		t.Errorf("expected memory backend by default, got %T", c)
	}
	c, err = New(ctx, Options{Backend: BackendNone})
	if err != nil || c != nil {
		t.Errorf("expected nil cache for none, got %v %v", c, err)
	}
	if _, err := New(ctx, Options{Backend: "memcached"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := New(ctx, Options{Backend: BackendRedis}); err == nil {
		t.Error("expected error for redis without url")
	}
}
