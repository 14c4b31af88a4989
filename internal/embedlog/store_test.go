package embedlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	oembedfilter "github.com/ferro-labs/oembed-filter"
)

func newSQLiteTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_WriteListDelete(t *testing.T) {
	s := newSQLiteTestStore(t)

	now := time.Now().UTC()
	entries := []Entry{
		{TraceID: "trace-1", Stage: StageEmbedded, Provider: "YouTube", URL: "https://youtu.be/a", Type: "video", CreatedAt: now.Add(-2 * time.Hour)},
		{TraceID: "trace-2", Stage: StageEmbedded, Provider: "Vimeo", URL: "https://vimeo.com/1", Type: "video", CacheHit: true, CreatedAt: now.Add(-1 * time.Hour)},
		{TraceID: "trace-3", Stage: StageFailed, Provider: "YouTube", URL: "https://youtu.be/b", ErrorMessage: "oembed: not found", CreatedAt: now},
	}
	for _, e := range entries {
		if err := s.Write(context.Background(), e); err != nil {
			t.Fatalf("write embed log entry: %v", err)
		}
	}

	result, err := s.List(context.Background(), Query{Limit: 10})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if result.Total != 3 || len(result.Data) != 3 {
		t.Fatalf("expected 3 logs, total=%d len=%d", result.Total, len(result.Data))
	}
	if result.Data[0].TraceID != "trace-3" {
		t.Errorf("expected newest first, got %s", result.Data[0].TraceID)
	}
	if !result.Data[1].CacheHit {
		t.Error("expected cache_hit to round trip")
	}

	filtered, err := s.List(context.Background(), Query{Stage: StageFailed})
	if err != nil {
		t.Fatalf("list filtered logs: %v", err)
	}
	if filtered.Total != 1 || filtered.Data[0].ErrorMessage != "oembed: not found" {
		t.Fatalf("expected the failed entry, got %+v", filtered)
	}

	byProvider, err := s.List(context.Background(), Query{Provider: "YouTube", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if byProvider.Total != 2 || len(byProvider.Data) != 1 {
		t.Fatalf("expected total 2 with one returned, got total=%d len=%d", byProvider.Total, len(byProvider.Data))
	}

	before := now.Add(-30 * time.Minute)
	deleted, err := s.Delete(context.Background(), MaintenanceQuery{Before: &before})
	if err != nil {
		t.Fatalf("delete logs: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected deleted=2, got %d", deleted)
	}
}

func TestSQLiteStore_DeleteRequiresBefore(t *testing.T) {
	s := newSQLiteTestStore(t)
	if _, err := s.Delete(context.Background(), MaintenanceQuery{}); err == nil {
		t.Fatal("expected error without before")
	}
}

func TestHook_WritesFilterEvents(t *testing.T) {
	s := newSQLiteTestStore(t)
	hook := Hook(s)

	hook(context.Background(), oembedfilter.SubjectLinkEmbedded, map[string]interface{}{
		"provider": "Vimeo", "url": "https://vimeo.com/1", "type": "video", "cache_hit": true,
	})
	hook(context.Background(), oembedfilter.SubjectLinkRejected, map[string]interface{}{
		"provider": "YouTube", "url": "https://youtu.be/x", "error": "link rejected by host-filter",
	})
	hook(context.Background(), oembedfilter.SubjectProvidersChanged, map[string]interface{}{"enabled": 3})

	result, err := s.List(context.Background(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 2 {
		t.Fatalf("expected 2 entries, got %d", result.Total)
	}
	rejected, _ := s.List(context.Background(), Query{Stage: StageRejected})
	if rejected.Total != 1 || rejected.Data[0].Provider != "YouTube" {
		t.Errorf("expected one rejected YouTube entry, got %+v", rejected.Data)
	}
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("OEMBED_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set OEMBED_TEST_POSTGRES_DSN to run Postgres embed log integration tests")
	}

	s, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.Exec("DELETE FROM oembed_events")
		_ = s.Close()
	})
	_, _ = s.db.Exec("DELETE FROM oembed_events")

	if err := s.Write(context.Background(), Entry{Stage: StageEmbedded, Provider: "Vimeo", URL: "https://vimeo.com/1"}); err != nil {
		t.Fatalf("write postgres log: %v", err)
	}
	result, err := s.List(context.Background(), Query{Provider: "Vimeo"})
	if err != nil {
		t.Fatalf("list postgres logs: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("expected 1 postgres log, got %d", result.Total)
	}
}
