package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// The db stays nil in these tests: any path that reaches the upsert would
// panic, so a clean return proves the batch stopped before the database.

func TestSyncBatch_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accounts":[]}`))
	}))
	defer srv.Close()

	worker := NewAccountStatsSyncWorker(nil, srv.URL, "/stats", "token")
	if err := worker.syncBatch(context.Background(), time.Time{}); err != nil {
		t.Fatalf("syncBatch() error = %v", err)
	}
}

func TestSyncBatch_AllRowsMissingExternalID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accounts":[{"external_id":"","total_playtime_hours":5},{"external_id":"","highest_char_level":12}]}`))
	}))
	defer srv.Close()

	worker := NewAccountStatsSyncWorker(nil, srv.URL, "/stats", "token")
	if err := worker.syncBatch(context.Background(), time.Time{}); err != nil {
		t.Fatalf("syncBatch() with only unmappable rows should be a no-op, got %v", err)
	}
}

func TestSyncBatch_SendsTokenAndSince(t *testing.T) {
	var gotToken, gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Service-Token")
		gotSince = r.URL.Query().Get("since")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accounts":[]}`))
	}))
	defer srv.Close()

	since := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	worker := NewAccountStatsSyncWorker(nil, srv.URL, "/stats", "secret-token")
	if err := worker.syncBatch(context.Background(), since); err != nil {
		t.Fatalf("syncBatch() error = %v", err)
	}
	if gotToken != "secret-token" {
		t.Errorf("X-Service-Token = %q, want secret-token", gotToken)
	}
	if gotSince != "2026-08-01T12:00:00Z" {
		t.Errorf("since = %q, want 2026-08-01T12:00:00Z", gotSince)
	}
}

func TestSyncBatch_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	worker := NewAccountStatsSyncWorker(nil, srv.URL, "/stats", "token")
	if err := worker.syncBatch(context.Background(), time.Time{}); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
