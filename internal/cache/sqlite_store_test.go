package cache

import (
	"context"
	"net/http"
	"testing"
)

func newSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreNamespacesAndDelete(t *testing.T) {
	exerciseNamespaces(t, newSQLiteTestStore(t))
}

func TestSQLiteStoreOverwrite(t *testing.T) {
	exerciseOverwrite(t, newSQLiteTestStore(t))
}

func TestSQLiteStoreKeepsHeaders(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()
	ns, err := store.Open(ctx, "app-v1")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/manifest+json")
	if err := ns.Put(ctx, "/manifest.json", &Entry{Status: http.StatusOK, Header: header, Body: []byte("{}")}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	got, err := ns.Match(ctx, "/manifest.json")
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if got.Header.Get("Content-Type") != "application/manifest+json" {
		t.Fatalf("header lost: %v", got.Header)
	}
	if got.StoredAt.IsZero() {
		t.Fatalf("stored_at should be filled")
	}
}
