package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/docstore/storetest"
)

// setupTestStore creates a temporary database for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Client {
		return setupTestStore(t)
	})
}

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer store.Close()

	if store.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", store.Path(), dbPath)
	}

	// Schema creation is idempotent.
	if err := store.InitSchema(); err != nil {
		t.Errorf("second InitSchema() error: %v", err)
	}
}

func TestPersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	id, err := store.Collection("Person").InsertOne(ctx, docstore.Document{"name": "ann"})
	if err != nil {
		t.Fatalf("InsertOne() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	store, err = Open(dbPath)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer store.Close()

	doc, err := store.Collection("Person").FindOne(ctx, docstore.Filter{"_id": id})
	if err != nil {
		t.Fatalf("FindOne() error: %v", err)
	}
	if doc["name"] != "ann" {
		t.Errorf("name = %v, want ann", doc["name"])
	}
}

func TestStats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	coll := store.Collection("Person")
	if err := coll.CreateIndex(ctx, "email", true); err != nil {
		t.Fatalf("CreateIndex() error: %v", err)
	}
	for _, email := range []string{"a@x", "b@x"} {
		if _, err := coll.InsertOne(ctx, docstore.Document{"email": email}); err != nil {
			t.Fatalf("InsertOne() error: %v", err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if len(stats) != 1 || stats[0].Name != "Person" || stats[0].Documents != 2 {
		t.Fatalf("Stats() = %+v", stats)
	}
	if len(stats[0].Indexes) != 1 || !stats[0].Indexes[0].Unique {
		t.Errorf("Indexes = %+v, want one unique index", stats[0].Indexes)
	}
}

func TestCreateIndexRejectsBadPath(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Collection("Person").CreateIndex(context.Background(), "a'b", false); err == nil {
		t.Error("CreateIndex() accepted path with quote")
	}
}
