package watch

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/docstore/memory"
	"github.com/mschirtzinger/docsync/internal/odm"
)

var noteSchema = odm.MustSchema("Note",
	odm.String("title", odm.Required()),
	odm.Int("views", odm.Default(0)),
	odm.ListOf("tags", odm.String("")),
	odm.MapOf("meta", odm.String("")),
	odm.Embed("author", odm.MustSchema("Author", odm.String("name"), odm.String("email"))),
)

// setupTestSyncer returns a syncer over an in-memory Note collection and a
// root directory containing the Note folder.
func setupTestSyncer(t *testing.T) (*Syncer, *odm.Collection, string) {
	t.Helper()

	client := memory.New()
	t.Cleanup(func() { client.Close() })

	logger := log.New(&bytes.Buffer{}, "", 0)
	notes := odm.NewCollection(client, noteSchema, odm.WithLogger(logger))

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Note"), 0755); err != nil {
		t.Fatalf("Failed to create Note dir: %v", err)
	}
	return NewSyncer([]*odm.Collection{notes}, 0, logger), notes, root
}

func writeNote(t *testing.T, root, id, body string) string {
	t.Helper()
	path := FilePath(root, "Note", id)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

func storedNote(t *testing.T, notes *odm.Collection, id string) docstore.Document {
	t.Helper()
	raw, err := notes.Store().FindOne(context.Background(), docstore.Filter{docstore.IDKey: id})
	if err != nil {
		t.Fatalf("FindOne(%s) error: %v", id, err)
	}
	return raw
}

func TestSyncFileInsertsNewDocument(t *testing.T) {
	s, notes, root := setupTestSyncer(t)
	path := writeNote(t, root, "n1", `{"title":"hello","tags":["a"]}`)

	res, err := s.SyncFile(context.Background(), root, path)
	if err != nil {
		t.Fatalf("SyncFile() error: %v", err)
	}
	if res.Action != odm.ActionInserted || res.ID != "n1" {
		t.Errorf("result = %+v, want inserted n1", res)
	}

	got := storedNote(t, notes, "n1")
	if got["title"] != "hello" || got["views"] != int64(0) {
		t.Errorf("stored = %v", got)
	}
}

func TestSyncFileWritesOnlyChangedFields(t *testing.T) {
	s, notes, root := setupTestSyncer(t)
	ctx := context.Background()
	path := writeNote(t, root, "n1", `{"title":"hello","views":1,"meta":{"k":"v"},"author":{"name":"ann"}}`)
	if _, err := s.SyncFile(ctx, root, path); err != nil {
		t.Fatalf("SyncFile() insert error: %v", err)
	}

	// A different writer moves views on; the file catches up below.
	doc, err := notes.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if err := doc.Set("views", 41); err != nil {
		t.Fatal(err)
	}
	if err := doc.Save(ctx, 0); err != nil {
		t.Fatal(err)
	}

	writeNote(t, root, "n1", `{"title":"hello","views":41,"meta":{"k2":"v2"},"author":{"name":"ann","email":"a@x"},"tags":["x"]}`)
	res, err := s.SyncFile(ctx, root, path)
	if err != nil {
		t.Fatalf("SyncFile() update error: %v", err)
	}
	if res.Action != odm.ActionUpdated {
		t.Errorf("action = %q, want updated", res.Action)
	}
	for _, p := range res.Paths {
		if p == "title" || p == "views" {
			t.Errorf("unchanged field %q was written", p)
		}
	}

	got := storedNote(t, notes, "n1")
	want := docstore.Document{
		"_id":    "n1",
		"title":  "hello",
		"views":  int64(41),
		"tags":   []any{"x"},
		"meta":   map[string]any{"k2": "v2"},
		"author": map[string]any{"name": "ann", "email": "a@x"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored mismatch (-want +got):\n%s", diff)
	}

	res, err = s.SyncFile(ctx, root, path)
	if err != nil {
		t.Fatalf("SyncFile() unchanged error: %v", err)
	}
	if res.Action != "" {
		t.Errorf("unchanged file action = %q, want none", res.Action)
	}
}

func TestSyncFileRejectsInvalidDocument(t *testing.T) {
	s, _, root := setupTestSyncer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"wrong type", `{"title":"t","views":"many"}`, odm.ErrTypeMismatch},
		{"unknown field", `{"title":"t","colour":"red"}`, odm.ErrFieldNotFound},
		{"missing required", `{"views":1}`, odm.ErrRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeNote(t, root, "bad", tt.body)
			if _, err := s.SyncFile(ctx, root, path); !errors.Is(err, tt.wantErr) {
				t.Errorf("SyncFile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	other := filepath.Join(root, "Other", "x.json")
	if _, err := s.SyncFile(ctx, root, other); err == nil {
		t.Error("SyncFile(unknown collection) succeeded")
	}
}

func TestDeleteFile(t *testing.T) {
	s, notes, root := setupTestSyncer(t)
	ctx := context.Background()
	path := writeNote(t, root, "n1", `{"title":"hello"}`)
	if _, err := s.SyncFile(ctx, root, path); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFile(ctx, root, path); err != nil {
		t.Fatalf("DeleteFile() error: %v", err)
	}
	if _, err := notes.Get(ctx, "n1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteFile(ctx, root, path); err != nil {
		t.Errorf("second DeleteFile() error = %v, want nil", err)
	}
}

func TestFullSyncAndExport(t *testing.T) {
	s, _, root := setupTestSyncer(t)
	ctx := context.Background()
	writeNote(t, root, "n1", `{"title":"one"}`)
	writeNote(t, root, "n2", `{"title":"two"}`)
	writeNote(t, root, "n3", `{"views":1}`)
	if err := os.WriteFile(filepath.Join(root, "Note", "README.md"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	stats, err := s.FullSync(ctx, root)
	if err != nil {
		t.Fatalf("FullSync() error: %v", err)
	}
	if diff := cmp.Diff(Stats{Synced: 2, Failed: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	stats, err = s.FullSync(ctx, root)
	if err != nil {
		t.Fatalf("second FullSync() error: %v", err)
	}
	if stats.Unchanged != 2 {
		t.Errorf("second FullSync() = %+v, want 2 unchanged", stats)
	}

	out := t.TempDir()
	n, err := s.Export(ctx, out)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if n != 2 {
		t.Errorf("Export() wrote %d, want 2", n)
	}

	// Exported files sync back without changes.
	for _, id := range []string{"n1", "n2"} {
		res, err := s.SyncFile(ctx, out, FilePath(out, "Note", id))
		if err != nil {
			t.Fatalf("SyncFile(exported %s) error: %v", id, err)
		}
		if res.Action != "" {
			t.Errorf("exported %s action = %q, want none", id, res.Action)
		}
	}
}
