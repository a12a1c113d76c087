package migrate

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/docstore/memory"
	"github.com/mschirtzinger/docsync/internal/odm"
)

var bookSchema = odm.MustSchema("Book",
	odm.String("title", odm.Required()),
	odm.Int("pages"),
	odm.ListOf("authors", odm.String("")),
)

func setupTestCollection(t *testing.T) *odm.Collection {
	t.Helper()

	client := memory.New()
	t.Cleanup(func() { client.Close() })
	return odm.NewCollection(client, bookSchema, odm.WithLogger(log.New(&bytes.Buffer{}, "", 0)))
}

func writeJSONL(t *testing.T, lines ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "books.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func TestReadJSONL(t *testing.T) {
	docs, err := ReadJSONL(strings.NewReader("{\"a\":1}\n\n{\"b\":[2.5]}\n"))
	if err != nil {
		t.Fatalf("ReadJSONL failed: %v", err)
	}
	want := []docstore.Document{
		{"a": int64(1)},
		{"b": []any{2.5}},
	}
	if diff := cmp.Diff(want, docs); diff != "" {
		t.Errorf("ReadJSONL mismatch (-want +got):\n%s", diff)
	}

	_, err = ReadJSONL(strings.NewReader("{\"a\":1}\n{oops\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected error naming line 2, got %v", err)
	}
}

func TestFromJSONL_InvalidFile(t *testing.T) {
	if _, err := FromJSONL("/nonexistent/path.jsonl"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestImport(t *testing.T) {
	coll := setupTestCollection(t)
	ctx := context.Background()

	path := writeJSONL(t,
		`{"_id":"b1","title":"Dune","pages":412,"authors":["Herbert"]}`,
		`{"title":"Untitled draft"}`,
		`{"_id":"b2","pages":"many"}`,
		`{"_id":"b3"}`,
	)
	result, err := Import(ctx, coll, ImportOptions{Path: path, Backup: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Inserted != 2 {
		t.Errorf("expected 2 inserted, got %d", result.Inserted)
	}
	if len(result.Errors) != 2 {
		t.Errorf("expected 2 errors, got %v", result.Errors)
	}
	if _, err := os.Stat(result.BackupCreated); err != nil {
		t.Errorf("backup not created: %v", err)
	}

	n, err := coll.Count(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 stored books, got %d", n)
	}

	// Re-importing merges by _id.
	path = writeJSONL(t,
		`{"_id":"b1","title":"Dune","pages":412,"authors":["Herbert"]}`,
		`{"_id":"b1","title":"Dune","pages":896,"authors":["Herbert"]}`,
	)
	result, err = Import(ctx, coll, ImportOptions{Path: path})
	if err != nil {
		t.Fatalf("second Import failed: %v", err)
	}
	if result.Unchanged != 1 || result.Updated != 1 || result.Inserted != 0 {
		t.Errorf("second import = %+v, want 1 unchanged and 1 updated", result)
	}

	doc, err := coll.Get(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if pages, _ := doc.Get("pages"); pages != int64(896) {
		t.Errorf("pages = %v, want 896", pages)
	}
}

func TestImportDryRun(t *testing.T) {
	coll := setupTestCollection(t)
	ctx := context.Background()

	path := writeJSONL(t, `{"_id":"b1","title":"Dune"}`)
	result, err := Import(ctx, coll, ImportOptions{Path: path, DryRun: true, Backup: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Inserted != 1 || result.BackupCreated != "" {
		t.Errorf("dry run result = %+v", result)
	}
	if n, _ := coll.Count(ctx, nil); n != 0 {
		t.Errorf("dry run stored %d documents", n)
	}
}

func TestExportRoundTrip(t *testing.T) {
	coll := setupTestCollection(t)
	ctx := context.Background()

	for _, title := range []string{"B", "A"} {
		doc, err := coll.NewWithID(strings.ToLower(title), map[string]any{"title": title, "pages": 1})
		if err != nil {
			t.Fatal(err)
		}
		if err := doc.Save(ctx, 0); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	n, err := Export(ctx, coll, &buf)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 exported, got %d", n)
	}
	docs, err := ReadJSONL(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if docs[0][docstore.IDKey] != "a" || docs[1][docstore.IDKey] != "b" {
		t.Errorf("export not ordered by id: %v", docs)
	}

	path := filepath.Join(t.TempDir(), "out", "books.jsonl")
	if _, err := ExportFile(ctx, coll, path); err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}
	result, err := Import(ctx, coll, ImportOptions{Path: path})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Unchanged != 2 {
		t.Errorf("re-import of export = %+v, want 2 unchanged", result)
	}
}
