package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want none", cfg.File)
	}
	want := Default()
	want.Schemas = nil
	cfg.Schemas = nil
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".docsync", "docsync.toml"), `
[store]
path = "data/x.db"
retry_limit = 4

[watch]
debounce = "250ms"

[[schemas]]
name = "Note"

[[schemas.fields]]
name = "title"
type = "string"
required = true

[[schemas.fields]]
name = "tags"
type = "list"
elem = { type = "string" }
`)

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !strings.HasSuffix(cfg.File, "docsync.toml") {
		t.Errorf("File = %q", cfg.File)
	}
	if cfg.Store.Path != "data/x.db" || cfg.Store.RetryLimit != 4 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if d, _ := cfg.Watch.DebounceInterval(); d != 250*time.Millisecond {
		t.Errorf("debounce = %v, want 250ms", d)
	}
	if cfg.Feed.Port != 8080 {
		t.Errorf("feed.port = %d, want default 8080", cfg.Feed.Port)
	}

	want := []SchemaDef{{
		Name: "Note",
		Fields: []FieldDef{
			{Name: "title", Type: "string", Required: true},
			{Name: "tags", Type: "list", Elem: &FieldDef{Type: "string"}},
		},
	}}
	if diff := cmp.Diff(want, cfg.Schemas); diff != "" {
		t.Errorf("schemas mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "store:\n  retry_limit: 2\nfeed:\n  port: 9000\n")
	t.Setenv("DOCSYNC_STORE_RETRY_LIMIT", "7")

	cfg, err := Load(dir, path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.RetryLimit != 7 {
		t.Errorf("retry_limit = %d, want env override 7", cfg.Store.RetryLimit)
	}
	if cfg.Feed.Port != 9000 {
		t.Errorf("feed.port = %d, want 9000", cfg.Feed.Port)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad debounce", "[watch]\ndebounce = \"soon\"\n"},
		{"negative retry limit", "[store]\nretry_limit = -1\n"},
		{"port out of range", "[feed]\nport = 70000\n"},
		{"syntax", "[store\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "docsync.toml"), tt.body)
			if _, err := Load(dir, ""); err == nil {
				t.Error("Load() succeeded")
			}
		})
	}

	if _, err := Load(t.TempDir(), "/nonexistent/docsync.toml"); err == nil {
		t.Error("Load() of a missing explicit file succeeded")
	}
}

func TestWriteStarterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docsync.toml")

	if err := WriteStarter(path, Starter(), false); err != nil {
		t.Fatalf("WriteStarter() error: %v", err)
	}
	if err := WriteStarter(path, Starter(), false); err == nil {
		t.Error("WriteStarter() over an existing file succeeded")
	}
	if err := WriteStarter(path, Starter(), true); err != nil {
		t.Errorf("WriteStarter(force) error: %v", err)
	}

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	schemas, err := BuildSchemas(cfg.Schemas)
	if err != nil {
		t.Fatalf("BuildSchemas() error: %v", err)
	}
	if len(schemas) != 2 || schemas[1].Name() != "Note" {
		t.Fatalf("schemas = %v", schemas)
	}

	note := schemas[1]
	doc, err := note.New(map[string]any{"title": "t", "author": map[string]any{"name": "ann"}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if views, _ := doc.Get("views"); views != int64(0) {
		t.Errorf("views default = %v, want 0", views)
	}
	if diff := cmp.Diff([]string{"slug"}, note.UniquePaths()); diff != "" {
		t.Errorf("unique paths mismatch (-want +got):\n%s", diff)
	}
}
