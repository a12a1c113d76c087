package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParsePath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name     string
		path     string
		wantColl string
		wantID   string
		wantOK   bool
	}{
		{"document", filepath.Join(root, "Note", "n1.json"), "Note", "n1", true},
		{"dotted id", filepath.Join(root, "Note", "a.b.json"), "Note", "a.b", true},
		{"not json", filepath.Join(root, "Note", "n1.txt"), "", "", false},
		{"hidden", filepath.Join(root, "Note", ".n1.json"), "", "", false},
		{"bare suffix", filepath.Join(root, "Note", ".json"), "", "", false},
		{"root level", filepath.Join(root, "n1.json"), "", "", false},
		{"nested", filepath.Join(root, "Note", "sub", "n1.json"), "", "", false},
		{"outside root", filepath.Join(filepath.Dir(root), "Note", "n1.json"), "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coll, id, ok := ParsePath(root, tt.path)
			if ok != tt.wantOK || coll != tt.wantColl || id != tt.wantID {
				t.Errorf("ParsePath(%s) = (%q, %q, %v), want (%q, %q, %v)",
					tt.path, coll, id, ok, tt.wantColl, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestFileWatcher_StartStop(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Note"), 0755); err != nil {
		t.Fatalf("Failed to create Note dir: %v", err)
	}

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}

	if err := fw.Start(root, []string{"Note"}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := fw.Start(root, []string{"Note"}); err == nil {
		t.Error("Second Start() should fail")
	}

	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
	if _, ok := <-fw.Events(); ok {
		t.Error("Events channel should be closed after Stop()")
	}
}

func TestFileWatcher_MissingDirectory(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(t.TempDir(), []string{"Missing"}); err == nil {
		t.Error("Start() on a missing directory should fail")
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after a failed Start()")
	}
}

func TestFileWatcher_Events(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Note"), 0755); err != nil {
		t.Fatalf("Failed to create Note dir: %v", err)
	}

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(root, []string{"Note"}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer fw.Stop()

	// Non-document files are dropped.
	if err := os.WriteFile(filepath.Join(root, "Note", "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	path := FilePath(root, "Note", "n1")
	if err := os.WriteFile(path, []byte(`{"title":"t"}`), 0644); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-fw.Events():
			if ev.Collection != "Note" || ev.ID != "n1" {
				t.Fatalf("unexpected event %+v", ev)
			}
			if ev.Op == OpDelete {
				t.Fatalf("unexpected delete event for %s", ev.Path)
			}
			if err := os.Remove(path); err != nil {
				t.Fatal(err)
			}
			for {
				select {
				case ev := <-fw.Events():
					if ev.Op == OpDelete {
						return
					}
				case <-timeout:
					t.Fatal("Timed out waiting for delete event")
				}
			}
		case <-timeout:
			t.Fatal("Timed out waiting for create event")
		}
	}
}

func TestEventOpString(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{EventOp(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
