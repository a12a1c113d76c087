// Package watch mirrors a directory of JSON files into document collections.
//
// Files live at <root>/<Collection>/<id>.json. Each change to a file is diffed
// against the stored document and only the differing fields are written, so
// writers touching other fields are left alone.
package watch

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp is the kind of file system change.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change to one document file.
type FileEvent struct {
	Path       string
	Collection string
	ID         string
	Op         EventOp
}

// FileWatcher reports changes to document files below a root directory.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string
}

// NewFileWatcher creates a watcher. Call Start to begin receiving events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start watches the directory of every named collection below root. The
// directories must exist.
func (fw *FileWatcher) Start(root string, collections []string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	fw.root = abs

	var added []string
	for _, name := range collections {
		dir := filepath.Join(abs, name)
		if err := fw.watcher.Add(dir); err != nil {
			for _, d := range added {
				fw.watcher.Remove(d)
			}
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		added = append(added, dir)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching and closes the event channels.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel of file events. It is closed by Stop.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel of watcher errors. It is closed by Stop.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning reports whether Start has been called without Stop.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to a FileEvent, dropping events for
// files that are not document files.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	coll, id, ok := ParsePath(fw.root, event.Name)
	if !ok {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A rename shows up again as a create under the new name.
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: event.Name, Collection: coll, ID: id, Op: op}, true
}

// FilePath returns where the document id of collection lives below root.
func FilePath(root, collection, id string) string {
	return filepath.Join(root, collection, id+".json")
}

// ParsePath splits a document file path below root into its collection and
// id. Hidden files and editor temporaries are rejected.
func ParsePath(root, path string) (collection, id string, ok bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", false
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil {
		return "", "", false
	}
	dir, file := filepath.Split(rel)
	dir = filepath.Clean(dir)
	if dir == "." || strings.ContainsRune(dir, filepath.Separator) || strings.HasPrefix(dir, "..") {
		return "", "", false
	}
	if !strings.HasSuffix(file, ".json") || strings.HasPrefix(file, ".") {
		return "", "", false
	}
	id = strings.TrimSuffix(file, ".json")
	if id == "" {
		return "", "", false
	}
	return dir, id, true
}
