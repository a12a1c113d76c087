package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/odm"
)

// Result describes what syncing one file did.
type Result struct {
	Collection string
	ID         string
	Action     odm.Action
	// Paths lists the fields written. Empty when the file matched the store.
	Paths    []string
	Attempts int
}

// Stats summarises a FullSync.
type Stats struct {
	Synced    int
	Unchanged int
	Failed    int
}

// Syncer writes document files into their collections.
type Syncer struct {
	collections map[string]*odm.Collection
	limit       int
	logger      *log.Logger
}

// NewSyncer returns a syncer for the given collections. limit is passed to
// every Save. If logger is nil, a default logger writing to stderr is used.
func NewSyncer(collections []*odm.Collection, limit int, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}
	s := &Syncer{
		collections: make(map[string]*odm.Collection, len(collections)),
		limit:       limit,
		logger:      logger,
	}
	for _, c := range collections {
		s.collections[c.Name()] = c
	}
	return s
}

// Collections returns the synced collection names in sorted order.
func (s *Syncer) Collections() []string {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Syncer) collection(name string) (*odm.Collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", name)
	}
	return c, nil
}

// SyncFile brings the stored document in line with the file at path, which
// must be <root>/<Collection>/<id>.json. A new id inserts the document;
// otherwise only the fields that differ are written.
func (s *Syncer) SyncFile(ctx context.Context, root, path string) (Result, error) {
	name, id, ok := ParsePath(root, path)
	if !ok {
		return Result{}, fmt.Errorf("%s is not a document file", path)
	}
	coll, err := s.collection(name)
	if err != nil {
		return Result{}, err
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	values, err := docstore.Decode(body)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", path, err)
	}
	delete(values, docstore.IDKey)

	res := Result{Collection: name, ID: id}
	doc, err := coll.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		doc, err = coll.NewWithID(id, values)
		if err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
		report, err := doc.Sync(ctx, s.limit)
		if err != nil {
			return res, fmt.Errorf("failed to insert %s/%s: %w", name, id, err)
		}
		res.Action, res.Attempts = odm.ActionInserted, report.Attempts
		s.logger.Printf("Inserted %s/%s", name, id)
		return res, nil
	}
	if err != nil {
		return res, err
	}

	changed, err := Merge(doc, values)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	if !changed {
		return res, nil
	}

	report, err := doc.Sync(ctx, s.limit)
	if err != nil {
		return res, fmt.Errorf("failed to save %s/%s: %w", name, id, err)
	}
	res.Action, res.Paths, res.Attempts = odm.ActionUpdated, report.Paths, report.Attempts
	if len(res.Paths) > 0 {
		s.logger.Printf("Updated %s/%s: %s", name, id, strings.Join(res.Paths, ", "))
	}
	return res, nil
}

// DeleteFile removes the document whose file was deleted. A document that
// is already gone is not an error.
func (s *Syncer) DeleteFile(ctx context.Context, root, path string) error {
	name, id, ok := ParsePath(root, path)
	if !ok {
		return fmt.Errorf("%s is not a document file", path)
	}
	coll, err := s.collection(name)
	if err != nil {
		return err
	}

	doc, err := coll.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := coll.Delete(ctx, doc); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("failed to delete %s/%s: %w", name, id, err)
	}
	s.logger.Printf("Deleted %s/%s", name, id)
	return nil
}

// FullSync syncs every document file below root. Individual file failures
// are logged and counted but do not stop the sync.
func (s *Syncer) FullSync(ctx context.Context, root string) (Stats, error) {
	var stats Stats
	s.logger.Printf("Starting full sync from %s", root)

	for _, name := range s.Collections() {
		dir := filepath.Join(root, name)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			res, err := s.SyncFile(ctx, root, filepath.Join(dir, entry.Name()))
			switch {
			case err != nil:
				s.logger.Printf("WARNING: Failed to sync %s/%s: %v", name, entry.Name(), err)
				stats.Failed++
			case res.Action == "":
				stats.Unchanged++
			default:
				stats.Synced++
			}
		}
	}

	s.logger.Printf("Full sync complete: synced=%d unchanged=%d failed=%d", stats.Synced, stats.Unchanged, stats.Failed)
	return stats, nil
}

// Export writes every stored document of every collection below root,
// replacing existing files.
func (s *Syncer) Export(ctx context.Context, root string) (int, error) {
	n := 0
	for _, name := range s.Collections() {
		coll := s.collections[name]
		if err := os.MkdirAll(filepath.Join(root, name), 0755); err != nil {
			return n, fmt.Errorf("failed to create %s directory: %w", name, err)
		}
		raws, err := coll.Store().Find(ctx, nil)
		if err != nil {
			return n, fmt.Errorf("failed to list %s: %w", name, err)
		}
		for _, raw := range raws {
			if err := WriteFile(root, name, raw); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// WriteFile writes a stored document to its file below root.
func WriteFile(root, collection string, raw docstore.Document) error {
	id, _ := raw[docstore.IDKey].(string)
	if id == "" {
		return fmt.Errorf("%s document without %s", collection, docstore.IDKey)
	}
	body := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != docstore.IDKey {
			body[k] = v
		}
	}
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}
	path := FilePath(root, collection, id)
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Merge assigns to doc every field whose value differs from values, which
// holds the complete desired document without _id. Fields missing from
// values are cleared. It reports whether anything was assigned; the caller
// saves.
func Merge(doc *odm.Document, values docstore.Document) (bool, error) {
	patch, err := diff(doc, values)
	if err != nil {
		return false, fmt.Errorf("failed to diff: %w", err)
	}
	if len(patch) == 0 {
		return false, nil
	}
	if err := apply(doc, "", patch); err != nil {
		return false, err
	}
	return true, nil
}

// diff returns the JSON merge patch that turns the document into values.
func diff(doc *odm.Document, values docstore.Document) (map[string]any, error) {
	current := doc.PlainMap()
	delete(current, docstore.IDKey)

	original, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	modified, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.CreateMergePatch(original, modified)
	if err != nil {
		return nil, err
	}
	return docstore.Decode(patch)
}

// apply turns a merge patch into field assignments. Objects patching a map
// or embedded document descend into it; everything else is assigned whole.
// A null removes map entries and clears other fields.
func apply(doc *odm.Document, prefix string, patch map[string]any) error {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		v := patch[k]

		current, err := doc.Get(path)
		if err != nil {
			// New keys of a map field do not resolve yet.
			if !errors.Is(err, odm.ErrFieldNotFound) || !isMap(doc, prefix) {
				return err
			}
			current = nil
		}
		if v == nil {
			if current == nil {
				continue
			}
			if err := doc.Delete(path); err != nil {
				return err
			}
			continue
		}

		if sub, ok := v.(map[string]any); ok && current != nil {
			f, err := doc.Field(path)
			if err != nil {
				return err
			}
			switch f.(type) {
			case *odm.Map, *odm.Embedded:
				if err := apply(doc, path, sub); err != nil {
					return err
				}
				continue
			}
		}

		if err := doc.Set(path, v); err != nil {
			return err
		}
	}
	return nil
}

func isMap(doc *odm.Document, path string) bool {
	if path == "" {
		return false
	}
	f, err := doc.Field(path)
	if err != nil {
		return false
	}
	_, ok := f.(*odm.Map)
	return ok
}
