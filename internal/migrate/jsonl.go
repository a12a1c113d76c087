// Package migrate moves collections in and out of JSON Lines files, one
// stored document per line.
package migrate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/odm"
	"github.com/mschirtzinger/docsync/internal/watch"
)

// maxLineSize bounds a single JSONL record.
const maxLineSize = 16 << 20

// ImportOptions contains configuration for an import.
type ImportOptions struct {
	Path   string // Input JSONL file path
	DryRun bool   // Validate without writing
	Backup bool   // Copy the input aside before importing
	// RetryLimit is passed to every save. Zero retries until the write lands.
	RetryLimit int
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Inserted      int
	Updated       int
	Unchanged     int
	BackupCreated string
	Errors        []string
}

// ReadJSONL parses one document per non-empty line.
func ReadJSONL(r io.Reader) ([]docstore.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var docs []docstore.Document
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		doc, err := docstore.Decode(line)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}
	return docs, nil
}

// FromJSONL reads a JSONL file.
func FromJSONL(path string) ([]docstore.Document, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	return ReadJSONL(file)
}

// Import loads every record of opts.Path into coll. Records carrying an _id
// of a stored document are merged field by field; others are inserted.
// Record failures are collected in the result and do not stop the import.
func Import(ctx context.Context, coll *odm.Collection, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	if _, err := os.Stat(opts.Path); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	if opts.Backup && !opts.DryRun {
		backupPath := opts.Path + ".backup." + time.Now().Format("20060102-150405")
		input, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	records, err := FromJSONL(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}

	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := importRecord(ctx, coll, record, opts, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i+1, err))
		}
	}
	return result, nil
}

func importRecord(ctx context.Context, coll *odm.Collection, record docstore.Document, opts ImportOptions, result *ImportResult) error {
	id, _ := record[docstore.IDKey].(string)
	delete(record, docstore.IDKey)

	var doc *odm.Document
	var err error
	if id != "" {
		doc, err = coll.Get(ctx, id)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
	}

	if doc == nil {
		if id != "" {
			doc, err = coll.NewWithID(id, record)
		} else {
			doc, err = coll.New(record)
		}
		if err != nil {
			return err
		}
		if !opts.DryRun {
			if err := doc.Save(ctx, opts.RetryLimit); err != nil {
				return err
			}
		}
		result.Inserted++
		return nil
	}

	changed, err := watch.Merge(doc, record)
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if !changed {
		result.Unchanged++
		return nil
	}
	if !opts.DryRun {
		if err := doc.Save(ctx, opts.RetryLimit); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}
	result.Updated++
	return nil
}

// Export writes every stored document of coll to w in _id order.
func Export(ctx context.Context, coll *odm.Collection, w io.Writer) (int, error) {
	docs, err := coll.Store().Find(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", coll.Name(), err)
	}
	sort.Slice(docs, func(i, j int) bool {
		a, _ := docs[i][docstore.IDKey].(string)
		b, _ := docs[j][docstore.IDKey].(string)
		return a < b
	})

	bw := bufio.NewWriter(w)
	for _, doc := range docs {
		line, err := docstore.Encode(doc)
		if err != nil {
			return 0, err
		}
		if _, err := bw.Write(append(line, '\n')); err != nil {
			return 0, fmt.Errorf("failed to write JSONL: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write JSONL: %w", err)
	}
	return len(docs), nil
}

// ExportFile writes coll to path, replacing it atomically.
func ExportFile(ctx context.Context, coll *odm.Collection, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := Export(ctx, coll, file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}
