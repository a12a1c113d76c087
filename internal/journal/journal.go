// Package journal keeps an append-only JSONL log of document changes.
//
// Every insert, update and delete made through an observed collection is
// appended as one line carrying a ULID sequence, so entries sort by the time
// they were written and readers can resume after the last entry they saw.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mschirtzinger/docsync/internal/odm"
)

// Entry is one journal line.
type Entry struct {
	// Seq is a ULID assigned when the entry was written.
	Seq string `json:"seq"`
	odm.Change
}

// Journal appends entries to a file.
type Journal struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *log.Logger
}

// Open opens (creating if needed) the journal at path for appending. If
// logger is nil, a default logger writing to stderr is used.
func Open(path string, logger *log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[journal] ", log.LstdFlags)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	// #nosec G304 - controlled path from config
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Journal{path: path, file: f, logger: logger}, nil
}

// Path returns the journal file.
func (j *Journal) Path() string { return j.path }

// Watch records every change made through the given collections.
func (j *Journal) Watch(collections ...*odm.Collection) {
	for _, c := range collections {
		c.Observe(j.Record)
	}
}

// Record appends ch. Write failures are logged, never returned, because
// the change has already been stored.
func (j *Journal) Record(ch odm.Change) {
	if _, err := j.Append(ch); err != nil {
		j.logger.Printf("Failed to journal %s %s/%s: %v", ch.Action, ch.Collection, ch.ID, err)
	}
}

// Append writes ch and returns the entry as stored.
func (j *Journal) Append(ch odm.Change) (Entry, error) {
	if ch.Time.IsZero() {
		ch.Time = time.Now()
	}
	e := Entry{Seq: ulid.Make().String(), Change: ch}
	line, err := json.Marshal(e)
	if err != nil {
		return e, fmt.Errorf("failed to encode entry: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return e, fmt.Errorf("journal %s is closed", j.path)
	}
	if _, err := j.file.Write(line); err != nil {
		return e, fmt.Errorf("failed to write entry: %w", err)
	}
	return e, nil
}

// Close closes the file. Later appends fail.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Read parses journal lines in file order. A torn final line, left by a
// writer that was interrupted, is ignored.
func Read(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var pending error
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if pending != nil {
			return nil, pending
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			pending = fmt.Errorf("invalid journal entry at line %d: %w", lineNum, err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	return entries, nil
}

// ReadFile reads the journal at path. A missing file has no entries.
func ReadFile(path string) ([]Entry, error) {
	// #nosec G304 - controlled path from config
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Since returns the entries written after the entry with sequence after,
// oldest first. An empty after returns every entry.
func Since(entries []Entry, after string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].Seq < out[k].Seq })
	return out
}

// Filter keeps the entries of the named collection and, when id is set,
// of that document.
func Filter(entries []Entry, collection, id string) []Entry {
	var out []Entry
	for _, e := range entries {
		if collection != "" && e.Collection != collection {
			continue
		}
		if id != "" && e.ID != id {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Follow polls the journal at path and calls fn with each batch of new
// entries until ctx is cancelled. after is the last sequence already seen.
// Errors from reading or from fn are logged and polling continues.
func Follow(ctx context.Context, path string, interval time.Duration, after string, logger *log.Logger, fn func([]Entry) error) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[journal] ", log.LstdFlags)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			entries, err := ReadFile(path)
			if err != nil {
				logger.Printf("Warning: %v", err)
				continue
			}
			fresh := Since(entries, after)
			if len(fresh) == 0 {
				continue
			}
			after = fresh[len(fresh)-1].Seq
			if err := fn(fresh); err != nil {
				logger.Printf("Warning: callback error: %v", err)
			}
		}
	}
}

// Latest returns the sequence of the newest entry, or "" for none.
func Latest(entries []Entry) string {
	latest := ""
	for _, e := range entries {
		if e.Seq > latest {
			latest = e.Seq
		}
	}
	return latest
}
