// Package sqlite implements the document store on an embedded SQLite database.
//
// Every document is one row in a shared documents table holding the JSON body.
// Filters and update operators are evaluated by the docstore engine inside an
// IMMEDIATE transaction, so a bulk write observes and modifies documents
// atomically with respect to other writers, including other processes sharing
// the file.
//
// Architecture:
//   - Database file: configurable, default .docsync/docsync.db
//   - WAL mode: concurrent readers during writes
//   - Schema: documents, indexes tables
//   - Unique indexes: partial expression indexes on json_extract(body, path)
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/odm/update"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the database connection and hands out collections.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the database at path and initializes the schema.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
//
// Example:
//
//	store, err := sqlite.Open(".docsync/docsync.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*Store, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext is Open with context support.
func OpenContext(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout is per connection, so it goes in the DSN rather than a
	// one-off PRAGMA.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := s.InitSchemaContext(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB { return s.conn }

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the tables with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);

	CREATE TABLE IF NOT EXISTS indexes (
		collection TEXT NOT NULL,
		path TEXT NOT NULL,
		is_unique INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (collection, path)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(collection, updated_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Collection returns a handle on the named collection.
func (s *Store) Collection(name string) docstore.Collection {
	return &Collection{store: s, name: name}
}

// CollectionStats summarizes one collection.
type CollectionStats struct {
	Name      string
	Documents int
	Bytes     int64
	Indexes   []IndexInfo
}

// IndexInfo describes a declared index.
type IndexInfo struct {
	Path   string
	Unique bool
}

// Stats returns per-collection document counts, body sizes and indexes.
func (s *Store) Stats(ctx context.Context) ([]CollectionStats, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT collection, COUNT(*), COALESCE(SUM(LENGTH(body)), 0)
		FROM documents GROUP BY collection ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var stats []CollectionStats
	for rows.Next() {
		var cs CollectionStats
		if err := rows.Scan(&cs.Name, &cs.Documents, &cs.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats = append(stats, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}

	for i := range stats {
		idx, err := s.indexes(ctx, stats[i].Name)
		if err != nil {
			return nil, err
		}
		stats[i].Indexes = idx
	}
	return stats, nil
}

func (s *Store) indexes(ctx context.Context, collection string) ([]IndexInfo, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT path, is_unique FROM indexes WHERE collection = ? ORDER BY path`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer rows.Close()

	var out []IndexInfo
	for rows.Next() {
		var info IndexInfo
		if err := rows.Scan(&info.Path, &info.Unique); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Collection is a named set of documents in the store.
type Collection struct {
	store *Store
	name  string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// InsertOne stores doc, generating an _id when absent.
func (c *Collection) InsertOne(ctx context.Context, doc docstore.Document) (string, error) {
	stored := make(docstore.Document, len(doc)+1)
	for k, v := range doc {
		stored[k] = update.Plain(v)
	}
	id, _ := stored[docstore.IDKey].(string)
	if id == "" {
		id = ulid.Make().String()
		stored[docstore.IDKey] = id
	}

	body, err := docstore.Encode(stored)
	if err != nil {
		return "", err
	}

	_, err = c.store.conn.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`,
		c.name, id, string(body))
	if err != nil {
		return "", c.writeError("insert", id, err)
	}
	return id, nil
}

// FindOne returns the first matching document.
func (c *Collection) FindOne(ctx context.Context, filter docstore.Filter, projection ...string) (docstore.Document, error) {
	id, body, err := c.first(ctx, c.store.conn, filter)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, docstore.ErrNotFound
	}
	doc, err := docstore.Decode(body)
	if err != nil {
		return nil, err
	}
	return docstore.Project(doc, projection), nil
}

// Find returns all matching documents in insertion order.
func (c *Collection) Find(ctx context.Context, filter docstore.Filter) ([]docstore.Document, error) {
	var out []docstore.Document
	err := c.scan(ctx, c.store.conn, filter, func(_ string, body []byte) (bool, error) {
		doc, err := docstore.Decode(body)
		if err != nil {
			return false, err
		}
		out = append(out, doc)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BulkWrite applies models in order inside one transaction and stops at the
// first that matches nothing. Applied models are committed.
func (c *Collection) BulkWrite(ctx context.Context, models []docstore.WriteModel) (int, error) {
	tx, err := c.store.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	applied := 0
	for _, m := range models {
		id, body, err := c.first(ctx, tx, m.Filter)
		if err != nil {
			return 0, err
		}
		if id == "" {
			break
		}
		next, err := docstore.Apply(body, m.Update)
		if err != nil {
			return 0, fmt.Errorf("update %s/%s: %w", c.name, id, err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET body = ?, updated_at = CURRENT_TIMESTAMP WHERE collection = ? AND id = ?`,
			string(next), c.name, id)
		if err != nil {
			return 0, c.writeError("update", id, err)
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit bulk write: %w", err)
	}
	return applied, nil
}

// DeleteOne removes the first matching document.
func (c *Collection) DeleteOne(ctx context.Context, filter docstore.Filter) (bool, error) {
	tx, err := c.store.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, _, err := c.first(ctx, tx, filter)
	if err != nil || id == "" {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, c.name, id); err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", c.name, id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return true, nil
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CreateIndex creates an expression index on json_extract(body, path),
// restricted to this collection.
func (c *Collection) CreateIndex(ctx context.Context, path string, unique bool) error {
	if !identRe.MatchString(c.name) {
		return fmt.Errorf("collection name %q cannot be indexed", c.name)
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if !identRe.MatchString(p) {
			return fmt.Errorf("path %q cannot be indexed", path)
		}
	}

	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	name := fmt.Sprintf("idx_%s_%s", c.name, strings.Join(parts, "_"))
	stmt := fmt.Sprintf(`CREATE %s IF NOT EXISTS %s ON documents(json_extract(body, '$.%s')) WHERE collection = '%s'`,
		kind, name, path, c.name)
	if _, err := c.store.conn.ExecContext(ctx, stmt); err != nil {
		return c.writeError("index", path, err)
	}

	_, err := c.store.conn.ExecContext(ctx, `
		INSERT INTO indexes (collection, path, is_unique) VALUES (?, ?, ?)
		ON CONFLICT(collection, path) DO UPDATE SET is_unique = excluded.is_unique`,
		c.name, path, unique)
	if err != nil {
		return fmt.Errorf("failed to record index: %w", err)
	}
	return nil
}

// Count returns the number of matching documents.
func (c *Collection) Count(ctx context.Context, filter docstore.Filter) (int, error) {
	if len(filter) == 0 {
		var n int
		err := c.store.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM documents WHERE collection = ?`, c.name).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count documents: %w", err)
		}
		return n, nil
	}

	n := 0
	err := c.scan(ctx, c.store.conn, filter, func(string, []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// first returns the id and body of the first matching document, or an empty
// id when none match.
func (c *Collection) first(ctx context.Context, q querier, filter docstore.Filter) (string, []byte, error) {
	if id, ok := docstore.IDOf(filter); ok {
		var body string
		err := q.QueryRowContext(ctx,
			`SELECT body FROM documents WHERE collection = ? AND id = ?`, c.name, id).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to get %s/%s: %w", c.name, id, err)
		}
		ok, err := docstore.Match([]byte(body), filter)
		if err != nil || !ok {
			return "", nil, err
		}
		return id, []byte(body), nil
	}

	var foundID string
	var foundBody []byte
	err := c.scan(ctx, q, filter, func(id string, body []byte) (bool, error) {
		foundID, foundBody = id, body
		return false, nil
	})
	return foundID, foundBody, err
}

// scan calls fn for each matching document in insertion order until fn
// returns false.
func (c *Collection) scan(ctx context.Context, q querier, filter docstore.Filter, fn func(id string, body []byte) (bool, error)) error {
	rows, err := q.QueryContext(ctx,
		`SELECT id, body FROM documents WHERE collection = ? ORDER BY rowid`, c.name)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", c.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return fmt.Errorf("failed to scan document: %w", err)
		}
		ok, err := docstore.Match([]byte(body), filter)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		more, err := fn(id, []byte(body))
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating documents: %w", err)
	}
	return nil
}

func (c *Collection) writeError(action, key string, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s %s/%s: %w", action, c.name, key, docstore.ErrDuplicateKey)
	}
	return fmt.Errorf("failed to %s %s/%s: %w", action, c.name, key, err)
}
