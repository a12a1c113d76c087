// Package memory implements an in-process document store.
//
// Documents are kept as raw JSON so filters and updates go through the same
// engine the sqlite backend uses. All operations are serialized by a single
// mutex, which makes every bulk-write step atomic.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// Client is an in-memory store.
type Client struct {
	mu          sync.Mutex
	closed      bool
	collections map[string]*Collection
}

// New returns an empty store.
func New() *Client {
	return &Client{collections: make(map[string]*Collection)}
}

// Collection returns the named collection, creating it on first use.
func (c *Client) Collection(name string) docstore.Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	coll, ok := c.collections[name]
	if !ok {
		coll = &Collection{client: c, name: name, docs: make(map[string][]byte), unique: make(map[string]bool)}
		c.collections[name] = coll
	}
	return coll
}

// Close marks the store closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Collection is a named set of documents held in memory.
type Collection struct {
	client *Client
	name   string
	order  []string
	docs   map[string][]byte
	unique map[string]bool
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.client.mu.Lock()
	if c.client.closed {
		c.client.mu.Unlock()
		return docstore.ErrClosed
	}
	return nil
}

func (c *Collection) unlock() { c.client.mu.Unlock() }

// InsertOne stores doc, generating an _id when absent.
func (c *Collection) InsertOne(ctx context.Context, doc docstore.Document) (string, error) {
	if err := c.lock(ctx); err != nil {
		return "", err
	}
	defer c.unlock()

	stored := make(docstore.Document, len(doc)+1)
	for k, v := range doc {
		stored[k] = update.Plain(v)
	}
	id, _ := stored[docstore.IDKey].(string)
	if id == "" {
		id = ulid.Make().String()
		stored[docstore.IDKey] = id
	}
	if _, exists := c.docs[id]; exists {
		return "", fmt.Errorf("insert %s/%s: %w", c.name, id, docstore.ErrDuplicateKey)
	}

	body, err := docstore.Encode(stored)
	if err != nil {
		return "", err
	}
	if err := c.checkUnique(id, body); err != nil {
		return "", err
	}
	c.docs[id] = body
	c.order = append(c.order, id)
	return id, nil
}

// FindOne returns the first matching document.
func (c *Collection) FindOne(ctx context.Context, filter docstore.Filter, projection ...string) (docstore.Document, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()

	id, body, err := c.first(filter)
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
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()

	var out []docstore.Document
	for _, id := range c.order {
		ok, err := docstore.Match(c.docs[id], filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		doc, err := docstore.Decode(c.docs[id])
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// BulkWrite applies models in order and stops at the first that matches
// nothing.
func (c *Collection) BulkWrite(ctx context.Context, models []docstore.WriteModel) (int, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.unlock()

	for i, m := range models {
		id, body, err := c.first(m.Filter)
		if err != nil {
			return i, err
		}
		if id == "" {
			return i, nil
		}
		next, err := docstore.Apply(body, m.Update)
		if err != nil {
			return i, fmt.Errorf("update %s/%s: %w", c.name, id, err)
		}
		if err := c.checkUnique(id, next); err != nil {
			return i, err
		}
		c.docs[id] = next
	}
	return len(models), nil
}

// DeleteOne removes the first matching document.
func (c *Collection) DeleteOne(ctx context.Context, filter docstore.Filter) (bool, error) {
	if err := c.lock(ctx); err != nil {
		return false, err
	}
	defer c.unlock()

	id, _, err := c.first(filter)
	if err != nil || id == "" {
		return false, err
	}
	delete(c.docs, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// CreateIndex records path; only unique indexes change behaviour here.
func (c *Collection) CreateIndex(ctx context.Context, path string, unique bool) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	if !unique {
		return nil
	}
	seen := make(map[string]string)
	for _, id := range c.order {
		v, ok := docstore.ValueAt(c.docs[id], path)
		if !ok || v == nil {
			continue
		}
		key := fmt.Sprint(update.Plain(v))
		if other, dup := seen[key]; dup {
			return fmt.Errorf("unique index on %s: %s and %s share %v: %w", path, other, id, v, docstore.ErrDuplicateKey)
		}
		seen[key] = id
	}
	c.unique[path] = true
	return nil
}

// Count returns the number of matching documents.
func (c *Collection) Count(ctx context.Context, filter docstore.Filter) (int, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.unlock()

	n := 0
	for _, id := range c.order {
		ok, err := docstore.Match(c.docs[id], filter)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// first returns the id and body of the first matching document, or an empty
// id when none match.
func (c *Collection) first(filter docstore.Filter) (string, []byte, error) {
	if id, ok := docstore.IDOf(filter); ok {
		body, exists := c.docs[id]
		if !exists {
			return "", nil, nil
		}
		ok, err := docstore.Match(body, filter)
		if err != nil || !ok {
			return "", nil, err
		}
		return id, body, nil
	}
	for _, id := range c.order {
		ok, err := docstore.Match(c.docs[id], filter)
		if err != nil {
			return "", nil, err
		}
		if ok {
			return id, c.docs[id], nil
		}
	}
	return "", nil, nil
}

func (c *Collection) checkUnique(id string, body []byte) error {
	for path := range c.unique {
		v, ok := docstore.ValueAt(body, path)
		if !ok || v == nil {
			continue
		}
		for _, other := range c.order {
			if other == id {
				continue
			}
			ov, ok := docstore.ValueAt(c.docs[other], path)
			if ok && update.Equal(ov, v) {
				return fmt.Errorf("unique index on %s: %v already used by %s: %w", path, v, other, docstore.ErrDuplicateKey)
			}
		}
	}
	return nil
}
