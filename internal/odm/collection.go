package odm

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/odm/query"
)

// Action describes what happened to a stored document.
type Action string

const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
	ActionDeleted  Action = "deleted"
)

// Change is passed to observers after a document was written.
type Change struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Action     Action    `json:"action"`
	Paths      []string  `json:"paths,omitempty"`
	Attempts   int       `json:"attempts"`
	Time       time.Time `json:"time"`
}

// Collection binds a schema to a store collection of the same name.
type Collection struct {
	schema *Schema
	client docstore.Client
	store  docstore.Collection
	logger *log.Logger

	mu        sync.RWMutex
	observers []func(Change)
}

// CollectionOption configures a Collection.
type CollectionOption func(*Collection)

// WithLogger sets the logger used for save retries.
func WithLogger(logger *log.Logger) CollectionOption {
	return func(c *Collection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCollection binds schema to its collection in client.
func NewCollection(client docstore.Client, schema *Schema, opts ...CollectionOption) *Collection {
	c := &Collection{
		schema: schema,
		client: client,
		store:  client.Collection(schema.Name()),
		logger: log.New(os.Stderr, "[odm] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.schema.name }

// Schema returns the bound schema.
func (c *Collection) Schema() *Schema { return c.schema }

// Store returns the underlying store collection.
func (c *Collection) Store() docstore.Collection { return c.store }

// New returns an unsaved document bound to the collection.
func (c *Collection) New(values map[string]any) (*Document, error) {
	d, err := c.schema.New(values)
	if err != nil {
		return nil, err
	}
	d.coll = c
	return d, nil
}

// NewWithID is New with a caller-chosen identifier used on insert.
func (c *Collection) NewWithID(id string, values map[string]any) (*Document, error) {
	if id == "" {
		return nil, fmt.Errorf("empty id for %s", c.Name())
	}
	d, err := c.New(values)
	if err != nil {
		return nil, err
	}
	d.requestedID = id
	return d, nil
}

// Hydrate builds a saved document from its stored form.
func (c *Collection) Hydrate(raw docstore.Document) (*Document, error) {
	d := newDocument(c.schema)
	d.coll = c
	if err := d.load(raw); err != nil {
		return nil, err
	}
	return d, nil
}

// Get loads the document with the given id.
func (c *Collection) Get(ctx context.Context, id string) (*Document, error) {
	raw, err := c.store.FindOne(ctx, docstore.Filter{docstore.IDKey: id})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", c.Name(), id, err)
	}
	return c.Hydrate(raw)
}

// Find loads every document matching where.
func (c *Collection) Find(ctx context.Context, where query.Where) ([]*Document, error) {
	if err := c.checkPaths(where); err != nil {
		return nil, err
	}
	raws, err := c.store.Find(ctx, where.Build())
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", c.Name(), err)
	}
	docs := make([]*Document, 0, len(raws))
	for _, raw := range raws {
		d, err := c.Hydrate(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// FindOne loads the single document matching where. It fails with
// ErrNotFound when none match and ErrAmbiguous when several do.
func (c *Collection) FindOne(ctx context.Context, where query.Where) (*Document, error) {
	docs, err := c.Find(ctx, where)
	if err != nil {
		return nil, err
	}
	switch len(docs) {
	case 0:
		return nil, fmt.Errorf("%s %v: %w", c.Name(), where, ErrNotFound)
	case 1:
		return docs[0], nil
	}
	return nil, fmt.Errorf("%s %v: %d documents: %w", c.Name(), where, len(docs), ErrAmbiguous)
}

// Count returns the number of documents matching where.
func (c *Collection) Count(ctx context.Context, where query.Where) (int, error) {
	if err := c.checkPaths(where); err != nil {
		return 0, err
	}
	return c.store.Count(ctx, where.Build())
}

func (c *Collection) checkPaths(where query.Where) error {
	for _, p := range where.Paths() {
		if !c.schema.knows(p) {
			return &FieldNotFoundError{Owner: c.Name(), Name: p}
		}
	}
	return nil
}

// Delete removes the stored document. The in-memory document becomes
// unsaved again.
func (c *Collection) Delete(ctx context.Context, d *Document) error {
	if d.id == "" {
		return fmt.Errorf("delete unsaved %s: %w", c.Name(), ErrNotFound)
	}
	removed, err := c.store.DeleteOne(ctx, docstore.Filter{docstore.IDKey: d.id})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", c.Name(), d.id, err)
	}
	if !removed {
		return fmt.Errorf("delete %s/%s: %w", c.Name(), d.id, ErrNotFound)
	}
	id := d.id
	d.id = ""
	d.MarkSynced()
	c.notify(Change{Collection: c.Name(), ID: id, Action: ActionDeleted, Attempts: 1})
	return nil
}

// EnsureIndexes creates unique indexes for every Unique field.
func (c *Collection) EnsureIndexes(ctx context.Context) error {
	for _, p := range c.schema.UniquePaths() {
		if err := c.store.CreateIndex(ctx, p, true); err != nil {
			return fmt.Errorf("failed to create index %s.%s: %w", c.Name(), p, err)
		}
	}
	return nil
}

// Dereference loads the document referenced at path, which must be a
// Reference field to target.
func (c *Collection) Dereference(ctx context.Context, d *Document, path string, target *Schema) (*Document, error) {
	v, err := d.Get(path)
	if err != nil {
		return nil, err
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("%s.%s: %w", c.Name(), path, ErrUnresolvableReference)
	}
	return NewCollection(c.client, target, WithLogger(c.logger)).Get(ctx, id)
}

// Observe registers fn to be called after every insert, update and delete
// made through this collection. Observers run synchronously.
func (c *Collection) Observe(fn func(Change)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Collection) notify(ch Change) {
	if ch.Time.IsZero() {
		ch.Time = time.Now()
	}
	c.mu.RLock()
	observers := slices.Clone(c.observers)
	c.mu.RUnlock()
	for _, fn := range observers {
		fn(ch)
	}
}
