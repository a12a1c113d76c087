// Package docstore defines the document store consumed by the mapping layer.
//
// A store holds named collections of JSON documents keyed by "_id". Writes are
// expressed as update operators ($set, $inc, $push, ...) applied under a filter
// so callers can make each write conditional on the values they last saw:
//
//	n, err := coll.BulkWrite(ctx, []docstore.WriteModel{{
//	    Filter: docstore.Filter{"_id": id, "num": int64(10)},
//	    Update: docstore.Update{"$inc": {"num": int64(5)}},
//	}})
//
// Two backends are provided: sqlite (durable, ncruces/go-sqlite3) and memory
// (tests and tooling). Both evaluate filters and operators with the shared
// engine in this package, so their semantics are identical.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// IDKey is the reserved key holding a document's identifier.
const IDKey = "_id"

// Sentinel errors returned by stores.
var (
	// ErrNotFound is returned when no document matches a lookup.
	ErrNotFound = errors.New("document not found")

	// ErrDuplicateKey is returned when a write violates a unique index or
	// reuses an existing _id.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidFilter is returned for filters the engine cannot evaluate.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidUpdate is returned for updates the engine cannot apply, such
	// as $inc on a string.
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// Document is a decoded JSON document. Integers decode as int64 and other
// numbers as float64.
type Document = map[string]any

// Filter maps dotted paths to either a value (equality) or a map of query
// operators such as {"$gt": 3}.
type Filter map[string]any

// Update maps an operator tag to the paths and operands it applies to.
type Update map[string]map[string]any

// WriteModel is one conditional update in a bulk write.
type WriteModel struct {
	Filter Filter
	Update Update
}

// Collection is a named set of documents.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// InsertOne stores doc and returns its _id. A missing _id is generated.
	InsertOne(ctx context.Context, doc Document) (string, error)

	// FindOne returns the first document matching filter. When projection
	// paths are given only those paths (and _id) are returned.
	FindOne(ctx context.Context, filter Filter, projection ...string) (Document, error)

	// Find returns every document matching filter in insertion order.
	Find(ctx context.Context, filter Filter) ([]Document, error)

	// BulkWrite applies models in order, each to the first document its
	// filter matches. It stops at the first model that matches nothing and
	// returns how many models were applied.
	BulkWrite(ctx context.Context, models []WriteModel) (int, error)

	// DeleteOne removes the first document matching filter and reports
	// whether one was removed.
	DeleteOne(ctx context.Context, filter Filter) (bool, error)

	// CreateIndex declares an index on path. Unique indexes reject writes
	// that would give two documents the same value at path.
	CreateIndex(ctx context.Context, path string, unique bool) error

	// Count returns the number of documents matching filter.
	Count(ctx context.Context, filter Filter) (int, error)
}

// Client hands out collections from one store.
type Client interface {
	Collection(name string) Collection
	Close() error
}

// Lookup resolves a dotted path inside a decoded document. Numeric path
// components index into arrays.
func Lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Project copies the given paths of doc (and its _id) into a new document.
// Paths are stored under their full dotted name so Lookup resolves them.
func Project(doc Document, paths []string) Document {
	if len(paths) == 0 {
		return doc
	}
	out := Document{}
	if id, ok := doc[IDKey]; ok {
		out[IDKey] = id
	}
	for _, p := range paths {
		v, ok := Lookup(doc, p)
		if !ok {
			continue
		}
		node := out
		parts := strings.Split(p, ".")
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = v
	}
	return out
}

// Encode marshals a document for storage.
func Encode(doc Document) ([]byte, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return body, nil
}

// Decode unmarshals a stored document, keeping integers as int64.
func Decode(body []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return fromNumbers(doc).(Document), nil
}

func fromNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = fromNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = fromNumbers(e)
		}
		return t
	}
	return v
}

// IDOf returns the _id of a filter when it selects a single document by
// identifier, so backends can skip a scan.
func IDOf(filter Filter) (string, bool) {
	switch v := filter[IDKey].(type) {
	case string:
		return v, true
	case map[string]any:
		if len(v) == 1 {
			id, ok := v["$eq"].(string)
			return id, ok
		}
	}
	return "", false
}
