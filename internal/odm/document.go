package odm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// Document is an instance of a schema: a set of fields plus the identity of
// the stored document they mirror.
//
// A document is not safe for concurrent use. Concurrent writers to the same
// stored document are reconciled by Save.
type Document struct {
	schema *Schema
	coll   *Collection
	id     string
	// requestedID is inserted as _id by NewWithID.
	requestedID string
	fields      map[string]Field
	// dirty lists changed paths in first-change order.
	dirty  []string
	parent *Embedded
}

func newDocument(s *Schema) *Document {
	d := &Document{schema: s, fields: make(map[string]Field, len(s.fields))}
	for _, proto := range s.fields {
		f := proto.Clone()
		f.attach(d, proto.Name(), proto.Name())
		d.fields[proto.Name()] = f
	}
	return d
}

// reattach moves the document under an embedding field.
func (d *Document) reattach(parent *Embedded, prefix string) {
	d.parent = parent
	d.id = ""
	for _, proto := range d.schema.fields {
		name := proto.Name()
		d.fields[name].attach(d, name, joinPath(prefix, name))
	}
}

// ID returns the stored identifier, or "" before the first save.
func (d *Document) ID() string { return d.id }

// Schema returns the document's schema.
func (d *Document) Schema() *Schema { return d.schema }

// Collection returns the collection the document is saved to, if any.
func (d *Document) Collection() *Collection { return d.coll }

func (d *Document) changed(child Field, key string, desc *update.Descriptor) {
	if d.parent != nil {
		d.parent.innerChanged(key, desc)
		return
	}
	for _, p := range d.dirty {
		if p == key {
			return
		}
	}
	d.dirty = append(d.dirty, key)
}

// Field resolves a dotted path to the field holding it.
func (d *Document) Field(path string) (Field, error) {
	head, rest := splitPath(path)
	f, ok := d.fields[head]
	if !ok {
		return nil, &FieldNotFoundError{Owner: d.schema.name, Name: head}
	}
	if rest == "" {
		return f, nil
	}
	return f.child(rest)
}

// Get returns the value at path. "_id" returns the identifier.
func (d *Document) Get(path string) (any, error) {
	if path == docstore.IDKey {
		return d.id, nil
	}
	f, err := d.Field(path)
	if err != nil {
		return nil, err
	}
	return f.Value(), nil
}

// Set assigns v at path. v may be a plain value or an update.Operator.
// Paths ending in a list index or map key address the element; a new map
// key creates the entry.
func (d *Document) Set(path string, v any) error {
	if path == docstore.IDKey {
		return fmt.Errorf("%s is assigned on insert: %w", docstore.IDKey, ErrFieldNotFound)
	}
	if parentPath, last, ok := cutLast(path); ok {
		parent, err := d.Field(parentPath)
		if err != nil {
			return err
		}
		switch c := parent.(type) {
		case *Map:
			return c.Put(last, v)
		case *List:
			i, err := strconv.Atoi(last)
			if err != nil {
				return fmt.Errorf("%s: %q is not a list index: %w", parentPath, last, ErrFieldNotFound)
			}
			return c.SetIndex(i, v)
		}
	}
	f, err := d.Field(path)
	if err != nil {
		return err
	}
	return f.Set(v)
}

// Delete removes a list element or map entry, or unsets any other field.
func (d *Document) Delete(path string) error {
	if parentPath, last, ok := cutLast(path); ok {
		parent, err := d.Field(parentPath)
		if err != nil {
			return err
		}
		switch c := parent.(type) {
		case *Map:
			return c.Delete(last)
		case *List:
			i, err := strconv.Atoi(last)
			if err != nil {
				return fmt.Errorf("%s: %q is not a list index: %w", parentPath, last, ErrFieldNotFound)
			}
			return c.Delete(i)
		}
	}
	f, err := d.Field(path)
	if err != nil {
		return err
	}
	return f.Set(update.Unset())
}

// Append adds v to the list at path.
func (d *Document) Append(path string, v any) error {
	l, err := d.List(path)
	if err != nil {
		return err
	}
	return l.Append(v)
}

// List returns the list field at path.
func (d *Document) List(path string) (*List, error) {
	f, err := d.Field(path)
	if err != nil {
		return nil, err
	}
	l, ok := f.(*List)
	if !ok {
		return nil, &TypeMismatchError{Path: path, Want: "list", Got: f.Value()}
	}
	return l, nil
}

// Map returns the map field at path.
func (d *Document) Map(path string) (*Map, error) {
	f, err := d.Field(path)
	if err != nil {
		return nil, err
	}
	m, ok := f.(*Map)
	if !ok {
		return nil, &TypeMismatchError{Path: path, Want: "map", Got: f.Value()}
	}
	return m, nil
}

// Embedded returns the document embedded at path.
func (d *Document) Embedded(path string) (*Document, error) {
	f, err := d.Field(path)
	if err != nil {
		return nil, err
	}
	e, ok := f.(*Embedded)
	if !ok {
		return nil, &TypeMismatchError{Path: path, Want: "embedded document", Got: f.Value()}
	}
	if e.doc == nil {
		return nil, fmt.Errorf("%s: %w", path, update.ErrAbsentValue)
	}
	return e.doc, nil
}

// Plain returns the document as a plain map, including _id once saved.
func (d *Document) Plain() any { return d.PlainMap() }

// PlainMap is Plain with a concrete type.
func (d *Document) PlainMap() map[string]any {
	out := make(map[string]any, len(d.fields)+1)
	if d.id != "" {
		out[docstore.IDKey] = d.id
	}
	for name, f := range d.fields {
		out[name] = f.Plain()
	}
	return out
}

// MarshalJSON encodes the plain form.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.PlainMap())
}

func (d *Document) String() string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(d.schema.name)
	if d.id != "" {
		fmt.Fprintf(&b, " _id=%s", d.id)
	}
	for _, proto := range d.schema.fields {
		fmt.Fprintf(&b, " %s=%v", proto.Name(), d.fields[proto.Name()].Plain())
	}
	b.WriteString(">")
	return b.String()
}

// Changed returns the paths with changes not yet saved, in first-change order.
func (d *Document) Changed() []string {
	var out []string
	for _, key := range d.dirty {
		ds, err := d.compileKey(key)
		if err == nil && len(ds) > 0 {
			out = append(out, key)
		}
	}
	return out
}

// MarkSynced drops every pending change, treating the current values as
// what the store holds.
func (d *Document) MarkSynced() {
	for _, f := range d.fields {
		f.MarkSynced()
	}
	d.dirty = nil
}

// compileKey returns the pending descriptors registered under key.
func (d *Document) compileKey(key string) ([]*update.Descriptor, error) {
	head, rest := splitPath(key)
	f, ok := d.fields[head]
	if !ok {
		return nil, &FieldNotFoundError{Owner: d.schema.name, Name: head}
	}
	return f.CompileUpdates(rest)
}

// allUpdates returns every pending descriptor of every field.
func (d *Document) allUpdates() []*update.Descriptor {
	var out []*update.Descriptor
	for _, proto := range d.schema.fields {
		out = append(out, d.fields[proto.Name()].updates()...)
	}
	return bySeq(out)
}

// load hydrates every field from a stored document. Fields missing from raw
// become nil; unknown keys are ignored.
func (d *Document) load(raw docstore.Document) error {
	if id, ok := raw[docstore.IDKey].(string); ok {
		d.id = id
	}
	for _, proto := range d.schema.fields {
		name := proto.Name()
		if err := d.fields[name].Load(raw[name]); err != nil {
			return fmt.Errorf("failed to load %s.%s: %w", d.schema.name, name, err)
		}
	}
	d.MarkSynced()
	return nil
}

// checkRequired reports the first required field without a value,
// descending into embedded documents.
func (d *Document) checkRequired() error {
	for _, proto := range d.schema.fields {
		f := d.fields[proto.Name()]
		if f.Required() && f.Value() == nil {
			return fmt.Errorf("%s.%s: %w", d.schema.name, f.Path(), ErrRequired)
		}
		if e, ok := f.(*Embedded); ok && e.doc != nil {
			if err := e.doc.checkRequired(); err != nil {
				return err
			}
		}
	}
	return nil
}

// cutLast splits a dotted path at its last dot.
func cutLast(path string) (parent, last string, ok bool) {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return "", path, false
	}
	return path[:i], path[i+1:], true
}
