// Package odm maps documents in a docstore collection onto typed, change
// tracking objects.
//
// A Schema declares the fields of a document type once; documents are
// instances of it. Assigning to a field updates the value locally and records
// how the change must be written (a plain overwrite or an update operator
// such as Inc or Push). Save turns the recorded changes into conditional
// updates, each guarded by the value the document last saw at that path, and
// retries with refreshed snapshots when another writer got there first.
//
// Typical use:
//
//	person := odm.MustSchema("Person",
//	    odm.String("name", odm.Required()),
//	    odm.Int("visits", odm.Default(0)),
//	    odm.ListOf("tags", odm.String("")),
//	)
//	people := odm.NewCollection(store, person)
//	doc, _ := people.New(map[string]any{"name": "ann"})
//	_ = doc.Save(ctx, 0)
//	_ = doc.Set("visits", update.Inc(1))
//	_ = doc.Append("tags", "admin")
//	_ = doc.Save(ctx, 3)
package odm

import (
	"fmt"
	"sort"

	"github.com/mschirtzinger/docsync/internal/docstore"
)

// Schema is the declaration of a document type.
type Schema struct {
	name   string
	fields []Field
	index  map[string]int
}

// NewSchema declares a document type with the given fields. Field names
// must be unique, valid map keys and not "_id".
func NewSchema(name string, fields ...Field) (*Schema, error) {
	if name == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	s := &Schema{name: name, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		if f == nil {
			return nil, fmt.Errorf("%s: field %d: %w", name, i, ErrFieldExpected)
		}
		if f.Name() == docstore.IDKey {
			return nil, fmt.Errorf("%s: %s is reserved", name, docstore.IDKey)
		}
		if err := ValidKey(f.Name()); err != nil {
			return nil, fmt.Errorf("%s: field name: %w", name, err)
		}
		if _, dup := s.index[f.Name()]; dup {
			return nil, fmt.Errorf("%s: field %q declared twice", name, f.Name())
		}
		s.index[f.Name()] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustSchema is NewSchema for package-level declarations; it panics on error.
func MustSchema(name string, fields ...Field) *Schema {
	s, err := NewSchema(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name, which is also the collection name.
func (s *Schema) Name() string { return s.name }

// Fields returns the field declarations in order.
func (s *Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Field returns the declaration of name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.fields[i], true
}

// New returns an unsaved, unbound document. Unknown names in values fail
// with ErrFieldNotFound; values are validated against their fields.
func (s *Schema) New(values map[string]any) (*Document, error) {
	d := newDocument(s)

	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		f, ok := d.fields[name]
		if !ok {
			return nil, &FieldNotFoundError{Owner: s.name, Name: name}
		}
		v := values[name]
		if err := f.Validate(v); err != nil {
			return nil, err
		}
		if err := f.assign(v); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// UniquePaths lists the dotted paths of every unique field, including
// fields of embedded schemas.
func (s *Schema) UniquePaths() []string {
	var out []string
	for _, f := range s.fields {
		if f.Unique() {
			out = append(out, f.Name())
		}
		if e, ok := f.(*Embedded); ok {
			for _, p := range e.schema.UniquePaths() {
				out = append(out, joinPath(f.Name(), p))
			}
		}
	}
	return out
}

// knows reports whether the first component of path is a declared field.
func (s *Schema) knows(path string) bool {
	head, _ := splitPath(path)
	if head == docstore.IDKey {
		return true
	}
	_, ok := s.index[head]
	return ok
}
