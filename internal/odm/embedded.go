package odm

import (
	"fmt"

	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// Embedded is a field holding a whole document of a fixed schema. The
// embedded document never carries an _id; its fields are stored under the
// embedding field's path.
type Embedded struct {
	base
	schema *Schema
	doc    *Document
}

// Embed declares a field holding a document of schema.
func Embed(name string, schema *Schema, opts ...Option) *Embedded {
	f := &Embedded{schema: schema}
	f.name = name
	f.path = name
	f.kind = "embedded " + schema.name
	f.opts = buildOptions(opts)
	return f
}

// Schema returns the schema of the embedded document.
func (f *Embedded) Schema() *Schema { return f.schema }

// Doc returns the embedded document, or nil when unset.
func (f *Embedded) Doc() *Document { return f.doc }

func (f *Embedded) Value() any {
	if f.doc == nil {
		return nil
	}
	return f.doc
}

func (f *Embedded) Plain() any {
	if f.doc == nil {
		return nil
	}
	return f.doc.Plain()
}

func (f *Embedded) attach(o owner, name, path string) {
	f.attachBase(o, name, path)
	if f.doc != nil {
		f.doc.reattach(f, path)
	}
}

// innerChanged forwards a change inside the embedded document.
func (f *Embedded) innerChanged(key string, d *update.Descriptor) {
	if f.owner != nil {
		f.owner.changed(f, key, d)
	}
}

func (f *Embedded) child(sub string) (Field, error) {
	if f.doc == nil {
		return nil, fmt.Errorf("%s is unset: %w", f.path, ErrFieldNotFound)
	}
	return f.doc.Field(sub)
}

// Validate checks that v is a document of the schema or a map of its fields.
func (f *Embedded) Validate(v any) error {
	if v == nil {
		return f.checkRequired(v)
	}
	_, err := f.convert(v)
	return err
}

// Set replaces or unsets the embedded document.
func (f *Embedded) Set(v any) error {
	op := asOperator(v)
	switch op.Kind() {
	case update.KindSet:
		var doc *Document
		if operand := op.Operand(); operand != nil {
			var err error
			if doc, err = f.convert(operand); err != nil {
				return err
			}
		} else if err := f.checkRequired(nil); err != nil {
			return err
		}

		old := f.Plain()
		f.adoptInner()
		f.doc = doc
		if doc != nil {
			doc.reattach(f, f.path)
		}
		f.record(f, update.NewDescriptor(update.Set(f.Plain()), f.path).Guard(old))
		return nil

	case update.KindUnset:
		if f.doc == nil {
			return fmt.Errorf("%s: %w", f.path, update.ErrAbsentValue)
		}
		if err := f.checkRequired(nil); err != nil {
			return err
		}
		old := f.Plain()
		f.adoptInner()
		f.doc = nil
		f.record(f, update.NewDescriptor(op, f.path).Guard(old))
		return nil
	}
	return f.unsupported(op)
}

// adoptInner keeps pending changes of the replaced document so they land
// before the overwrite and its guard matches.
func (f *Embedded) adoptInner() {
	if f.doc == nil {
		return
	}
	for _, d := range f.doc.allUpdates() {
		f.enqueue(d)
	}
}

// convert copies v into a fresh document of the field's schema.
func (f *Embedded) convert(v any) (*Document, error) {
	switch src := v.(type) {
	case *Document:
		if src == nil {
			return nil, nil
		}
		if src.schema != f.schema && src.schema.name != f.schema.name {
			return nil, f.mismatch(f.schema.name, v)
		}
		doc := newDocument(f.schema)
		for _, proto := range f.schema.fields {
			name := proto.Name()
			if err := doc.fields[name].assign(src.fields[name].Value()); err != nil {
				return nil, err
			}
		}
		return doc, nil
	}

	m, ok := toMap(v)
	if !ok {
		return nil, f.mismatch(f.schema.name, v)
	}
	doc := newDocument(f.schema)
	for k, val := range m {
		if k == "_id" {
			continue
		}
		fl, ok := doc.fields[k]
		if !ok {
			return nil, &FieldNotFoundError{Owner: f.schema.name, Name: k}
		}
		if err := fl.assign(val); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (f *Embedded) assign(v any) error {
	if v == nil {
		f.doc = nil
		return nil
	}
	doc, err := f.convert(v)
	if err != nil {
		return err
	}
	f.doc = doc
	doc.reattach(f, f.path)
	return nil
}

// Load hydrates the embedded document from a stored object.
func (f *Embedded) Load(plain any) error { return f.assign(plain) }

func (f *Embedded) Clone() Field {
	cp := &Embedded{schema: f.schema}
	cp.name = f.name
	cp.path = f.name
	cp.kind = f.kind
	cp.opts = f.opts
	if f.opts.hasDef {
		if err := cp.assign(f.opts.def); err != nil {
			cp.doc = nil
		}
	}
	return cp
}

func (f *Embedded) MarkSynced() {
	f.pending = nil
	if f.doc != nil {
		f.doc.MarkSynced()
	}
}

func (f *Embedded) CompileUpdates(sub string) ([]*update.Descriptor, error) {
	if sub == "" {
		return f.copyPending(), nil
	}
	if f.doc == nil {
		return nil, nil
	}
	return f.doc.compileKey(sub)
}

func (f *Embedded) updates() []*update.Descriptor {
	out := f.copyPending()
	if f.doc != nil {
		out = append(out, f.doc.allUpdates()...)
	}
	return bySeq(out)
}
