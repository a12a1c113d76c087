package odm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// Field is a typed, named value cell of a document.
//
// A field applies every assignment locally and queues an update descriptor
// describing how to repeat it in the store. The queue is drained by
// Document.Save.
type Field interface {
	// Name returns the declared name (or index/key for container elements).
	Name() string
	// Path returns the dotted path from the root document.
	Path() string
	// Value returns the current domain value.
	Value() any
	// Plain returns the value in its stored form.
	Plain() any

	// Set assigns a plain value or applies an update.Operator.
	Set(v any) error
	// Validate checks v against the declared type without assigning it.
	Validate(v any) error
	// Clone returns a fresh, unattached field with the same declaration
	// and default value.
	Clone() Field
	// MarkSynced drops every pending descriptor.
	MarkSynced()
	// CompileUpdates returns the pending descriptors for sub, a path
	// relative to this field ("" for the field itself).
	CompileUpdates(sub string) ([]*update.Descriptor, error)
	// Load hydrates the field from a stored value without recording a change.
	Load(plain any) error

	// Required reports whether the field must have a value on insert.
	Required() bool
	// Unique reports whether the store enforces distinct values.
	Unique() bool
	// SyncEnabled reports whether assignments are written on save.
	SyncEnabled() bool
	// Kind names the field type.
	Kind() string

	attach(o owner, name, path string)
	assign(v any) error
	updates() []*update.Descriptor
	child(sub string) (Field, error)
}

// owner is notified whenever a field it holds records a descriptor. key is
// the path under which the change is registered with the root document.
type owner interface {
	changed(child Field, key string, d *update.Descriptor)
}

// Option configures a field declaration.
type Option func(*options)

type options struct {
	def      any
	hasDef   bool
	required bool
	unique   bool
	noSync   bool
}

// Default sets the value new documents start with.
func Default(v any) Option {
	return func(o *options) {
		o.def = v
		o.hasDef = true
	}
}

// Required rejects inserts (and assignments of nil) without a value.
func Required() Option {
	return func(o *options) { o.required = true }
}

// Unique asks Collection.EnsureIndexes for a unique index on the field.
func Unique() Option {
	return func(o *options) { o.unique = true }
}

// NoSync keeps assignments local: the value is inserted with the document
// but later changes are never written.
func NoSync() Option {
	return func(o *options) { o.noSync = true }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// base carries the state shared by every field kind.
type base struct {
	name    string
	path    string
	kind    string
	opts    options
	owner   owner
	pending []*update.Descriptor
}

func (b *base) Name() string      { return b.name }
func (b *base) Path() string      { return b.path }
func (b *base) Kind() string      { return b.kind }
func (b *base) Required() bool    { return b.opts.required }
func (b *base) Unique() bool      { return b.opts.unique }
func (b *base) SyncEnabled() bool { return !b.opts.noSync }

func (b *base) attachBase(o owner, name, path string) {
	b.owner = o
	b.name = name
	b.path = path
}

// enqueue appends d to the pending queue; d leaves the queue once acked.
func (b *base) enqueue(d *update.Descriptor) {
	b.pending = append(b.pending, d)
	d.OnAck(func() { b.dequeue(d) })
}

func (b *base) dequeue(d *update.Descriptor) {
	for i, p := range b.pending {
		if p == d {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return
		}
	}
}

// record queues d and notifies the owner.
func (b *base) record(self Field, d *update.Descriptor) {
	b.enqueue(d)
	if b.owner != nil {
		b.owner.changed(self, b.path, d)
	}
}

func (b *base) checkRequired(v any) error {
	if v == nil && b.opts.required {
		return fmt.Errorf("%s: %w", b.path, ErrRequired)
	}
	return nil
}

func (b *base) mismatch(want string, got any) error {
	path := b.path
	if path == "" {
		path = b.name
	}
	return &TypeMismatchError{Path: path, Want: want, Got: got}
}

func (b *base) unsupported(op update.Operator) error {
	return fmt.Errorf("%s on %s field %s: %w", op.Kind(), b.kind, b.path, ErrUnsupportedOperator)
}

func (b *base) copyPending() []*update.Descriptor {
	return append([]*update.Descriptor(nil), b.pending...)
}

// asOperator wraps plain values in an implicit Set.
func asOperator(v any) update.Operator {
	if op, ok := v.(update.Operator); ok {
		return op
	}
	return update.Set(v)
}

func isOverwrite(op update.Operator) bool {
	k := op.Kind()
	return k == update.KindSet || k == update.KindUnset
}

// bySeq sorts descriptors into mutation order.
func bySeq(ds []*update.Descriptor) []*update.Descriptor {
	sort.SliceStable(ds, func(i, j int) bool { return ds[i].Seq < ds[j].Seq })
	return ds
}

// splitPath returns the first component of a dotted path and the rest.
func splitPath(path string) (head, rest string) {
	head, rest, _ = strings.Cut(path, ".")
	return head, rest
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func parseIndex(s string, n int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a list index: %w", s, ErrFieldNotFound)
	}
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("index %s of list with %d elements: %w", s, n, ErrIndexOutOfRange)
	}
	return i, nil
}
