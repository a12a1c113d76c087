package odm

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// Map is a field holding string-keyed element fields.
type Map struct {
	base
	elem    Field
	entries map[string]*item
	null    bool
}

// MapOf declares a map whose values are clones of elem.
func MapOf(name string, elem Field, opts ...Option) *Map {
	f := &Map{elem: elem, entries: map[string]*item{}}
	f.name = name
	f.path = name
	f.kind = "map of " + elem.Kind()
	f.opts = buildOptions(opts)
	return f
}

// Keys returns the keys in sorted order.
func (f *Map) Keys() []string {
	keys := make([]string, 0, len(f.entries))
	for k := range f.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (f *Map) Len() int { return len(f.entries) }

// Entry returns the element field stored under key.
func (f *Map) Entry(key string) (Field, bool) {
	it, ok := f.entries[key]
	if !ok {
		return nil, false
	}
	return it.field, true
}

func (f *Map) Value() any {
	if f.null {
		return nil
	}
	out := make(map[string]any, len(f.entries))
	for k, it := range f.entries {
		out[k] = it.field.Value()
	}
	return out
}

func (f *Map) Plain() any {
	if f.null {
		return nil
	}
	out := make(map[string]any, len(f.entries))
	for k, it := range f.entries {
		out[k] = it.field.Plain()
	}
	return out
}

func (f *Map) persisted() any {
	if f.null {
		return nil
	}
	out := make(map[string]any, len(f.entries))
	for k, it := range f.entries {
		if it.create == nil {
			out[k] = it.field.Plain()
		}
	}
	return out
}

func (f *Map) attach(o owner, name, path string) {
	f.attachBase(o, name, path)
	for k, it := range f.entries {
		it.field.attach(f, k, joinPath(f.path, k))
	}
}

func (f *Map) changed(child Field, key string, d *update.Descriptor) {
	if f.owner != nil {
		f.owner.changed(f, f.path, d)
	}
}

func (f *Map) child(sub string) (Field, error) {
	head, rest := splitPath(sub)
	it, ok := f.entries[head]
	if !ok {
		return nil, &FieldNotFoundError{Owner: f.path, Name: head}
	}
	if rest == "" {
		return it.field, nil
	}
	return it.field.child(rest)
}

// ValidKey reports whether k can be used as a map key: non-empty, without
// dots and not starting with '$'.
func ValidKey(k string) error {
	if k == "" || strings.Contains(k, ".") || strings.HasPrefix(k, "$") {
		return fmt.Errorf("%q: %w", k, ErrInvalidKey)
	}
	return nil
}

// Validate checks that v is a string-keyed map of acceptable values.
func (f *Map) Validate(v any) error {
	if v == nil {
		return f.checkRequired(v)
	}
	m, ok := toMap(v)
	if !ok {
		return f.mismatch("map", v)
	}
	for k, e := range m {
		if err := ValidKey(k); err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
		if err := f.elem.Validate(e); err != nil {
			return err
		}
	}
	return nil
}

// Set replaces the whole map or unsets it.
func (f *Map) Set(v any) error {
	op := asOperator(v)
	switch op.Kind() {
	case update.KindSet:
		if err := f.Validate(op.Operand()); err != nil {
			return err
		}
		entries, err := f.build(op.Operand())
		if err != nil {
			return err
		}
		f.adoptChildren()
		old := f.persisted()
		f.dropCreates()
		f.entries, f.null = entries, op.Operand() == nil
		f.attach(f.owner, f.name, f.path)
		f.record(f, update.NewDescriptor(update.Set(f.Plain()), f.path).Guard(old))
		return nil
	case update.KindUnset:
		if f.null {
			return fmt.Errorf("%s: %w", f.path, update.ErrAbsentValue)
		}
		if err := f.checkRequired(nil); err != nil {
			return err
		}
		f.adoptChildren()
		d := update.NewDescriptor(op, f.path).Guard(f.persisted())
		f.dropCreates()
		f.entries, f.null = map[string]*item{}, true
		f.record(f, d)
		return nil
	}
	return f.unsupported(op)
}

// Put stores v under key. An existing entry records a change of its own; a
// new entry is created in the store guarded on the key being absent.
func (f *Map) Put(key string, v any) error {
	if err := ValidKey(key); err != nil {
		return fmt.Errorf("%s: %w", f.path, err)
	}
	if it, ok := f.entries[key]; ok {
		return it.field.Set(v)
	}

	el := f.elem.Clone()
	if err := el.assign(v); err != nil {
		return err
	}
	if err := el.Validate(el.Value()); err != nil {
		return err
	}

	it := &item{field: el}
	if f.entries == nil {
		f.entries = map[string]*item{}
	}
	f.entries[key] = it
	f.null = false
	el.attach(f, key, joinPath(f.path, key))

	d := update.NewDescriptor(update.Set(nil), el.Path()).Guard(nil).Force(key)
	d.OnAck(func() {
		it.create = nil
		it.field.MarkSynced()
	})
	it.create = d
	f.record(f, d)
	return nil
}

// Delete removes key with a guarded $unset.
func (f *Map) Delete(key string) error {
	it, ok := f.entries[key]
	if !ok {
		return &FieldNotFoundError{Owner: f.path, Name: key}
	}
	delete(f.entries, key)

	if it.create != nil {
		f.dequeue(it.create)
		return nil
	}

	for _, d := range it.field.updates() {
		f.enqueue(d)
	}
	d := update.NewDescriptor(update.Unset(), it.field.Path()).Guard(it.field.Value()).Force(key)
	f.record(f, d)
	return nil
}

func (f *Map) adoptChildren() {
	for _, k := range f.Keys() {
		it := f.entries[k]
		if it.create != nil {
			continue
		}
		for _, d := range it.field.updates() {
			f.enqueue(d)
		}
	}
}

func (f *Map) dropCreates() {
	for _, it := range f.entries {
		if it.create != nil {
			f.dequeue(it.create)
			it.create = nil
		}
	}
}

func (f *Map) build(v any) (map[string]*item, error) {
	entries := map[string]*item{}
	if v == nil {
		return entries, nil
	}
	m, ok := toMap(v)
	if !ok {
		return nil, f.mismatch("map", v)
	}
	for k, e := range m {
		if err := ValidKey(k); err != nil {
			return nil, fmt.Errorf("%s: %w", f.path, err)
		}
		el := f.elem.Clone()
		if err := el.assign(e); err != nil {
			return nil, err
		}
		entries[k] = &item{field: el}
	}
	return entries, nil
}

func (f *Map) assign(v any) error {
	entries, err := f.build(v)
	if err != nil {
		return err
	}
	f.entries, f.null = entries, v == nil
	f.attach(f.owner, f.name, f.path)
	return nil
}

// Load hydrates the map from a stored object.
func (f *Map) Load(plain any) error { return f.assign(plain) }

func (f *Map) Clone() Field {
	cp := &Map{elem: f.elem.Clone(), entries: map[string]*item{}}
	cp.name = f.name
	cp.path = f.name
	cp.kind = f.kind
	cp.opts = f.opts
	if f.opts.hasDef {
		if err := cp.assign(f.opts.def); err != nil {
			cp.entries = map[string]*item{}
		}
	}
	return cp
}

func (f *Map) MarkSynced() {
	f.pending = nil
	for _, it := range f.entries {
		it.create = nil
		it.field.MarkSynced()
	}
}

func (f *Map) CompileUpdates(sub string) ([]*update.Descriptor, error) {
	if sub == "" {
		return f.updates(), nil
	}
	head, rest := splitPath(sub)
	it, ok := f.entries[head]
	if !ok {
		return nil, &FieldNotFoundError{Owner: f.path, Name: head}
	}
	if it.create != nil {
		return nil, nil
	}
	return it.field.CompileUpdates(rest)
}

func (f *Map) updates() []*update.Descriptor {
	out := f.copyPending()
	for _, k := range f.Keys() {
		it := f.entries[k]
		if it.create != nil {
			it.create.Op = update.Set(it.field.Value())
			continue
		}
		out = append(out, it.field.updates()...)
	}
	return bySeq(out)
}

// toMap converts any string-keyed map into map[string]any.
func toMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
