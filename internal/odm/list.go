package odm

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/oklog/ulid/v2"

	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// deletedPrefix marks list elements scheduled for removal. Each deletion
// uses a fresh sentinel so concurrent deletions never pull each other's.
const deletedPrefix = "__docsync_deleted__"

// item is one element of a list or map.
type item struct {
	field Field
	// create is the pending descriptor that adds the element to the stored
	// container. While it is pending, changes to the element are folded into
	// its operand instead of being sent on their own.
	create *update.Descriptor
}

// List is a field holding an ordered sequence of element fields.
type List struct {
	base
	elem  Field
	items []*item
	null  bool
}

// ListOf declares a list whose elements are clones of elem.
func ListOf(name string, elem Field, opts ...Option) *List {
	f := &List{elem: elem}
	f.name = name
	f.path = name
	f.kind = "list of " + elem.Kind()
	f.opts = buildOptions(opts)
	return f
}

// Len returns the number of elements.
func (f *List) Len() int { return len(f.items) }

// Elem returns the field at index i. Negative indexes count from the end.
func (f *List) Elem(i int) (Field, error) {
	i, err := parseIndex(strconv.Itoa(i), len(f.items))
	if err != nil {
		return nil, err
	}
	return f.items[i].field, nil
}

func (f *List) Value() any {
	if f.null {
		return nil
	}
	out := make([]any, len(f.items))
	for i, it := range f.items {
		out[i] = it.field.Value()
	}
	return out
}

func (f *List) Plain() any {
	if f.null {
		return nil
	}
	out := make([]any, len(f.items))
	for i, it := range f.items {
		out[i] = it.field.Plain()
	}
	return out
}

// persisted returns the plain list as the store should currently hold it:
// elements still waiting for their push are left out.
func (f *List) persisted() any {
	if f.null {
		return nil
	}
	out := make([]any, 0, len(f.items))
	for _, it := range f.items {
		if it.create == nil {
			out = append(out, it.field.Plain())
		}
	}
	return out
}

func (f *List) attach(o owner, name, path string) {
	f.attachBase(o, name, path)
	f.reindex()
}

// reindex recomputes element paths after a structural change.
func (f *List) reindex() {
	for i, it := range f.items {
		idx := strconv.Itoa(i)
		it.field.attach(f, idx, joinPath(f.path, idx))
	}
}

func (f *List) changed(child Field, key string, d *update.Descriptor) {
	// Element paths address the stored array by index.
	d.Positional = true
	if f.owner != nil {
		f.owner.changed(f, f.path, d)
	}
}

func (f *List) child(sub string) (Field, error) {
	head, rest := splitPath(sub)
	i, err := parseIndex(head, len(f.items))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	if rest == "" {
		return f.items[i].field, nil
	}
	return f.items[i].field.child(rest)
}

// Validate checks that v is a slice whose elements the element type accepts.
func (f *List) Validate(v any) error {
	if v == nil {
		return f.checkRequired(v)
	}
	elems, ok := toSlice(v)
	if !ok {
		return f.mismatch("list", v)
	}
	for _, e := range elems {
		if err := f.elem.Validate(e); err != nil {
			return err
		}
	}
	return nil
}

// Set replaces the list or applies a Push, Pull or PullAll operator.
func (f *List) Set(v any) error {
	op := asOperator(v)
	switch op.Kind() {
	case update.KindSet:
		return f.overwrite(op.Operand())
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
		f.items, f.null = nil, true
		f.record(f, d)
		return nil
	case update.KindPush:
		values := []any{op.Operand()}
		if update.IsEach(op) {
			values = op.Operand().([]any)
		}
		for _, v := range values {
			if err := f.Validate([]any{v}); err != nil {
				return err
			}
		}
		for _, v := range values {
			if err := f.Append(v); err != nil {
				return err
			}
		}
		return nil
	case update.KindPull, update.KindPullAll:
		return f.pull(op)
	}
	return f.unsupported(op)
}

func (f *List) overwrite(v any) error {
	if err := f.Validate(v); err != nil {
		return err
	}
	items, err := f.build(v)
	if err != nil {
		return err
	}

	f.adoptChildren()
	old := f.persisted()
	f.dropCreates()
	f.items, f.null = items, v == nil
	f.reindex()
	d := update.NewDescriptor(update.Set(f.Plain()), f.path).Guard(old)
	f.record(f, d)
	return nil
}

func (f *List) pull(op update.Operator) error {
	if f.null {
		return fmt.Errorf("%s: %w", f.path, update.ErrAbsentValue)
	}
	values := []any{op.Operand()}
	if op.Kind() == update.KindPullAll {
		values = op.Operand().([]any)
	}

	kept := f.items[:0:0]
	for _, it := range f.items {
		drop := false
		for _, v := range values {
			if update.Equal(it.field.Value(), v) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, it)
			continue
		}
		if it.create != nil {
			f.dequeue(it.create)
		}
	}
	f.items = kept
	f.reindex()
	f.record(f, update.NewDescriptor(op, f.path))
	return nil
}

// Append adds v at the end of the list. The element is sent with a $push
// whose operand is read at save time, so later changes to the element ride
// along with it.
func (f *List) Append(v any) error {
	el := f.elem.Clone()
	if err := el.assign(v); err != nil {
		return err
	}
	if err := el.Validate(el.Value()); err != nil {
		return err
	}

	it := &item{field: el}
	f.items = append(f.items, it)
	f.null = false
	idx := strconv.Itoa(len(f.items) - 1)
	el.attach(f, idx, joinPath(f.path, idx))

	d := update.NewDescriptor(update.Push(nil), f.path).Force(ulid.Make().String())
	d.OnAck(func() {
		it.create = nil
		it.field.MarkSynced()
	})
	it.create = d
	f.record(f, d)
	return nil
}

// SetIndex assigns v (a value or operator) to element i.
func (f *List) SetIndex(i int, v any) error {
	el, err := f.Elem(i)
	if err != nil {
		return fmt.Errorf("%s: %w", f.path, err)
	}
	return el.Set(v)
}

// Delete removes element i. A stored element is first overwritten with a
// deletion sentinel at its position and the sentinel is then pulled, since
// positional removal cannot be expressed as one update.
func (f *List) Delete(i int) error {
	i, err := parseIndex(strconv.Itoa(i), len(f.items))
	if err != nil {
		return fmt.Errorf("%s: %w", f.path, err)
	}
	it := f.items[i]
	f.items = append(f.items[:i], f.items[i+1:]...)

	if it.create != nil {
		f.dequeue(it.create)
		f.reindex()
		return nil
	}

	// Earlier changes to the element still have to land before the
	// sentinel, so the list takes them over.
	for _, d := range it.field.updates() {
		f.enqueue(d)
	}

	sentinel := deletedPrefix + ulid.Make().String()
	mark := update.NewDescriptor(update.Set(sentinel), it.field.Path()).Guard(it.field.Value())
	mark.Positional = true
	pull := update.NewDescriptor(update.Pull(sentinel), f.path).Force(sentinel)
	f.reindex()
	f.record(f, mark)
	f.record(f, pull)
	return nil
}

// adoptChildren moves the pending changes of stored elements into the
// list's own queue so they still land before an overwrite.
func (f *List) adoptChildren() {
	for _, it := range f.items {
		if it.create != nil {
			continue
		}
		for _, d := range it.field.updates() {
			f.enqueue(d)
		}
	}
}

func (f *List) dropCreates() {
	for _, it := range f.items {
		if it.create != nil {
			f.dequeue(it.create)
			it.create = nil
		}
	}
}

func (f *List) build(v any) ([]*item, error) {
	if v == nil {
		return nil, nil
	}
	elems, ok := toSlice(v)
	if !ok {
		return nil, f.mismatch("list", v)
	}
	items := make([]*item, 0, len(elems))
	for _, e := range elems {
		el := f.elem.Clone()
		if err := el.assign(e); err != nil {
			return nil, err
		}
		items = append(items, &item{field: el})
	}
	return items, nil
}

func (f *List) assign(v any) error {
	items, err := f.build(v)
	if err != nil {
		return err
	}
	f.items, f.null = items, v == nil
	f.reindex()
	return nil
}

// Load hydrates the list from a stored array.
func (f *List) Load(plain any) error { return f.assign(plain) }

func (f *List) Clone() Field {
	cp := &List{elem: f.elem.Clone()}
	cp.name = f.name
	cp.path = f.name
	cp.kind = f.kind
	cp.opts = f.opts
	var def any = []any{}
	if f.opts.hasDef {
		def = f.opts.def
	}
	if err := cp.assign(def); err != nil {
		cp.items, cp.null = nil, false
	}
	return cp
}

func (f *List) MarkSynced() {
	f.pending = nil
	for _, it := range f.items {
		it.create = nil
		it.field.MarkSynced()
	}
}

func (f *List) CompileUpdates(sub string) ([]*update.Descriptor, error) {
	if sub == "" {
		return f.updates(), nil
	}
	head, rest := splitPath(sub)
	i, err := parseIndex(head, len(f.items))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	if f.items[i].create != nil {
		return nil, nil
	}
	return f.items[i].field.CompileUpdates(rest)
}

func (f *List) updates() []*update.Descriptor {
	out := f.copyPending()
	for _, it := range f.items {
		if it.create != nil {
			it.create.Op = update.Push(it.field.Value())
			continue
		}
		out = append(out, it.field.updates()...)
	}
	return bySeq(out)
}

// toSlice converts any slice or array into []any.
func toSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
