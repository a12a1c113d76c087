package odm

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// scalarKind describes how a scalar field type accepts values.
type scalarKind struct {
	name string
	// ref names the target schema of reference fields.
	ref string
	// coerce converts an accepted domain or plain value into the canonical
	// domain form. ok is false when v is not of the type.
	coerce func(v any) (out any, ok bool)
}

// Scalar is a field holding a single value.
type Scalar struct {
	base
	sk    scalarKind
	value any
}

func newScalar(sk scalarKind, name string, opts []Option) *Scalar {
	f := &Scalar{sk: sk}
	f.name = name
	f.path = name
	f.kind = sk.name
	f.opts = buildOptions(opts)
	if f.opts.hasDef {
		if v, ok := sk.coerce(f.opts.def); ok {
			f.opts.def = v
		}
	}
	f.value = f.opts.def
	return f
}

// String declares a string field.
func String(name string, opts ...Option) *Scalar { return newScalar(stringKind, name, opts) }

// Int declares an integer field. Values are stored as int64.
func Int(name string, opts ...Option) *Scalar { return newScalar(intKind, name, opts) }

// Float declares a floating point field. Integers are widened.
func Float(name string, opts ...Option) *Scalar { return newScalar(floatKind, name, opts) }

// Bool declares a boolean field.
func Bool(name string, opts ...Option) *Scalar { return newScalar(boolKind, name, opts) }

// DateTime declares a timestamp field. It accepts time.Time, RFC 3339
// strings, unix seconds and natural language such as "tomorrow 5pm".
// Values are kept in UTC with millisecond precision.
func DateTime(name string, opts ...Option) *Scalar { return newScalar(dateTimeKind, name, opts) }

// ObjectID declares a field holding a document identifier.
func ObjectID(name string, opts ...Option) *Scalar { return newScalar(objectIDKind, name, opts) }

// Reference declares a field pointing at a saved document of the named
// schema. It accepts the *Document itself or its id and stores the id.
func Reference(name, schema string, opts ...Option) *Scalar {
	return newScalar(referenceKind(schema), name, opts)
}

func (f *Scalar) Value() any { return f.value }

func (f *Scalar) Plain() any { return update.Plain(f.value) }

func (f *Scalar) attach(o owner, name, path string) { f.attachBase(o, name, path) }

func (f *Scalar) child(sub string) (Field, error) {
	return nil, &FieldNotFoundError{Owner: f.path, Name: sub}
}

// Validate checks v against the field type.
func (f *Scalar) Validate(v any) error {
	if v == nil {
		return f.checkRequired(v)
	}
	if _, ok := f.sk.coerce(v); !ok {
		return f.reject(v)
	}
	return nil
}

func (f *Scalar) reject(v any) error {
	if doc, ok := v.(*Document); ok && doc != nil && f.sk.ref != "" && doc.id == "" && doc.schema.name == f.sk.ref {
		return fmt.Errorf("%s: %w", f.path, ErrUnresolvableReference)
	}
	return f.mismatch(f.sk.name, v)
}

// Set assigns v, which may be an update.Operator.
func (f *Scalar) Set(v any) error {
	op := asOperator(v)

	if !isOverwrite(op) {
		for _, d := range f.pending {
			if !update.Compatible(d.Op, op) {
				return fmt.Errorf("%s pending on %s, cannot add %s: %w", d.Op.Kind(), f.path, op.Kind(), ErrConflictingOperator)
			}
		}
	}

	switch op.Kind() {
	case update.KindSet, update.KindMax, update.KindMin:
		if operand := op.Operand(); operand != nil {
			c, ok := f.sk.coerce(operand)
			if !ok {
				return f.reject(operand)
			}
			op = update.WithOperand(op, c)
		}
	case update.KindInc, update.KindDec, update.KindMul:
		if f.sk.name != intKind.name && f.sk.name != floatKind.name {
			return f.mismatch("number", f.value)
		}
		if !isNumber(op.Operand()) {
			return f.mismatch("number", op.Operand())
		}
	case update.KindUnset:
	default:
		return f.unsupported(op)
	}

	next, err := op.Apply(f.value)
	if err != nil {
		return fmt.Errorf("%s: %w", f.path, err)
	}
	if next != nil {
		c, ok := f.sk.coerce(next)
		if !ok {
			return f.mismatch(f.sk.name, next)
		}
		next = c
	}
	if err := f.checkRequired(next); err != nil {
		return err
	}

	prev := f.value
	f.value = next
	if f.opts.noSync {
		return nil
	}

	d := update.NewDescriptor(op, f.path).Guard(prev)
	d.OnRefresh(f.rebase)
	f.record(f, d)
	return nil
}

// rebase replays pending operators on top of a freshly observed stored
// value. Pending overwrites make the local value independent of the store.
func (f *Scalar) rebase(observed any) error {
	v := observed
	if v != nil {
		c, ok := f.sk.coerce(v)
		if !ok {
			return f.mismatch(f.sk.name, v)
		}
		v = c
	}

	olds := make([]any, 0, len(f.pending))
	overwritten := false
	for _, d := range f.pending {
		if isOverwrite(d.Op) {
			overwritten = true
			break
		}
		olds = append(olds, update.Plain(v))
		next, err := d.Op.Apply(v)
		if err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
		v = next
	}
	for i, old := range olds {
		f.pending[i].Old = old
	}
	if overwritten {
		return nil
	}

	if v != nil {
		if c, ok := f.sk.coerce(v); ok {
			v = c
		}
	}
	f.value = v
	return nil
}

func isNumber(v any) bool {
	switch update.Normalize(v).(type) {
	case int64, float64:
		return true
	}
	return false
}

func (f *Scalar) assign(v any) error {
	if v == nil {
		f.value = nil
		return nil
	}
	c, ok := f.sk.coerce(v)
	if !ok {
		return f.reject(v)
	}
	f.value = c
	return nil
}

// Load hydrates the field from a stored value.
func (f *Scalar) Load(plain any) error { return f.assign(plain) }

func (f *Scalar) Clone() Field {
	cp := &Scalar{sk: f.sk, value: f.opts.def}
	cp.name = f.name
	cp.path = f.name
	cp.kind = f.kind
	cp.opts = f.opts
	return cp
}

func (f *Scalar) MarkSynced() { f.pending = nil }

func (f *Scalar) CompileUpdates(sub string) ([]*update.Descriptor, error) {
	if sub != "" {
		return nil, &FieldNotFoundError{Owner: f.path, Name: sub}
	}
	return f.copyPending(), nil
}

func (f *Scalar) updates() []*update.Descriptor { return f.copyPending() }

var stringKind = scalarKind{
	name: "string",
	coerce: func(v any) (any, bool) {
		s, ok := v.(string)
		return s, ok
	},
}

var objectIDKind = scalarKind{
	name: "objectid",
	coerce: func(v any) (any, bool) {
		s, ok := v.(string)
		return s, ok && s != ""
	},
}

var boolKind = scalarKind{
	name: "bool",
	coerce: func(v any) (any, bool) {
		b, ok := v.(bool)
		return b, ok
	},
}

var intKind = scalarKind{
	name: "int",
	coerce: func(v any) (any, bool) {
		switch n := update.Normalize(v).(type) {
		case int64:
			return n, true
		case float64:
			// Stored integers may come back as floats after $mul by a float.
			if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
				return int64(n), true
			}
		}
		return nil, false
	},
}

var floatKind = scalarKind{
	name: "float",
	coerce: func(v any) (any, bool) {
		switch n := update.Normalize(v).(type) {
		case int64:
			return float64(n), true
		case float64:
			return n, true
		}
		return nil, false
	},
}

var dateTimeKind = scalarKind{
	name: "datetime",
	coerce: func(v any) (any, bool) {
		t, err := ParseTime(v)
		return t, err == nil
	},
}

func referenceKind(schema string) scalarKind {
	return scalarKind{
		name: "reference to " + schema,
		ref:  schema,
		coerce: func(v any) (any, bool) {
			switch r := v.(type) {
			case string:
				return r, r != ""
			case *Document:
				if r == nil || r.schema.name != schema || r.id == "" {
					return nil, false
				}
				return r.id, true
			}
			return nil, false
		},
	}
}

var naturalTime = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseTime converts a time.Time, a timestamp string, a natural language
// phrase or unix seconds into a UTC time truncated to milliseconds.
func ParseTime(v any) (time.Time, error) {
	var t time.Time
	switch x := update.Normalize(v).(type) {
	case time.Time:
		t = x
	case int64:
		t = time.Unix(x, 0)
	case float64:
		sec, frac := math.Modf(x)
		t = time.Unix(int64(sec), int64(frac*1e9))
	case string:
		parsed, err := parseTimeString(x)
		if err != nil {
			return time.Time{}, err
		}
		t = parsed
	default:
		return time.Time{}, fmt.Errorf("cannot interpret %T as time: %w", v, ErrTypeMismatch)
	}
	return t.UTC().Truncate(time.Millisecond), nil
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{update.TimeLayout, time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	r, err := naturalTime.Parse(s, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("cannot interpret %q as time: %w", s, ErrTypeMismatch)
	}
	return r.Time, nil
}
