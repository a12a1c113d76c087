// Package update implements the update operators recorded by document fields.
//
// Every operator knows two things: how it is written to the store (its wire tag
// and operand) and how it changes a value locally. Fields apply operators
// locally the moment they are assigned and replay the wire form on save.
//
//	doc.Set("num", update.Inc(5))     // local value += 5, wire {"$inc": {"num": 5}}
//	doc.Set("score", update.Max(10))  // local value = max(value, 10)
//	doc.Set("tags", update.Push("x")) // local value = append(value, "x")
package update

import (
	"fmt"
)

// Kind identifies an operator.
type Kind int

const (
	// KindSet overwrites the value.
	KindSet Kind = iota
	// KindUnset removes the value.
	KindUnset
	// KindInc adds to a number.
	KindInc
	// KindDec subtracts from a number. It shares the $inc wire tag.
	KindDec
	// KindMul multiplies a number.
	KindMul
	// KindMax keeps the larger of the value and the operand.
	KindMax
	// KindMin keeps the smaller of the value and the operand.
	KindMin
	// KindPush appends to an array.
	KindPush
	// KindPull removes every array element equal to the operand.
	KindPull
	// KindPullAll removes every array element equal to one of the operands.
	KindPullAll
)

// Wire tags understood by the document store.
const (
	TagSet     = "$set"
	TagUnset   = "$unset"
	TagInc     = "$inc"
	TagMul     = "$mul"
	TagMax     = "$max"
	TagMin     = "$min"
	TagPush    = "$push"
	TagPull    = "$pull"
	TagPullAll = "$pullAll"

	// EachKey wraps several values pushed in one $push.
	EachKey = "$each"
)

// String returns the operator name.
func (k Kind) String() string {
	switch k {
	case KindSet:
		return "set"
	case KindUnset:
		return "unset"
	case KindInc:
		return "inc"
	case KindDec:
		return "dec"
	case KindMul:
		return "mul"
	case KindMax:
		return "max"
	case KindMin:
		return "min"
	case KindPush:
		return "push"
	case KindPull:
		return "pull"
	case KindPullAll:
		return "pullAll"
	default:
		return "unknown"
	}
}

// Operator is a single update applied to a field.
type Operator interface {
	// Kind identifies the operator.
	Kind() Kind
	// Operand returns the operand as given (domain form).
	Operand() any
	// Wire returns the store tag and the plain operand.
	Wire() (tag string, operand any)
	// Apply computes the new logical value from the previous one.
	Apply(prev any) (any, error)
}

type op struct {
	kind    Kind
	operand any
	each    bool
}

// Set overwrites the field with v.
func Set(v any) Operator { return &op{kind: KindSet, operand: v} }

// Unset removes the field.
func Unset() Operator { return &op{kind: KindUnset} }

// Inc adds n to a numeric field.
func Inc(n any) Operator { return &op{kind: KindInc, operand: Normalize(n)} }

// Dec subtracts n from a numeric field.
func Dec(n any) Operator { return &op{kind: KindDec, operand: Normalize(n)} }

// Mul multiplies a numeric field by n.
func Mul(n any) Operator { return &op{kind: KindMul, operand: Normalize(n)} }

// Max raises the field to v if v is larger.
func Max(v any) Operator { return &op{kind: KindMax, operand: Normalize(v)} }

// Min lowers the field to v if v is smaller.
func Min(v any) Operator { return &op{kind: KindMin, operand: Normalize(v)} }

// Push appends v to an array field.
func Push(v any) Operator { return &op{kind: KindPush, operand: v} }

// PushEach appends every value in vs to an array field in one update.
func PushEach(vs ...any) Operator {
	return &op{kind: KindPush, operand: append([]any(nil), vs...), each: true}
}

// Pull removes every element equal to v from an array field.
func Pull(v any) Operator { return &op{kind: KindPull, operand: v} }

// PullAll removes every element equal to one of vs from an array field.
func PullAll(vs ...any) Operator {
	return &op{kind: KindPullAll, operand: append([]any(nil), vs...)}
}

// WithOperand returns a copy of o carrying operand v instead. Fields use it
// to coerce operands into their declared type before applying them.
func WithOperand(o Operator, v any) Operator {
	src, ok := o.(*op)
	if !ok {
		return o
	}
	cp := *src
	cp.operand = v
	return &cp
}

// IsEach reports whether o pushes several values at once.
func IsEach(o Operator) bool {
	src, ok := o.(*op)
	return ok && src.each
}

func (o *op) Kind() Kind   { return o.kind }
func (o *op) Operand() any { return o.operand }

func (o *op) Wire() (string, any) {
	switch o.kind {
	case KindSet:
		return TagSet, Plain(o.operand)
	case KindUnset:
		return TagUnset, ""
	case KindInc:
		return TagInc, o.operand
	case KindDec:
		n, err := negate(o.operand)
		if err != nil {
			return TagInc, o.operand
		}
		return TagInc, n
	case KindMul:
		return TagMul, o.operand
	case KindMax:
		return TagMax, Plain(o.operand)
	case KindMin:
		return TagMin, Plain(o.operand)
	case KindPush:
		if o.each {
			return TagPush, map[string]any{EachKey: Plain(o.operand)}
		}
		return TagPush, Plain(o.operand)
	case KindPull:
		return TagPull, Plain(o.operand)
	case KindPullAll:
		return TagPullAll, Plain(o.operand)
	}
	return "", nil
}

func (o *op) Apply(prev any) (any, error) {
	if o.kind == KindSet {
		return o.operand, nil
	}
	if prev == nil {
		return nil, fmt.Errorf("%s: %w", o.kind, ErrAbsentValue)
	}

	switch o.kind {
	case KindUnset:
		return nil, nil
	case KindInc:
		return add(prev, o.operand)
	case KindDec:
		n, err := negate(o.operand)
		if err != nil {
			return nil, err
		}
		return add(prev, n)
	case KindMul:
		return mul(prev, o.operand)
	case KindMax:
		c, err := Compare(prev, o.operand)
		if err != nil {
			return nil, err
		}
		if c >= 0 {
			return prev, nil
		}
		return o.operand, nil
	case KindMin:
		c, err := Compare(prev, o.operand)
		if err != nil {
			return nil, err
		}
		if c <= 0 {
			return prev, nil
		}
		return o.operand, nil
	case KindPush:
		arr, ok := prev.([]any)
		if !ok {
			return nil, fmt.Errorf("push onto %T: %w", prev, ErrNotArray)
		}
		values := []any{o.operand}
		if o.each {
			values = o.operand.([]any)
		}
		out := make([]any, 0, len(arr)+len(values))
		out = append(out, arr...)
		return append(out, values...), nil
	case KindPull:
		return pull(prev, []any{o.operand})
	case KindPullAll:
		return pull(prev, o.operand.([]any))
	}
	return nil, fmt.Errorf("unknown operator kind %d", o.kind)
}

func (o *op) String() string {
	return fmt.Sprintf("%s(%v)", o.kind, o.operand)
}

func pull(prev any, values []any) (any, error) {
	arr, ok := prev.([]any)
	if !ok {
		return nil, fmt.Errorf("pull from %T: %w", prev, ErrNotArray)
	}
	out := make([]any, 0, len(arr))
	for _, elem := range arr {
		drop := false
		for _, v := range values {
			if Equal(elem, v) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, elem)
		}
	}
	return out, nil
}
