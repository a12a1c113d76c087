package update

import (
	"errors"
	"fmt"
)

// Combine folds consecutive descriptors that target the same path into a
// single operator with the same net effect.
//
// If any of them is a Set or Unset the result is a Set of the value obtained
// by replaying everything after the last overwrite (or Unset when that
// overwrite is the final step). Otherwise all descriptors must share a wire
// tag: $inc operands are summed, $mul multiplied, $max and $min reduced,
// pushes concatenated and pulls collected into one $pullAll.
func Combine(ds []*Descriptor) (Operator, error) {
	if len(ds) == 0 {
		return nil, errors.New("nothing to combine")
	}
	if len(ds) == 1 {
		return ds[0].Op, nil
	}

	base := -1
	for i, d := range ds {
		if k := d.Op.Kind(); k == KindSet || k == KindUnset {
			base = i
		}
	}
	if base >= 0 {
		first := ds[base].Op
		if first.Kind() == KindUnset && base == len(ds)-1 {
			return Unset(), nil
		}
		var v any
		if first.Kind() == KindSet {
			v = first.Operand()
		}
		for _, d := range ds[base+1:] {
			next, err := d.Op.Apply(v)
			if err != nil {
				return nil, fmt.Errorf("failed to combine %s on %s: %w", d.Op.Kind(), d.Target, err)
			}
			v = next
		}
		return Set(v), nil
	}

	tag, acc := ds[0].Op.Wire()
	for _, d := range ds[1:] {
		if !Compatible(ds[0].Op, d.Op) {
			t, _ := d.Op.Wire()
			return nil, fmt.Errorf("%s and %s on %s: %w", tag, t, d.Target, ErrConflictingOperator)
		}
	}

	switch tag {
	case TagInc, TagMul:
		fold := add
		if tag == TagMul {
			fold = mul
		}
		for _, d := range ds[1:] {
			_, operand := d.Op.Wire()
			next, err := fold(acc, operand)
			if err != nil {
				return nil, err
			}
			acc = next
		}
		if tag == TagMul {
			return Mul(acc), nil
		}
		return Inc(acc), nil

	case TagMax, TagMin:
		best := ds[0].Op.Operand()
		for _, d := range ds[1:] {
			c, err := Compare(d.Op.Operand(), best)
			if err != nil {
				return nil, err
			}
			if (tag == TagMax && c > 0) || (tag == TagMin && c < 0) {
				best = d.Op.Operand()
			}
		}
		if tag == TagMax {
			return Max(best), nil
		}
		return Min(best), nil

	case TagPush:
		var values []any
		for _, d := range ds {
			values = append(values, operands(d.Op)...)
		}
		return PushEach(values...), nil

	case TagPull, TagPullAll:
		var values []any
		for _, d := range ds {
			values = append(values, operands(d.Op)...)
		}
		return PullAll(values...), nil
	}

	return nil, fmt.Errorf("%s: %w", tag, ErrConflictingOperator)
}

// operands lists the values carried by an array operator.
func operands(o Operator) []any {
	switch {
	case o.Kind() == KindPullAll, IsEach(o):
		return append([]any(nil), o.Operand().([]any)...)
	}
	return []any{o.Operand()}
}

// Compatible reports whether b may be queued after a on the same field
// without an intervening save. Overwrites are compatible with everything;
// otherwise the wire tags must agree.
func Compatible(a, b Operator) bool {
	switch a.Kind() {
	case KindSet, KindUnset:
		return true
	}
	switch b.Kind() {
	case KindSet, KindUnset:
		return true
	}
	ta, _ := a.Wire()
	tb, _ := b.Wire()
	if ta == tb {
		return true
	}
	return (ta == TagPull || ta == TagPullAll) && (tb == TagPull || tb == TagPullAll)
}
