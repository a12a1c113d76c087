package update

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func descs(ops ...Operator) []*Descriptor {
	out := make([]*Descriptor, len(ops))
	for i, op := range ops {
		out[i] = NewDescriptor(op, "f")
	}
	return out
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name    string
		ops     []Operator
		tag     string
		operand any
		wantErr bool
	}{
		{name: "single", ops: []Operator{Inc(5)}, tag: TagInc, operand: int64(5)},
		{name: "inc twice", ops: []Operator{Inc(5), Inc(10)}, tag: TagInc, operand: int64(15)},
		{name: "inc and dec", ops: []Operator{Inc(5), Dec(2)}, tag: TagInc, operand: int64(3)},
		{name: "mul many", ops: []Operator{Mul(2), Mul(3), Mul(0.5)}, tag: TagMul, operand: 3.0},
		{name: "max", ops: []Operator{Max(3), Max(9), Max(4)}, tag: TagMax, operand: int64(9)},
		{name: "min", ops: []Operator{Min(3), Min(9), Min(1)}, tag: TagMin, operand: int64(1)},
		{name: "set then inc", ops: []Operator{Set(10), Inc(5)}, tag: TagSet, operand: int64(15)},
		{name: "inc then set", ops: []Operator{Inc(5), Set(2)}, tag: TagSet, operand: int64(2)},
		{name: "set then unset", ops: []Operator{Set(1), Unset()}, tag: TagUnset, operand: ""},
		{name: "unset then set", ops: []Operator{Unset(), Set("x")}, tag: TagSet, operand: "x"},
		{name: "push", ops: []Operator{Push(1), PushEach(2, 3)}, tag: TagPush, operand: map[string]any{EachKey: []any{int64(1), int64(2), int64(3)}}},
		{name: "pull", ops: []Operator{Pull(1), PullAll(2)}, tag: TagPullAll, operand: []any{int64(1), int64(2)}},
		{name: "inc then mul", ops: []Operator{Inc(1), Mul(2)}, wantErr: true},
		{name: "push then pull", ops: []Operator{Push(1), Pull(1)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := Combine(descs(tt.ops...))
			if tt.wantErr {
				if !errors.Is(err, ErrConflictingOperator) {
					t.Fatalf("Combine() error = %v, want ErrConflictingOperator", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Combine() unexpected error: %v", err)
			}
			tag, operand := op.Wire()
			if tag != tt.tag {
				t.Errorf("tag = %q, want %q", tag, tt.tag)
			}
			if diff := cmp.Diff(tt.operand, operand); diff != "" {
				t.Errorf("operand mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCombineMatchesSequentialApply(t *testing.T) {
	ops := []Operator{Inc(3), Dec(1), Inc(10)}
	combined, err := Combine(descs(ops...))
	if err != nil {
		t.Fatalf("Combine() error: %v", err)
	}

	var seq any = int64(100)
	for _, op := range ops {
		if seq, err = op.Apply(seq); err != nil {
			t.Fatalf("Apply() error: %v", err)
		}
	}
	got, err := combined.Apply(int64(100))
	if err != nil {
		t.Fatalf("Apply(combined) error: %v", err)
	}
	if !Equal(seq, got) {
		t.Errorf("combined = %v, sequential = %v", got, seq)
	}
}

func TestCompatible(t *testing.T) {
	if !Compatible(Inc(1), Dec(1)) {
		t.Error("inc and dec share a wire tag")
	}
	if Compatible(Inc(1), Max(1)) {
		t.Error("inc and max must conflict")
	}
	if !Compatible(Max(1), Set(1)) {
		t.Error("set is compatible with everything")
	}
}
