package update

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		op      Operator
		prev    any
		want    any
		wantErr error
	}{
		{name: "set", op: Set(3), prev: int64(1), want: 3},
		{name: "set absent", op: Set("x"), prev: nil, want: "x"},
		{name: "inc int", op: Inc(5), prev: int64(10), want: int64(15)},
		{name: "inc float", op: Inc(0.5), prev: int64(1), want: 1.5},
		{name: "dec", op: Dec(3), prev: int64(10), want: int64(7)},
		{name: "mul", op: Mul(2), prev: int64(3), want: int64(6)},
		{name: "max keeps larger", op: Max(5), prev: int64(10), want: int64(10)},
		{name: "max raises", op: Max(15), prev: int64(10), want: int64(15)},
		{name: "min lowers", op: Min(5), prev: int64(10), want: int64(5)},
		{name: "min keeps smaller", op: Min(15), prev: int64(10), want: int64(10)},
		{name: "max strings", op: Max("b"), prev: "a", want: "b"},
		{name: "push", op: Push(3), prev: []any{int64(1)}, want: []any{int64(1), 3}},
		{name: "push each", op: PushEach(2, 3), prev: []any{1}, want: []any{1, 2, 3}},
		{name: "pull", op: Pull(2), prev: []any{int64(1), int64(2), int64(2)}, want: []any{int64(1)}},
		{name: "pull all", op: PullAll(1, 3), prev: []any{1, 2, 3}, want: []any{2}},
		{name: "unset", op: Unset(), prev: "x", want: nil},
		{name: "inc absent", op: Inc(1), prev: nil, wantErr: ErrAbsentValue},
		{name: "unset absent", op: Unset(), prev: nil, wantErr: ErrAbsentValue},
		{name: "inc string", op: Inc(1), prev: "x", wantErr: ErrNotNumeric},
		{name: "push scalar", op: Push(1), prev: int64(1), wantErr: ErrNotArray},
		{name: "max mixed", op: Max("a"), prev: int64(1), wantErr: ErrNotComparable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op.Apply(tt.prev)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Apply() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Apply() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWire(t *testing.T) {
	tests := []struct {
		name    string
		op      Operator
		tag     string
		operand any
	}{
		{"set", Set(1), TagSet, int64(1)},
		{"dec negates", Dec(4), TagInc, int64(-4)},
		{"mul", Mul(2.5), TagMul, 2.5},
		{"push each", PushEach("a", "b"), TagPush, map[string]any{EachKey: []any{"a", "b"}}},
		{"pull all", PullAll(1), TagPullAll, []any{int64(1)}},
		{"set time", Set(time.Date(2024, 1, 2, 3, 4, 5, 6789000, time.UTC)), TagSet, "2024-01-02T03:04:05.006Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, operand := tt.op.Wire()
			if tag != tt.tag {
				t.Errorf("tag = %q, want %q", tag, tt.tag)
			}
			if diff := cmp.Diff(tt.operand, operand); diff != "" {
				t.Errorf("operand mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	if !Equal(int64(3), 3.0) {
		t.Error("expected 3 == 3.0")
	}
	if Equal([]any{1, "a"}, []any{1, "b"}) {
		t.Error("expected arrays to differ")
	}
	if !Equal(map[string]any{"a": 1}, map[string]any{"a": int64(1)}) {
		t.Error("expected maps to be equal")
	}
	if !Equal([]string{"x", "y"}, []any{"x", "y"}) {
		t.Error("expected typed slice to equal plain slice")
	}
	if Equal(nil, 0) {
		t.Error("nil must not equal 0")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int", 7, int64(7)},
		{"int8", int8(-3), int64(-3)},
		{"uint32", uint32(9), int64(9)},
		{"uint64 in range", uint64(math.MaxInt64), int64(math.MaxInt64)},
		{"uint64 above int64", uint64(1 << 63), float64(1 << 63)},
		{"uint above int64", uint(math.MaxUint64), float64(math.MaxUint64)},
		{"float32", float32(1.5), 1.5},
		{"string", "x", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%v) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
			}
		})
	}

	got, err := Inc(uint64(1<<63)).Apply(int64(1))
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if f, ok := got.(float64); !ok || f <= 0 {
		t.Errorf("Inc(1<<63).Apply(1) = %v, want a large positive float", got)
	}
}

func TestDescriptorFilter(t *testing.T) {
	d := NewDescriptor(Inc(1), "num")
	if d.Filter() != nil {
		t.Fatalf("unguarded filter = %v, want nil", d.Filter())
	}

	d.Guard(int64(10))
	if diff := cmp.Diff(map[string]any{"num": int64(10)}, d.Filter()); diff != "" {
		t.Errorf("Filter() mismatch (-want +got):\n%s", diff)
	}

	var seen any
	acked := false
	d.OnRefresh(func(v any) error { seen = v; return nil }).OnAck(func() { acked = true })
	if err := d.Refresh(int64(12), true); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if seen != int64(12) || d.Old != int64(12) {
		t.Errorf("Refresh() seen = %v old = %v, want 12", seen, d.Old)
	}
	d.Ack()
	if !acked {
		t.Error("Ack() did not run hook")
	}
}

func TestDescriptorRefreshAbsent(t *testing.T) {
	tests := []struct {
		name       string
		op         Operator
		old        any
		positional bool
		wantErr    error
	}{
		{name: "set", op: Set(int64(1)), old: int64(7)},
		{name: "unset", op: Unset(), old: int64(7)},
		{name: "inc", op: Inc(1), old: int64(7), wantErr: ErrAbsentValue},
		{name: "push", op: Push("x"), old: []any{}, wantErr: ErrAbsentValue},
		{name: "max", op: Max(3), old: int64(7), wantErr: ErrAbsentValue},
		{name: "positional set", op: Set(int64(1)), old: int64(7), positional: true, wantErr: ErrAbsentValue},
		{name: "positional create", op: Set(int64(1)), positional: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDescriptor(tt.op, "items.2").Guard(tt.old)
			d.Positional = tt.positional
			called := false
			d.OnRefresh(func(any) error { called = true; return nil })

			err := d.Refresh(nil, false)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Refresh() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if called || !Equal(d.Old, tt.old) {
					t.Errorf("failed Refresh() changed state: called = %v, old = %v", called, d.Old)
				}
				return
			}
			if !called || d.Old != nil {
				t.Errorf("Refresh() called = %v, old = %v; want hook run and old nil", called, d.Old)
			}
		})
	}
}

func TestDescriptorRefreshHookError(t *testing.T) {
	d := NewDescriptor(Inc(1), "num").Guard(int64(1))
	d.OnRefresh(func(any) error { return ErrNotNumeric })
	if err := d.Refresh("x", true); !errors.Is(err, ErrNotNumeric) {
		t.Errorf("Refresh() error = %v, want ErrNotNumeric", err)
	}
	if d.Old != int64(1) {
		t.Errorf("Old = %v after failed refresh, want 1", d.Old)
	}
}
