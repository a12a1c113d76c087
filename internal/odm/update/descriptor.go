package update

import (
	"fmt"
	"sync/atomic"
)

// seq orders descriptors by creation across every field of every document,
// so a save can replay them in mutation order.
var seq atomic.Uint64

// Descriptor is one pending change produced by a field: the operator, the
// dotted path it targets and the optimistic guard that must still hold in
// the store for the change to be applied.
type Descriptor struct {
	// Op is the operator to send.
	Op Operator
	// Target is the dotted store path the operator writes.
	Target string
	// Guarded reports whether Old must match the stored value.
	Guarded bool
	// Old is the plain value the field held when the change was recorded.
	Old any
	// Forced descriptors are never merged with their neighbours.
	Forced bool
	// Token identifies a forced descriptor, e.g. a pending list append.
	Token string
	// Seq increases with every descriptor created.
	Seq uint64
	// Positional descriptors address a list element by index and fail when
	// the stored array no longer has it.
	Positional bool

	rebase []func(observed any) error
	ack    []func()
}

// NewDescriptor returns an unguarded descriptor for op at target.
func NewDescriptor(op Operator, target string) *Descriptor {
	return &Descriptor{Op: op, Target: target, Seq: seq.Add(1)}
}

// Guard makes the descriptor conditional on target still holding old.
func (d *Descriptor) Guard(old any) *Descriptor {
	d.Guarded = true
	d.Old = Plain(old)
	return d
}

// Force keeps the descriptor from being combined with others.
func (d *Descriptor) Force(token string) *Descriptor {
	d.Forced = true
	d.Token = token
	return d
}

// OnRefresh registers fn to run when a save attempt observed a different
// stored value at Target. An error from fn aborts the save.
func (d *Descriptor) OnRefresh(fn func(observed any) error) *Descriptor {
	d.rebase = append(d.rebase, fn)
	return d
}

// OnAck registers fn to run once the store applied the descriptor.
func (d *Descriptor) OnAck(fn func()) *Descriptor {
	d.ack = append(d.ack, fn)
	return d
}

// Filter returns the guard condition for the store filter, or nil.
func (d *Descriptor) Filter() map[string]any {
	if !d.Guarded {
		return nil
	}
	return map[string]any{d.Target: d.Old}
}

// Refresh rebases the descriptor and its field on an observed store value.
// present reports whether Target exists in the stored document. Only Set and
// Unset can be replayed onto a missing target, and a positional descriptor
// only when it was already guarded on the target being absent.
func (d *Descriptor) Refresh(observed any, present bool) error {
	if !present {
		k := d.Op.Kind()
		if (k != KindSet && k != KindUnset) || (d.Positional && d.Old != nil) {
			return fmt.Errorf("%s %s: %w", d.Op.Kind(), d.Target, ErrAbsentValue)
		}
	}
	for _, fn := range d.rebase {
		if err := fn(observed); err != nil {
			return err
		}
	}
	if d.Guarded {
		d.Old = Plain(observed)
	}
	return nil
}

// Ack marks the descriptor as applied by the store.
func (d *Descriptor) Ack() {
	for _, fn := range d.ack {
		fn()
	}
}

// Wire returns the store update for the descriptor alone.
func (d *Descriptor) Wire() map[string]map[string]any {
	tag, operand := d.Op.Wire()
	return map[string]map[string]any{tag: {d.Target: operand}}
}

func (d *Descriptor) String() string {
	if d.Guarded {
		return fmt.Sprintf("%s %s (was %v)", d.Op.Kind(), d.Target, d.Old)
	}
	return fmt.Sprintf("%s %s", d.Op.Kind(), d.Target)
}
