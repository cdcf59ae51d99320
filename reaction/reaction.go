// Package reaction wraps device operations into reactions that can be invoked
// uniformly against any executor.
//
// A Reaction[O] owns one operation of a statically known type. Handles erase
// that type so differently parametrized reactions can live in one collection:
//
//	reactions := reaction.Set{
//	    reaction.Handle(reaction.NewMultiply(0.1)),
//	    reaction.Handle(reaction.NewAdd(2)),
//	}
//	err := reactions.React(ctx, exec, buf)
package reaction

import (
	"context"

	"github.com/openfluke/reactor/device"
	"golang.org/x/xerrors"
)

// Reactor is the polymorphic handle over any Reaction.
type Reactor interface {
	// React applies the reaction to every element of buf and blocks until
	// the executor has finished. Failures are returned as
	// *device.ExecutionError and leave buf in an unspecified state.
	React(ctx context.Context, exec device.Executor, buf []float64) error
}

var (
	_ Reactor = (*Reaction[device.Multiply])(nil)
	_ Reactor = (*Reaction[device.Add])(nil)
	_ Reactor = Set(nil)
)

// Reaction applies a fixed operation of type O. It is immutable once built
// and holds no executor resources between calls.
type Reaction[O device.Op] struct {
	op O
}

// New returns a reaction owning op.
func New[O device.Op](op O) *Reaction[O] {
	return &Reaction[O]{op: op}
}

// NewMultiply returns a reaction computing x * a.
func NewMultiply(a float64) *Reaction[device.Multiply] {
	return New(device.Multiply{A: a})
}

// NewAdd returns a reaction computing x + b.
func NewAdd(b int) *Reaction[device.Add] {
	return New(device.Add{B: b})
}

// Op returns a copy of the owned operation.
func (r *Reaction[O]) Op() O { return r.op }

// Name returns the name of the owned operation.
func (r *Reaction[O]) Name() string { return r.op.Name() }

// React implements Reactor. The operation is copied into the kernel, so the
// executor never observes the reaction itself. An empty buffer is a no-op.
// Passing a nil executor is a programming error and panics.
func (r *Reaction[O]) React(ctx context.Context, exec device.Executor, buf []float64) error {
	if exec == nil {
		panic("reaction: React called with a nil executor")
	}
	if len(buf) == 0 {
		return nil
	}
	op := r.op
	return device.Run(ctx, exec, device.Kernel{Op: op, Data: buf})
}

// Handle erases the concrete type of r. A nil r is a programming error and
// panics: a handle is always callable.
func Handle[O device.Op](r *Reaction[O]) Reactor {
	if r == nil {
		panic("reaction: Handle called with a nil reaction")
	}
	return r
}

// Set is an ordered collection of reactions.
type Set []Reactor

// React invokes every reaction in order against buf. It stops at the first
// failure; reactions after it are not run.
func (s Set) React(ctx context.Context, exec device.Executor, buf []float64) error {
	for i, r := range s {
		if err := r.React(ctx, exec, buf); err != nil {
			return xerrors.Errorf("reaction %d: %w", i, err)
		}
	}
	return nil
}
