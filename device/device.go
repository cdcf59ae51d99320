// Package device holds the operations that run on an execution context and
// the contract an execution context has to satisfy.
//
// An Op is a plain value: its parameters plus an Apply method that mutates a
// single element. Executors copy the Op into the job and invoke Apply on every
// element of the buffer, in no particular order.
package device

import "context"

//go:generate mockgen -package mocks -destination mocks/mocks_device.go github.com/openfluke/reactor/device Executor,Event

// Op is an elementwise transform that can be shipped to an executor.
//
// Implementations must be comparable value types whose Apply touches only the
// element it is given. Apply must not reference the executor.
type Op interface {
	Name() string
	Apply(x *float64)
}

// Multiply scales every element by A.
type Multiply struct {
	A float64
}

func (Multiply) Name() string { return "multiply" }

func (m Multiply) Apply(x *float64) { *x *= m.A }

// Add offsets every element by B.
type Add struct {
	B int
}

func (Add) Name() string { return "add" }

func (a Add) Apply(x *float64) { *x += float64(a.B) }

// Kernel is a single data-parallel job: Op applied to every element of Data.
// Data is borrowed from the caller for the lifetime of the job only.
type Kernel struct {
	Op   Op
	Data []float64
}

// Len returns the size of the index range covered by the job.
func (k Kernel) Len() int { return len(k.Data) }

// Executor launches data-parallel jobs on some device.
type Executor interface {
	// Name identifies the executor in logs, metrics and errors.
	Name() string

	// Submit enqueues k. Launch failures are reported through the
	// returned Event rather than directly.
	Submit(ctx context.Context, k Kernel) Event
}

// Event tracks a submitted job.
type Event interface {
	// Wait blocks until the job has finished and returns its failure, if any.
	Wait() error
}

// Run submits k to exec and blocks until it completes. Any failure is
// returned as an *ExecutionError.
func Run(ctx context.Context, exec Executor, k Kernel) error {
	if err := exec.Submit(ctx, k).Wait(); err != nil {
		op := "<nil>"
		if k.Op != nil {
			op = k.Op.Name()
		}
		return NewExecutionError(exec.Name(), op, err)
	}
	return nil
}

// Done is an Event that has already completed with Err.
type Done struct {
	Err error
}

func (d Done) Wait() error { return d.Err }
