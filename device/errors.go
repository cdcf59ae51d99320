package device

import (
	"fmt"

	"golang.org/x/xerrors"
)

var (
	// ErrNoGPU is returned when no WebGPU adapter or device could be acquired.
	ErrNoGPU = xerrors.New("gpu unavailable")

	// ErrExecutorClosed is returned for jobs submitted after Close.
	ErrExecutorClosed = xerrors.New("executor closed")

	// ErrUnsupportedOp is returned when an executor has no kernel for an Op.
	ErrUnsupportedOp = xerrors.New("unsupported operation")

	// ErrBufferTooLarge is returned when a job exceeds the device dispatch limits.
	ErrBufferTooLarge = xerrors.New("buffer exceeds device dispatch limits")

	// ErrOutOfRange is returned when a value cannot be represented by the
	// number format an executor computes in.
	ErrOutOfRange = xerrors.New("value out of range for executor")
)

// ExecutionError reports a job that failed to launch or faulted while running.
//
// After an ExecutionError the contents of the buffer are unspecified: any
// subset of the elements may already have been transformed.
type ExecutionError struct {
	Executor string
	Op       string
	Err      error
}

// NewExecutionError wraps err. An err that already is an *ExecutionError is
// returned unchanged.
func NewExecutionError(executor, op string, err error) error {
	var execErr *ExecutionError
	if xerrors.As(err, &execErr) {
		return err
	}
	return &ExecutionError{Executor: executor, Op: op, Err: err}
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s kernel failed (buffer contents unspecified): %v", e.Executor, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ConstructionError reports an Op that could not be built from its parameters.
type ConstructionError struct {
	Op    string
	Param string
	Err   error
}

func (e *ConstructionError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("construct %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("construct %s(%q): %v", e.Op, e.Param, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }
