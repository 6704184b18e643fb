package model

import (
	"fmt"
	"runtime/debug"
)

// InitializationError means no session could be established. The process
// must not start serving.
type InitializationError struct {
	Path string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("failed to initialize model %q: %v", e.Path, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// InferenceFault is an unexpected per-request failure past validation. It
// records the stack at the point it was raised.
type InferenceFault struct {
	Op    string
	Err   error
	stack []byte
}

// NewFault wraps err as a fault of operation op and captures the current stack.
func NewFault(op string, err error) *InferenceFault {
	return &InferenceFault{Op: op, Err: err, stack: debug.Stack()}
}

func (e *InferenceFault) Error() string {
	return e.Err.Error()
}

func (e *InferenceFault) Unwrap() error {
	return e.Err
}

// Traceback renders the failing operation, the error chain and the captured
// goroutine stack.
func (e *InferenceFault) Traceback() string {
	return fmt.Sprintf("%s: %+v\n\n%s", e.Op, e.Err, e.stack)
}
