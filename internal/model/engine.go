package model

// Engine loads models into runtimes.
type Engine interface {
	Load(path string) (Runtime, error)
}

// Runtime is one loaded model instance. Input and output buffers are
// engine-internal state, so a Runtime must not be used from more than one
// goroutine at a time. Session is the only caller.
type Runtime interface {
	// Inputs and Outputs report the declared tensor slots. Shapes may hold
	// dynamic dimensions until Allocate has run.
	Inputs() []TensorSpec
	Outputs() []TensorSpec

	// ResizeInput fixes the shape of a dynamic input before allocation.
	ResizeInput(index int, shape Shape) error
	Allocate() error

	SetInput(index int, t Tensor) error
	Invoke() error
	// Output returns a copy of the output slot; the runtime may overwrite
	// its own buffer on the next Invoke.
	Output(index int) (Tensor, error)

	Close() error
}
