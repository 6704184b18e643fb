package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrSessionClosed = errors.New("model session is closed")

// Session owns the single loaded runtime of the process. Predict is the only
// path to the runtime and serializes every set-input/invoke/get-output cycle.
type Session struct {
	mu      sync.Mutex
	runtime Runtime

	input   TensorSpec
	output  TensorSpec
	classes int
}

// NewSession loads the model at cfg.ModelPath, allocates it and captures its
// input and output specs. Every failure is an *InitializationError.
func NewSession(engine Engine, cfg SessionConfig) (*Session, error) {
	fail := func(err error) (*Session, error) {
		return nil, &InitializationError{Path: cfg.ModelPath, Err: err}
	}
	if cfg.ModelPath == "" {
		return fail(errors.New("model path is empty"))
	}
	if len(cfg.InputShape) == 0 || cfg.InputShape.Size() <= 0 {
		return fail(fmt.Errorf("configured input shape %s must have positive dimensions", cfg.InputShape))
	}

	rt, err := engine.Load(cfg.ModelPath)
	if err != nil {
		return fail(fmt.Errorf("load: %w", err))
	}
	s, err := establish(rt, cfg)
	if err != nil {
		if cerr := rt.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to release runtime after initialization error")
		}
		return fail(err)
	}
	log.Debug().Msgf("Model session established: input %s %s, output %s %s (%d classes)",
		s.input.Shape, s.input.Type, s.output.Shape, s.output.Type, s.classes)
	return s, nil
}

func establish(rt Runtime, cfg SessionConfig) (*Session, error) {
	declared, err := selectSpec(rt.Inputs(), cfg.InputName, "input")
	if err != nil {
		return nil, err
	}
	shape, err := resolveInputShape(declared.Shape, cfg.InputShape)
	if err != nil {
		return nil, err
	}
	if len(declared.Shape) == 0 || declared.Shape.Dynamic() {
		if err := rt.ResizeInput(declared.Index, shape); err != nil {
			return nil, fmt.Errorf("resize input %q to %s: %w", declared.Name, shape, err)
		}
	}
	if err := rt.Allocate(); err != nil {
		return nil, fmt.Errorf("allocate tensors: %w", err)
	}

	input, err := selectSpec(rt.Inputs(), cfg.InputName, "input")
	if err != nil {
		return nil, err
	}
	if input.Shape.Size() != cfg.InputShape.Size() {
		return nil, fmt.Errorf("allocated input shape %s does not match configured input shape %s",
			input.Shape, cfg.InputShape)
	}
	output, err := selectSpec(rt.Outputs(), cfg.OutputName, "output")
	if err != nil {
		return nil, err
	}
	classes, err := classCount(output.Shape)
	if err != nil {
		return nil, err
	}

	if input.Quantization, err = bindQuantization(input, cfg.InputQuantization); err != nil {
		return nil, err
	}
	if output.Quantization, err = bindQuantization(output, cfg.OutputQuantization); err != nil {
		return nil, err
	}

	return &Session{
		runtime: rt,
		input:   input,
		output:  output,
		classes: classes,
	}, nil
}

// selectSpec picks the slot with the given name, or the first slot when name
// is empty.
func selectSpec(specs []TensorSpec, name, kind string) (TensorSpec, error) {
	if len(specs) == 0 {
		return TensorSpec{}, fmt.Errorf("model declares no %s tensors", kind)
	}
	if name == "" {
		return specs[0], nil
	}
	for _, spec := range specs {
		if spec.Name == name {
			return spec, nil
		}
	}
	return TensorSpec{}, fmt.Errorf("model has no %s tensor named %q", kind, name)
}

func resolveInputShape(declared, configured Shape) (Shape, error) {
	if len(declared) == 0 {
		return configured.Clone(), nil
	}
	if len(declared) != len(configured) {
		return nil, fmt.Errorf("model input shape %s has rank %d, configured input shape %s has rank %d",
			declared, len(declared), configured, len(configured))
	}
	for i, d := range declared {
		if d >= 0 && d != configured[i] {
			return nil, fmt.Errorf("model input shape %s does not match configured input shape %s at dimension %d",
				declared, configured, i)
		}
	}
	return configured.Clone(), nil
}

// classCount is the number of values in batch item 0 of an output shape.
func classCount(shape Shape) (int, error) {
	if len(shape) == 0 || shape.Dynamic() {
		return 0, fmt.Errorf("output shape %s is not static after allocation", shape)
	}
	if len(shape) == 1 {
		if shape[0] <= 0 {
			return 0, fmt.Errorf("output shape %s is empty", shape)
		}
		return int(shape[0]), nil
	}
	if shape[0] <= 0 || shape.Size() <= 0 {
		return 0, fmt.Errorf("output shape %s is empty", shape)
	}
	return int(shape.Size() / shape[0]), nil
}

func bindQuantization(spec TensorSpec, configured *Quantization) (*Quantization, error) {
	if !spec.Type.Quantized() {
		return nil, nil
	}
	q := spec.Quantization
	if configured != nil {
		q = configured
	}
	if q == nil {
		return &Quantization{Scale: 1}, nil
	}
	if q.Scale <= 0 {
		return nil, fmt.Errorf("%s tensor %q has non-positive quantization scale %v", spec.Type, spec.Name, q.Scale)
	}
	qc := *q
	return &qc, nil
}

// ExpectedInputSize is the number of elements one request must carry.
func (s *Session) ExpectedInputSize() int {
	return int(s.input.Shape.Size())
}

// ClassCount is the length of every probability vector Predict returns.
func (s *Session) ClassCount() int {
	return s.classes
}

// Describe returns copies of the static input and output specs.
func (s *Session) Describe() Description {
	return Description{Input: cloneSpec(s.input), Output: cloneSpec(s.output)}
}

func cloneSpec(spec TensorSpec) TensorSpec {
	spec.Shape = spec.Shape.Clone()
	if spec.Quantization != nil {
		q := *spec.Quantization
		spec.Quantization = &q
	}
	return spec
}

// Predict reshapes values onto the input shape (row-major), runs one forward
// pass and returns batch item 0 of the output as float32. Any failure is an
// *InferenceFault.
func (s *Session) Predict(values []float64) ([]float32, error) {
	if len(values) != s.ExpectedInputSize() {
		return nil, NewFault("reshape", fmt.Errorf("cannot reshape array of size %d into shape %s",
			len(values), s.input.Shape))
	}
	data, err := encode(values, s.input)
	if err != nil {
		return nil, NewFault("coerce", err)
	}
	out, err := s.run(Tensor{Shape: s.input.Shape.Clone(), Type: s.input.Type, Data: data})
	if err != nil {
		return nil, err
	}
	probs, err := decode(out, s.output.Quantization, s.classes)
	if err != nil {
		return nil, NewFault("decode", err)
	}
	return probs, nil
}

func (s *Session) run(in Tensor) (Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime == nil {
		return Tensor{}, NewFault("invoke", ErrSessionClosed)
	}
	if err := s.runtime.SetInput(s.input.Index, in); err != nil {
		return Tensor{}, NewFault("set_input", err)
	}
	if err := s.runtime.Invoke(); err != nil {
		return Tensor{}, NewFault("invoke", fmt.Errorf("inference failed: %w", err))
	}
	out, err := s.runtime.Output(s.output.Index)
	if err != nil {
		return Tensor{}, NewFault("get_output", err)
	}
	return out, nil
}

// Close releases the runtime. Later Predict calls fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return nil
	}
	err := s.runtime.Close()
	s.runtime = nil
	return err
}
