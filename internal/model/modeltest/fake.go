// Package modeltest provides a deterministic in-memory model engine for tests.
//
// The fake model hashes its input buffer, draws one logit per class from a
// generator seeded with that hash and applies softmax, so distinct inputs
// give distinct probability vectors and equal inputs give equal ones.
package modeltest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Brownie44l1/leaf-infer/internal/model"
	"github.com/x448/float16"
)

// Options shapes the fake model. Zero values fall back to a
// [1,224,224,3] float32 input and a [1,38] float32 output.
type Options struct {
	InputName   string
	InputShape  model.Shape
	InputType   model.ElementType
	OutputName  string
	OutputShape model.Shape
	OutputType  model.ElementType
}

const (
	DefaultClasses = 38
	// OutputScale is the quantization scale of integer outputs. Int8 outputs
	// use zero point -128.
	OutputScale = 1.0 / 256
)

var DefaultInputShape = model.Shape{1, 224, 224, 3}

// Engine hands out fake runtimes. Error fields are read on every call, so a
// test may arm them after the session is established.
type Engine struct {
	Options Options

	LoadErr     error
	AllocateErr error
	// Hold is slept between copying the input and returning from SetInput.
	Hold time.Duration

	mu        sync.Mutex
	invokeErr error
	last      *Runtime
}

func NewEngine(opts Options) *Engine {
	if opts.InputName == "" {
		opts.InputName = "input"
	}
	if opts.InputShape == nil {
		opts.InputShape = DefaultInputShape.Clone()
	}
	if opts.InputType == "" {
		opts.InputType = model.Float32
	}
	if opts.OutputName == "" {
		opts.OutputName = "output"
	}
	if opts.OutputShape == nil {
		opts.OutputShape = model.Shape{1, DefaultClasses}
	}
	if opts.OutputType == "" {
		opts.OutputType = model.Float32
	}
	return &Engine{Options: opts}
}

// FailInvoke makes every following Invoke return err. Pass nil to recover.
func (e *Engine) FailInvoke(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invokeErr = err
}

func (e *Engine) invokeError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.invokeErr
}

func (e *Engine) Load(path string) (model.Runtime, error) {
	if e.LoadErr != nil {
		return nil, e.LoadErr
	}
	rt := &Runtime{
		engine: e,
		inputs: []model.TensorSpec{{
			Name:  e.Options.InputName,
			Shape: e.Options.InputShape.Clone(),
			Type:  e.Options.InputType,
		}},
		outputs: []model.TensorSpec{{
			Name:  e.Options.OutputName,
			Shape: e.Options.OutputShape.Clone(),
			Type:  e.Options.OutputType,
		}},
	}
	e.mu.Lock()
	e.last = rt
	e.mu.Unlock()
	return rt, nil
}

// Runtime returns the most recently loaded runtime.
func (e *Engine) Runtime() *Runtime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Runtime is a fake model.Runtime that also detects overlapping
// set-input/invoke/get-output cycles.
type Runtime struct {
	engine  *Engine
	inputs  []model.TensorSpec
	outputs []model.TensorSpec

	allocated bool
	input     []byte
	output    []byte

	inFlight    atomic.Int32
	overlaps    atomic.Int32
	invocations atomic.Int64
	closed      atomic.Bool
}

func (r *Runtime) Inputs() []model.TensorSpec  { return r.inputs }
func (r *Runtime) Outputs() []model.TensorSpec { return r.outputs }

func (r *Runtime) ResizeInput(index int, shape model.Shape) error {
	if index != 0 {
		return fmt.Errorf("input index %d out of range", index)
	}
	r.inputs[0].Shape = shape.Clone()
	return nil
}

func (r *Runtime) Allocate() error {
	if r.engine.AllocateErr != nil {
		return r.engine.AllocateErr
	}
	if r.inputs[0].Shape.Dynamic() {
		return fmt.Errorf("input shape %s is dynamic", r.inputs[0].Shape)
	}
	out := r.outputs[0].Shape
	if len(out) > 1 && out[0] < 0 {
		out[0] = 1
	}
	r.input = make([]byte, int(r.inputs[0].Shape.Size())*r.inputs[0].Type.Size())
	r.allocated = true
	return nil
}

func (r *Runtime) SetInput(index int, t model.Tensor) error {
	if !r.allocated {
		return errors.New("runtime not allocated")
	}
	if r.inFlight.Add(1) > 1 {
		r.overlaps.Add(1)
	}
	if index != 0 {
		r.inFlight.Add(-1)
		return fmt.Errorf("input index %d out of range", index)
	}
	if len(t.Data) != len(r.input) {
		r.inFlight.Add(-1)
		return fmt.Errorf("input expects %d bytes, got %d", len(r.input), len(t.Data))
	}
	copy(r.input, t.Data)
	if r.engine.Hold > 0 {
		time.Sleep(r.engine.Hold)
	}
	return nil
}

func (r *Runtime) Invoke() error {
	if err := r.engine.invokeError(); err != nil {
		r.inFlight.Add(-1)
		return err
	}
	r.invocations.Add(1)
	h := fnv.New64a()
	h.Write(r.input)
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	spec := r.outputs[0]
	n := int(spec.Shape.Size())
	logits := make([]float64, n)
	peak := math.Inf(-1)
	for i := range logits {
		logits[i] = rng.NormFloat64() * 3
		peak = math.Max(peak, logits[i])
	}
	var sum float64
	for i := range logits {
		logits[i] = math.Exp(logits[i] - peak)
		sum += logits[i]
	}

	size := spec.Type.Size()
	r.output = make([]byte, n*size)
	for i, l := range logits {
		p := l / sum
		b := r.output[i*size : (i+1)*size]
		switch spec.Type {
		case model.Float16:
			binary.NativeEndian.PutUint16(b, float16.Fromfloat32(float32(p)).Bits())
		case model.Uint8:
			b[0] = uint8(math.Min(255, math.Round(p/OutputScale)))
		case model.Int8:
			b[0] = byte(int8(math.Min(127, math.Round(p/OutputScale)-128)))
		default:
			binary.NativeEndian.PutUint32(b, math.Float32bits(float32(p)))
		}
	}
	return nil
}

func (r *Runtime) Output(index int) (model.Tensor, error) {
	defer r.inFlight.Add(-1)
	if index != 0 {
		return model.Tensor{}, fmt.Errorf("output index %d out of range", index)
	}
	return model.Tensor{
		Shape: r.outputs[0].Shape.Clone(),
		Type:  r.outputs[0].Type,
		Data:  append([]byte(nil), r.output...),
	}, nil
}

func (r *Runtime) Close() error {
	r.closed.Store(true)
	return nil
}

// Overlaps counts cycles that started while another was still running.
func (r *Runtime) Overlaps() int { return int(r.overlaps.Load()) }

func (r *Runtime) Invocations() int64 { return r.invocations.Load() }

func (r *Runtime) Closed() bool { return r.closed.Load() }
