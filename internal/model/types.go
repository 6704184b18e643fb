package model

import (
	"fmt"
	"strings"
)

// ElementType is the numeric type of every element of a tensor.
type ElementType string

const (
	Float32 ElementType = "float32"
	Float16 ElementType = "float16"
	Uint8   ElementType = "uint8"
	Int8    ElementType = "int8"
)

// Size returns the width of one element in bytes, or 0 for unknown types.
func (t ElementType) Size() int {
	switch t {
	case Float32:
		return 4
	case Float16:
		return 2
	case Uint8, Int8:
		return 1
	}
	return 0
}

func (t ElementType) Quantized() bool {
	return t == Uint8 || t == Int8
}

// Shape is an ordered list of tensor dimensions. A dimension of -1 is dynamic.
type Shape []int64

// Size is the product of all dimensions. Dynamic dimensions make it -1.
func (s Shape) Size() int64 {
	if len(s) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range s {
		if d < 0 {
			return -1
		}
		n *= d
	}
	return n
}

func (s Shape) Dynamic() bool {
	for _, d := range s {
		if d < 0 {
			return true
		}
	}
	return false
}

func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Quantization holds the affine parameters mapping a quantized integer q to
// the real value (q - ZeroPoint) * Scale.
type Quantization struct {
	Scale     float64 `json:"scale"`
	ZeroPoint int64   `json:"zeroPoint"`
}

// TensorSpec describes one input or output slot of a loaded model.
type TensorSpec struct {
	Name         string        `json:"name"`
	Shape        Shape         `json:"shape"`
	Type         ElementType   `json:"dtype"`
	Index        int           `json:"index"`
	Quantization *Quantization `json:"quantization,omitempty"`
}

// Tensor is a dense row-major tensor in the runtime's native byte encoding.
type Tensor struct {
	Shape Shape
	Type  ElementType
	Data  []byte
}

// Description is the static view of a session exposed to diagnostics.
type Description struct {
	Input  TensorSpec `json:"input"`
	Output TensorSpec `json:"output"`
}

// SessionConfig carries everything NewSession needs to establish a session.
type SessionConfig struct {
	ModelPath          string
	InputShape         Shape
	InputName          string
	OutputName         string
	InputQuantization  *Quantization
	OutputQuantization *Quantization
}
