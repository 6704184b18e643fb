package model

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

const maxFloat16 = 65504

var identity = Quantization{Scale: 1}

func quantizationOrIdentity(q *Quantization) Quantization {
	if q == nil || q.Scale == 0 {
		return identity
	}
	return *q
}

// encode converts real values into the element encoding of spec. Float
// overflow is an error; quantized types round half away from zero and
// saturate at the type's range.
func encode(values []float64, spec TensorSpec) ([]byte, error) {
	size := spec.Type.Size()
	if size == 0 {
		return nil, fmt.Errorf("unsupported input element type %q", spec.Type)
	}
	q := quantizationOrIdentity(spec.Quantization)
	out := make([]byte, len(values)*size)
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("element %d: value %v is not finite", i, v)
		}
		b := out[i*size : (i+1)*size]
		switch spec.Type {
		case Float32:
			if math.Abs(v) > math.MaxFloat32 {
				return nil, fmt.Errorf("element %d: value %g overflows float32", i, v)
			}
			binary.NativeEndian.PutUint32(b, math.Float32bits(float32(v)))
		case Float16:
			if math.Abs(v) > maxFloat16 {
				return nil, fmt.Errorf("element %d: value %g overflows float16", i, v)
			}
			binary.NativeEndian.PutUint16(b, float16.Fromfloat32(float32(v)).Bits())
		case Uint8:
			b[0] = uint8(quantize(v, q, 0, math.MaxUint8))
		case Int8:
			b[0] = byte(int8(quantize(v, q, math.MinInt8, math.MaxInt8)))
		}
	}
	return out, nil
}

func quantize(v float64, q Quantization, lo, hi float64) float64 {
	r := math.Round(v/q.Scale) + float64(q.ZeroPoint)
	return math.Max(lo, math.Min(hi, r))
}

// decode reads the first count elements of t as float32, dequantizing
// integer types with q.
func decode(t Tensor, q *Quantization, count int) ([]float32, error) {
	size := t.Type.Size()
	if size == 0 {
		return nil, fmt.Errorf("unsupported output element type %q", t.Type)
	}
	if len(t.Data) < count*size {
		return nil, fmt.Errorf("output holds %d bytes, need %d for %d %s values",
			len(t.Data), count*size, count, t.Type)
	}
	qp := quantizationOrIdentity(q)
	out := make([]float32, count)
	for i := range out {
		b := t.Data[i*size : (i+1)*size]
		var v float32
		switch t.Type {
		case Float32:
			v = math.Float32frombits(binary.NativeEndian.Uint32(b))
		case Float16:
			v = float16.Frombits(binary.NativeEndian.Uint16(b)).Float32()
		case Uint8:
			v = float32(float64(int64(b[0])-qp.ZeroPoint) * qp.Scale)
		case Int8:
			v = float32(float64(int64(int8(b[0]))-qp.ZeroPoint) * qp.Scale)
		}
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("output element %d is not finite", i)
		}
		out[i] = v
	}
	return out, nil
}
