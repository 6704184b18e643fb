package model

import (
	"errors"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEngine runs models through ONNX Runtime. The shared library is loaded
// once per process.
type ONNXEngine struct{}

func NewONNXEngine(libraryPath string) (*ONNXEngine, error) {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	return &ONNXEngine{}, nil
}

func (e *ONNXEngine) Load(path string) (Runtime, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}
	rt := &onnxRuntime{path: path}
	if rt.inputs, err = specsFromInfo(inputs); err != nil {
		return nil, err
	}
	if rt.outputs, err = specsFromInfo(outputs); err != nil {
		return nil, err
	}
	return rt, nil
}

func (e *ONNXEngine) Close() error {
	return ort.DestroyEnvironment()
}

func specsFromInfo(infos []ort.InputOutputInfo) ([]TensorSpec, error) {
	specs := make([]TensorSpec, 0, len(infos))
	for i, info := range infos {
		t, err := elementType(info.DataType)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", info.Name, err)
		}
		specs = append(specs, TensorSpec{
			Name:  info.Name,
			Shape: Shape(info.Dimensions).Clone(),
			Type:  t,
			Index: i,
		})
	}
	return specs, nil
}

func elementType(dt ort.TensorElementDataType) (ElementType, error) {
	switch dt {
	case ort.TensorElementDataTypeFloat:
		return Float32, nil
	case ort.TensorElementDataTypeFloat16:
		return Float16, nil
	case ort.TensorElementDataTypeUint8:
		return Uint8, nil
	case ort.TensorElementDataTypeInt8:
		return Int8, nil
	}
	return "", fmt.Errorf("unsupported element type %v", dt)
}

func ortType(t ElementType) ort.TensorElementDataType {
	switch t {
	case Float16:
		return ort.TensorElementDataTypeFloat16
	case Uint8:
		return ort.TensorElementDataTypeUint8
	case Int8:
		return ort.TensorElementDataTypeInt8
	}
	return ort.TensorElementDataTypeFloat
}

// onnxRuntime binds every input and output slot to a pre-allocated byte
// tensor, so SetInput and Output are plain copies around Run.
type onnxRuntime struct {
	path    string
	inputs  []TensorSpec
	outputs []TensorSpec

	session       *ort.AdvancedSession
	inputTensors  []*ort.CustomDataTensor
	outputTensors []*ort.CustomDataTensor
}

func (r *onnxRuntime) Inputs() []TensorSpec  { return r.inputs }
func (r *onnxRuntime) Outputs() []TensorSpec { return r.outputs }

func (r *onnxRuntime) ResizeInput(index int, shape Shape) error {
	if r.session != nil {
		return errors.New("runtime already allocated")
	}
	if index < 0 || index >= len(r.inputs) {
		return fmt.Errorf("input index %d out of range", index)
	}
	r.inputs[index].Shape = shape.Clone()
	return nil
}

func (r *onnxRuntime) Allocate() error {
	if r.session != nil {
		return nil
	}
	for i := range r.outputs {
		r.outputs[i].Shape = singleBatch(r.outputs[i].Shape)
	}

	inputValues := make([]ort.ArbitraryTensor, 0, len(r.inputs))
	inputNames := make([]string, 0, len(r.inputs))
	for _, spec := range r.inputs {
		t, err := newCustomTensor(spec)
		if err != nil {
			r.Close()
			return fmt.Errorf("failed to create input tensor %q: %w", spec.Name, err)
		}
		r.inputTensors = append(r.inputTensors, t)
		inputValues = append(inputValues, t)
		inputNames = append(inputNames, spec.Name)
	}
	outputValues := make([]ort.ArbitraryTensor, 0, len(r.outputs))
	outputNames := make([]string, 0, len(r.outputs))
	for _, spec := range r.outputs {
		t, err := newCustomTensor(spec)
		if err != nil {
			r.Close()
			return fmt.Errorf("failed to create output tensor %q: %w", spec.Name, err)
		}
		r.outputTensors = append(r.outputTensors, t)
		outputValues = append(outputValues, t)
		outputNames = append(outputNames, spec.Name)
	}

	session, err := ort.NewAdvancedSession(r.path, inputNames, outputNames, inputValues, outputValues, nil)
	if err != nil {
		r.Close()
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	r.session = session
	return nil
}

// singleBatch pins a dynamic leading batch dimension to 1.
func singleBatch(shape Shape) Shape {
	out := shape.Clone()
	if len(out) > 1 && out[0] < 0 {
		out[0] = 1
	}
	return out
}

func newCustomTensor(spec TensorSpec) (*ort.CustomDataTensor, error) {
	if spec.Shape.Dynamic() || spec.Shape.Size() <= 0 {
		return nil, fmt.Errorf("shape %s is not static", spec.Shape)
	}
	data := make([]byte, int(spec.Shape.Size())*spec.Type.Size())
	return ort.NewCustomDataTensor(ort.NewShape(spec.Shape...), data, ortType(spec.Type))
}

func (r *onnxRuntime) SetInput(index int, t Tensor) error {
	if r.session == nil {
		return errors.New("runtime not allocated")
	}
	if index < 0 || index >= len(r.inputTensors) {
		return fmt.Errorf("input index %d out of range", index)
	}
	spec := r.inputs[index]
	if t.Type != spec.Type {
		return fmt.Errorf("input %q expects %s, got %s", spec.Name, spec.Type, t.Type)
	}
	dst := r.inputTensors[index].GetData()
	if len(t.Data) != len(dst) {
		return fmt.Errorf("input %q expects %d bytes, got %d", spec.Name, len(dst), len(t.Data))
	}
	copy(dst, t.Data)
	return nil
}

func (r *onnxRuntime) Invoke() error {
	if r.session == nil {
		return errors.New("runtime not allocated")
	}
	return r.session.Run()
}

func (r *onnxRuntime) Output(index int) (Tensor, error) {
	if r.session == nil {
		return Tensor{}, errors.New("runtime not allocated")
	}
	if index < 0 || index >= len(r.outputTensors) {
		return Tensor{}, fmt.Errorf("output index %d out of range", index)
	}
	spec := r.outputs[index]
	return Tensor{
		Shape: spec.Shape.Clone(),
		Type:  spec.Type,
		Data:  append([]byte(nil), r.outputTensors[index].GetData()...),
	}, nil
}

func (r *onnxRuntime) Close() error {
	var errs []error
	for _, t := range r.inputTensors {
		errs = append(errs, t.Destroy())
	}
	for _, t := range r.outputTensors {
		errs = append(errs, t.Destroy())
	}
	if r.session != nil {
		errs = append(errs, r.session.Destroy())
	}
	r.inputTensors, r.outputTensors, r.session = nil, nil, nil
	return errors.Join(errs...)
}
