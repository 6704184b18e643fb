package model_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Brownie44l1/leaf-infer/internal/model"
	"github.com/Brownie44l1/leaf-infer/internal/model/modeltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionConfig() model.SessionConfig {
	return model.SessionConfig{
		ModelPath:  "models/model.onnx",
		InputShape: model.Shape{1, 224, 224, 3},
	}
}

func newSession(t *testing.T, engine *modeltest.Engine, cfg model.SessionConfig) *model.Session {
	t.Helper()
	session, err := model.NewSession(engine, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func filled(n int, v float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return values
}

func TestNewSessionCapturesSpecs(t *testing.T) {
	session := newSession(t, modeltest.NewEngine(modeltest.Options{}), sessionConfig())

	assert.Equal(t, 150528, session.ExpectedInputSize())
	assert.Equal(t, 38, session.ClassCount())

	desc := session.Describe()
	assert.Equal(t, "input", desc.Input.Name)
	assert.Equal(t, model.Shape{1, 224, 224, 3}, desc.Input.Shape)
	assert.Equal(t, model.Float32, desc.Input.Type)
	assert.Equal(t, model.Shape{1, 38}, desc.Output.Shape)
	assert.Nil(t, desc.Input.Quantization)

	desc.Input.Shape[0] = 99
	assert.Equal(t, int64(1), session.Describe().Input.Shape[0])
}

func TestNewSessionResolvesDynamicDims(t *testing.T) {
	engine := modeltest.NewEngine(modeltest.Options{
		InputShape:  model.Shape{-1, 224, 224, 3},
		OutputShape: model.Shape{-1, 38},
	})
	session := newSession(t, engine, sessionConfig())

	desc := session.Describe()
	assert.Equal(t, model.Shape{1, 224, 224, 3}, desc.Input.Shape)
	assert.Equal(t, model.Shape{1, 38}, desc.Output.Shape)
}

func TestNewSessionInitializationErrors(t *testing.T) {
	tests := []struct {
		name    string
		engine  *modeltest.Engine
		mutate  func(*model.SessionConfig)
		wantMsg string
	}{
		{
			name:    "missing model file",
			engine:  &modeltest.Engine{LoadErr: errors.New("model file: no such file or directory")},
			wantMsg: "no such file",
		},
		{
			name:    "empty model path",
			engine:  modeltest.NewEngine(modeltest.Options{}),
			mutate:  func(c *model.SessionConfig) { c.ModelPath = "" },
			wantMsg: "model path is empty",
		},
		{
			name:    "non-positive configured shape",
			engine:  modeltest.NewEngine(modeltest.Options{}),
			mutate:  func(c *model.SessionConfig) { c.InputShape = model.Shape{1, 0, 3} },
			wantMsg: "positive dimensions",
		},
		{
			name:    "rank mismatch",
			engine:  modeltest.NewEngine(modeltest.Options{}),
			mutate:  func(c *model.SessionConfig) { c.InputShape = model.Shape{150528} },
			wantMsg: "has rank 4",
		},
		{
			name:    "dimension mismatch",
			engine:  modeltest.NewEngine(modeltest.Options{}),
			mutate:  func(c *model.SessionConfig) { c.InputShape = model.Shape{1, 128, 128, 3} },
			wantMsg: "at dimension 1",
		},
		{
			name: "allocation failure",
			engine: func() *modeltest.Engine {
				e := modeltest.NewEngine(modeltest.Options{})
				e.AllocateErr = errors.New("arena exhausted")
				return e
			}(),
			wantMsg: "allocate tensors: arena exhausted",
		},
		{
			name:    "unknown input name",
			engine:  modeltest.NewEngine(modeltest.Options{}),
			mutate:  func(c *model.SessionConfig) { c.InputName = "pixels" },
			wantMsg: `no input tensor named "pixels"`,
		},
		{
			name:    "dynamic non-batch output",
			engine:  modeltest.NewEngine(modeltest.Options{OutputShape: model.Shape{1, -1}}),
			wantMsg: "not static",
		},
		{
			name:   "non-positive quantization scale",
			engine: modeltest.NewEngine(modeltest.Options{InputType: model.Uint8}),
			mutate: func(c *model.SessionConfig) {
				c.InputQuantization = &model.Quantization{Scale: -1}
			},
			wantMsg: "non-positive quantization scale",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sessionConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			session, err := model.NewSession(tt.engine, cfg)
			require.Error(t, err)
			assert.Nil(t, session)

			var initErr *model.InitializationError
			require.ErrorAs(t, err, &initErr)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNewSessionReleasesRuntimeOnFailure(t *testing.T) {
	engine := modeltest.NewEngine(modeltest.Options{OutputShape: model.Shape{1, -1}})
	_, err := model.NewSession(engine, sessionConfig())
	require.Error(t, err)
	assert.True(t, engine.Runtime().Closed())
}

func TestPredictReturnsClassVector(t *testing.T) {
	session := newSession(t, modeltest.NewEngine(modeltest.Options{}), sessionConfig())

	probs, err := session.Predict(filled(150528, 0))
	require.NoError(t, err)
	require.Len(t, probs, 38)

	var sum float64
	for _, p := range probs {
		sum += float64(p)
	}
	assert.InDelta(t, 1.0, sum, 0.01)
}

func TestPredictIsDeterministicPerInput(t *testing.T) {
	session := newSession(t, modeltest.NewEngine(modeltest.Options{}), sessionConfig())

	a1, err := session.Predict(filled(150528, 0.25))
	require.NoError(t, err)
	a2, err := session.Predict(filled(150528, 0.25))
	require.NoError(t, err)
	b, err := session.Predict(filled(150528, 0.75))
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
}

func TestPredictQuantizedModel(t *testing.T) {
	engine := modeltest.NewEngine(modeltest.Options{InputType: model.Uint8, OutputType: model.Uint8})
	cfg := sessionConfig()
	cfg.InputQuantization = &model.Quantization{Scale: 1.0 / 255}
	cfg.OutputQuantization = &model.Quantization{Scale: modeltest.OutputScale}
	session := newSession(t, engine, cfg)

	desc := session.Describe()
	require.NotNil(t, desc.Input.Quantization)
	assert.InDelta(t, 1.0/255, desc.Input.Quantization.Scale, 1e-12)

	probs, err := session.Predict(filled(150528, 0.5))
	require.NoError(t, err)
	require.Len(t, probs, 38)
	var sum float64
	for _, p := range probs {
		assert.GreaterOrEqual(t, p, float32(0))
		sum += float64(p)
	}
	assert.InDelta(t, 1.0, sum, 0.1)
}

func TestPredictFloat16Output(t *testing.T) {
	engine := modeltest.NewEngine(modeltest.Options{InputType: model.Float16, OutputType: model.Float16})
	session := newSession(t, engine, sessionConfig())

	probs, err := session.Predict(filled(150528, -1))
	require.NoError(t, err)
	require.Len(t, probs, 38)
}

func TestPredictReshapeMismatchIsFault(t *testing.T) {
	session := newSession(t, modeltest.NewEngine(modeltest.Options{}), sessionConfig())

	_, err := session.Predict(filled(10, 0))
	var fault *model.InferenceFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "reshape", fault.Op)
	assert.Contains(t, err.Error(), "cannot reshape array of size 10 into shape [1 224 224 3]")
}

func TestPredictCoercionFault(t *testing.T) {
	engine := modeltest.NewEngine(modeltest.Options{})
	session := newSession(t, engine, sessionConfig())

	values := filled(150528, 0)
	values[7] = 1e40
	_, err := session.Predict(values)
	var fault *model.InferenceFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "coerce", fault.Op)
	assert.Contains(t, err.Error(), "element 7")
	assert.Zero(t, engine.Runtime().Invocations())
}

func TestPredictInvokeFault(t *testing.T) {
	engine := modeltest.NewEngine(modeltest.Options{})
	session := newSession(t, engine, sessionConfig())
	engine.FailInvoke(errors.New("kernel crashed"))

	_, err := session.Predict(filled(150528, 0))
	var fault *model.InferenceFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "invoke", fault.Op)
	assert.Equal(t, "inference failed: kernel crashed", err.Error())
	assert.Contains(t, fault.Traceback(), "goroutine")
	assert.Contains(t, fault.Traceback(), "kernel crashed")

	engine.FailInvoke(nil)
	_, err = session.Predict(filled(150528, 0))
	assert.NoError(t, err)
}

func TestPredictAfterClose(t *testing.T) {
	engine := modeltest.NewEngine(modeltest.Options{})
	session, err := model.NewSession(engine, sessionConfig())
	require.NoError(t, err)
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
	assert.True(t, engine.Runtime().Closed())

	_, err = session.Predict(filled(150528, 0))
	assert.ErrorIs(t, err, model.ErrSessionClosed)
}

func TestPredictSerializesRuntimeAccess(t *testing.T) {
	engine := modeltest.NewEngine(modeltest.Options{InputShape: model.Shape{1, 8}, OutputShape: model.Shape{1, 5}})
	engine.Hold = time.Millisecond
	cfg := sessionConfig()
	cfg.InputShape = model.Shape{1, 8}
	session := newSession(t, engine, cfg)

	const workers = 16
	want := make([][]float32, workers)
	for i := range want {
		probs, err := session.Predict(filled(8, float64(i)))
		require.NoError(t, err)
		want[i] = probs
	}

	got := make([][]float32, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			probs, err := session.Predict(filled(8, float64(i)))
			assert.NoError(t, err)
			got[i] = probs
		}(i)
	}
	wg.Wait()

	assert.Equal(t, want, got)
	assert.Zero(t, engine.Runtime().Overlaps())
}
