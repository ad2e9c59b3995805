// Package inference - ONNX Runtime learning block engine.
package inference

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/dsp"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
)

// ONNXConfig describes an ONNX model and the tensors bound to it.
type ONNXConfig struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// SharedLibraryPath overrides the onnxruntime library location. Defaults to
	// $ONNXRUNTIME_LIB, then the platform default search.
	SharedLibraryPath string  `json:"shared_library_path" yaml:"shared_library_path"`
	Backend           Backend `json:"backend" yaml:"backend"`

	InputName    string    `json:"input_name" yaml:"input_name"`
	InputShape   []int64   `json:"input_shape" yaml:"input_shape"`
	OutputNames  []string  `json:"output_names" yaml:"output_names"`
	OutputShapes [][]int64 `json:"output_shapes" yaml:"output_shapes"`

	Layout   Layout `json:"layout" yaml:"layout"`
	Channels int    `json:"channels" yaml:"channels"`
	// Precision INT8 binds an int8 input tensor quantized with InputQuantization.
	Precision         Precision           `json:"precision" yaml:"precision"`
	InputQuantization matrix.Quantization `json:"input_quantization" yaml:"input_quantization"`
	// OutputPrecision INT8 binds int8 output tensors that decoders dequantize
	// with OutputQuantization.
	OutputPrecision    Precision           `json:"output_precision" yaml:"output_precision"`
	OutputQuantization matrix.Quantization `json:"output_quantization" yaml:"output_quantization"`

	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
}

// ONNXEngine runs a learning block through an ONNX Runtime session with
// preallocated input and output tensors. Inputs are float32 or int8; outputs
// are float32, or int8 when OutputPrecision is INT8.
type ONNXEngine struct {
	mu      sync.Mutex
	cfg     ONNXConfig
	session *ort.AdvancedSession
	f32In   *ort.Tensor[float32]
	i8In    *ort.Tensor[int8]
	outputs []ort.ArbitraryTensor

	runs  int64
	total time.Duration
}

var envMu sync.Mutex

// initEnvironment loads the native library once per process.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = os.Getenv("ONNXRUNTIME_LIB")
	}
	if libPath != "" {
		if _, err := os.Stat(libPath); err != nil {
			return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
		}
		ort.SetSharedLibraryPath(libPath)
	}
	return errors.Wrap(ort.InitializeEnvironment(), "initializing onnxruntime environment")
}

// NewONNXEngine loads a model and binds its tensors.
//
// Order of operations:
//  1. Environment setup: loads the native runtime once per process.
//  2. Tensor allocation: fixed-shape input and output buffers.
//  3. Session options: threading, graph optimization and execution provider.
//  4. Session creation: loads the model and binds the tensors.
//
// Arguments:
//   - cfg: The model and tensor description.
//
// Returns:
//   - *ONNXEngine: The engine. Call Close to release native resources.
//   - error: A CodeConfig error for an incomplete config, otherwise the runtime error.
func NewONNXEngine(cfg ONNXConfig) (*ONNXEngine, error) {
	if cfg.ModelPath == "" || cfg.InputName == "" || len(cfg.InputShape) == 0 {
		return nil, common.NewError(common.CodeConfig, "onnx engine needs model_path, input_name and input_shape")
	}
	if len(cfg.OutputNames) == 0 || len(cfg.OutputNames) != len(cfg.OutputShapes) {
		return nil, common.NewError(common.CodeConfig,
			"onnx engine has %d output names and %d output shapes", len(cfg.OutputNames), len(cfg.OutputShapes))
	}
	if cfg.Precision == "" {
		cfg.Precision = PrecisionFP32
	}
	if cfg.Channels == 0 {
		cfg.Channels = 3
	}
	if cfg.OutputPrecision == "" {
		cfg.OutputPrecision = PrecisionFP32
	}
	switch cfg.OutputPrecision {
	case PrecisionFP32:
	case PrecisionINT8:
		if cfg.OutputQuantization.Scale == 0 {
			return nil, common.NewError(common.CodeConfig, "int8 outputs need output_quantization.scale")
		}
	default:
		return nil, common.NewError(common.CodeConfig, "unsupported output precision %q", cfg.OutputPrecision)
	}

	if err := initEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	e := &ONNXEngine{cfg: cfg}
	var input ort.ArbitraryTensor
	var err error
	switch cfg.Precision {
	case PrecisionINT8:
		e.i8In, err = ort.NewEmptyTensor[int8](ort.NewShape(cfg.InputShape...))
		input = e.i8In
	case PrecisionFP32:
		e.f32In, err = ort.NewEmptyTensor[float32](ort.NewShape(cfg.InputShape...))
		input = e.f32In
	default:
		return nil, common.NewError(common.CodeConfig, "unsupported input precision %q", cfg.Precision)
	}
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}

	outputs := make([]ort.ArbitraryTensor, 0, len(cfg.OutputShapes))
	for _, shape := range cfg.OutputShapes {
		var t ort.ArbitraryTensor
		if cfg.OutputPrecision == PrecisionINT8 {
			t, err = ort.NewEmptyTensor[int8](ort.NewShape(shape...))
		} else {
			t, err = ort.NewEmptyTensor[float32](ort.NewShape(shape...))
		}
		if err != nil {
			e.Close()
			return nil, errors.Wrap(err, "creating output tensor")
		}
		e.outputs = append(e.outputs, t)
		outputs = append(outputs, t)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		e.Close()
		return nil, errors.Wrap(err, "creating session options")
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		e.Close()
		return nil, errors.Wrap(err, "setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		e.Close()
		return nil, errors.Wrap(err, "setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		e.Close()
		return nil, errors.Wrap(err, "setting graph optimization level")
	}
	if err := appendBackend(options, cfg.Backend, cfg.IntraOpThreads); err != nil {
		e.Close()
		return nil, err
	}

	e.session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		cfg.OutputNames,
		[]ort.ArbitraryTensor{input},
		outputs,
		options,
	)
	if err != nil {
		e.Close()
		return nil, errors.Wrap(err, "creating onnxruntime session")
	}
	return e, nil
}

// Infer packs the features into the float input tensor and runs the session.
//
// Returns:
//   - []*matrix.Tensor: Copies of the output tensors, in output name order.
//   - error: CodeInvalidSize when the features do not fill the input,
//     ErrUnsupportedEngine when the input is int8.
func (e *ONNXEngine) Infer(ctx context.Context, _ *model.LearningBlock, features []*matrix.Matrix) ([]*matrix.Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.Wrap(common.ErrInference, "onnx engine is closed")
	}
	if e.f32In == nil {
		return nil, errors.Wrap(common.ErrUnsupportedEngine, "int8 model needs the quantized image path")
	}
	if err := packInput(e.f32In.GetData(), features, e.cfg.Layout, e.cfg.Channels); err != nil {
		return nil, err
	}
	return e.run(ctx)
}

// InferImageQuantized quantizes packed RGB pixels into the int8 input tensor
// and runs the session.
//
// Returns:
//   - []*matrix.Tensor: Copies of the output tensors.
//   - error: ErrUnsupportedEngine when the input is not int8.
func (e *ONNXEngine) InferImageQuantized(ctx context.Context, _ *model.LearningBlock, signal dsp.Signal) ([]*matrix.Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.Wrap(common.ErrInference, "onnx engine is closed")
	}
	if e.i8In == nil {
		return nil, errors.Wrap(common.ErrUnsupportedEngine, "model input is not int8")
	}

	data := e.i8In.GetData()
	pixels := make([]float32, len(data)/3)
	if err := signal.Read(0, pixels); err != nil {
		return nil, errors.Wrap(common.ErrDSP, err.Error())
	}
	if err := quantizePixels(data, pixels, e.cfg.InputQuantization, e.cfg.Layout); err != nil {
		return nil, err
	}
	return e.run(ctx)
}

func (e *ONNXEngine) run(ctx context.Context) ([]*matrix.Tensor, error) {
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	if err := e.session.Run(); err != nil {
		return nil, errors.Wrap(common.ErrInference, err.Error())
	}
	e.runs++
	e.total += time.Since(start)

	out := make([]*matrix.Tensor, len(e.outputs))
	for i, t := range e.outputs {
		var (
			copied *matrix.Tensor
			err    error
		)
		switch t := t.(type) {
		case *ort.Tensor[float32]:
			copied, err = outputTensor(t.GetData(), t.GetShape(), e.cfg.OutputQuantization)
		case *ort.Tensor[int8]:
			copied, err = outputTensor(t.GetData(), t.GetShape(), e.cfg.OutputQuantization)
		default:
			err = errors.Errorf("unsupported output tensor %T", t)
		}
		if err != nil {
			return nil, errors.Wrap(common.ErrInference, err.Error())
		}
		out[i] = copied
	}
	return out, nil
}

// outputTensor copies session output data into a decoder tensor.
//
// Arguments:
//   - data: []float32 or []int8 output storage.
//   - dims: The output shape.
//   - q: Dequantization applied to int8 data.
//
// Returns:
//   - *matrix.Tensor: A copy that survives the next session run.
//   - error: When data has another element type.
func outputTensor(data any, dims ort.Shape, q matrix.Quantization) (*matrix.Tensor, error) {
	shape := make([]int, len(dims))
	for j, d := range dims {
		shape[j] = int(d)
	}
	switch v := data.(type) {
	case []float32:
		return matrix.NewFloat32Tensor(append([]float32(nil), v...), shape...), nil
	case []int8:
		return matrix.NewInt8Tensor(append([]int8(nil), v...), q, shape...), nil
	default:
		return nil, errors.Errorf("unsupported output element type %T", data)
	}
}

// Stats returns the number of session runs and their mean duration.
func (e *ONNXEngine) Stats() (int64, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runs == 0 {
		return 0, 0
	}
	return e.runs, e.total / time.Duration(e.runs)
}

// Close releases the session and its tensors.
//
// Returns:
//   - error: The session destroy error, if any.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f32In != nil {
		e.f32In.Destroy()
		e.f32In = nil
	}
	if e.i8In != nil {
		e.i8In.Destroy()
		e.i8In = nil
	}
	for _, t := range e.outputs {
		t.Destroy()
	}
	e.outputs = nil
	if e.session != nil {
		err := e.session.Destroy()
		e.session = nil
		if err != nil {
			return errors.Wrap(err, "destroying onnxruntime session")
		}
	}
	return nil
}
