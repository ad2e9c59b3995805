package matrix

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Quantization is the affine pair that maps fixed-point values back to reals:
// real = (raw - ZeroPoint) * Scale.
type Quantization struct {
	ZeroPoint float32 `json:"zero_point" yaml:"zero_point"`
	Scale     float32 `json:"scale" yaml:"scale"`
}

// Tensor is a raw output tensor produced by an inference engine.
//
// Exactly one of Float32, Int8 or Uint8 is populated. Decoders treat it as
// read-only and go through At so that float and quantized models share the same
// decoding code.
type Tensor struct {
	Float32      []float32
	Int8         []int8
	Uint8        []uint8
	Quantization Quantization
	// Shape is informational; decoders that need a grid size may consult it.
	Shape []int
}

// NewFloat32Tensor wraps float data.
func NewFloat32Tensor(data []float32, shape ...int) *Tensor {
	return &Tensor{Float32: data, Shape: shape}
}

// NewInt8Tensor wraps int8 data with its dequantization parameters.
func NewInt8Tensor(data []int8, q Quantization, shape ...int) *Tensor {
	return &Tensor{Int8: data, Quantization: q, Shape: shape}
}

// NewUint8Tensor wraps uint8 data with its dequantization parameters.
func NewUint8Tensor(data []uint8, q Quantization, shape ...int) *Tensor {
	return &Tensor{Uint8: data, Quantization: q, Shape: shape}
}

// Quantized reports whether the tensor holds fixed-point data.
func (t *Tensor) Quantized() bool {
	return t.Float32 == nil && (t.Int8 != nil || t.Uint8 != nil)
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	switch {
	case t.Float32 != nil:
		return len(t.Float32)
	case t.Int8 != nil:
		return len(t.Int8)
	default:
		return len(t.Uint8)
	}
}

// At returns element i as a real number, dequantizing when needed.
func (t *Tensor) At(i int) float32 {
	switch {
	case t.Float32 != nil:
		return t.Float32[i]
	case t.Int8 != nil:
		return (float32(t.Int8[i]) - t.Quantization.ZeroPoint) * t.Quantization.Scale
	default:
		return (float32(t.Uint8[i]) - t.Quantization.ZeroPoint) * t.Quantization.Scale
	}
}

// Dequantize returns every element as float32 in a new slice.
func (t *Tensor) Dequantize() []float32 {
	out := make([]float32, t.Len())
	for i := range out {
		out[i] = t.At(i)
	}
	return out
}

// Matrix reshapes the first n elements into rows of cols real values.
// A trailing partial row is dropped and n is bounded by Len.
//
// Arguments:
//   - n: Number of leading elements to read.
//   - cols: Row width, e.g. 5 + labels for a YOLOX head.
//
// Returns:
//   - *Matrix: A (n/cols) x cols copy, dequantized.
//   - error: When cols is not positive or the reshape fails.
//
// @example
// rows, err := out.Matrix(block.OutputFeaturesCount, 5+impulse.LabelCount())
func (t *Tensor) Matrix(n, cols int) (*Matrix, error) {
	if cols <= 0 {
		return nil, errors.Errorf("invalid row width %d", cols)
	}
	if n > t.Len() || n < 0 {
		n = t.Len()
	}
	rows := n / cols
	if rows == 0 {
		return NewMatrix(0, cols, nil), nil
	}

	d := tensor.New(tensor.WithBacking(t.Dequantize()[:rows*cols]))
	if err := d.Reshape(rows, cols); err != nil {
		return nil, errors.Wrapf(err, "reshaping %d elements to %dx%d", rows*cols, rows, cols)
	}
	return FromDense(d)
}
