package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// TestMatrixSliceSharesStorage verifies that sub-windows write through to the parent.
func TestMatrixSliceSharesStorage(t *testing.T) {
	m := NewMatrix(1, 6, nil)

	window, err := m.Slice(2, 3)
	require.NoError(t, err)
	window.Set(0, 1, 7)

	assert.Equal(t, []float32{0, 0, 0, 7, 0, 0}, m.Buffer())
	assert.Equal(t, 1, window.Rows())
	assert.Equal(t, 3, window.Cols())

	_, err = m.Slice(4, 3)
	assert.Error(t, err, "window past the end must be rejected")
}

func TestMatrixArithmetic(t *testing.T) {
	m := NewMatrix(2, 2, []float32{1, 2, 3, 4})
	m.Scale(2)
	m.Subtract(1)
	m.Add(0.5)

	assert.Equal(t, []float32{1.5, 3.5, 5.5, 7.5}, m.Buffer())
	assert.Equal(t, []float32{5.5, 7.5}, m.Row(1))
	assert.Equal(t, float32(3.5), m.At(0, 1))

	c := m.Clone()
	c.Set(0, 0, 100)
	assert.Equal(t, float32(1.5), m.At(0, 0), "clone must not alias")
}

func TestFromDense(t *testing.T) {
	d := tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float32{1, 2, 3, 4, 5, 6}))

	m, err := FromDense(d)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Rows())
	assert.Equal(t, []float32{4, 5, 6}, m.Row(1))

	_, err = FromDense(tensor.New(tensor.WithShape(2), tensor.WithBacking([]float64{1, 2})))
	assert.Error(t, err)
}

// TestTensorDequantize checks the affine mapping for each storage type.
func TestTensorDequantize(t *testing.T) {
	tests := []struct {
		name     string
		tensor   *Tensor
		expected []float32
	}{
		{
			name:     "float32 passes through",
			tensor:   NewFloat32Tensor([]float32{0.25, -1}),
			expected: []float32{0.25, -1},
		},
		{
			name:     "int8 uses zero point and scale",
			tensor:   NewInt8Tensor([]int8{-128, 0, 127}, Quantization{ZeroPoint: -128, Scale: 1.0 / 255}),
			expected: []float32{0, 128.0 / 255, 1},
		},
		{
			name:     "uint8 uses zero point and scale",
			tensor:   NewUint8Tensor([]uint8{0, 10}, Quantization{ZeroPoint: 10, Scale: 0.5}),
			expected: []float32{-5, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.tensor.Dequantize()
			require.Len(t, got, len(tt.expected))
			for i := range got {
				assert.InDelta(t, tt.expected[i], got[i], 1e-6)
			}
			assert.Equal(t, len(tt.expected), tt.tensor.Len())
		})
	}

	assert.False(t, NewFloat32Tensor([]float32{1}).Quantized())
	assert.True(t, NewInt8Tensor([]int8{1}, Quantization{Scale: 1}).Quantized())
}

// TestTensorMatrix verifies output rows are reshaped and dequantized.
func TestTensorMatrix(t *testing.T) {
	out := NewInt8Tensor([]int8{0, 2, 4, 6, 8, 10, 12}, Quantization{ZeroPoint: 0, Scale: 0.5})

	m, err := out.Matrix(out.Len(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Rows(), "trailing partial row is dropped")
	assert.Equal(t, []float32{3, 4, 5}, m.Row(1))

	m, err = out.Matrix(3, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Rows())

	m, err = out.Matrix(2, 3)
	require.NoError(t, err)
	assert.Zero(t, m.Rows())

	_, err = out.Matrix(out.Len(), 0)
	assert.Error(t, err)
}
