package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
)

func TestNewONNXEngineRejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  ONNXConfig
	}{
		{"no model", ONNXConfig{InputName: "x", InputShape: []int64{1, 4}}},
		{"no outputs", ONNXConfig{ModelPath: "m.onnx", InputName: "x", InputShape: []int64{1, 4}}},
		{"shape count mismatch", ONNXConfig{
			ModelPath: "m.onnx", InputName: "x", InputShape: []int64{1, 4},
			OutputNames: []string{"a", "b"}, OutputShapes: [][]int64{{1, 2}},
		}},
		{"int8 outputs without scale", ONNXConfig{
			ModelPath: "m.onnx", InputName: "x", InputShape: []int64{1, 4},
			OutputNames: []string{"a"}, OutputShapes: [][]int64{{1, 2}}, OutputPrecision: PrecisionINT8,
		}},
		{"unknown output precision", ONNXConfig{
			ModelPath: "m.onnx", InputName: "x", InputShape: []int64{1, 4},
			OutputNames: []string{"a"}, OutputShapes: [][]int64{{1, 2}}, OutputPrecision: "FP16",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewONNXEngine(tt.cfg)
			assert.Equal(t, common.CodeConfig, common.CodeOf(err))
		})
	}
}

// TestPackInput verifies interleaved features are copied or split into planes.
//
// @example
// go test -v -run TestPackInput
func TestPackInput(t *testing.T) {
	a := matrix.NewMatrix(1, 3, []float32{1, 2, 3})
	b := matrix.NewMatrix(1, 3, []float32{4, 5, 6})

	dst := make([]float32, 6)
	require.NoError(t, packInput(dst, []*matrix.Matrix{a, b}, LayoutNHWC, 3))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, dst)

	require.NoError(t, packInput(dst, []*matrix.Matrix{a, b}, LayoutNCHW, 3))
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, dst)

	err := packInput(make([]float32, 5), []*matrix.Matrix{a, b}, LayoutNHWC, 3)
	assert.Equal(t, common.CodeInvalidSize, common.CodeOf(err))
}

func TestQuantizePixels(t *testing.T) {
	q := matrix.Quantization{Scale: 1.0 / 255, ZeroPoint: -128}
	pixels := []float32{float32(0xff0080)}

	dst := make([]int8, 3)
	require.NoError(t, quantizePixels(dst, pixels, q, LayoutNHWC))
	assert.Equal(t, []int8{127, -128, 0}, dst)

	err := quantizePixels(make([]int8, 2), pixels, q, LayoutNHWC)
	assert.Equal(t, common.CodeInvalidSize, common.CodeOf(err))

	err = quantizePixels(dst, pixels, matrix.Quantization{}, LayoutNHWC)
	assert.ErrorIs(t, err, common.ErrConfig)
}

// TestOutputTensor verifies int8 outputs keep their quantization for decoding.
func TestOutputTensor(t *testing.T) {
	q := matrix.Quantization{ZeroPoint: -128, Scale: 1.0 / 255}

	raw := []int8{-128, 127}
	out, err := outputTensor(raw, ort.NewShape(1, 2), q)
	require.NoError(t, err)
	assert.True(t, out.Quantized())
	assert.Equal(t, []int{1, 2}, out.Shape)
	assert.InDelta(t, 1, out.At(1), 1e-6)

	raw[1] = 0
	assert.InDelta(t, 1, out.At(1), 1e-6, "output is a copy")

	out, err = outputTensor([]float32{0.5}, ort.NewShape(1), q)
	require.NoError(t, err)
	assert.False(t, out.Quantized())
	assert.Equal(t, float32(0.5), out.At(0))

	_, err = outputTensor([]uint16{1}, ort.NewShape(1), q)
	assert.Error(t, err)
}
