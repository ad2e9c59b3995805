package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
)

func TestGridSize(t *testing.T) {
	gx, gy := GridSize(96, 64)
	assert.Equal(t, 5, gx)
	assert.Equal(t, 3, gy)
}

// TestDecode verifies the statistics and the grid cell placement.
//
// @example
// go test -v -run TestDecode
func TestDecode(t *testing.T) {
	impulse := model.NewImpulse(model.NewModelArgs{Width: 96, Height: 64, Threshold: 0.6, MinObjects: 3})

	// 5 x 3 grid, row-major.
	data := make([]float32, 15)
	data[1*5+3] = 0.9
	data[2*5+0] = 0.6
	data[0] = 0.3

	var result common.Result
	require.NoError(t, Decode(impulse, nil, []*matrix.Tensor{matrix.NewFloat32Tensor(data)}, &result))

	assert.Equal(t, common.ResultVisualAnomaly, result.Kind)
	require.NotNil(t, result.VisualAnomaly)
	assert.InDelta(t, 1.8/15, result.VisualAnomaly.Mean, 1e-6)
	assert.Equal(t, float32(0.9), result.VisualAnomaly.Max)
	assert.Equal(t, float32(0.9), result.Anomaly)

	grid := result.VisualAnomaly.Grid
	require.Len(t, grid, 3)
	assert.Equal(t, common.BoundingBox{Label: Label, X: 57, Y: 21, Width: 19, Height: 21, Value: 0.9}, grid[0])
	assert.Equal(t, common.BoundingBox{Label: Label, X: 0, Y: 42, Width: 19, Height: 21, Value: 0.6}, grid[1])
	assert.Zero(t, grid[2].Value)
}

func TestDecodeErrors(t *testing.T) {
	var result common.Result

	small := model.NewImpulse(model.NewModelArgs{Width: 16, Height: 16})
	err := Decode(small, nil, []*matrix.Tensor{matrix.NewFloat32Tensor([]float32{1})}, &result)
	assert.ErrorIs(t, err, common.ErrOutputShape)

	impulse := model.NewImpulse(model.NewModelArgs{Width: 96, Height: 96})
	err = Decode(impulse, nil, []*matrix.Tensor{matrix.NewFloat32Tensor(make([]float32, 3))}, &result)
	assert.ErrorIs(t, err, common.ErrOutputShape)
}

func TestDecodeScore(t *testing.T) {
	result := common.NewClassificationResult([]string{"ok"})
	require.NoError(t, DecodeScore(nil, nil, []*matrix.Tensor{matrix.NewFloat32Tensor([]float32{-0.4})}, result))
	assert.Equal(t, float32(-0.4), result.Anomaly)
	assert.Equal(t, common.ResultClassification, result.Kind)

	assert.Error(t, DecodeScore(nil, nil, nil, result))
}
