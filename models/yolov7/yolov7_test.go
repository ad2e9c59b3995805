package yolov7

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
)

func TestDecode(t *testing.T) {
	impulse := model.NewImpulse(model.NewModelArgs{
		Width:      320,
		Height:     320,
		Categories: []string{"helmet", "vest"},
		Threshold:  0.4,
		MinObjects: 3,
	})
	out := matrix.NewFloat32Tensor([]float32{
		0, 10, 20, 110, 70, 1, 0.85,
		0, 5, 5, 6, 6, 0, 0.2,
		0, 50, 50, 40, 60, 0, 0.9,
	})

	var result common.Result
	require.NoError(t, Decode(impulse, &model.LearningBlock{}, []*matrix.Tensor{out}, &result))

	require.Len(t, result.BoundingBoxes, 3)
	assert.Equal(t, common.BoundingBox{Label: "vest", ClassID: 1, X: 10, Y: 20, Width: 100, Height: 50, Value: 0.85},
		result.BoundingBoxes[0])
	assert.Zero(t, result.BoundingBoxes[1].Value)
	assert.Zero(t, result.BoundingBoxes[2].Value)
}
