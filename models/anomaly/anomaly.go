// Package anomaly decodes anomaly blocks: the per-cell visual anomaly grid and
// the scalar anomaly score.
package anomaly

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
	"github.com/nvr-ai/go-impulse/models/postprocess"
)

// Label is the label of every anomalous grid cell.
const Label = "anomaly"

// GridSize returns the anomaly grid dimensions for an input size. The feature
// extractor reduces the input by 8, then the grid is pooled by 2 without padding.
func GridSize(width, height int) (int, int) {
	return (width/8)/2 - 1, (height/8)/2 - 1
}

// Decode reads a row-major grid of per-cell anomaly scores.
//
// Mean and max are taken over the whole grid. Every cell at or above the
// detection threshold becomes a box labelled "anomaly"; the box list is padded.
// The scalar Anomaly of the result is set to the max.
//
// Arguments:
//   - impulse: Geometry and threshold.
//   - block: Unused.
//   - outputs: A single tensor of at least gx*gy cells.
//   - result: Receives the visual anomaly payload.
//
// Returns:
//   - error: ErrOutputShape when the grid is empty or the tensor is too short.
func Decode(impulse *model.Impulse, _ *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	if len(outputs) < 1 {
		return errors.Wrap(common.ErrOutputShape, "visual anomaly expects one output tensor")
	}
	out := outputs[0]
	gx, gy := GridSize(impulse.InputWidth, impulse.InputHeight)
	if gx <= 0 || gy <= 0 {
		return errors.Wrapf(common.ErrOutputShape, "input %dx%d is too small for an anomaly grid",
			impulse.InputWidth, impulse.InputHeight)
	}
	cells := gx * gy
	if out.Len() < cells {
		return errors.Wrapf(common.ErrOutputShape, "anomaly output has %d cells, grid needs %d", out.Len(), cells)
	}

	var sum, maxValue float32
	for ix := 0; ix < cells; ix++ {
		v := out.At(ix)
		sum += v
		if v > maxValue {
			maxValue = v
		}
	}

	cellW := impulse.InputWidth / gx
	cellH := impulse.InputHeight / gy
	stepX := float32(impulse.InputWidth) / float32(gx)
	stepY := float32(impulse.InputHeight) / float32(gy)

	grid := make([]common.BoundingBox, 0)
	for row := 0; row < gy; row++ {
		for col := 0; col < gx; col++ {
			v := out.At(row*gx + col)
			if v < impulse.ObjectDetectionThreshold {
				continue
			}
			grid = append(grid, common.BoundingBox{
				Label:  Label,
				X:      uint32(float32(col) * stepX),
				Y:      uint32(float32(row) * stepY),
				Width:  uint32(cellW),
				Height: uint32(cellH),
				Value:  v,
			})
		}
	}

	result.Kind = common.ResultVisualAnomaly
	result.VisualAnomaly = &common.VisualAnomaly{
		Mean: sum / float32(cells),
		Max:  maxValue,
		Grid: postprocess.Pad(grid, impulse.ObjectDetectionCount),
	}
	result.Anomaly = maxValue
	return nil
}

// DecodeScore stores the first output element as the scalar anomaly score. It
// leaves the rest of the result untouched so it can accompany a classification.
func DecodeScore(_ *model.Impulse, _ *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	if len(outputs) < 1 || outputs[0].Len() < 1 {
		return errors.Wrap(common.ErrOutputShape, "anomaly expects a scalar output")
	}
	result.Anomaly = outputs[0].At(0)
	return nil
}
