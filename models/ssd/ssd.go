// Package ssd decodes single-shot detectors whose engine already applied box
// decoding and NMS.
package ssd

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
)

// Decode fills one result slot per detection slot.
//
// Arguments:
//   - impulse: Geometry, categories and thresholds. ObjectDetectionCount is the slot count.
//   - block: Unused.
//   - outputs: [boxes (N x 4, ystart xstart yend xend, normalized), scores (N), labels (N)].
//   - result: Receives exactly ObjectDetectionCount slots.
//
// Returns:
//   - error: ErrOutputShape when a tensor holds fewer than N slots.
func Decode(impulse *model.Impulse, _ *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	if len(outputs) < 3 {
		return errors.Wrapf(common.ErrOutputShape, "ssd expects boxes, scores and labels, got %d tensors", len(outputs))
	}
	boxes, scores, labels := outputs[0], outputs[1], outputs[2]
	n := impulse.ObjectDetectionCount
	if boxes.Len() < n*4 || scores.Len() < n || labels.Len() < n {
		return errors.Wrapf(common.ErrOutputShape, "ssd outputs hold fewer than %d slots", n)
	}

	width := float32(impulse.InputWidth)
	height := float32(impulse.InputHeight)
	out := make([]common.BoundingBox, n)

	for ix := 0; ix < n; ix++ {
		score := scores.At(ix)
		label := int(labels.At(ix))
		if score < impulse.ObjectDetectionThreshold || label < 0 || label >= impulse.LabelCount() {
			continue
		}

		ystart := unit(boxes.At(ix*4 + 0))
		xstart := unit(boxes.At(ix*4 + 1))
		yend := unit(boxes.At(ix*4 + 2))
		xend := unit(boxes.At(ix*4 + 3))
		xend = math32.Max(xend, xstart)
		yend = math32.Max(yend, ystart)

		// Explicit conversions keep each product rounded before the subtraction.
		x0, x1 := float32(xstart*width), float32(xend*width)
		y0, y1 := float32(ystart*height), float32(yend*height)

		out[ix] = common.BoundingBox{
			Label:   impulse.Label(label),
			ClassID: label,
			X:       uint32(x0),
			Y:       uint32(y0),
			Width:   uint32(x1 - x0),
			Height:  uint32(y1 - y0),
			Value:   score,
		}
	}

	result.Kind = common.ResultObjectDetection
	result.BoundingBoxes = out
	return nil
}

func unit(v float32) float32 {
	return math32.Min(math32.Max(v, 0), 1)
}
