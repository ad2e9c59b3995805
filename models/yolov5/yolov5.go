// Package yolov5 decodes the flat YOLOv5 output.
package yolov5

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
	"github.com/nvr-ai/go-impulse/models/postprocess"
)

// PixelVersion is the export version whose coordinates are already in pixels.
const PixelVersion = 5

// classThreshold is the channel value above which a class is taken as the label.
const classThreshold = 0.5

// Decode turns rows of [cx, cy, w, h, object, class...] into boxes.
//
// The label is the first class channel above 0.5, not the arg-max. Boxes are
// clipped to the image, boxes with negative size are dropped, and the rest go
// through per-class NMS before padding.
//
// Arguments:
//   - impulse: Geometry, categories and thresholds.
//   - block: Version selects pixel or normalized coordinates. OutputFeaturesCount
//     bounds the rows read.
//   - outputs: A single flat tensor.
//   - result: Receives the padded box list.
//
// Returns:
//   - error: ErrOutputShape when there is no output tensor.
func Decode(impulse *model.Impulse, block *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	if len(outputs) < 1 {
		return errors.Wrap(common.ErrOutputShape, "yolov5 expects one output tensor")
	}
	out := outputs[0]
	labels := impulse.LabelCount()
	colSize := 5 + labels

	features := out.Len()
	if block.OutputFeaturesCount > 0 && block.OutputFeaturesCount < features {
		features = block.OutputFeaturesCount
	}
	rows := features / colSize

	width := float32(impulse.InputWidth)
	height := float32(impulse.InputHeight)
	normalized := block.Version != PixelVersion

	// Normalized outputs are clipped against the unit square before scaling.
	boundW, boundH := width, height
	if normalized {
		boundW, boundH = 1, 1
	}

	boxes := make([]common.BoundingBox, 0)
	for ix := 0; ix < rows; ix++ {
		base := ix * colSize
		xc := out.At(base + 0)
		yc := out.At(base + 1)
		w := out.At(base + 2)
		h := out.At(base + 3)

		x := xc - w/2
		y := yc - h/2
		if x < 0 {
			x = 0
		}
		if y < 0 {
			y = 0
		}
		if x+w > boundW {
			w = boundW - x
		}
		if y+h > boundH {
			h = boundH - y
		}
		if w < 0 || h < 0 {
			continue
		}

		score := out.At(base + 4)
		if score < impulse.ObjectDetectionThreshold || score > 1 {
			continue
		}

		label := 0
		for lx := 0; lx < labels; lx++ {
			if out.At(base+5+lx) > classThreshold {
				label = lx
				break
			}
		}

		if normalized {
			x *= width
			y *= height
			w *= width
			h *= height
		}

		boxes = append(boxes, common.BoundingBox{
			Label:   impulse.Label(label),
			ClassID: label,
			X:       uint32(x),
			Y:       uint32(y),
			Width:   uint32(w),
			Height:  uint32(h),
			Value:   score,
		})
	}

	boxes = postprocess.SuppressBoxes(boxes, impulse.NMSConfig())
	postprocess.SetBoxes(result, boxes, impulse.ObjectDetectionCount)
	return nil
}
