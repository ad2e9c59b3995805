// Package yolov7 decodes the end-to-end YOLOv7 export.
package yolov7

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
	"github.com/nvr-ai/go-impulse/models/postprocess"
)

const colSize = 7

// Decode reads rows of [batch, xmin, ymin, xmax, ymax, class, score] in pixels.
// NMS already ran inside the model.
func Decode(impulse *model.Impulse, block *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	if len(outputs) < 1 {
		return errors.Wrap(common.ErrOutputShape, "yolov7 expects one output tensor")
	}
	out := outputs[0]
	features := out.Len()
	if block != nil && block.OutputFeaturesCount > 0 && block.OutputFeaturesCount < features {
		features = block.OutputFeaturesCount
	}
	rows := features / colSize

	boxes := make([]common.BoundingBox, 0)
	for ix := 0; ix < rows; ix++ {
		base := ix * colSize
		xmin := out.At(base + 1)
		ymin := out.At(base + 2)
		xmax := out.At(base + 3)
		ymax := out.At(base + 4)
		label := int(out.At(base + 5))
		score := out.At(base + 6)

		if score < impulse.ObjectDetectionThreshold || score > 1 {
			continue
		}
		if label < 0 || label >= impulse.LabelCount() || xmax < xmin || ymax < ymin {
			continue
		}

		boxes = append(boxes, common.BoundingBox{
			Label:   impulse.Label(label),
			ClassID: label,
			X:       uint32(max(xmin, 0)),
			Y:       uint32(max(ymin, 0)),
			Width:   uint32(xmax - xmin),
			Height:  uint32(ymax - ymin),
			Value:   score,
		})
	}

	postprocess.SetBoxes(result, boxes, impulse.ObjectDetectionCount)
	return nil
}
