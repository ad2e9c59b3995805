// Package tao decodes NVIDIA TAO detector exports: the SSD and RetinaNet
// anchor-refinement head, and the YOLOv3 and YOLOv4 anchor-box heads.
//
// Every family runs NMS once per class, keeps the survivors that clear the
// detection threshold, then pads, sorts by descending score and caps the
// pooled list at postprocess.DefaultTopK.
package tao

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
	"github.com/nvr-ai/go-impulse/models/postprocess"
)

// candidates holds one class worth of boxes ready for NMS.
type candidates struct {
	boxes   *matrix.Matrix
	scores  []float32
	classes []int32
}

func newCandidates(n int) *candidates {
	return &candidates{
		boxes:   matrix.NewMatrix(n, 4, nil),
		scores:  make([]float32, n),
		classes: make([]int32, n),
	}
}

func (c *candidates) set(ix int, ymin, xmin, ymax, xmax, score float32, class int) {
	row := c.boxes.Row(ix)
	row[0], row[1], row[2], row[3] = ymin, xmin, ymax, xmax
	c.scores[ix] = score
	c.classes[ix] = int32(class)
}

// pool accumulates per-class NMS survivors.
type pool struct {
	impulse *model.Impulse
	cfg     *postprocess.NMSConfig
	boxes   []common.BoundingBox
}

func newPool(impulse *model.Impulse) *pool {
	return &pool{impulse: impulse, cfg: impulse.NMSConfig(), boxes: make([]common.BoundingBox, 0)}
}

// add suppresses one class and keeps the survivors above threshold. NMS can
// retain boxes below the detection threshold, hence the second filter.
func (p *pool) add(c *candidates, clip bool) error {
	kept, err := postprocess.Suppress(c.boxes, c.scores, c.classes, len(c.scores), clip, p.cfg)
	if err != nil {
		return err
	}
	for i := range kept {
		if kept[i].Score < p.impulse.ObjectDetectionThreshold {
			continue
		}
		p.boxes = append(p.boxes, kept[i].ToBoundingBox(p.impulse.Label(kept[i].Class)))
	}
	return nil
}

func (p *pool) finish(result *common.Result) {
	boxes := postprocess.Pad(p.boxes, p.impulse.ObjectDetectionCount)
	postprocess.SortByValue(boxes)
	result.Kind = common.ResultObjectDetection
	result.BoundingBoxes = postprocess.TopK(boxes, postprocess.DefaultTopK)
}

func firstOutput(outputs []*matrix.Tensor, block *model.LearningBlock) (*matrix.Tensor, int, error) {
	if len(outputs) < 1 {
		return nil, 0, errors.Wrap(common.ErrOutputShape, "tao decoder expects one output tensor")
	}
	out := outputs[0]
	features := out.Len()
	if block != nil && block.OutputFeaturesCount > 0 && block.OutputFeaturesCount < features {
		features = block.OutputFeaturesCount
	}
	return out, features, nil
}

func sigmoid(a float32) float32 {
	return 1 / (1 + math32.Exp(-a))
}

func clampUnit(v float32) float32 {
	return math32.Min(math32.Max(v, 0), 1)
}
