// Package fomo decodes grid-cell classification detectors.
//
// Every output cell carries one background channel followed by one score per
// label. Cells above the detection threshold are merged into same-label cubes
// with a single forward pass followed by one coalescing pass over the cubes.
// Clusters that only become connected after the scan has moved past them are
// not joined.
package fomo

import (
	"math"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
	"github.com/nvr-ai/go-impulse/models/postprocess"
)

// cube is a rectangular region of grid cells sharing a label.
type cube struct {
	x, y          int
	width, height int
	confidence    float32
	label         int
}

// overlaps reports whether the region touches or intersects c. Adjacent and
// diagonal neighbours count as overlapping.
func (c *cube) overlaps(x, y, width, height int) bool {
	return !(c.x+c.width < x || c.y+c.height < y || c.x > x+width || c.y > y+height)
}

// absorb grows c to the union of c and the region and raises its confidence.
func (c *cube) absorb(x, y, width, height int, confidence float32) {
	right := max(c.x+c.width, x+width)
	bottom := max(c.y+c.height, y+height)
	c.x = min(c.x, x)
	c.y = min(c.y, y)
	c.width = right - c.x
	c.height = bottom - c.y
	if confidence > c.confidence {
		c.confidence = confidence
	}
}

// merge folds the region into the first overlapping same-label cube.
func merge(cubes []*cube, x, y, width, height, label int, confidence float32) bool {
	for _, c := range cubes {
		if c.label != label || !c.overlaps(x, y, width, height) {
			continue
		}
		c.absorb(x, y, width, height, confidence)
		return true
	}
	return false
}

// Grid returns the output grid size of a block.
//
// The size comes from the block configuration, then from a [h, w, c] or
// [1, h, w, c] tensor shape, then from a square grid inferred from the element count.
func Grid(block *model.LearningBlock, out *matrix.Tensor, channels int) (int, int, error) {
	if block.OutputWidth > 0 && block.OutputHeight > 0 {
		return block.OutputWidth, block.OutputHeight, nil
	}
	switch s := out.Shape; {
	case len(s) == 3:
		return s[1], s[0], nil
	case len(s) == 4:
		return s[2], s[1], nil
	}
	cells := out.Len() / channels
	side := int(math.Sqrt(float64(cells)))
	if side*side != cells || cells == 0 {
		return 0, 0, errors.Wrapf(common.ErrOutputShape, "cannot infer fomo grid from %d elements", out.Len())
	}
	return side, side, nil
}

// Decode turns a FOMO output tensor into bounding boxes.
//
// Arguments:
//   - impulse: Geometry, categories and thresholds.
//   - block: The learning block, which may carry the output grid size.
//   - outputs: A single [out_h][out_w][labels+1] tensor.
//   - result: Receives the padded box list.
//
// Returns:
//   - error: ErrOutputShape when the tensor does not match the grid.
func Decode(impulse *model.Impulse, block *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	if len(outputs) < 1 {
		return errors.Wrap(common.ErrOutputShape, "fomo expects one output tensor")
	}
	out := outputs[0]
	labels := impulse.LabelCount()
	channels := labels + 1

	outW, outH, err := Grid(block, out, channels)
	if err != nil {
		return err
	}
	if out.Len() < outW*outH*channels {
		return errors.Wrapf(common.ErrOutputShape, "fomo output has %d elements, grid %dx%dx%d", out.Len(), outH, outW, channels)
	}

	cubes := make([]*cube, 0)
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			loc := (y*outW + x) * channels
			for ix := 1; ix < channels; ix++ {
				v := out.At(loc + ix)
				if v < impulse.ObjectDetectionThreshold {
					continue
				}
				if !merge(cubes, x, y, 1, 1, ix-1, v) {
					cubes = append(cubes, &cube{x: x, y: y, width: 1, height: 1, confidence: v, label: ix - 1})
				}
			}
		}
	}

	survivors := make([]*cube, 0, len(cubes))
	for _, c := range cubes {
		if merge(survivors, c.x, c.y, c.width, c.height, c.label, c.confidence) {
			continue
		}
		survivors = append(survivors, c)
	}

	factor := impulse.InputWidth / outW
	boxes := make([]common.BoundingBox, 0, max(len(survivors), impulse.ObjectDetectionCount))
	for _, c := range survivors {
		boxes = append(boxes, common.BoundingBox{
			Label:   impulse.Label(c.label),
			ClassID: c.label,
			X:       uint32(c.x * factor),
			Y:       uint32(c.y * factor),
			Width:   uint32(c.width * factor),
			Height:  uint32(c.height * factor),
			Value:   c.confidence,
		})
	}

	postprocess.SetBoxes(result, boxes, impulse.ObjectDetectionCount)
	return nil
}
