package tao

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
)

// anchorColumns is the number of trailing columns describing the anchor decode:
// 4 predicted offsets, 4 anchor corners and 4 variances.
const anchorColumns = 12

// DecodeDetections decodes the TAO SSD and RetinaNet head.
//
// Every row is [background, class scores..., cx, cy, w, h, xmin_a, ymin_a,
// xmax_a, ymax_a, var_cx, var_cy, var_w, var_h]. Class channels are 1-indexed,
// channel 0 is background.
//
// Arguments:
//   - impulse: Geometry, categories and thresholds.
//   - block: OutputFeaturesCount bounds the rows read.
//   - outputs: A single flat tensor, float or quantized.
//   - result: Receives the sorted, capped and padded box list.
//
// Returns:
//   - error: ErrOutputShape when there is no tensor.
//
// @example
// err := tao.DecodeDetections(impulse, block, outputs, &result)
func DecodeDetections(impulse *model.Impulse, block *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	out, features, err := firstOutput(outputs, block)
	if err != nil {
		return err
	}
	labels := impulse.LabelCount()
	colSize := anchorColumns + labels + 1
	rows := features / colSize
	width := float32(impulse.InputWidth)
	height := float32(impulse.InputHeight)

	p := newPool(impulse)
	for cls := 1; cls <= labels; cls++ {
		c := newCandidates(rows)
		for ix := 0; ix < rows; ix++ {
			score := clampUnit(out.At(ix*colSize + cls))

			// Terms are addressed back from the end of the row.
			end := ix*colSize + colSize
			r := func(back int) float32 { return out.At(end - back) }

			cxPred, cyPred, wPred, hPred := r(12), r(11), r(10), r(9)
			wAnchor := r(6) - r(8)
			hAnchor := r(5) - r(7)
			cxAnchor := (r(6) + r(8)) / 2
			cyAnchor := (r(5) + r(7)) / 2
			cxVariance, cyVariance := r(4), r(3)
			varianceW, varianceH := r(2), r(1)

			cx := cxPred*cxVariance*wAnchor + cxAnchor
			cy := cyPred*cyVariance*hAnchor + cyAnchor
			w := math32.Exp(wPred*varianceW) * wAnchor
			h := math32.Exp(hPred*varianceH) * hAnchor

			c.set(ix,
				(cy-h/2)*height,
				(cx-w/2)*width,
				(cy+h/2)*height,
				(cx+w/2)*width,
				score, cls-1)
		}
		if err := p.add(c, false); err != nil {
			return err
		}
	}

	p.finish(result)
	return nil
}
