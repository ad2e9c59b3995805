package tao

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
)

// yoloColumns precede the class logits in every TAO YOLO row:
// cy, cx, ph, pw, step_y, step_x, pred_y, pred_x, pred_h, pred_w, object.
const yoloColumns = 11

const (
	// gridScaleXY is the YOLOv4 offset scale. At 1 the correction term vanishes.
	gridScaleXY float32 = 1
	// maxSizeExponent bounds the YOLOv4 size exponent input.
	maxSizeExponent float32 = 8
)

// offsets maps raw row terms to (pred_y, pred_x, pred_h, pred_w).
type offsets func(r6, r7, r8, r9 float32) (float32, float32, float32, float32)

func yolov3Offsets(r6, r7, r8, r9 float32) (float32, float32, float32, float32) {
	return sigmoid(r6), sigmoid(r7), math32.Exp(r8), math32.Exp(r9)
}

func yolov4Offsets(r6, r7, r8, r9 float32) (float32, float32, float32, float32) {
	shift := (gridScaleXY - 1) / 2
	return sigmoid(r6)*gridScaleXY - shift,
		sigmoid(r7)*gridScaleXY - shift,
		math32.Exp(math32.Min(r8, maxSizeExponent)),
		math32.Exp(math32.Min(r9, maxSizeExponent))
}

// DecodeYOLOv3 decodes the TAO YOLOv3 head.
func DecodeYOLOv3(impulse *model.Impulse, block *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	return decodeYOLO(impulse, block, outputs, result, yolov3Offsets)
}

// DecodeYOLOv4 decodes the TAO YOLOv4 head. It differs from YOLOv3 by the
// bounded size exponent and the grid scale correction of the offsets.
func DecodeYOLOv4(impulse *model.Impulse, block *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	return decodeYOLO(impulse, block, outputs, result, yolov4Offsets)
}

func decodeYOLO(
	impulse *model.Impulse,
	block *model.LearningBlock,
	outputs []*matrix.Tensor,
	result *common.Result,
	decode offsets,
) error {
	out, features, err := firstOutput(outputs, block)
	if err != nil {
		return err
	}
	labels := impulse.LabelCount()
	colSize := yoloColumns + labels
	rows := features / colSize
	width := float32(impulse.InputWidth)
	height := float32(impulse.InputHeight)

	p := newPool(impulse)
	for cls := 0; cls < labels; cls++ {
		c := newCandidates(rows)
		for ix := 0; ix < rows; ix++ {
			base := ix * colSize
			r := func(i int) float32 { return out.At(base + i) }

			predY, predX, predH, predW := decode(r(6), r(7), r(8), r(9))
			by := r(0) + predY*r(4)
			bx := r(1) + predX*r(5)
			bh := r(2) * predH
			bw := r(3) * predW

			score := sigmoid(r(yoloColumns+cls)) * sigmoid(r(10))
			c.set(ix,
				(by-bh/2)*height,
				(bx-bw/2)*width,
				(by+bh/2)*height,
				(bx+bw/2)*width,
				score, cls)
		}
		if err := p.add(c, true); err != nil {
			return err
		}
	}

	p.finish(result)
	return nil
}
