// Package yolox decodes YOLOX outputs, either raw stride-grid regressions or
// rows already decoded by the engine.
package yolox

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
	"github.com/nvr-ai/go-impulse/models/postprocess"
)

// Strides are the downsampling factors of the three detection heads.
var Strides = []int{8, 16, 32}

// Grids builds the concatenated cell grid and the per-row stride of every head.
//
// Arguments:
//   - width: The input width.
//   - height: The input height.
//
// Returns:
//   - *matrix.IntMatrix: rows x 2 of (x, y) cell coordinates.
//   - []int32: The stride of every row.
func Grids(width, height int) (*matrix.IntMatrix, []int32) {
	total := 0
	for _, s := range Strides {
		total += (height / s) * (width / s)
	}

	grid := matrix.NewIntMatrix(total, 2, nil)
	strides := make([]int32, 0, total)
	row := 0
	for _, s := range Strides {
		hsize := height / s
		wsize := width / s
		for h := 0; h < hsize; h++ {
			for w := 0; w < wsize; w++ {
				grid.Set(row, 0, int32(w))
				grid.Set(row, 1, int32(h))
				strides = append(strides, int32(s))
				row++
			}
		}
	}
	return grid, strides
}

// Decode reconstructs boxes from rows of [x, y, w, h, object, class...].
//
// Position is (raw + cell) * stride and size is exp(raw) * stride. Every class
// whose object*class score clears the threshold yields a candidate, then NMS
// runs and the list is padded.
//
// Arguments:
//   - impulse: Geometry, categories and thresholds.
//   - block: OutputFeaturesCount bounds the rows read.
//   - outputs: A single flat tensor.
//   - result: Receives the padded box list.
//
// Returns:
//   - error: ErrOutputShape when the tensor holds more rows than the grid.
func Decode(impulse *model.Impulse, block *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	if len(outputs) < 1 {
		return errors.Wrap(common.ErrOutputShape, "yolox expects one output tensor")
	}
	out := outputs[0]
	labels := impulse.LabelCount()
	m, err := out.Matrix(featureCount(block, out), 5+labels)
	if err != nil {
		return errors.Wrap(common.ErrOutputShape, err.Error())
	}
	rows := m.Rows()

	grid, strides := Grids(impulse.InputWidth, impulse.InputHeight)
	if rows > grid.Rows() {
		return errors.Wrapf(common.ErrOutputShape, "yolox output has %d rows, grid has %d", rows, grid.Rows())
	}

	boxes := make([]common.BoundingBox, 0)
	for row := 0; row < rows; row++ {
		r := m.Row(row)
		stride := float32(strides[row])
		xc := (r[0] + float32(grid.At(row, 0))) * stride
		yc := (r[1] + float32(grid.At(row, 1))) * stride
		w := math32.Exp(r[2]) * stride
		h := math32.Exp(r[3]) * stride
		objectness := r[4]

		for c := 0; c < labels; c++ {
			score := objectness * r[5+c]
			if score < impulse.ObjectDetectionThreshold || score > 1 {
				continue
			}
			x := clampInt(int(xc-w/2), impulse.InputWidth)
			y := clampInt(int(yc-h/2), impulse.InputHeight)
			boxes = append(boxes, common.BoundingBox{
				Label:   impulse.Label(c),
				ClassID: c,
				X:       uint32(x),
				Y:       uint32(y),
				Width:   uint32(math32.Round(w)),
				Height:  uint32(math32.Round(h)),
				Value:   score,
			})
		}
	}

	boxes = postprocess.SuppressBoxes(boxes, impulse.NMSConfig())
	postprocess.SetBoxes(result, boxes, impulse.ObjectDetectionCount)
	return nil
}

// DecodeDetect reads rows of [xmin, ymin, xmax, ymax, score, class] that the
// engine already decoded and suppressed. The list is not padded.
func DecodeDetect(impulse *model.Impulse, block *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	if len(outputs) < 1 {
		return errors.Wrap(common.ErrOutputShape, "yolox expects one output tensor")
	}
	out := outputs[0]
	m, err := out.Matrix(featureCount(block, out), 6)
	if err != nil {
		return errors.Wrap(common.ErrOutputShape, err.Error())
	}

	boxes := make([]common.BoundingBox, 0)
	for row := 0; row < m.Rows(); row++ {
		r := m.Row(row)
		score := r[4]
		class := int(r[5])
		if score < impulse.ObjectDetectionThreshold || score > 1 {
			continue
		}
		if class < 0 || class >= impulse.LabelCount() {
			continue
		}

		xmin, ymin := r[0], r[1]
		width := r[2] - xmin
		height := r[3] - ymin
		if width < 0 || height < 0 {
			continue
		}

		boxes = append(boxes, common.BoundingBox{
			Label:   impulse.Label(class),
			ClassID: class,
			X:       uint32(clampInt(int(xmin), impulse.InputWidth)),
			Y:       uint32(clampInt(int(ymin), impulse.InputHeight)),
			Width:   uint32(math32.Round(width)),
			Height:  uint32(math32.Round(height)),
			Value:   score,
		})
	}

	result.Kind = common.ResultObjectDetection
	result.BoundingBoxes = boxes
	return nil
}

func featureCount(block *model.LearningBlock, out *matrix.Tensor) int {
	if block != nil && block.OutputFeaturesCount > 0 && block.OutputFeaturesCount < out.Len() {
		return block.OutputFeaturesCount
	}
	return out.Len()
}

func clampInt(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
