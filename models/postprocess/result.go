// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-impulse/common"
)

// Detection represents a single candidate box in pixel space.
type Detection struct {
	// Corners of the box.
	YMin, XMin, YMax, XMax float32
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
}

// Area returns the box area, or 0 when degenerate.
func (d *Detection) Area() float32 {
	w := d.XMax - d.XMin
	h := d.YMax - d.YMin
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection over union of two detections. Zero-area boxes
// have an IoU of 0 with everything.
func (d *Detection) IoU(o *Detection) float32 {
	areaA := d.Area()
	areaB := o.Area()
	if areaA <= 0 || areaB <= 0 {
		return 0
	}
	iw := math32.Min(d.XMax, o.XMax) - math32.Max(d.XMin, o.XMin)
	ih := math32.Min(d.YMax, o.YMax) - math32.Max(d.YMin, o.YMin)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	return inter / (areaA + areaB - inter)
}

// Clip clamps the box to [0, width] x [0, height].
func (d *Detection) Clip(width, height float32) {
	d.XMin = clamp(d.XMin, 0, width)
	d.XMax = clamp(d.XMax, 0, width)
	d.YMin = clamp(d.YMin, 0, height)
	d.YMax = clamp(d.YMax, 0, height)
}

// ToBoundingBox converts the detection to an integer pixel box.
//
// Arguments:
//   - label: The category name for Class.
//
// Returns:
//   - common.BoundingBox: The box, with negative coordinates floored at 0.
func (d *Detection) ToBoundingBox(label string) common.BoundingBox {
	xmin := math32.Max(d.XMin, 0)
	ymin := math32.Max(d.YMin, 0)
	return common.BoundingBox{
		Label:   label,
		ClassID: d.Class,
		X:       uint32(xmin),
		Y:       uint32(ymin),
		Width:   uint32(math32.Max(d.XMax-xmin, 0)),
		Height:  uint32(math32.Max(d.YMax-ymin, 0)),
		Value:   d.Score,
	}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetBoxes stores boxes as an object detection result, padded to min slots.
//
// Arguments:
//   - result: The result to fill.
//   - boxes: Detected boxes, in output order.
//   - min: The configured minimum slot count.
func SetBoxes(result *common.Result, boxes []common.BoundingBox, min int) {
	if boxes == nil {
		boxes = make([]common.BoundingBox, 0, min)
	}
	result.Kind = common.ResultObjectDetection
	result.BoundingBoxes = Pad(boxes, min)
}
