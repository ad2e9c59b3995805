// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
)

const (
	// DefaultIoUThreshold is the overlap above which a same-class box is suppressed.
	DefaultIoUThreshold float32 = 0.2
	// DefaultTopK caps the pooled box list of multi-pass decoders.
	DefaultTopK = 200
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// Overlap threshold for suppression.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// Image bounds used when clipping. Filled from the impulse geometry.
	Width  float32 `json:"-" yaml:"-"`
	Height float32 `json:"-" yaml:"-"`
}

func (c *NMSConfig) threshold() float32 {
	if c == nil || c.IoUThreshold <= 0 {
		return DefaultIoUThreshold
	}
	return c.IoUThreshold
}

// Suppress runs per-class greedy Non-Maximum Suppression.
//
// Arguments:
//   - boxes: count x 4 matrix of [ymin, xmin, ymax, xmax] in pixels.
//   - scores: One score per box.
//   - classes: One class index per box.
//   - count: Number of candidates to consider.
//   - clip: Clamp boxes to the config bounds before computing overlap.
//   - cfg: Threshold and bounds.
//
// Returns:
//   - []Detection: Accepted boxes, classes in increasing index order, each class
//     in descending score order.
//   - error: ErrNMSInvalidInput when the inputs disagree in length.
//
// @example
// kept, err := postprocess.Suppress(boxes, scores, classes, n, true, impulse.NMSConfig())
func Suppress(
	boxes *matrix.Matrix,
	scores []float32,
	classes []int32,
	count int,
	clip bool,
	cfg *NMSConfig,
) ([]Detection, error) {
	if count == 0 {
		return nil, nil
	}
	if count < 0 || boxes == nil || boxes.Cols() != 4 || boxes.Rows() < count ||
		len(scores) < count || len(classes) < count {
		return nil, errors.Wrapf(common.ErrNMSInvalidInput, "count %d, scores %d, classes %d", count, len(scores), len(classes))
	}

	detections := make([]Detection, count)
	for i := 0; i < count; i++ {
		row := boxes.Row(i)
		detections[i] = Detection{
			YMin:  row[0],
			XMin:  row[1],
			YMax:  row[2],
			XMax:  row[3],
			Score: scores[i],
			Class: int(classes[i]),
		}
		if clip && cfg != nil {
			detections[i].Clip(cfg.Width, cfg.Height)
		}
	}

	ids := make([]int, count)
	for i := range detections {
		ids[i] = detections[i].Class
	}
	overlap := func(a, b int) float32 { return detections[a].IoU(&detections[b]) }
	kept := suppressIndices(ids, scores[:count], overlap, cfg.threshold())
	out := make([]Detection, 0, len(kept))
	for _, i := range kept {
		out = append(out, detections[i])
	}
	return out, nil
}

// SuppressBoxes runs the same per-class suppression over an already converted
// box list. The class is taken from ClassID and overlap is measured on the
// integer pixel rectangles with BoundingBox.IoU.
//
// Arguments:
//   - boxes: Candidate boxes.
//   - cfg: Threshold.
//
// Returns:
//   - []common.BoundingBox: Accepted boxes with labels preserved.
func SuppressBoxes(boxes []common.BoundingBox, cfg *NMSConfig) []common.BoundingBox {
	if len(boxes) == 0 {
		return nil
	}
	classes := make([]int, len(boxes))
	scores := make([]float32, len(boxes))
	for i := range boxes {
		classes[i] = boxes[i].ClassID
		scores[i] = boxes[i].Value
	}
	overlap := func(a, b int) float32 { return boxes[a].IoU(&boxes[b]) }
	kept := suppressIndices(classes, scores, overlap, cfg.threshold())
	out := make([]common.BoundingBox, 0, len(kept))
	for _, i := range kept {
		out = append(out, boxes[i])
	}
	return out
}

// Overlap returns the IoU of candidates a and b.
type Overlap func(a, b int) float32

// suppressIndices groups candidates by class and applies greedy NMS to each group.
func suppressIndices(classes []int, scores []float32, overlap Overlap, iouThreshold float32) []int {
	byClass := make(map[int][]int)
	for i, c := range classes {
		byClass[c] = append(byClass[c], i)
	}
	order := make([]int, 0, len(byClass))
	for c := range byClass {
		order = append(order, c)
	}
	sort.Ints(order)

	kept := make([]int, 0, len(classes))
	for _, c := range order {
		idx := byClass[c]
		sort.SliceStable(idx, func(a, b int) bool {
			return scores[idx[a]] > scores[idx[b]]
		})
		kept = append(kept, ApplyGreedyNMS(idx, overlap, iouThreshold)...)
	}
	return kept
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Arguments:
//   - order: Candidate indices, sorted by descending confidence.
//   - overlap: IoU between two candidate indices.
//   - iouThreshold: IoU threshold above which overlapping boxes are suppressed.
//
// Returns:
//   - The accepted indices, in order.
func ApplyGreedyNMS(order []int, overlap Overlap, iouThreshold float32) []int {
	n := len(order)
	if n == 0 {
		return nil
	}

	filtered := make([]int, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := order[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}

			// Suppress if IoU exceeds threshold
			if overlap(anchor, order[j]) > iouThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}

// Pad appends zero-valued boxes until the list holds at least min entries.
//
// @example
// boxes = postprocess.Pad(boxes, impulse.ObjectDetectionCount)
func Pad(boxes []common.BoundingBox, min int) []common.BoundingBox {
	for len(boxes) < min {
		boxes = append(boxes, common.BoundingBox{})
	}
	return boxes
}

// SortByValue orders boxes by descending value, keeping the original order of ties.
func SortByValue(boxes []common.BoundingBox) {
	sort.SliceStable(boxes, func(a, b int) bool {
		return boxes[a].Value > boxes[b].Value
	})
}

// TopK truncates boxes to at most k entries.
func TopK(boxes []common.BoundingBox, k int) []common.BoundingBox {
	if k >= 0 && len(boxes) > k {
		return boxes[:k]
	}
	return boxes
}
