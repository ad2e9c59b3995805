package inference

import (
	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/models/model"
)

// EventRecognizer smooths per-slice classification scores with a moving average
// and reports a label once its averaged score crosses the detection threshold.
// After a detection the recognizer stays quiet for the suppression period.
type EventRecognizer struct {
	labels     int
	window     int
	suppress   int
	threshold  float32
	flags      uint32
	boost      bool
	history    []float32
	sum        []float32
	cursor     int
	suppressed int
}

// NewEventRecognizer creates a recognizer for a calibration profile.
//
// Both the averaging window and the suppression period are converted from
// milliseconds to a number of slices, where one slice lasts
// sliceSize * intervalMs milliseconds. The averaging window is at least one
// slice.
//
// Arguments:
//   - cal: The calibration profile.
//   - labelCount: Number of categories scored per slice.
//   - sliceSize: Samples per slice.
//   - intervalMs: Milliseconds per sample.
//
// Returns:
//   - *EventRecognizer: The recognizer.
func NewEventRecognizer(cal model.Calibration, labelCount, sliceSize int, intervalMs float32) *EventRecognizer {
	sliceMs := float32(sliceSize) * intervalMs

	window, suppress := 1, 0
	if sliceMs > 0 {
		window = int(float32(cal.AverageWindowDurationMs) / sliceMs)
		suppress = int(float32(cal.SuppressionMs) / sliceMs)
	}
	if window < 1 {
		window = 1
	}

	return &EventRecognizer{
		labels:    labelCount,
		window:    window,
		suppress:  suppress,
		threshold: cal.DetectionThreshold,
		flags:     cal.SuppressionFlags,
		boost:     cal.IsConfigured,
		history:   make([]float32, window*labelCount),
		sum:       make([]float32, labelCount),
	}
}

// Window returns the averaging window in slices.
func (r *EventRecognizer) Window() int { return r.window }

// SuppressionSlices returns the suppression period in slices.
func (r *EventRecognizer) SuppressionSlices() int { return r.suppress }

// ShouldBoost reports whether detections replace the raw scores.
func (r *EventRecognizer) ShouldBoost() bool { return r.boost }

// Trigger feeds one slice of scores and returns the recognized label index, or
// -1 when no label is recognized.
//
// Arguments:
//   - scores: One score per label. Missing labels count as zero.
//
// Returns:
//   - int: The recognized label, or -1.
func (r *EventRecognizer) Trigger(scores []common.Classification) int {
	if r.labels == 0 {
		return -1
	}

	row := r.history[r.cursor*r.labels : (r.cursor+1)*r.labels]
	for l := 0; l < r.labels; l++ {
		var v float32
		if l < len(scores) {
			v = scores[l].Value
		}
		r.sum[l] += v - row[l]
		row[l] = v
	}
	r.cursor = (r.cursor + 1) % r.window

	top, best := 0, float32(0)
	for l, s := range r.sum {
		if avg := s / float32(r.window); avg > best {
			top, best = l, avg
		}
	}

	if r.suppressed > 0 {
		r.suppressed--
		return -1
	}
	if best < r.threshold || best == 0 {
		return -1
	}
	if r.flags == 0 || r.flags&(1<<uint(top)) != 0 {
		r.suppressed = r.suppress
	}
	return top
}

// Apply runs Trigger on the result scores and, when boosting, rewrites them so
// the recognized label scores 1 and every other label 0.
//
// Returns:
//   - int: The recognized label, or -1.
func (r *EventRecognizer) Apply(scores []common.Classification) int {
	label := r.Trigger(scores)
	if !r.boost {
		return label
	}
	for i := range scores {
		scores[i].Value = 0
	}
	if label >= 0 && label < len(scores) {
		scores[label].Value = 1
	}
	return label
}

// Reset clears the averaging history and any pending suppression.
func (r *EventRecognizer) Reset() {
	for i := range r.history {
		r.history[i] = 0
	}
	for i := range r.sum {
		r.sum[i] = 0
	}
	r.cursor, r.suppressed = 0, 0
}
