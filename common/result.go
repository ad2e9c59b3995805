package common

import "time"

// ResultKind selects which payload of a Result is meaningful.
type ResultKind int

const (
	// ResultClassification carries one score per category.
	ResultClassification ResultKind = iota
	// ResultObjectDetection carries a bounding box list.
	ResultObjectDetection
	// ResultVisualAnomaly carries a per-cell anomaly grid with summary statistics.
	ResultVisualAnomaly
)

// String returns the kind name.
func (k ResultKind) String() string {
	switch k {
	case ResultClassification:
		return "classification"
	case ResultObjectDetection:
		return "object_detection"
	case ResultVisualAnomaly:
		return "visual_anomaly"
	default:
		return "unknown"
	}
}

// Classification is a single category score.
type Classification struct {
	Label string  `json:"label" yaml:"label"`
	Value float32 `json:"value" yaml:"value"`
}

// VisualAnomaly holds the output of a visual anomaly block.
type VisualAnomaly struct {
	Mean float32       `json:"mean" yaml:"mean"`
	Max  float32       `json:"max" yaml:"max"`
	Grid []BoundingBox `json:"grid" yaml:"grid"`
}

// Timing is the per-stage time spent producing a Result.
type Timing struct {
	DSP            time.Duration `json:"dsp" yaml:"dsp"`
	Classification time.Duration `json:"classification" yaml:"classification"`
	Anomaly        time.Duration `json:"anomaly" yaml:"anomaly"`
}

// Result is the uniform output of an impulse run.
//
// Kind selects the payload. A scalar Anomaly score may accompany any kind when
// the impulse contains an anomaly block.
type Result struct {
	Kind           ResultKind       `json:"kind" yaml:"kind"`
	Classification []Classification `json:"classification,omitempty" yaml:"classification,omitempty"`
	BoundingBoxes  []BoundingBox    `json:"bounding_boxes,omitempty" yaml:"bounding_boxes,omitempty"`
	VisualAnomaly  *VisualAnomaly   `json:"visual_anomaly,omitempty" yaml:"visual_anomaly,omitempty"`
	Anomaly        float32          `json:"anomaly" yaml:"anomaly"`
	Timing         Timing           `json:"timing" yaml:"timing"`
}

// NewClassificationResult returns a result with every label populated and all scores zero.
//
// Arguments:
//   - labels: The category names, in output order.
//
// Returns:
//   - *Result: A classification result.
func NewClassificationResult(labels []string) *Result {
	r := &Result{Kind: ResultClassification, Classification: make([]Classification, len(labels))}
	for i, l := range labels {
		r.Classification[i].Label = l
	}
	return r
}

// FoundBoxes returns the bounding boxes whose value is non-zero.
func (r *Result) FoundBoxes() []BoundingBox {
	found := make([]BoundingBox, 0, len(r.BoundingBoxes))
	for _, b := range r.BoundingBoxes {
		if b.Found() {
			found = append(found, b)
		}
	}
	return found
}

// Top returns the classification with the highest score, or false when there is none.
func (r *Result) Top() (Classification, bool) {
	if len(r.Classification) == 0 {
		return Classification{}, false
	}
	best := r.Classification[0]
	for _, c := range r.Classification[1:] {
		if c.Value > best.Value {
			best = c
		}
	}
	return best, true
}

// DSPMs returns the DSP time in milliseconds.
func (t Timing) DSPMs() int64 { return t.DSP.Milliseconds() }

// ClassificationMs returns the inference time in milliseconds.
func (t Timing) ClassificationMs() int64 { return t.Classification.Milliseconds() }

// AnomalyMs returns the anomaly block time in milliseconds.
func (t Timing) AnomalyMs() int64 { return t.Anomaly.Milliseconds() }
