package inference

import (
	"go.uber.org/zap"

	"github.com/nvr-ai/go-impulse/common"
)

// DisplayResults logs a result: timings, then the payload of its kind, then the
// anomaly score when present.
//
// Arguments:
//   - log: The destination logger.
//   - result: The result to display.
func DisplayResults(log *zap.Logger, result *common.Result) {
	if log == nil || result == nil {
		return
	}
	log.Info("predictions",
		zap.Int64("dsp_ms", result.Timing.DSPMs()),
		zap.Int64("classification_ms", result.Timing.ClassificationMs()),
		zap.Int64("anomaly_ms", result.Timing.AnomalyMs()),
	)

	switch result.Kind {
	case common.ResultObjectDetection:
		found := result.FoundBoxes()
		if len(found) == 0 {
			log.Info("No objects found")
		}
		for _, bb := range found {
			log.Info("object", boxFields(bb)...)
		}
	case common.ResultClassification:
		for _, c := range result.Classification {
			log.Info("classification", zap.String("label", c.Label), zap.Float32("value", c.Value))
		}
	}

	if va := result.VisualAnomaly; va != nil {
		for _, bb := range va.Grid {
			if bb.Value == 0 {
				continue
			}
			log.Info("visual anomaly cell", boxFields(bb)...)
		}
		log.Info("visual anomaly", zap.Float32("mean", va.Mean), zap.Float32("max", va.Max))
		return
	}
	if result.Anomaly != 0 {
		log.Info("anomaly", zap.Float32("score", result.Anomaly))
	}
}

func boxFields(bb common.BoundingBox) []zap.Field {
	return []zap.Field{
		zap.String("label", bb.Label),
		zap.Float32("value", bb.Value),
		zap.Uint32("x", bb.X),
		zap.Uint32("y", bb.Y),
		zap.Uint32("width", bb.Width),
		zap.Uint32("height", bb.Height),
	}
}
