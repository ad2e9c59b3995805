package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nvr-ai/go-impulse/common"
)

func messages(logs *observer.ObservedLogs) []string {
	var out []string
	for _, e := range logs.All() {
		out = append(out, e.Message)
	}
	return out
}

func TestDisplayResults(t *testing.T) {
	t.Run("no objects", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		DisplayResults(zap.New(core), &common.Result{
			Kind:          common.ResultObjectDetection,
			BoundingBoxes: make([]common.BoundingBox, 3),
		})
		assert.Equal(t, []string{"predictions", "No objects found"}, messages(logs))
	})

	t.Run("objects skip padding", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		DisplayResults(zap.New(core), &common.Result{
			Kind:          common.ResultObjectDetection,
			BoundingBoxes: []common.BoundingBox{{Label: "bolt", Value: 0.9, Width: 8}, {}},
			Anomaly:       0.25,
		})
		require.Equal(t, []string{"predictions", "object", "anomaly"}, messages(logs))
		fields := logs.All()[1].ContextMap()
		assert.Equal(t, "bolt", fields["label"])
		assert.Equal(t, uint32(8), fields["width"])
	})

	t.Run("classification and visual anomaly", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		DisplayResults(zap.New(core), &common.Result{
			Kind:           common.ResultClassification,
			Classification: []common.Classification{{Label: "ok", Value: 0.1}, {Label: "bad", Value: 0.9}},
			VisualAnomaly: &common.VisualAnomaly{
				Mean: 0.2, Max: 0.8,
				Grid: []common.BoundingBox{{Label: "anomaly", Value: 0.8}, {}},
			},
			Anomaly: 0.8,
		})
		assert.Equal(t, []string{
			"predictions", "classification", "classification", "visual anomaly cell", "visual anomaly",
		}, messages(logs))
	})
}
