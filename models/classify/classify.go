// Package classify decodes plain per-label score vectors.
package classify

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model"
)

// Decode writes one dequantized score per category into the result.
func Decode(impulse *model.Impulse, _ *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	labels := impulse.LabelCount()
	if len(outputs) < 1 || outputs[0].Len() < labels {
		return errors.Wrapf(common.ErrOutputShape, "classification expects %d scores", labels)
	}
	out := outputs[0]

	scores := make([]common.Classification, labels)
	for ix := 0; ix < labels; ix++ {
		scores[ix] = common.Classification{Label: impulse.Categories[ix], Value: out.At(ix)}
	}
	result.Kind = common.ResultClassification
	result.Classification = scores
	return nil
}
