package model

import (
	"github.com/nvr-ai/go-impulse/common"
)

// Validate checks the geometry and block wiring of an impulse.
//
// Returns:
//   - error: A CodeConfig error describing the first problem found.
func (i *Impulse) Validate() error {
	if i.InputWidth < 0 || i.InputHeight < 0 {
		return common.NewError(common.CodeConfig, "invalid input dimensions: %dx%d", i.InputWidth, i.InputHeight)
	}
	if i.ObjectDetectionCount < 0 {
		return common.NewError(common.CodeConfig, "object_detection_count must not be negative")
	}
	if i.ObjectDetectionThreshold < 0 || i.ObjectDetectionThreshold > 1 {
		return common.NewError(common.CodeConfig, "object_detection_threshold %f outside [0, 1]", i.ObjectDetectionThreshold)
	}
	if len(i.LearningBlocks) == 0 {
		return common.NewError(common.CodeConfig, "impulse has no learning blocks")
	}

	total := 0
	seen := make(map[int]bool, len(i.DSPBlocks))
	for _, b := range i.DSPBlocks {
		if b.OutputFeatures <= 0 {
			return common.NewError(common.CodeConfig, "dsp block %d has no output features", b.ID)
		}
		if seen[b.ID] {
			return common.NewError(common.CodeConfig, "duplicate dsp block id %d", b.ID)
		}
		seen[b.ID] = true
		total += b.OutputFeatures
	}
	if len(i.DSPBlocks) > 0 && total > i.NNInputFrameSize {
		return common.NewError(common.CodeConfig,
			"dsp blocks produce %d features, nn_input_frame_size is %d", total, i.NNInputFrameSize)
	}

	for _, b := range i.LearningBlocks {
		if b.LastLayer == "" {
			return common.NewError(common.CodeConfig, "learning block %d has no last_layer", b.ID)
		}
		if b.LastLayer.IsObjectDetection() && (i.InputWidth == 0 || i.InputHeight == 0) {
			return common.NewError(common.CodeConfig,
				"learning block %d is an object detector but input dimensions are unset", b.ID)
		}
		if !b.ImageScaling.Valid() {
			return common.NewError(common.CodeConfig,
				"learning block %d has unknown image scaling %q", b.ID, b.ImageScaling)
		}
	}
	return nil
}
