// Package models - registry of output decoders.
package models

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/anomaly"
	"github.com/nvr-ai/go-impulse/models/classify"
	"github.com/nvr-ai/go-impulse/models/fomo"
	"github.com/nvr-ai/go-impulse/models/model"
	"github.com/nvr-ai/go-impulse/models/ssd"
	"github.com/nvr-ai/go-impulse/models/tao"
	"github.com/nvr-ai/go-impulse/models/yolov5"
	"github.com/nvr-ai/go-impulse/models/yolov7"
	"github.com/nvr-ai/go-impulse/models/yolox"
)

// DecodeFunc turns the raw outputs of one learning block into result fields.
type DecodeFunc func(impulse *model.Impulse, block *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error

// Registry maps decoder families to their decode functions.
type Registry struct {
	mu       sync.RWMutex
	decoders map[model.LastLayer]DecodeFunc
}

// NewRegistry creates a registry holding the given decoders.
//
// Arguments:
//   - decoders: The initial capability set. May be nil.
//
// Returns:
//   - *Registry: The registry.
//
// Example:
//
// ```go
//
//	reg := models.NewRegistry(map[model.LastLayer]models.DecodeFunc{
//	    model.LastLayerFOMO: fomo.Decode,
//	})
//	err := reg.Decode(impulse, block, outputs, &result)
//
// ```
func NewRegistry(decoders map[model.LastLayer]DecodeFunc) *Registry {
	r := &Registry{decoders: make(map[model.LastLayer]DecodeFunc, len(decoders))}
	for k, v := range decoders {
		r.decoders[k] = v
	}
	return r
}

// Default returns a registry with every built-in decoder family.
func Default() *Registry {
	return NewRegistry(map[model.LastLayer]DecodeFunc{
		model.LastLayerClassification: classify.Decode,
		model.LastLayerAnomaly:        anomaly.DecodeScore,
		model.LastLayerVisualAnomaly:  anomaly.Decode,
		model.LastLayerFOMO:           fomo.Decode,
		model.LastLayerSSD:            ssd.Decode,
		model.LastLayerYOLOv5:         yolov5.Decode,
		model.LastLayerYOLOv5V5DRPAI:  decodeYOLOv5Pixels,
		model.LastLayerYOLOX:          yolox.Decode,
		model.LastLayerYOLOXDetect:    yolox.DecodeDetect,
		model.LastLayerYOLOv7:         yolov7.Decode,
		model.LastLayerTAOSSD:         tao.DecodeDetections,
		model.LastLayerTAORetinaNet:   tao.DecodeDetections,
		model.LastLayerTAOYOLOv3:      tao.DecodeYOLOv3,
		model.LastLayerTAOYOLOv4:      tao.DecodeYOLOv4,
	})
}

// decodeYOLOv5Pixels forces pixel-space coordinates for the DRP-AI export.
func decodeYOLOv5Pixels(impulse *model.Impulse, block *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	b := *block
	b.Version = yolov5.PixelVersion
	return yolov5.Decode(impulse, &b, outputs, result)
}

// Register adds or replaces the decoder of a family.
func (r *Registry) Register(layer model.LastLayer, fn DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[layer] = fn
}

// Unregister removes a family, so blocks using it fail with ErrLayerNotAvailable.
func (r *Registry) Unregister(layer model.LastLayer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.decoders, layer)
}

// Lookup returns the decoder of a family.
//
// Returns:
//   - DecodeFunc: The decoder.
//   - error: ErrLayerNotAvailable when the family is not registered.
func (r *Registry) Lookup(layer model.LastLayer) (DecodeFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.decoders[layer]
	if !ok {
		return nil, errors.Wrapf(common.ErrLayerNotAvailable, "last layer %q", layer)
	}
	return fn, nil
}

// Decode dispatches the outputs of a block to the decoder of its family.
func (r *Registry) Decode(impulse *model.Impulse, block *model.LearningBlock, outputs []*matrix.Tensor, result *common.Result) error {
	fn, err := r.Lookup(block.LastLayer)
	if err != nil {
		return err
	}
	return errors.Wrapf(fn(impulse, block, outputs, result), "decoding block %d (%s)", block.ID, block.LastLayer)
}
