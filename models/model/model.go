// Package model - Impulse configuration: geometry, blocks and decoder selection.
package model

import (
	"context"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/dsp"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/models/model/preprocess"
	"github.com/nvr-ai/go-impulse/models/postprocess"
)

// LastLayer selects the decoder that turns a learning block's raw output into a result.
type LastLayer string

const (
	// LastLayerClassification is a plain softmax/score vector.
	LastLayerClassification LastLayer = "classification"
	// LastLayerAnomaly is a scalar anomaly score (K-means or GMM block).
	LastLayerAnomaly LastLayer = "anomaly"
	// LastLayerVisualAnomaly is a per-cell anomaly grid.
	LastLayerVisualAnomaly LastLayer = "visual_anomaly"
	// LastLayerFOMO is the grid-cell classification detector.
	LastLayerFOMO LastLayer = "fomo"
	// LastLayerSSD is a single-shot detector with engine-side decoding and NMS.
	LastLayerSSD LastLayer = "ssd"
	// LastLayerYOLOv5 is the YOLOv5 flat output with normalized coordinates.
	LastLayerYOLOv5 LastLayer = "yolov5"
	// LastLayerYOLOv5V5DRPAI is the YOLOv5 output with pixel coordinates (DRP-AI export).
	LastLayerYOLOv5V5DRPAI LastLayer = "yolov5_v5_drpai"
	// LastLayerYOLOX is the raw YOLOX stride-grid output.
	LastLayerYOLOX LastLayer = "yolox"
	// LastLayerYOLOXDetect is YOLOX with engine-side decoding and NMS.
	LastLayerYOLOXDetect LastLayer = "yolox_detect"
	// LastLayerYOLOv7 is the YOLOv7 end-to-end export.
	LastLayerYOLOv7 LastLayer = "yolov7"
	// LastLayerTAOSSD is NVIDIA TAO SSD.
	LastLayerTAOSSD LastLayer = "tao_ssd"
	// LastLayerTAORetinaNet is NVIDIA TAO RetinaNet.
	LastLayerTAORetinaNet LastLayer = "tao_retinanet"
	// LastLayerTAOYOLOv3 is NVIDIA TAO YOLOv3.
	LastLayerTAOYOLOv3 LastLayer = "tao_yolov3"
	// LastLayerTAOYOLOv4 is NVIDIA TAO YOLOv4.
	LastLayerTAOYOLOv4 LastLayer = "tao_yolov4"
)

// IsObjectDetection reports whether the layer produces bounding boxes.
func (l LastLayer) IsObjectDetection() bool {
	switch l {
	case LastLayerClassification, LastLayerAnomaly, LastLayerVisualAnomaly, "":
		return false
	default:
		return true
	}
}

// IsAnomaly reports whether the layer is an anomaly block.
func (l LastLayer) IsAnomaly() bool {
	return l == LastLayerAnomaly || l == LastLayerVisualAnomaly
}

// Sensor is the input modality of an impulse.
type Sensor string

const (
	// SensorUnknown is an unspecified modality.
	SensorUnknown Sensor = ""
	// SensorMicrophone is audio.
	SensorMicrophone Sensor = "microphone"
	// SensorAccelerometer is motion.
	SensorAccelerometer Sensor = "accelerometer"
	// SensorCamera is images.
	SensorCamera Sensor = "camera"
)

// Calibration is the performance calibration profile used to post-process
// continuous audio classification.
type Calibration struct {
	IsConfigured            bool    `json:"is_configured" yaml:"is_configured"`
	AverageWindowDurationMs uint32  `json:"average_window_duration_ms" yaml:"average_window_duration_ms"`
	DetectionThreshold      float32 `json:"detection_threshold" yaml:"detection_threshold"`
	SuppressionMs           uint32  `json:"suppression_ms" yaml:"suppression_ms"`
	// SuppressionFlags is a per-label bitmask of labels that start a suppression
	// period once detected. Zero means every label does.
	SuppressionFlags uint32 `json:"suppression_flags" yaml:"suppression_flags"`
}

// Engine runs one learning block on the assembled feature matrices.
type Engine interface {
	Infer(ctx context.Context, block *LearningBlock, features []*matrix.Matrix) ([]*matrix.Tensor, error)
}

// QuantizedImageEngine is an Engine that can quantize image pixels straight
// into its input tensor, skipping the float feature buffer.
type QuantizedImageEngine interface {
	Engine
	InferImageQuantized(ctx context.Context, block *LearningBlock, signal dsp.Signal) ([]*matrix.Tensor, error)
}

// LearningBlock is one inference stage of an impulse.
type LearningBlock struct {
	ID        int       `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	LastLayer LastLayer `json:"last_layer" yaml:"last_layer"`
	// Version is the YOLOv5 export version. Version 5 outputs pixel coordinates,
	// any other version outputs coordinates normalized to [0, 1].
	Version      int                `json:"version" yaml:"version"`
	ImageScaling preprocess.Scaling `json:"image_scaling" yaml:"image_scaling"`
	// InputBlockIDs selects the feature matrices fed to the engine. Empty means all.
	InputBlockIDs []int `json:"input_block_ids" yaml:"input_block_ids"`
	// KeepOutput copies the raw output into the feature set so later blocks can consume it.
	KeepOutput          bool `json:"keep_output" yaml:"keep_output"`
	OutputFeaturesCount int  `json:"output_features_count" yaml:"output_features_count"`
	// OutputWidth and OutputHeight are the FOMO output grid size.
	OutputWidth  int  `json:"output_width" yaml:"output_width"`
	OutputHeight int  `json:"output_height" yaml:"output_height"`
	Quantized    bool `json:"quantized" yaml:"quantized"`

	Engine Engine `json:"-" yaml:"-"`
}

// Impulse is a configured pipeline of DSP blocks feeding learning blocks.
type Impulse struct {
	Name        string   `json:"name" yaml:"name"`
	InputWidth  int      `json:"input_width" yaml:"input_width"`
	InputHeight int      `json:"input_height" yaml:"input_height"`
	Categories  []string `json:"categories" yaml:"categories"`

	ObjectDetectionThreshold float32 `json:"object_detection_threshold" yaml:"object_detection_threshold"`
	// ObjectDetectionCount is the minimum number of slots in a bounding box result.
	ObjectDetectionCount int `json:"object_detection_count" yaml:"object_detection_count"`

	// NNInputFrameSize is the total number of features fed to the learning blocks.
	NNInputFrameSize int     `json:"nn_input_frame_size" yaml:"nn_input_frame_size"`
	Frequency        float32 `json:"frequency" yaml:"frequency"`
	SliceSize        int     `json:"slice_size" yaml:"slice_size"`
	IntervalMs       float32 `json:"interval_ms" yaml:"interval_ms"`
	Sensor           Sensor  `json:"sensor" yaml:"sensor"`

	NMS         postprocess.NMSConfig `json:"nms" yaml:"nms"`
	Calibration *Calibration          `json:"calibration,omitempty" yaml:"calibration,omitempty"`

	DSPBlocks      []dsp.Block     `json:"dsp_blocks" yaml:"dsp_blocks"`
	LearningBlocks []LearningBlock `json:"learning_blocks" yaml:"learning_blocks"`
}

// LabelCount returns the number of categories.
func (i *Impulse) LabelCount() int {
	return len(i.Categories)
}

// HasAnomaly reports whether any learning block is an anomaly block.
func (i *Impulse) HasAnomaly() bool {
	for _, b := range i.LearningBlocks {
		if b.LastLayer.IsAnomaly() {
			return true
		}
	}
	return false
}

// Label returns the category name for a class index, or "" when out of range.
func (i *Impulse) Label(class int) string {
	if class < 0 || class >= len(i.Categories) {
		return ""
	}
	return i.Categories[class]
}

// NMSConfig returns the suppression settings bounded to the input image.
func (i *Impulse) NMSConfig() *postprocess.NMSConfig {
	cfg := i.NMS
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = postprocess.DefaultIoUThreshold
	}
	cfg.Width = float32(i.InputWidth)
	cfg.Height = float32(i.InputHeight)
	return &cfg
}

// Block returns the learning block with the given id.
func (i *Impulse) Block(id int) (*LearningBlock, bool) {
	for ix := range i.LearningBlocks {
		if i.LearningBlocks[ix].ID == id {
			return &i.LearningBlocks[ix], true
		}
	}
	return nil, false
}

// NewModelArgs is the arguments for creating a new impulse in code.
type NewModelArgs struct {
	Name       string   `json:"name" yaml:"name"`
	Width      int      `json:"width" yaml:"width"`
	Height     int      `json:"height" yaml:"height"`
	Categories []string `json:"categories" yaml:"categories"`
	Threshold  float32  `json:"threshold" yaml:"threshold"`
	MinObjects int      `json:"min_objects" yaml:"min_objects"`
}

// NewImpulse creates a minimal impulse with geometry and categories set.
//
// Arguments:
//   - args: Geometry, categories and detection thresholds.
//
// Returns:
//   - *Impulse: The impulse, ready to receive blocks.
//
// Example:
//
// ```go
//
//	imp := model.NewImpulse(model.NewModelArgs{
//	    Width:      96,
//	    Height:     96,
//	    Categories: []string{"bolt", "nut"},
//	    Threshold:  0.5,
//	    MinObjects: 10,
//	})
//
// ```
func NewImpulse(args NewModelArgs) *Impulse {
	return &Impulse{
		Name:                     args.Name,
		InputWidth:               args.Width,
		InputHeight:              args.Height,
		Categories:               args.Categories,
		ObjectDetectionThreshold: args.Threshold,
		ObjectDetectionCount:     args.MinObjects,
		NNInputFrameSize:         args.Width * args.Height * 3,
	}
}

// Bind attaches an inference engine to the learning block with the given id.
//
// Arguments:
//   - blockID: The learning block id.
//   - engine: The engine that runs the block.
//
// Returns:
//   - error: A CodeConfig error when no block has the id.
func (i *Impulse) Bind(blockID int, engine Engine) error {
	b, ok := i.Block(blockID)
	if !ok {
		return common.NewError(common.CodeConfig, "no learning block with id %d", blockID)
	}
	b.Engine = engine
	return nil
}

// BindExtractor attaches a feature extractor to the DSP block with the given id.
func (i *Impulse) BindExtractor(blockID int, fn dsp.ExtractFunc) error {
	for ix := range i.DSPBlocks {
		if i.DSPBlocks[ix].ID == blockID {
			i.DSPBlocks[ix].Extract = fn
			return nil
		}
	}
	return common.NewError(common.CodeConfig, "no dsp block with id %d", blockID)
}
