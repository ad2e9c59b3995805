package inference

// Precision is the element type of an ONNXEngine input tensor.
type Precision string

// Precision constants are the supported input precisions.
const (
	PrecisionINT8 Precision = "INT8"
	PrecisionFP32 Precision = "FP32"
)

// Layout is the memory order of an image input tensor.
type Layout string

const (
	// LayoutNHWC keeps the feature order: pixel by pixel, channels interleaved.
	LayoutNHWC Layout = "nhwc"
	// LayoutNCHW stores one plane per channel.
	LayoutNCHW Layout = "nchw"
)
