package inference

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
)

// packInput copies the features, concatenated, into the input tensor data.
//
// With LayoutNCHW the concatenated features are read as interleaved pixels of
// the given channel count and written one plane per channel.
//
// Arguments:
//   - dst: The input tensor data.
//   - features: The selected feature matrices.
//   - layout: The tensor memory order.
//   - channels: Channels per pixel for LayoutNCHW.
//
// Returns:
//   - error: CodeInvalidSize when the features do not fill dst exactly.
func packInput(dst []float32, features []*matrix.Matrix, layout Layout, channels int) error {
	total := 0
	for _, f := range features {
		total += f.Len()
	}
	if total != len(dst) {
		return common.NewError(common.CodeInvalidSize,
			"input tensor holds %d floats, features provide %d", len(dst), total)
	}

	if layout != LayoutNCHW || channels <= 1 {
		i := 0
		for _, f := range features {
			i += copy(dst[i:], f.Buffer())
		}
		return nil
	}

	if total%channels != 0 {
		return common.NewError(common.CodeInvalidSize, "%d features are not whole %d-channel pixels", total, channels)
	}
	plane := total / channels
	i := 0
	for _, f := range features {
		for _, v := range f.Buffer() {
			dst[(i%channels)*plane+i/channels] = v
			i++
		}
	}
	return nil
}

// quantizePixels unpacks 0xRRGGBB pixels and quantizes each channel value in
// [0, 1] with q, writing straight into an int8 input tensor.
func quantizePixels(dst []int8, pixels []float32, q matrix.Quantization, layout Layout) error {
	if len(dst) != len(pixels)*3 {
		return common.NewError(common.CodeInvalidSize,
			"input tensor holds %d values, %d pixels need %d", len(dst), len(pixels), len(pixels)*3)
	}
	if q.Scale == 0 {
		return errors.Wrap(common.ErrConfig, "input quantization scale is zero")
	}

	plane := len(pixels)
	for i, p := range pixels {
		packed := uint32(p)
		rgb := [3]float32{
			float32((packed>>16)&0xff) / 255,
			float32((packed>>8)&0xff) / 255,
			float32(packed&0xff) / 255,
		}
		for c, v := range rgb {
			ix := i*3 + c
			if layout == LayoutNCHW {
				ix = c*plane + i
			}
			dst[ix] = toInt8(math32.Round(v/q.Scale + q.ZeroPoint))
		}
	}
	return nil
}

func toInt8(v float32) int8 {
	switch {
	case v < -128:
		return -128
	case v > 127:
		return 127
	default:
		return int8(v)
	}
}
