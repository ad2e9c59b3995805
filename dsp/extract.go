package dsp

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
)

// ImageConfig configures the image extractor.
type ImageConfig struct {
	// Grayscale writes one luma feature per pixel instead of three channels.
	Grayscale bool `json:"grayscale" yaml:"grayscale"`
}

// ExtractImage unpacks 0xRRGGBB pixels into features in [0, 1].
//
// Arguments:
//   - signal: One packed pixel per sample.
//   - out: Receives 3 features per pixel, or 1 when grayscale.
//   - config: An ImageConfig, *ImageConfig or nil.
//   - frequency: Unused.
//
// Returns:
//   - error: CodeDSPError when the signal does not hold enough pixels.
func ExtractImage(signal Signal, out *matrix.Matrix, config any, _ float32) error {
	var cfg ImageConfig
	switch c := config.(type) {
	case ImageConfig:
		cfg = c
	case *ImageConfig:
		if c != nil {
			cfg = *c
		}
	}

	channels := 3
	if cfg.Grayscale {
		channels = 1
	}
	buf := out.Buffer()
	pixels := len(buf) / channels
	if signal.Len() < pixels {
		return errors.Wrapf(common.ErrDSP, "signal has %d pixels, block needs %d", signal.Len(), pixels)
	}

	raw := make([]float32, pixels)
	if err := signal.Read(0, raw); err != nil {
		return errors.Wrap(common.ErrDSP, err.Error())
	}
	for i, p := range raw {
		packed := uint32(p)
		r := float32((packed>>16)&0xff) / 255
		g := float32((packed>>8)&0xff) / 255
		b := float32(packed&0xff) / 255
		if cfg.Grayscale {
			buf[i] = 0.299*r + 0.587*g + 0.114*b
			continue
		}
		buf[i*3], buf[i*3+1], buf[i*3+2] = r, g, b
	}
	return nil
}

// ExtractRaw copies the first samples of the signal into out.
func ExtractRaw(signal Signal, out *matrix.Matrix, _ any, _ float32) error {
	buf := out.Buffer()
	if signal.Len() < len(buf) {
		return errors.Wrapf(common.ErrDSP, "signal has %d samples, block needs %d", signal.Len(), len(buf))
	}
	if err := signal.Read(0, buf); err != nil {
		return errors.Wrap(common.ErrDSP, err.Error())
	}
	return nil
}

// Extractor returns the built-in extractor of a kernel, or nil when the kernel
// math lives outside this module.
func Extractor(k Kernel) ExtractFunc {
	switch k {
	case KernelImage:
		return ExtractImage
	case KernelRaw:
		return ExtractRaw
	default:
		return nil
	}
}
