package dsp

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
)

// CMVNConfig describes the frame layout of a flat feature window.
type CMVNConfig struct {
	// Coefficients is the number of values per frame. Zero treats the whole
	// window as one column.
	Coefficients int `json:"coefficients" yaml:"coefficients"`
	// Variance also divides every column by its standard deviation.
	Variance bool `json:"variance" yaml:"variance"`
}

// cmvnEpsilon keeps constant columns finite.
const cmvnEpsilon = 1e-10

// CMVN applies cepstral mean and variance normalization column by column.
//
// The window is laid out as frames of Coefficients values. Every coefficient
// has its mean over all frames subtracted and, with Variance set, is divided by
// its standard deviation. A nil or foreign config normalizes mean and variance
// over the whole window.
//
// Arguments:
//   - m: The window, normalized in place.
//   - config: A CMVNConfig or *CMVNConfig.
//
// Returns:
//   - error: CodeDSPError when the window is not a whole number of frames.
func CMVN(m *matrix.Matrix, config any) error {
	cfg := CMVNConfig{Variance: true}
	switch c := config.(type) {
	case CMVNConfig:
		cfg = c
	case *CMVNConfig:
		if c != nil {
			cfg = *c
		}
	}

	buf := m.Buffer()
	cols := cfg.Coefficients
	if cols <= 0 {
		cols = len(buf)
	}
	if cols == 0 {
		return nil
	}
	if len(buf)%cols != 0 {
		return errors.Wrapf(common.ErrDSP, "window of %d values is not a multiple of %d coefficients", len(buf), cols)
	}
	frames := len(buf) / cols

	for c := 0; c < cols; c++ {
		var sum float32
		for f := 0; f < frames; f++ {
			sum += buf[f*cols+c]
		}
		mean := sum / float32(frames)

		var sq float32
		for f := 0; f < frames; f++ {
			v := buf[f*cols+c] - mean
			buf[f*cols+c] = v
			sq += v * v
		}
		if !cfg.Variance {
			continue
		}
		std := math32.Sqrt(sq/float32(frames)) + cmvnEpsilon
		for f := 0; f < frames; f++ {
			buf[f*cols+c] /= std
		}
	}
	return nil
}
