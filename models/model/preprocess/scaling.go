package preprocess

import (
	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
)

// Scaling is the pixel range a learning block expects. Features arrive in [0, 1].
type Scaling string

const (
	// ScalingNone leaves features in [0, 1].
	ScalingNone Scaling = "none"
	// ScalingTorch applies ImageNet mean/std per RGB triplet.
	ScalingTorch Scaling = "torch"
	// Scaling0To255 maps to [0, 255].
	Scaling0To255 Scaling = "0..255"
	// ScalingMinus128To127 maps to [-128, 127].
	ScalingMinus128To127 Scaling = "-128..127"
	// ScalingMinus1To1 maps to [-1, 1].
	ScalingMinus1To1 Scaling = "-1..1"
)

var (
	torchMean = [3]float32{0.485, 0.456, 0.406}
	torchStd  = [3]float32{0.229, 0.224, 0.225}
)

// Valid reports whether s is a known scaling mode. The empty string means none.
func (s Scaling) Valid() bool {
	switch s {
	case "", ScalingNone, ScalingTorch, Scaling0To255, ScalingMinus128To127, ScalingMinus1To1:
		return true
	default:
		return false
	}
}

// Scale converts features in [0, 1] to the range the block was trained on, in place.
//
// Arguments:
//   - m: The feature matrix.
//   - s: The scaling mode.
//
// Returns:
//   - error: CodeDSPError when torch scaling is applied to a matrix that is not
//     a whole number of RGB triplets.
//
// @example
// err := preprocess.Scale(features, preprocess.ScalingMinus1To1)
func Scale(m *matrix.Matrix, s Scaling) error {
	switch s {
	case "", ScalingNone:
		return nil
	case ScalingTorch:
		buf := m.Buffer()
		if len(buf)%3 != 0 {
			return common.NewError(common.CodeDSPError, "torch scaling needs RGB triplets, got %d features", len(buf))
		}
		for ix := 0; ix < len(buf); ix += 3 {
			for c := 0; c < 3; c++ {
				buf[ix+c] = (buf[ix+c] - torchMean[c]) / torchStd[c]
			}
		}
	case Scaling0To255:
		m.Scale(255)
	case ScalingMinus128To127:
		m.Scale(255)
		m.Subtract(128)
	case ScalingMinus1To1:
		m.Scale(2)
		m.Subtract(1)
	default:
		return common.NewError(common.CodeDSPError, "unknown image scaling %q", s)
	}
	return nil
}

// Unscale undoes Scale, in place. Unscale(Scale(m)) returns m up to float rounding.
func Unscale(m *matrix.Matrix, s Scaling) error {
	switch s {
	case "", ScalingNone:
		return nil
	case ScalingTorch:
		buf := m.Buffer()
		if len(buf)%3 != 0 {
			return common.NewError(common.CodeDSPError, "torch scaling needs RGB triplets, got %d features", len(buf))
		}
		for ix := 0; ix < len(buf); ix += 3 {
			for c := 0; c < 3; c++ {
				buf[ix+c] = buf[ix+c]*torchStd[c] + torchMean[c]
			}
		}
	case Scaling0To255:
		m.Scale(1.0 / 255)
	case ScalingMinus128To127:
		m.Add(128)
		m.Scale(1.0 / 255)
	case ScalingMinus1To1:
		m.Add(1)
		m.Scale(0.5)
	default:
		return common.NewError(common.CodeDSPError, "unknown image scaling %q", s)
	}
	return nil
}
