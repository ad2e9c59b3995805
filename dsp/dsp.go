// Package dsp defines the feature extraction contracts consumed by the impulse
// runtime: signals, DSP block descriptors, extractor function types and the
// kernel table used by continuous inference.
package dsp

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
)

// Signal is a random-access source of raw samples.
type Signal interface {
	// Len returns the total number of samples.
	Len() int
	// Read copies len(out) samples starting at offset into out.
	Read(offset int, out []float32) error
}

// Samples adapts an in-memory slice to Signal.
type Samples []float32

// Len returns the number of samples.
func (s Samples) Len() int { return len(s) }

// Read copies samples starting at offset.
func (s Samples) Read(offset int, out []float32) error {
	if offset < 0 || offset+len(out) > len(s) {
		return errors.Errorf("read [%d, %d) outside signal of %d samples", offset, offset+len(out), len(s))
	}
	copy(out, s[offset:])
	return nil
}

// Kernel tags the feature extractor of a DSP block.
type Kernel string

const (
	// KernelMFCC is Mel-frequency cepstral coefficients.
	KernelMFCC Kernel = "mfcc"
	// KernelMFE is Mel-filterbank energies.
	KernelMFE Kernel = "mfe"
	// KernelSpectrogram is a linear spectrogram.
	KernelSpectrogram Kernel = "spectrogram"
	// KernelImage is packed RGB pixels to normalized channels.
	KernelImage Kernel = "image"
	// KernelRaw passes samples through.
	KernelRaw Kernel = "raw"
)

// ExtractFunc fills out with the features of the whole signal.
type ExtractFunc func(signal Signal, out *matrix.Matrix, config any, frequency float32) error

// SliceExtractFunc extracts the features of one slice into the block's
// persistent window and reports the size it wrote. The function owns the
// window layout: it shifts older frames out before appending new ones.
type SliceExtractFunc func(signal Signal, out *matrix.Matrix, config any, frequency float32) (matrix.Size, error)

// NormalizeFunc normalizes a full feature window in place before inference.
type NormalizeFunc func(m *matrix.Matrix, config any) error

// Block is one DSP stage of an impulse.
type Block struct {
	ID             int    `json:"id" yaml:"id"`
	Kernel         Kernel `json:"kernel" yaml:"kernel"`
	OutputFeatures int    `json:"output_features" yaml:"output_features"`
	// Config is passed to the extractor untouched.
	Config any `json:"config,omitempty" yaml:"config,omitempty"`

	Extract ExtractFunc `json:"-" yaml:"-"`
}

// SliceKernel pairs the per-slice extractor of a kernel with its normalizer.
type SliceKernel struct {
	Extract   SliceExtractFunc
	Normalize NormalizeFunc
}

// Registry maps the kernels that support continuous inference to their slice
// variant. Only MFCC, MFE and spectrogram are accepted.
type Registry map[Kernel]SliceKernel

// continuousKernels is the closed set of kernels with a slice variant.
var continuousKernels = map[Kernel]bool{
	KernelMFCC:        true,
	KernelMFE:         true,
	KernelSpectrogram: true,
}

// SupportsContinuous reports whether a kernel can run per slice.
func SupportsContinuous(k Kernel) bool {
	return continuousKernels[k]
}

// Lookup returns the slice pair of a kernel.
//
// Returns:
//   - SliceKernel: The pair. Normalize defaults to CMVN when unset.
//   - error: ErrUnsupportedKernel for kernels outside the continuous set or
//     without a registered extractor.
func (r Registry) Lookup(k Kernel) (SliceKernel, error) {
	if !SupportsContinuous(k) {
		return SliceKernel{}, errors.Wrapf(common.ErrUnsupportedKernel, "kernel %q", k)
	}
	sk, ok := r[k]
	if !ok || sk.Extract == nil {
		return SliceKernel{}, errors.Wrapf(common.ErrUnsupportedKernel, "no slice extractor registered for %q", k)
	}
	if sk.Normalize == nil {
		sk.Normalize = CMVN
	}
	return sk, nil
}
