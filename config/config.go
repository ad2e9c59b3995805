// Package config - YAML impulse descriptions.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/dsp"
	"github.com/nvr-ai/go-impulse/inference"
	"github.com/nvr-ai/go-impulse/models/model"
)

// Logging selects the process logger.
type Logging struct {
	Development bool `yaml:"development"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Addr is the listen address of /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// File is a complete impulse description: the impulse itself, the ONNX model
// of each learning block and the ambient settings of the process.
type File struct {
	Impulse model.Impulse `yaml:"impulse"`
	// Models maps a learning block id to the ONNX model that runs it.
	Models  map[int]inference.ONNXConfig `yaml:"models"`
	Logging Logging                      `yaml:"logging"`
	Metrics Metrics                      `yaml:"metrics"`
}

// Load reads and parses an impulse description file.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - *File: The parsed description.
//   - error: The read error, or a CodeConfig error.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return f, nil
}

// Parse decodes and validates an impulse description.
//
// DSP block configs are decoded into the config type of their kernel:
// dsp.ImageConfig for image blocks, dsp.CMVNConfig for the audio kernels.
// nn_input_frame_size defaults to the sum of the DSP block outputs.
//
// Arguments:
//   - data: The YAML document.
//
// Returns:
//   - *File: The parsed description.
//   - error: A CodeConfig error for malformed or invalid descriptions.
//
// Example:
//
// ```go
//
//	f, err := config.Parse([]byte(`
//	impulse:
//	  input_width: 96
//	  input_height: 96
//	  categories: [bolt, nut]
//	  learning_blocks:
//	    - {id: 2, last_layer: fomo}
//	`))
//
// ```
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(common.ErrConfig, err.Error())
	}

	imp := &f.Impulse
	total := 0
	for i := range imp.DSPBlocks {
		b := &imp.DSPBlocks[i]
		cfg, err := kernelConfig(b.Kernel, b.Config)
		if err != nil {
			return nil, errors.Wrapf(common.ErrConfig, "dsp block %d config: %v", b.ID, err)
		}
		b.Config = cfg
		total += b.OutputFeatures
	}
	if imp.NNInputFrameSize == 0 {
		imp.NNInputFrameSize = total
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the impulse and that every model maps to a learning block.
func (f *File) Validate() error {
	if err := f.Impulse.Validate(); err != nil {
		return err
	}
	for id, m := range f.Models {
		if _, ok := f.Impulse.Block(id); !ok {
			return common.NewError(common.CodeConfig, "model for unknown learning block %d", id)
		}
		if m.ModelPath == "" {
			return common.NewError(common.CodeConfig, "model for learning block %d has no model_path", id)
		}
	}
	return nil
}

// kernelConfig re-decodes a generic YAML mapping into the kernel's config type.
func kernelConfig(k dsp.Kernel, raw any) (any, error) {
	var target any
	switch k {
	case dsp.KernelImage:
		target = &dsp.ImageConfig{}
	case dsp.KernelMFCC, dsp.KernelMFE, dsp.KernelSpectrogram:
		target = &dsp.CMVNConfig{Variance: true}
	default:
		return raw, nil
	}
	if raw == nil {
		return target, nil
	}

	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return nil, err
	}
	return target, nil
}
