package inference

import (
	"fmt"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Backend is the ONNX Runtime execution provider an ONNXEngine runs on.
type Backend string

const (
	// BackendCPU is the default CPU provider.
	BackendCPU Backend = "cpu"
	// BackendCoreML is Apple's CoreML provider.
	BackendCoreML Backend = "coreml"
	// BackendOpenVINO is Intel's OpenVINO provider.
	BackendOpenVINO Backend = "openvino"
	// BackendCUDA is NVIDIA's CUDA provider.
	BackendCUDA Backend = "cuda"
)

// Backends is a list of all supported backends.
var Backends = []Backend{BackendCPU, BackendCoreML, BackendOpenVINO, BackendCUDA}

// appendBackend enables the execution provider of b on the session options.
func appendBackend(options *ort.SessionOptions, b Backend, threads int) error {
	switch b {
	case "", BackendCPU:
		return nil
	case BackendCoreML:
		return errors.Wrap(options.AppendExecutionProviderCoreML(0), "enabling CoreML")
	case BackendOpenVINO:
		// See:
		// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
		return errors.Wrap(options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_type":    "CPU",
			"num_of_threads": fmt.Sprintf("%d", threads),
		}), "enabling OpenVINO")
	case BackendCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "creating CUDA options")
		}
		defer cuda.Destroy()
		return errors.Wrap(options.AppendExecutionProviderCUDA(cuda), "enabling CUDA")
	default:
		return errors.Errorf("unknown backend %q", b)
	}
}
