package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is the status returned to callers of the impulse runtime.
type Code int

const (
	// CodeOK means the call succeeded.
	CodeOK Code = 0
	// CodeLayerNotAvailable means the decoder family is not registered for this build or model.
	CodeLayerNotAvailable Code = -1
	// CodeDSPError means a DSP stage failed or would overflow the feature buffer.
	CodeDSPError Code = -5
	// CodeAllocFailed means a buffer could not be allocated.
	CodeAllocFailed Code = -8
	// CodeOutOfMemory means a handle or state object could not be obtained.
	CodeOutOfMemory Code = -9
	// CodeUnsupportedEngine means the engine does not support the requested fast path.
	CodeUnsupportedEngine Code = -10
	// CodeOnlySupportedForImages means the fast path needs a single image DSP block.
	CodeOnlySupportedForImages Code = -11
	// CodeCanceled means the call observed a cancellation checkpoint.
	CodeCanceled Code = -13
	// CodeInvalidSize means a call was made with inconsistent input lengths.
	CodeInvalidSize Code = -15
	// CodeInferenceError means the inference engine failed.
	CodeInferenceError Code = -20
	// CodeOutputShape means the engine output does not match the model geometry.
	CodeOutputShape Code = -21
	// CodeConfig means the impulse configuration is invalid.
	CodeConfig Code = -22
)

var codeNames = map[Code]string{
	CodeOK:                     "ok",
	CodeLayerNotAvailable:      "layer_not_available",
	CodeDSPError:               "dsp_error",
	CodeAllocFailed:            "alloc_failed",
	CodeOutOfMemory:            "out_of_memory",
	CodeUnsupportedEngine:      "unsupported_inferencing_engine",
	CodeOnlySupportedForImages: "only_supported_for_images",
	CodeCanceled:               "canceled",
	CodeInvalidSize:            "invalid_size",
	CodeInferenceError:         "inference_error",
	CodeOutputShape:            "output_shape",
	CodeConfig:                 "config",
}

// String returns the snake_case name of the code.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a status-coded error.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a status-coded error.
func NewError(code Code, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Code: code, Message: fmt.Sprintf(format, args...)})
}

var (
	// ErrLayerNotAvailable is returned when no decoder is registered for a learning block.
	ErrLayerNotAvailable = &Error{Code: CodeLayerNotAvailable, Message: "last layer not available"}
	// ErrDSPBufferOverflow is returned when DSP output would not fit in the input frame.
	ErrDSPBufferOverflow = &Error{Code: CodeDSPError, Message: "would write outside feature buffer"}
	// ErrUnsupportedKernel is returned when continuous inference meets a kernel without a slice variant.
	ErrUnsupportedKernel = &Error{Code: CodeDSPError, Message: "unknown extract function, only MFCC, MFE and spectrogram supported"}
	// ErrDSP is returned when a DSP kernel fails.
	ErrDSP = &Error{Code: CodeDSPError, Message: "failed to run DSP process"}
	// ErrAllocFailed is returned when a buffer cannot be allocated.
	ErrAllocFailed = &Error{Code: CodeAllocFailed, Message: "allocation failed"}
	// ErrUnsupportedEngine is returned when the engine cannot serve the quantized image path.
	ErrUnsupportedEngine = &Error{Code: CodeUnsupportedEngine, Message: "unsupported inferencing engine"}
	// ErrOnlySupportedForImages is returned when the quantized path preconditions are not met.
	ErrOnlySupportedForImages = &Error{Code: CodeOnlySupportedForImages, Message: "only supported for images"}
	// ErrCanceled is returned at a cancellation checkpoint.
	ErrCanceled = &Error{Code: CodeCanceled, Message: "canceled"}
	// ErrNMSInvalidInput is returned when NMS is called with inconsistent lengths.
	ErrNMSInvalidInput = &Error{Code: CodeInvalidSize, Message: "nms input lengths do not match"}
	// ErrInference is returned when the inference engine fails.
	ErrInference = &Error{Code: CodeInferenceError, Message: "inference failed"}
	// ErrOutputShape is returned when an output tensor does not match the expected geometry.
	ErrOutputShape = &Error{Code: CodeOutputShape, Message: "unexpected output shape"}
	// ErrConfig is returned for invalid impulse configuration.
	ErrConfig = &Error{Code: CodeConfig, Message: "invalid impulse configuration"}
)

// CodeOf extracts the status code from err. Nil maps to CodeOK and errors
// without a code map to CodeInferenceError.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInferenceError
}
