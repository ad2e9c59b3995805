package inference

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/dsp"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/metrics"
	"github.com/nvr-ai/go-impulse/models/model"
)

// Continuous runs an impulse over a stream of slices.
//
// Every call extracts the features of one slice into a persistent window of
// NNInputFrameSize features. Once the slices written cover the whole window,
// every call runs inference over the sliding window. A failed call leaves the
// window and the written counter as they were before the call.
//
// A Continuous is not safe for concurrent use.
type Continuous struct {
	engine     *Engine
	kernels    dsp.Registry
	recognizer *EventRecognizer

	id      uuid.UUID
	window  *matrix.Matrix
	spare   *matrix.Matrix
	written int

	warned    bool
	announced bool
}

// NewContinuous creates a continuous orchestrator with an empty window.
//
// Arguments:
//   - impulse: The impulse, with an engine bound to every learning block.
//   - kernels: The slice extractors of the DSP kernels the impulse uses.
//   - opts: Logger, debug, recorder and registry options.
//
// Returns:
//   - *Continuous: The orchestrator.
//   - error: A CodeConfig error when the impulse is invalid.
//
// Example:
//
// ```go
//
//	c, err := inference.NewContinuous(impulse, dsp.Registry{dsp.KernelMFCC: {Extract: mfccSlice}})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	for slice := range slices {
//	    result, err := c.Run(ctx, dsp.Samples(slice), true)
//	}
//
// ```
func NewContinuous(impulse *model.Impulse, kernels dsp.Registry, opts ...Option) (*Continuous, error) {
	eng, err := NewEngine(impulse, opts...)
	if err != nil {
		return nil, err
	}
	if impulse.NNInputFrameSize <= 0 {
		return nil, common.NewError(common.CodeConfig, "continuous inference needs nn_input_frame_size")
	}

	c := &Continuous{
		engine:  eng,
		kernels: kernels,
		window:  matrix.NewMatrix(1, impulse.NNInputFrameSize, nil),
		spare:   matrix.NewMatrix(1, impulse.NNInputFrameSize, nil),
	}
	c.Reset()
	return c, nil
}

// ID returns the stream id, renewed on every Reset.
func (c *Continuous) ID() uuid.UUID {
	return c.id
}

// Reset clears the window, the written counter and the smoothing history.
// Call it when the stream is interrupted.
func (c *Continuous) Reset() {
	imp := c.engine.impulse
	cal := model.Calibration{}
	if imp.Calibration != nil {
		cal = *imp.Calibration
	}
	c.recognizer = NewEventRecognizer(cal, imp.LabelCount(), imp.SliceSize, imp.IntervalMs)

	if c.window != nil {
		clear(c.window.Buffer())
	}
	c.written = 0
	c.id = uuid.New()
	c.engine.opts.log.Debug("continuous stream reset",
		zap.String("stream", c.id.String()),
		zap.Int("average_window", c.recognizer.Window()),
		zap.Int("suppression", c.recognizer.SuppressionSlices()),
	)
}

// Close releases the window. Run fails with ErrAllocFailed afterwards.
func (c *Continuous) Close() error {
	c.window, c.spare = nil, nil
	c.written = 0
	return nil
}

// Written returns the number of features written since the last Reset,
// saturating at NNInputFrameSize once the window is full.
func (c *Continuous) Written() int {
	return c.written
}

// Run extracts one slice and, once the window is full, classifies it.
//
// Before the window is full the result carries the label names with zero
// scores. With enableMAF on a microphone impulse whose calibration is
// configured, the scores are replaced by the event recognizer's decision.
//
// Arguments:
//   - ctx: Cancellation is observed after each DSP block and after inference.
//   - signal: The samples of one slice.
//   - enableMAF: Apply the calibration smoother.
//
// Returns:
//   - *common.Result: The result with stage timings.
//   - error: ErrUnsupportedKernel, ErrDSPBufferOverflow, ErrDSP, ErrCanceled,
//     ErrAllocFailed after Close, or an inference error.
func (c *Continuous) Run(ctx context.Context, signal dsp.Signal, enableMAF bool) (*common.Result, error) {
	imp := c.engine.impulse
	result := common.NewClassificationResult(imp.Categories)

	err := c.run(ctx, signal, enableMAF, result)
	c.engine.opts.recorder.Observe(metrics.ModeContinuous, result.Timing, err)
	if err != nil {
		c.engine.opts.log.Debug("continuous run failed",
			zap.String("stream", c.id.String()),
			zap.Stringer("code", common.CodeOf(err)),
			zap.Error(err),
		)
		return nil, err
	}
	if c.engine.opts.debug {
		DisplayResults(c.engine.opts.log, result)
	}
	return result, nil
}

func (c *Continuous) run(ctx context.Context, signal dsp.Signal, enableMAF bool, result *common.Result) error {
	if c.window == nil {
		return errors.Wrap(common.ErrAllocFailed, "continuous window is closed")
	}
	imp := c.engine.impulse
	frame := imp.NNInputFrameSize

	// Extract into the spare copy so a failure leaves the window untouched.
	scratch := c.spare
	copy(scratch.Buffer(), c.window.Buffer())
	written := c.written

	start := time.Now()
	normalizers := make([]dsp.NormalizeFunc, len(imp.DSPBlocks))
	offset := 0
	for i := range imp.DSPBlocks {
		b := &imp.DSPBlocks[i]
		if offset+b.OutputFeatures > frame {
			return errors.Wrapf(common.ErrDSPBufferOverflow,
				"dsp block %d: %d + %d features exceed frame of %d", b.ID, offset, b.OutputFeatures, frame)
		}

		sk, err := c.kernels.Lookup(b.Kernel)
		if err != nil {
			return errors.Wrapf(err, "dsp block %d", b.ID)
		}
		normalizers[i] = sk.Normalize

		sub, err := scratch.Slice(offset, b.OutputFeatures)
		if err != nil {
			return errors.Wrap(common.ErrDSPBufferOverflow, err.Error())
		}
		size, err := sk.Extract(signal, sub, b.Config, imp.Frequency)
		if err != nil {
			return errors.Wrapf(withCode(err, common.ErrDSP), "dsp block %d", b.ID)
		}

		if err := checkpoint(ctx); err != nil {
			return err
		}
		written += size.Elements()
		offset += b.OutputFeatures
	}
	result.Timing.DSP = time.Since(start)

	if c.engine.opts.debug {
		c.engine.opts.log.Debug("features",
			zap.String("stream", c.id.String()),
			zap.Duration("dsp", result.Timing.DSP),
			zap.Float32s("values", scratch.Buffer()),
		)
	}

	if written >= frame {
		if err := c.classify(ctx, scratch, normalizers, enableMAF, result); err != nil {
			return err
		}
		written = frame
	}

	c.window, c.spare = scratch, c.window
	c.written = written
	return nil
}

// classify normalizes a copy of every block window and runs inference on it.
func (c *Continuous) classify(
	ctx context.Context,
	window *matrix.Matrix,
	normalizers []dsp.NormalizeFunc,
	enableMAF bool,
	result *common.Result,
) error {
	imp := c.engine.impulse

	start := time.Now()
	features := make([]Feature, 0, len(imp.DSPBlocks))
	offset := 0
	for i := range imp.DSPBlocks {
		b := &imp.DSPBlocks[i]
		sub, err := window.Slice(offset, b.OutputFeatures)
		if err != nil {
			return errors.Wrap(common.ErrDSPBufferOverflow, err.Error())
		}
		m := sub.Clone()
		if err := normalizers[i](m, b.Config); err != nil {
			return errors.Wrapf(withCode(err, common.ErrDSP), "normalizing dsp block %d", b.ID)
		}
		features = append(features, Feature{BlockID: b.ID, Matrix: m})
		offset += b.OutputFeatures
	}
	result.Timing.DSP += time.Since(start)

	if err := c.engine.RunInference(ctx, features, result); err != nil {
		return err
	}

	if imp.Sensor != model.SensorMicrophone || !enableMAF || c.recognizer == nil {
		return nil
	}
	log := c.engine.opts.log.With(zap.String("stream", c.id.String()))
	if imp.Calibration == nil || !imp.Calibration.IsConfigured {
		if !c.warned {
			log.Warn("moving-average filter requested but performance calibration is not configured, scores are left as is")
			c.warned = true
		}
		return nil
	}
	if !c.announced {
		log.Info("performance calibration is configured, all scores are 0 when no event is detected")
		c.announced = true
	}
	label := c.recognizer.Apply(result.Classification)
	if label >= 0 {
		log.Debug("event recognized", zap.String("label", imp.Label(label)))
	}
	return nil
}
