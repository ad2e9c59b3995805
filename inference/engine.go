// Package inference - One-shot and continuous impulse orchestration.
package inference

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/dsp"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/metrics"
	"github.com/nvr-ai/go-impulse/models/model"
	"github.com/nvr-ai/go-impulse/models/model/preprocess"
)

// Feature is the output of one DSP block, or the kept output of a learning
// block, tagged with the id of the block that produced it.
type Feature struct {
	BlockID int
	Matrix  *matrix.Matrix
}

// Engine runs an impulse over a whole signal window.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	impulse *model.Impulse
	opts    options
}

// NewEngine creates a one-shot orchestrator.
//
// Arguments:
//   - impulse: The impulse, with an engine bound to every learning block.
//   - opts: Logger, debug, recorder and registry options.
//
// Returns:
//   - *Engine: The orchestrator.
//   - error: A CodeConfig error when the impulse is invalid.
//
// Example:
//
// ```go
//
//	eng, err := inference.NewEngine(impulse, inference.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	result, err := eng.Run(ctx, dsp.Samples(pixels))
//
// ```
func NewEngine(impulse *model.Impulse, opts ...Option) (*Engine, error) {
	if impulse == nil {
		return nil, common.NewError(common.CodeConfig, "impulse is nil")
	}
	if err := impulse.Validate(); err != nil {
		return nil, err
	}
	return &Engine{impulse: impulse, opts: newOptions(opts)}, nil
}

// Impulse returns the impulse the engine runs.
func (e *Engine) Impulse() *model.Impulse {
	return e.impulse
}

// Run extracts features from the signal and runs every learning block.
//
// When the first learning block can quantize images itself the DSP stage is
// skipped. Otherwise every DSP block writes its features, with a cancellation
// checkpoint after each block, and RunInference runs on the result.
//
// Arguments:
//   - ctx: Cancellation is observed between stages.
//   - signal: The raw input window.
//
// Returns:
//   - *common.Result: The decoded result with stage timings.
//   - error: The status-coded error of the first failing stage.
func (e *Engine) Run(ctx context.Context, signal dsp.Signal) (*common.Result, error) {
	result := &common.Result{}
	err := e.run(ctx, signal, result)
	e.opts.recorder.Observe(metrics.ModeOneShot, result.Timing, err)
	if err != nil {
		e.opts.log.Debug("impulse run failed", zap.Stringer("code", common.CodeOf(err)), zap.Error(err))
		return nil, err
	}
	if e.opts.debug {
		DisplayResults(e.opts.log, result)
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, signal dsp.Signal, result *common.Result) error {
	err := e.runQuantized(ctx, signal, result)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrUnsupportedEngine), errors.Is(err, common.ErrOnlySupportedForImages):
		e.opts.log.Debug("quantized image path unavailable", zap.String("reason", err.Error()))
	default:
		return err
	}

	start := time.Now()
	features, err := e.Extract(ctx, signal)
	if err != nil {
		return err
	}
	result.Timing.DSP = time.Since(start)
	if e.opts.debug {
		e.dumpFeatures(features, result.Timing.DSP)
	}

	return e.RunInference(ctx, features, result)
}

// Extract runs the DSP stage and allocates the keep-output slots.
//
// Returns:
//   - []Feature: One feature per DSP block, in block order, followed by one
//     zeroed slot per learning block with KeepOutput set.
//   - error: ErrDSPBufferOverflow when the blocks exceed the input frame,
//     ErrDSP when an extractor fails, ErrCanceled at a checkpoint.
func (e *Engine) Extract(ctx context.Context, signal dsp.Signal) ([]Feature, error) {
	imp := e.impulse
	blocks := imp.DSPBlocks
	if len(blocks) == 0 {
		blocks = []dsp.Block{{Kernel: dsp.KernelRaw, OutputFeatures: imp.NNInputFrameSize}}
	}

	features := make([]Feature, 0, len(blocks)+len(imp.LearningBlocks))
	written := 0
	for i := range blocks {
		b := &blocks[i]
		if written+b.OutputFeatures > imp.NNInputFrameSize {
			return nil, errors.Wrapf(common.ErrDSPBufferOverflow,
				"dsp block %d: %d + %d features exceed frame of %d", b.ID, written, b.OutputFeatures, imp.NNInputFrameSize)
		}

		extract := b.Extract
		if extract == nil {
			extract = dsp.Extractor(b.Kernel)
		}
		if extract == nil {
			return nil, errors.Wrapf(common.ErrDSP, "dsp block %d has no extractor for kernel %q", b.ID, b.Kernel)
		}

		m := matrix.NewMatrix(1, b.OutputFeatures, nil)
		if err := extract(signal, m, b.Config, imp.Frequency); err != nil {
			return nil, errors.Wrapf(withCode(err, common.ErrDSP), "dsp block %d", b.ID)
		}
		features = append(features, Feature{BlockID: b.ID, Matrix: m})

		if err := checkpoint(ctx); err != nil {
			return nil, err
		}
		written += b.OutputFeatures
	}

	for _, lb := range imp.LearningBlocks {
		if lb.KeepOutput {
			features = append(features, Feature{BlockID: lb.ID, Matrix: matrix.NewMatrix(1, lb.OutputFeaturesCount, nil)})
		}
	}
	return features, nil
}

// RunInference runs every learning block in order over the features.
//
// For each block the first feature matrix is scaled to the block's image
// scaling, the block's inputs are selected, the engine runs, the scaling is
// undone and the outputs are decoded into result. The first failure aborts the
// remaining blocks.
//
// Arguments:
//   - ctx: Checked once after all blocks.
//   - features: The DSP features and keep-output slots.
//   - result: Receives the decoded payload and timings.
//
// Returns:
//   - error: The status-coded error of the first failing block, or ErrCanceled.
func (e *Engine) RunInference(ctx context.Context, features []Feature, result *common.Result) error {
	for i := range e.impulse.LearningBlocks {
		block := &e.impulse.LearningBlocks[i]
		start := time.Now()

		if err := e.runBlock(ctx, block, features, result); err != nil {
			return err
		}

		if block.LastLayer.IsAnomaly() {
			result.Timing.Anomaly += time.Since(start)
		} else {
			result.Timing.Classification += time.Since(start)
		}
	}
	return checkpoint(ctx)
}

func (e *Engine) runBlock(ctx context.Context, block *model.LearningBlock, features []Feature, result *common.Result) error {
	if block.Engine == nil {
		return errors.Wrapf(common.ErrConfig, "learning block %d has no engine bound", block.ID)
	}

	inputs, err := SelectInputs(features, block.InputBlockIDs)
	if err != nil {
		return errors.Wrapf(err, "learning block %d", block.ID)
	}

	var first *matrix.Matrix
	if len(features) > 0 {
		first = features[0].Matrix
		if err := preprocess.Scale(first, block.ImageScaling); err != nil {
			return errors.Wrapf(err, "scaling features for block %d", block.ID)
		}
	}

	outputs, err := block.Engine.Infer(ctx, block, inputs)

	if first != nil {
		if uerr := preprocess.Unscale(first, block.ImageScaling); uerr != nil && err == nil {
			err = uerr
		}
	}
	if err != nil {
		return errors.Wrapf(withCode(err, common.ErrInference), "learning block %d", block.ID)
	}

	if err := e.opts.registry.Decode(e.impulse, block, outputs, result); err != nil {
		return err
	}
	if block.KeepOutput {
		keep(features, block.ID, outputs)
	}
	return nil
}

// SelectInputs returns the feature matrices a learning block consumes.
//
// Empty ids select every feature. Otherwise, for each id the first feature
// whose block id matches, or is 0, is selected.
//
// Returns:
//   - []*matrix.Matrix: The inputs in id order.
//   - error: A CodeInvalidSize error when an id has no feature.
func SelectInputs(features []Feature, ids []int) ([]*matrix.Matrix, error) {
	if len(ids) == 0 {
		out := make([]*matrix.Matrix, 0, len(features))
		for _, f := range features {
			if f.Matrix != nil {
				out = append(out, f.Matrix)
			}
		}
		return out, nil
	}

	out := make([]*matrix.Matrix, 0, len(ids))
	for _, id := range ids {
		var found *matrix.Matrix
		for _, f := range features {
			if f.Matrix != nil && (f.BlockID == id || f.BlockID == 0) {
				found = f.Matrix
				break
			}
		}
		if found == nil {
			return nil, common.NewError(common.CodeInvalidSize, "no feature matrix for input block %d", id)
		}
		out = append(out, found)
	}
	return out, nil
}

// keep copies the first output of a block into its keep-output slot.
func keep(features []Feature, blockID int, outputs []*matrix.Tensor) {
	if len(outputs) == 0 {
		return
	}
	for i := len(features) - 1; i >= 0; i-- {
		if features[i].BlockID != blockID || features[i].Matrix == nil {
			continue
		}
		dst := features[i].Matrix.Buffer()
		for j := 0; j < len(dst) && j < outputs[0].Len(); j++ {
			dst[j] = outputs[0].At(j)
		}
		return
	}
}

// runQuantized tries the quantized image path of the first learning block.
func (e *Engine) runQuantized(ctx context.Context, signal dsp.Signal, result *common.Result) error {
	imp := e.impulse
	if len(imp.LearningBlocks) == 0 {
		return errors.WithStack(common.ErrUnsupportedEngine)
	}
	block := &imp.LearningBlocks[0]
	qe, ok := block.Engine.(model.QuantizedImageEngine)
	if !ok || !block.Quantized {
		return errors.Wrapf(common.ErrUnsupportedEngine, "learning block %d", block.ID)
	}
	if len(imp.DSPBlocks) != 1 || imp.DSPBlocks[0].Kernel != dsp.KernelImage {
		return errors.Wrap(common.ErrOnlySupportedForImages, "impulse needs exactly one image dsp block")
	}
	if imp.HasAnomaly() {
		return errors.Wrap(common.ErrOnlySupportedForImages, "anomaly blocks need the float path")
	}

	start := time.Now()
	outputs, err := qe.InferImageQuantized(ctx, block, signal)
	if err != nil {
		return errors.Wrapf(withCode(err, common.ErrInference), "learning block %d", block.ID)
	}
	if err := e.opts.registry.Decode(imp, block, outputs, result); err != nil {
		return err
	}
	result.Timing.Classification = time.Since(start)
	return checkpoint(ctx)
}

func (e *Engine) dumpFeatures(features []Feature, took time.Duration) {
	for _, f := range features {
		e.opts.log.Debug("features",
			zap.Int("block", f.BlockID),
			zap.Duration("dsp", took),
			zap.Float32s("values", f.Matrix.Buffer()),
		)
	}
}

// checkpoint converts a done context into ErrCanceled.
func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(common.ErrCanceled, err.Error())
	}
	return nil
}

// withCode keeps the status code of err, or tags it with fallback's.
func withCode(err error, fallback *common.Error) error {
	var coded *common.Error
	if errors.As(err, &coded) {
		return err
	}
	return errors.Wrap(fallback, err.Error())
}
