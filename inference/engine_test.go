package inference

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/dsp"
	"github.com/nvr-ai/go-impulse/matrix"
	"github.com/nvr-ai/go-impulse/metrics"
	"github.com/nvr-ai/go-impulse/models/model"
)

// fakeEngine returns canned outputs and records the inputs it was given.
type fakeEngine struct {
	outputs []*matrix.Tensor
	err     error
	calls   int
	inputs  [][]float32
}

func (f *fakeEngine) Infer(_ context.Context, _ *model.LearningBlock, features []*matrix.Matrix) ([]*matrix.Tensor, error) {
	f.calls++
	var flat []float32
	for _, m := range features {
		flat = append(flat, m.Buffer()...)
	}
	f.inputs = append(f.inputs, flat)
	return f.outputs, f.err
}

// quantEngine also serves the quantized image path.
type quantEngine struct {
	fakeEngine
	quantCalls int
}

func (q *quantEngine) InferImageQuantized(context.Context, *model.LearningBlock, dsp.Signal) ([]*matrix.Tensor, error) {
	q.quantCalls++
	return q.outputs, nil
}

func scores(v ...float32) []*matrix.Tensor {
	return []*matrix.Tensor{matrix.NewFloat32Tensor(v)}
}

// classifier builds a two-label impulse with one raw DSP block of n features.
func classifier(n int, eng model.Engine) *model.Impulse {
	imp := model.NewImpulse(model.NewModelArgs{Categories: []string{"idle", "wave"}})
	imp.NNInputFrameSize = n
	imp.DSPBlocks = []dsp.Block{{ID: 1, Kernel: dsp.KernelRaw, OutputFeatures: n}}
	imp.LearningBlocks = []model.LearningBlock{{ID: 2, LastLayer: model.LastLayerClassification, Engine: eng}}
	return imp
}

// TestRunClassification verifies features reach the engine and scores reach the result.
//
// @example
// go test -v -run TestRunClassification
func TestRunClassification(t *testing.T) {
	eng := &fakeEngine{outputs: scores(0.25, 0.75)}
	e, err := NewEngine(classifier(4, eng), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	result, err := e.Run(context.Background(), dsp.Samples{1, 2, 3, 4, 5})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1, 2, 3, 4}}, eng.inputs)
	assert.Equal(t, common.ResultClassification, result.Kind)
	assert.Equal(t, []common.Classification{{Label: "idle", Value: 0.25}, {Label: "wave", Value: 0.75}}, result.Classification)
}

func TestNewEngineValidates(t *testing.T) {
	_, err := NewEngine(nil)
	assert.Equal(t, common.CodeConfig, common.CodeOf(err))

	imp := classifier(4, &fakeEngine{})
	imp.LearningBlocks = nil
	_, err = NewEngine(imp)
	assert.Equal(t, common.CodeConfig, common.CodeOf(err))
}

// TestRunPadsDetections verifies a single detection is padded to the minimum count.
//
// @example
// go test -v -run TestRunPadsDetections
func TestRunPadsDetections(t *testing.T) {
	imp := model.NewImpulse(model.NewModelArgs{
		Width: 100, Height: 100, Categories: []string{"bolt"}, Threshold: 0.5, MinObjects: 3,
	})
	imp.DSPBlocks = []dsp.Block{{ID: 1, Kernel: dsp.KernelRaw, OutputFeatures: 4}}
	imp.LearningBlocks = []model.LearningBlock{{
		ID:        2,
		LastLayer: model.LastLayerYOLOv5V5DRPAI,
		Engine:    &fakeEngine{outputs: scores(50, 50, 20, 20, 0.9, 1)},
	}}

	e, err := NewEngine(imp, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	result, err := e.Run(context.Background(), dsp.Samples{0, 0, 0, 0})
	require.NoError(t, err)

	assert.Equal(t, common.ResultObjectDetection, result.Kind)
	require.Len(t, result.BoundingBoxes, 3)
	assert.Equal(t, common.BoundingBox{Label: "bolt", X: 40, Y: 40, Width: 20, Height: 20, Value: 0.9}, result.BoundingBoxes[0])
	assert.Equal(t, common.BoundingBox{}, result.BoundingBoxes[1])
	assert.Equal(t, common.BoundingBox{}, result.BoundingBoxes[2])
	assert.Len(t, result.FoundBoxes(), 1)
}

// TestRunBufferOverflow grows a DSP block after NewEngine. Validate rejects an
// oversized block up front, so Run only sees the overflow when the impulse is
// changed after construction.
func TestRunBufferOverflow(t *testing.T) {
	eng := &fakeEngine{outputs: scores(0, 1)}
	e, err := NewEngine(classifier(4, eng), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	e.Impulse().DSPBlocks[0].OutputFeatures = 5

	_, err = e.Run(context.Background(), dsp.Samples{1, 2, 3, 4, 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrDSPBufferOverflow)
	assert.Equal(t, common.CodeDSPError, common.CodeOf(err))
	assert.Zero(t, eng.calls)
}

func TestRunCanceled(t *testing.T) {
	eng := &fakeEngine{outputs: scores(0, 1)}
	e, err := NewEngine(classifier(2, eng), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx, dsp.Samples{1, 2})
	assert.Equal(t, common.CodeCanceled, common.CodeOf(err))
	assert.Zero(t, eng.calls, "cancellation is observed after the DSP block")
}

func TestRunStageErrors(t *testing.T) {
	t.Run("extractor error is a dsp error", func(t *testing.T) {
		imp := classifier(2, &fakeEngine{outputs: scores(0, 1)})
		imp.DSPBlocks[0].Extract = func(dsp.Signal, *matrix.Matrix, any, float32) error {
			return errors.New("fft failed")
		}
		e, err := NewEngine(imp, WithLogger(zap.NewNop()))
		require.NoError(t, err)
		_, err = e.Run(context.Background(), dsp.Samples{1, 2})
		assert.Equal(t, common.CodeDSPError, common.CodeOf(err))
		assert.Contains(t, err.Error(), "fft failed")
	})

	t.Run("missing extractor", func(t *testing.T) {
		imp := classifier(2, &fakeEngine{outputs: scores(0, 1)})
		imp.DSPBlocks[0].Kernel = dsp.KernelMFCC
		e, err := NewEngine(imp, WithLogger(zap.NewNop()))
		require.NoError(t, err)
		_, err = e.Run(context.Background(), dsp.Samples{1, 2})
		assert.ErrorIs(t, err, common.ErrDSP)
	})

	t.Run("engine error is an inference error", func(t *testing.T) {
		e, err := NewEngine(classifier(2, &fakeEngine{err: errors.New("npu fault")}), WithLogger(zap.NewNop()))
		require.NoError(t, err)
		_, err = e.Run(context.Background(), dsp.Samples{1, 2})
		assert.Equal(t, common.CodeInferenceError, common.CodeOf(err))
	})

	t.Run("coded engine error keeps its code", func(t *testing.T) {
		eng := &fakeEngine{err: common.NewError(common.CodeInvalidSize, "bad input")}
		e, err := NewEngine(classifier(2, eng), WithLogger(zap.NewNop()))
		require.NoError(t, err)
		_, err = e.Run(context.Background(), dsp.Samples{1, 2})
		assert.Equal(t, common.CodeInvalidSize, common.CodeOf(err))
	})

	t.Run("decoder shape error", func(t *testing.T) {
		e, err := NewEngine(classifier(2, &fakeEngine{outputs: scores(1)}), WithLogger(zap.NewNop()))
		require.NoError(t, err)
		_, err = e.Run(context.Background(), dsp.Samples{1, 2})
		assert.Equal(t, common.CodeOutputShape, common.CodeOf(err))
	})
}

func TestRunInferenceAbortsOnFirstFailure(t *testing.T) {
	failing := &fakeEngine{err: errors.New("boom")}
	second := &fakeEngine{outputs: scores(0.5)}
	imp := classifier(2, failing)
	imp.LearningBlocks = append(imp.LearningBlocks, model.LearningBlock{ID: 3, LastLayer: model.LastLayerAnomaly, Engine: second})

	e, err := NewEngine(imp, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	_, err = e.Run(context.Background(), dsp.Samples{1, 2})
	require.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Zero(t, second.calls)
}

// TestKeepOutputFeedsLaterBlock verifies a kept output is selected by a later block's input ids.
//
// @example
// go test -v -run TestKeepOutputFeedsLaterBlock
func TestKeepOutputFeedsLaterBlock(t *testing.T) {
	anomaly := &fakeEngine{outputs: scores(0.7)}
	imp := classifier(2, &fakeEngine{outputs: scores(0.2, 0.8)})
	imp.LearningBlocks[0].KeepOutput = true
	imp.LearningBlocks[0].OutputFeaturesCount = 2
	imp.LearningBlocks = append(imp.LearningBlocks, model.LearningBlock{
		ID: 3, LastLayer: model.LastLayerAnomaly, InputBlockIDs: []int{2}, Engine: anomaly,
	})

	e, err := NewEngine(imp, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	result, err := e.Run(context.Background(), dsp.Samples{1, 2})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{0.2, 0.8}}, anomaly.inputs)
	assert.Equal(t, float32(0.7), result.Anomaly)
	assert.Equal(t, float32(0.8), result.Classification[1].Value)
}

func TestSelectInputs(t *testing.T) {
	a := matrix.NewMatrix(1, 1, []float32{1})
	b := matrix.NewMatrix(1, 1, []float32{2})
	c := matrix.NewMatrix(1, 1, []float32{3})
	features := []Feature{{BlockID: 4, Matrix: a}, {BlockID: 5, Matrix: b}, {BlockID: 6, Matrix: c}}

	got, err := SelectInputs(features, nil)
	require.NoError(t, err)
	assert.Equal(t, []*matrix.Matrix{a, b, c}, got)

	got, err = SelectInputs(features, []int{6, 4})
	require.NoError(t, err)
	assert.Equal(t, []*matrix.Matrix{c, a}, got)

	_, err = SelectInputs(features, []int{9})
	assert.Equal(t, common.CodeInvalidSize, common.CodeOf(err))

	wildcard := []Feature{{BlockID: 0, Matrix: a}, {BlockID: 5, Matrix: b}}
	got, err = SelectInputs(wildcard, []int{5})
	require.NoError(t, err)
	assert.Equal(t, []*matrix.Matrix{a}, got, "block id 0 matches any input id")
}

func TestRunInferenceRestoresScaling(t *testing.T) {
	eng := &fakeEngine{outputs: scores(0, 1)}
	imp := classifier(2, eng)
	imp.LearningBlocks[0].ImageScaling = "-1..1"
	e, err := NewEngine(imp, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	m := matrix.NewMatrix(1, 2, []float32{0.5, 1})
	var result common.Result
	require.NoError(t, e.RunInference(context.Background(), []Feature{{BlockID: 1, Matrix: m}}, &result))

	assert.Equal(t, [][]float32{{0, 1}}, eng.inputs, "the engine sees scaled features")
	assert.Equal(t, []float32{0.5, 1}, m.Buffer(), "scaling is undone afterwards")
	assert.Equal(t, float32(1), result.Classification[1].Value)
}

// TestQuantizedImagePath verifies the fast path is taken only when every precondition holds.
//
// @example
// go test -v -run TestQuantizedImagePath
func TestQuantizedImagePath(t *testing.T) {
	newImage := func(eng model.Engine, quantized bool) *model.Impulse {
		imp := classifier(6, eng)
		imp.DSPBlocks[0].Kernel = dsp.KernelImage
		imp.LearningBlocks[0].Quantized = quantized
		return imp
	}
	pixels := dsp.Samples{float32(0xffffff), 0}

	t.Run("taken", func(t *testing.T) {
		eng := &quantEngine{fakeEngine: fakeEngine{outputs: scores(0.1, 0.9)}}
		e, err := NewEngine(newImage(eng, true), WithLogger(zap.NewNop()))
		require.NoError(t, err)
		result, err := e.Run(context.Background(), pixels)
		require.NoError(t, err)
		assert.Equal(t, 1, eng.quantCalls)
		assert.Zero(t, eng.calls)
		assert.Equal(t, float32(0.9), result.Classification[1].Value)
		assert.Zero(t, result.Timing.DSP)
	})

	t.Run("float model falls back", func(t *testing.T) {
		eng := &quantEngine{fakeEngine: fakeEngine{outputs: scores(0.1, 0.9)}}
		e, err := NewEngine(newImage(eng, false), WithLogger(zap.NewNop()))
		require.NoError(t, err)
		_, err = e.Run(context.Background(), pixels)
		require.NoError(t, err)
		assert.Zero(t, eng.quantCalls)
		assert.Equal(t, [][]float32{{1, 1, 1, 0, 0, 0}}, eng.inputs)
	})

	t.Run("non image impulse falls back", func(t *testing.T) {
		eng := &quantEngine{fakeEngine: fakeEngine{outputs: scores(0.1, 0.9)}}
		imp := newImage(eng, true)
		imp.DSPBlocks[0].Kernel = dsp.KernelRaw
		e, err := NewEngine(imp, WithLogger(zap.NewNop()))
		require.NoError(t, err)
		_, err = e.Run(context.Background(), dsp.Samples{1, 2, 3, 4, 5, 6})
		require.NoError(t, err)
		assert.Zero(t, eng.quantCalls)
		assert.Equal(t, 1, eng.calls)
	})
}

func TestRunRecordsMetrics(t *testing.T) {
	rec := metrics.NewRecorder()
	e, err := NewEngine(classifier(2, &fakeEngine{err: errors.New("x")}), WithLogger(zap.NewNop()), WithRecorder(rec))
	require.NoError(t, err)
	_, err = e.Run(context.Background(), dsp.Samples{1, 2})
	require.Error(t, err)

	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["impulse_runs_total"])
	assert.True(t, names["impulse_errors_total"])
}
