package postprocess

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-impulse/common"
	"github.com/nvr-ai/go-impulse/matrix"
)

func boxMatrix(rows ...[4]float32) *matrix.Matrix {
	m := matrix.NewMatrix(len(rows), 4, nil)
	for i, r := range rows {
		for j, v := range r {
			m.Set(i, j, v)
		}
	}
	return m
}

// TestSuppressSameClass verifies the lower-scoring overlapping box is dropped.
//
// @example
// go test -v -run TestSuppressSameClass
func TestSuppressSameClass(t *testing.T) {
	boxes := boxMatrix(
		[4]float32{0, 0, 10, 10},
		[4]float32{1, 1, 11, 11},
		[4]float32{50, 50, 60, 60},
	)
	kept, err := Suppress(boxes, []float32{0.6, 0.9, 0.5}, []int32{0, 0, 0}, 3, false, nil)
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Score)
	assert.Equal(t, float32(0.5), kept[1].Score)
}

func TestSuppressKeepsOtherClasses(t *testing.T) {
	boxes := boxMatrix(
		[4]float32{0, 0, 10, 10},
		[4]float32{0, 0, 10, 10},
	)
	kept, err := Suppress(boxes, []float32{0.9, 0.8}, []int32{2, 1}, 2, false, nil)
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Equal(t, 1, kept[0].Class, "classes are emitted in increasing index order")
	assert.Equal(t, 2, kept[1].Class)
}

func TestSuppressClip(t *testing.T) {
	boxes := boxMatrix([4]float32{-5, -5, 150, 120})
	cfg := &NMSConfig{Width: 100, Height: 100}

	kept, err := Suppress(boxes, []float32{0.7}, []int32{0}, 1, true, cfg)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, Detection{YMin: 0, XMin: 0, YMax: 100, XMax: 100, Score: 0.7}, kept[0])

	kept, err = Suppress(boxes, []float32{0.7}, []int32{0}, 1, false, cfg)
	require.NoError(t, err)
	assert.Equal(t, float32(-5), kept[0].XMin)
}

func TestSuppressInvalidInput(t *testing.T) {
	boxes := boxMatrix([4]float32{0, 0, 1, 1})
	_, err := Suppress(boxes, []float32{0.5}, []int32{}, 1, false, nil)
	require.Error(t, err)
	assert.Equal(t, common.CodeInvalidSize, common.CodeOf(err))

	_, err = Suppress(boxes, []float32{0.5, 0.4}, []int32{0, 0}, 2, false, nil)
	assert.ErrorIs(t, err, common.ErrNMSInvalidInput)

	kept, err := Suppress(nil, nil, nil, 0, false, nil)
	assert.NoError(t, err)
	assert.Empty(t, kept)
}

func TestSuppressZeroArea(t *testing.T) {
	boxes := boxMatrix(
		[4]float32{0, 0, 0, 10},
		[4]float32{0, 0, 0, 10},
	)
	kept, err := Suppress(boxes, []float32{0.9, 0.8}, []int32{0, 0}, 2, false, nil)
	require.NoError(t, err)
	assert.Len(t, kept, 2)
}

// TestSuppressProperties checks the acceptance invariants on random inputs.
func TestSuppressProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n = 60

	for round := 0; round < 20; round++ {
		rows := make([][4]float32, n)
		scores := make([]float32, n)
		classes := make([]int32, n)
		for i := range rows {
			y, x := rng.Float32()*80, rng.Float32()*80
			rows[i] = [4]float32{y, x, y + 5 + rng.Float32()*20, x + 5 + rng.Float32()*20}
			scores[i] = float32(rng.Intn(1000)) / 1000
			classes[i] = int32(rng.Intn(3))
		}

		kept, err := Suppress(boxMatrix(rows...), scores, classes, n, false, nil)
		require.NoError(t, err)

		for i := range kept {
			for j := i + 1; j < len(kept); j++ {
				if kept[i].Class != kept[j].Class {
					continue
				}
				assert.LessOrEqual(t, kept[i].IoU(&kept[j]), DefaultIoUThreshold)
			}
		}

		// Reversing the input must not change the accepted set when scores are distinct.
		perm := rng.Perm(n)
		pRows := make([][4]float32, n)
		pScores := make([]float32, n)
		pClasses := make([]int32, n)
		for i, p := range perm {
			pRows[i], pScores[i], pClasses[i] = rows[p], scores[p]+float32(p)*1e-7, classes[p]
		}
		for i := range scores {
			scores[i] += float32(i) * 1e-7
		}
		a, err := Suppress(boxMatrix(rows...), scores, classes, n, false, nil)
		require.NoError(t, err)
		b, err := Suppress(boxMatrix(pRows...), pScores, pClasses, n, false, nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, a, b)
	}
}

func TestSuppressBoxes(t *testing.T) {
	boxes := []common.BoundingBox{
		{Label: "a", ClassID: 0, X: 0, Y: 0, Width: 10, Height: 10, Value: 0.5},
		{Label: "a", ClassID: 0, X: 1, Y: 1, Width: 10, Height: 10, Value: 0.8},
		{Label: "b", ClassID: 1, X: 1, Y: 1, Width: 10, Height: 10, Value: 0.4},
	}
	kept := SuppressBoxes(boxes, &NMSConfig{IoUThreshold: 0.5})
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.8), kept[0].Value)
	assert.Equal(t, "b", kept[1].Label)
}

// TestSuppressBoxesPixelOverlap pins the threshold against the pixel IoU of
// two 10x10 boxes offset by 5 columns (50 / 150).
func TestSuppressBoxesPixelOverlap(t *testing.T) {
	a := common.BoundingBox{ClassID: 0, X: 0, Y: 0, Width: 10, Height: 10, Value: 0.9}
	b := common.BoundingBox{ClassID: 0, X: 5, Y: 0, Width: 10, Height: 10, Value: 0.8}
	require.InDelta(t, 1.0/3, a.IoU(&b), 1e-6)

	tests := []struct {
		name      string
		threshold float32
		expected  int
	}{
		{"below overlap", 0.3, 1},
		{"above overlap", 0.4, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept := SuppressBoxes([]common.BoundingBox{b, a}, &NMSConfig{IoUThreshold: tt.threshold})
			require.Len(t, kept, tt.expected)
			assert.Equal(t, float32(0.9), kept[0].Value)
		})
	}
}

func TestPadSortTopK(t *testing.T) {
	boxes := []common.BoundingBox{{Label: "a", Value: 0.2}, {Label: "b", Value: 0.9}, {Label: "c", Value: 0.2}}

	padded := Pad(append([]common.BoundingBox(nil), boxes...), 5)
	require.Len(t, padded, 5)
	assert.Zero(t, padded[3].Value)
	assert.Zero(t, padded[4].Value)
	assert.Len(t, Pad(boxes, 2), 3, "padding never truncates")

	SortByValue(boxes)
	assert.Equal(t, []string{"b", "a", "c"}, []string{boxes[0].Label, boxes[1].Label, boxes[2].Label})

	assert.Len(t, TopK(boxes, 2), 2)
	assert.Len(t, TopK(boxes, DefaultTopK), 3)
}

func TestDetectionToBoundingBox(t *testing.T) {
	d := Detection{YMin: -3, XMin: 10.7, YMax: 40, XMax: 30.2, Score: 0.5, Class: 2}
	b := d.ToBoundingBox("bolt")
	assert.Equal(t, common.BoundingBox{Label: "bolt", ClassID: 2, X: 10, Y: 0, Width: 19, Height: 40, Value: 0.5}, b)
}
