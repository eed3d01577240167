package detect

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(label string, conf float32, x1, y1, x2, y2 int) Detection {
	return Detection{Label: label, Confidence: conf, BBox: BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}}
}

func TestIoU(t *testing.T) {
	a := BBox{0, 0, 9, 9}

	assert.InDelta(t, 1.0, IoU(a, a), 1e-9)
	assert.InDelta(t, 0.0, IoU(a, BBox{20, 20, 30, 30}), 1e-9)
	// 10x5 box inside a 10x10 box: 50 / 100
	assert.InDelta(t, 0.5, IoU(a, BBox{0, 0, 9, 4}), 1e-9)
	assert.InDelta(t, IoU(a, BBox{3, 3, 15, 15}), IoU(BBox{3, 3, 15, 15}, a), 1e-12)
}

func TestNMS_OverlappingDuplicatesKeepHighest(t *testing.T) {
	// 100x100 vs 100x90 sharing a corner: IoU = 9000/10000 = 0.9
	in := []Detection{
		det("low", 0.78, 0, 0, 99, 89),
		det("high", 0.91, 0, 0, 99, 99),
	}
	require.InDelta(t, 0.9, IoU(in[0].BBox, in[1].BBox), 1e-9)

	out := NMS(in, 0.45, false)
	require.Len(t, out, 1)
	assert.Equal(t, "high", out[0].Label)
	assert.Equal(t, float32(0.91), out[0].Confidence)
}

func TestNMS_IoUEqualToThresholdIsKept(t *testing.T) {
	in := []Detection{
		det("a", 0.9, 0, 0, 9, 9),
		det("b", 0.8, 0, 0, 9, 4),
	}
	require.Equal(t, 0.5, IoU(in[0].BBox, in[1].BBox))

	out := NMS(in, 0.5, false)
	assert.Len(t, out, 2)
}

func TestNMS_IdenticalBoxesSameConfidence(t *testing.T) {
	in := []Detection{
		det("first", 0.7, 10, 10, 50, 50),
		det("second", 0.7, 10, 10, 50, 50),
	}

	out := NMS(in, 0.45, false)
	require.Len(t, out, 1)
	assert.Equal(t, "first", out[0].Label)
}

func TestNMS_StableOrderForTies(t *testing.T) {
	in := []Detection{
		det("a", 0.6, 0, 0, 10, 10),
		det("b", 0.9, 100, 100, 110, 110),
		det("c", 0.6, 200, 200, 210, 210),
		det("d", 0.6, 300, 300, 310, 310),
	}

	out := NMS(in, 0.45, false)
	require.Len(t, out, 4)
	labels := []string{out[0].Label, out[1].Label, out[2].Label, out[3].Label}
	assert.Equal(t, []string{"b", "a", "c", "d"}, labels)
}

func TestNMS_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	in := make([]Detection, 0, 300)
	for i := 0; i < 300; i++ {
		x := rng.Intn(600)
		y := rng.Intn(440)
		in = append(in, Detection{
			Label:      "obj",
			ClassID:    rng.Intn(3),
			Confidence: rng.Float32(),
			BBox:       BBox{X1: x, Y1: y, X2: x + 10 + rng.Intn(80), Y2: y + 10 + rng.Intn(80)},
		})
	}

	for _, classAware := range []bool{false, true} {
		once := NMS(in, 0.45, classAware)
		twice := NMS(once, 0.45, classAware)
		assert.Equal(t, once, twice)
	}
}

func TestNMS_ClassAware(t *testing.T) {
	in := []Detection{
		{Label: "car", ClassID: 2, Confidence: 0.9, BBox: BBox{0, 0, 99, 99}},
		{Label: "stop", ClassID: 11, Confidence: 0.8, BBox: BBox{0, 0, 99, 99}},
	}

	assert.Len(t, NMS(in, 0.45, false), 1)
	assert.Len(t, NMS(in, 0.45, true), 2)
}

func TestNMS_EmptyAndInputUntouched(t *testing.T) {
	out := NMS(nil, 0.45, false)
	require.NotNil(t, out)
	assert.Empty(t, out)

	in := []Detection{
		det("a", 0.1, 0, 0, 10, 10),
		det("b", 0.9, 0, 0, 10, 10),
	}
	NMS(in, 0.45, false)
	assert.Equal(t, "a", in[0].Label)
	assert.Equal(t, "b", in[1].Label)
}
