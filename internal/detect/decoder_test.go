package detect

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_CenteredFullInputCoversSourceFrame(t *testing.T) {
	d := NewDecoder(DefaultParams())

	cases := map[string]Tensor{
		"prediction-major": {
			Layout: LayoutPredictionMajor, Rows: 1, Cols: 5,
			Data: []float32{320, 320, 640, 640, 0.9},
		},
		"feature-major": {
			Layout: LayoutFeatureMajor, Rows: 5, Cols: 1,
			Data: []float32{320, 320, 640, 640, 0.9},
		},
	}

	for name, tensor := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := d.Decode(tensor, 1280, 960)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, BBox{X1: 0, Y1: 0, X2: 1280, Y2: 960}, out[0].BBox)
			assert.Equal(t, "0", out[0].Label)
		})
	}
}

func TestDecode_LayoutsAgree(t *testing.T) {
	// Three candidates, two classes: [xc, yc, w, h, c0, c1]
	preds := [][]float32{
		{100, 100, 40, 40, 0.2, 0.8},
		{400, 300, 100, 60, 0.7, 0.1},
		{500, 500, 20, 20, 0.3, 0.1},
	}

	predMajor := Tensor{Layout: LayoutPredictionMajor, Rows: 3, Cols: 6}
	featMajor := Tensor{Layout: LayoutFeatureMajor, Rows: 6, Cols: 3}
	featMajor.Data = make([]float32, 18)
	for i, p := range preds {
		predMajor.Data = append(predMajor.Data, p...)
		for f, v := range p {
			featMajor.Data[f*3+i] = v
		}
	}

	d := NewDecoder(Params{ConfThreshold: 0.5, Labels: []string{"person", "stop_sign"}})

	a, err := d.Decode(predMajor, 640, 640)
	require.NoError(t, err)
	b, err := d.Decode(featMajor, 640, 640)
	require.NoError(t, err)

	require.Len(t, a, 2)
	assert.Equal(t, a, b)
	assert.Equal(t, "stop_sign", a[0].Label)
	assert.Equal(t, 1, a[0].ClassID)
	assert.Equal(t, BBox{X1: 80, Y1: 80, X2: 120, Y2: 120}, a[0].BBox)
	assert.Equal(t, "person", a[1].Label)
}

func TestDecode_AutoLayoutPrefersFeatureMajorWhenWide(t *testing.T) {
	// 5 features x 8 predictions, only prediction 6 is confident
	tensor := Tensor{Rows: 5, Cols: 8, Data: make([]float32, 40)}
	set := func(feat int, v float32) { tensor.Data[feat*8+6] = v }
	set(0, 64)
	set(1, 64)
	set(2, 32)
	set(3, 32)
	set(4, 0.95)

	out, err := NewDecoder(DefaultParams()).Decode(tensor, 640, 640)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, BBox{X1: 48, Y1: 48, X2: 80, Y2: 80}, out[0].BBox)
}

func TestDecode_TensorShapeMismatch(t *testing.T) {
	d := NewDecoder(DefaultParams())

	_, err := d.Decode(Tensor{Rows: 2, Cols: 6, Data: make([]float32, 11)}, 640, 480)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = d.Decode(Tensor{Layout: LayoutPredictionMajor, Rows: 2, Cols: 4, Data: make([]float32, 8)}, 640, 480)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = d.Decode(Boxes{}, 0, 480)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestDecode_EmptyOutput(t *testing.T) {
	d := NewDecoder(DefaultParams())

	for _, raw := range []RawOutput{nil, Boxes{}, ClassLists{}, Tensor{Layout: LayoutFeatureMajor, Rows: 5, Cols: 1, Data: []float32{1, 1, 1, 1, 0.1}}} {
		out, err := d.Decode(raw, 640, 480)
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.Empty(t, out)
	}
}

func TestDecode_BoxesClampedAndFiltered(t *testing.T) {
	d := NewDecoder(Params{ConfThreshold: 0.5})

	out, err := d.Decode(Boxes{Boxes: []RawBox{
		{X1: -10, Y1: 5, X2: 700, Y2: 500, Score: 0.9, ClassID: 3, Label: "stop"},
		{X1: 10, Y1: 10, X2: 20, Y2: 20, Score: 0.2, ClassID: 1},
		{X1: 300, Y1: 200, X2: 250, Y2: 100, Score: 0.6, ClassID: 4},
	}}, 640, 480)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "stop", out[0].Label)
	assert.Equal(t, BBox{X1: 0, Y1: 5, X2: 640, Y2: 480}, out[0].BBox)
	assert.Equal(t, "4", out[1].Label)
	assert.Equal(t, BBox{X1: 250, Y1: 100, X2: 300, Y2: 200}, out[1].BBox)
}

func TestDecode_BoxesInInputSpace(t *testing.T) {
	d := NewDecoder(DefaultParams())

	out, err := d.Decode(Boxes{Space: InputSpace, Boxes: []RawBox{
		{X1: 160, Y1: 160, X2: 480, Y2: 480, Score: 0.8},
	}}, 1280, 960)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, BBox{X1: 320, Y1: 240, X2: 960, Y2: 720}, out[0].BBox)
}

func TestDecode_ClassLists(t *testing.T) {
	d := NewDecoder(Params{ConfThreshold: 0.5, Labels: []string{"person", "bicycle", "stop"}})

	out, err := d.Decode(ClassLists{Lists: [][]NormBox{
		{{YMin: 0.1, XMin: 0.1, YMax: 0.2, XMax: 0.2, Score: 0.3}},
		nil,
		{{YMin: 0.25, XMin: 0.5, YMax: 0.75, XMax: 1.0, Score: 0.88}},
	}}, 640, 480)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, "stop", out[0].Label)
	assert.Equal(t, 2, out[0].ClassID)
	assert.Equal(t, BBox{X1: 320, Y1: 120, X2: 640, Y2: 360}, out[0].BBox)
}

func TestDecode_ScoresOutsideUnitRange(t *testing.T) {
	d := NewDecoder(Params{ConfThreshold: 0.5})
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	t.Run("boxes", func(t *testing.T) {
		out, err := d.Decode(Boxes{Boxes: []RawBox{
			{X1: 0, Y1: 0, X2: 10, Y2: 10, Score: nan, Label: "nan"},
			{X1: 0, Y1: 0, X2: 10, Y2: 10, Score: inf, Label: "inf"},
			{X1: 300, Y1: 300, X2: 400, Y2: 400, Score: 1.5, Label: "big"},
		}}, 640, 480)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "big", out[0].Label)
		assert.Equal(t, float32(1), out[0].Confidence)

		_, err = json.Marshal(out)
		assert.NoError(t, err)
	})

	t.Run("class lists", func(t *testing.T) {
		out, err := d.Decode(ClassLists{Lists: [][]NormBox{
			{{YMin: 0.1, XMin: 0.1, YMax: 0.2, XMax: 0.2, Score: nan}},
			{{YMin: 0.5, XMin: 0.5, YMax: 0.6, XMax: 0.6, Score: 2}},
		}}, 640, 480)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 1, out[0].ClassID)
		assert.Equal(t, float32(1), out[0].Confidence)
	})

	t.Run("tensor", func(t *testing.T) {
		out, err := d.Decode(Tensor{Layout: LayoutPredictionMajor, Rows: 3, Cols: 5, Data: []float32{
			100, 100, 20, 20, nan,
			200, 200, 20, 20, inf,
			400, 400, 20, 20, 3,
		}}, 640, 640)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, BBox{X1: 390, Y1: 390, X2: 410, Y2: 410}, out[0].BBox)
		assert.Equal(t, float32(1), out[0].Confidence)
	})
}

func TestDecode_AppliesNMS(t *testing.T) {
	d := NewDecoder(DefaultParams())

	out, err := d.Decode(Boxes{Boxes: []RawBox{
		{X1: 0, Y1: 0, X2: 99, Y2: 89, Score: 0.78},
		{X1: 0, Y1: 0, X2: 99, Y2: 99, Score: 0.91},
	}}, 640, 480)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, float32(0.91), out[0].Confidence)
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("person\n  bicycle \n\nstop sign\n"), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "bicycle", "stop sign"}, labels)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
