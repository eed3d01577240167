package detect

import (
	"fmt"
	"math"
	"strconv"
)

const (
	DefaultConfThreshold = 0.5
	DefaultIoUThreshold  = 0.45
	DefaultInputSize     = 640
)

// Params configures decoding and suppression
type Params struct {
	ConfThreshold float32
	IoUThreshold  float64
	InputWidth    int
	InputHeight   int
	Labels        []string
	// ClassAware limits suppression to boxes of the same class.
	ClassAware bool
}

// DefaultParams returns the thresholds the appliance ships with
func DefaultParams() Params {
	return Params{
		ConfThreshold: DefaultConfThreshold,
		IoUThreshold:  DefaultIoUThreshold,
		InputWidth:    DefaultInputSize,
		InputHeight:   DefaultInputSize,
	}
}

// Decoder turns RawOutput into deduplicated detections. It holds no mutable
// state and is safe for concurrent use.
type Decoder struct {
	params Params
}

// NewDecoder creates a decoder, filling unset sizes and thresholds with defaults
func NewDecoder(p Params) *Decoder {
	if p.InputWidth <= 0 {
		p.InputWidth = DefaultInputSize
	}
	if p.InputHeight <= 0 {
		p.InputHeight = DefaultInputSize
	}
	if p.IoUThreshold <= 0 {
		p.IoUThreshold = DefaultIoUThreshold
	}
	if p.ConfThreshold < 0 {
		p.ConfThreshold = 0
	}
	return &Decoder{params: p}
}

// Params returns the effective parameters
func (d *Decoder) Params() Params {
	return d.params
}

// Decode converts raw engine output for a frame of the given size into
// detections in source-frame pixels, after NMS.
func (d *Decoder) Decode(raw RawOutput, frameW, frameH int) ([]Detection, error) {
	if frameW <= 0 || frameH <= 0 {
		return nil, fmt.Errorf("%w: frame size %dx%d", ErrShapeMismatch, frameW, frameH)
	}

	var (
		cands []Detection
		err   error
	)
	switch r := raw.(type) {
	case nil:
		return []Detection{}, nil
	case Tensor:
		cands, err = d.decodeTensor(r, frameW, frameH)
	case *Tensor:
		cands, err = d.decodeTensor(*r, frameW, frameH)
	case Boxes:
		cands = d.decodeBoxes(r, frameW, frameH)
	case *Boxes:
		cands = d.decodeBoxes(*r, frameW, frameH)
	case ClassLists:
		cands = d.decodeClassLists(r, frameW, frameH)
	case *ClassLists:
		cands = d.decodeClassLists(*r, frameW, frameH)
	default:
		return nil, fmt.Errorf("%w: unsupported output %T", ErrShapeMismatch, raw)
	}
	if err != nil {
		return nil, err
	}

	return NMS(cands, d.params.IoUThreshold, d.params.ClassAware), nil
}

func (d *Decoder) decodeTensor(t Tensor, frameW, frameH int) ([]Detection, error) {
	if t.Rows <= 0 || t.Cols <= 0 || len(t.Data) != t.Rows*t.Cols {
		return nil, fmt.Errorf("%w: tensor %dx%d holds %d values", ErrShapeMismatch, t.Rows, t.Cols, len(t.Data))
	}

	layout := t.Layout
	if layout == LayoutAuto {
		if t.Cols > t.Rows {
			layout = LayoutFeatureMajor
		} else {
			layout = LayoutPredictionMajor
		}
	}

	var numPred, numFeat int
	var at func(pred, feat int) float32
	switch layout {
	case LayoutFeatureMajor:
		numFeat, numPred = t.Rows, t.Cols
		at = func(pred, feat int) float32 { return t.Data[feat*t.Cols+pred] }
	case LayoutPredictionMajor:
		numPred, numFeat = t.Rows, t.Cols
		at = func(pred, feat int) float32 { return t.Data[pred*t.Cols+feat] }
	default:
		return nil, fmt.Errorf("%w: unknown layout %d", ErrShapeMismatch, layout)
	}

	if numFeat < 5 {
		return nil, fmt.Errorf("%w: %s tensor has %d features, need at least 5", ErrShapeMismatch, layout, numFeat)
	}

	numClasses := numFeat - 4
	if n := len(d.params.Labels); n > 0 && n < numClasses {
		numClasses = n
	}

	sx := float64(frameW) / float64(d.params.InputWidth)
	sy := float64(frameH) / float64(d.params.InputHeight)

	out := make([]Detection, 0)
	for i := 0; i < numPred; i++ {
		best := -1
		var bestConf float32
		for c := 0; c < numClasses; c++ {
			if v := at(i, 4+c); v > bestConf {
				bestConf = v
				best = c
			}
		}
		conf, ok := d.accept(bestConf)
		if best < 0 || !ok {
			continue
		}

		xc := float64(at(i, 0))
		yc := float64(at(i, 1))
		w := float64(at(i, 2))
		h := float64(at(i, 3))

		out = append(out, Detection{
			Label:      d.label(best),
			ClassID:    best,
			Confidence: conf,
			BBox:       toPixels(xc-w/2, yc-h/2, xc+w/2, yc+h/2, sx, sy, frameW, frameH),
		})
	}
	return out, nil
}

func (d *Decoder) decodeBoxes(b Boxes, frameW, frameH int) []Detection {
	sx, sy := 1.0, 1.0
	if b.Space == InputSpace {
		sx = float64(frameW) / float64(d.params.InputWidth)
		sy = float64(frameH) / float64(d.params.InputHeight)
	}

	out := make([]Detection, 0, len(b.Boxes))
	for _, rb := range b.Boxes {
		conf, ok := d.accept(rb.Score)
		if !ok {
			continue
		}
		label := rb.Label
		if label == "" {
			label = d.label(rb.ClassID)
		}
		out = append(out, Detection{
			Label:      label,
			ClassID:    rb.ClassID,
			Confidence: conf,
			BBox: toPixels(float64(rb.X1), float64(rb.Y1), float64(rb.X2), float64(rb.Y2),
				sx, sy, frameW, frameH),
		})
	}
	return out
}

func (d *Decoder) decodeClassLists(cl ClassLists, frameW, frameH int) []Detection {
	out := make([]Detection, 0)
	for classID, boxes := range cl.Lists {
		for _, nb := range boxes {
			conf, ok := d.accept(nb.Score)
			if !ok {
				continue
			}
			out = append(out, Detection{
				Label:      d.label(classID),
				ClassID:    classID,
				Confidence: conf,
				BBox: toPixels(float64(nb.XMin), float64(nb.YMin), float64(nb.XMax), float64(nb.YMax),
					float64(frameW), float64(frameH), frameW, frameH),
			})
		}
	}
	return out
}

// accept applies the confidence threshold. NaN never passes; scores above 1
// are clamped so a detection's confidence stays in [0,1].
func (d *Decoder) accept(score float32) (float32, bool) {
	if !(score >= d.params.ConfThreshold) || math.IsInf(float64(score), 0) {
		return 0, false
	}
	return min(score, 1), true
}

func (d *Decoder) label(classID int) string {
	if classID >= 0 && classID < len(d.params.Labels) {
		return d.params.Labels[classID]
	}
	return strconv.Itoa(classID)
}

// toPixels scales corners, truncates toward zero, orders them and clamps
// them to [0,w]x[0,h].
func toPixels(x1, y1, x2, y2, sx, sy float64, w, h int) BBox {
	b := BBox{
		X1: int(x1 * sx),
		Y1: int(y1 * sy),
		X2: int(x2 * sx),
		Y2: int(y2 * sy),
	}
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	b.X1 = clamp(b.X1, 0, w)
	b.X2 = clamp(b.X2, 0, w)
	b.Y1 = clamp(b.Y1, 0, h)
	b.Y2 = clamp(b.Y2, 0, h)
	return b
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
