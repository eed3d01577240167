package detect

// RawOutput is the backend-specific result of one engine call.
// Only the types in this package implement it.
type RawOutput interface {
	isRawOutput()
}

// Layout describes how a dense output tensor is laid out in memory
type Layout int

const (
	// LayoutAuto picks feature-major when there are more columns than rows.
	LayoutAuto Layout = iota
	// LayoutPredictionMajor stores one candidate per row: [xc, yc, w, h, c0..cN].
	LayoutPredictionMajor
	// LayoutFeatureMajor stores one feature per row; candidate i is column i.
	LayoutFeatureMajor
)

func (l Layout) String() string {
	switch l {
	case LayoutPredictionMajor:
		return "prediction-major"
	case LayoutFeatureMajor:
		return "feature-major"
	default:
		return "auto"
	}
}

// Tensor is a dense YOLO-style head output in model input coordinates
type Tensor struct {
	Layout Layout
	Rows   int
	Cols   int
	Data   []float32
}

// CoordSpace tells the decoder which resolution box corners are expressed in
type CoordSpace int

const (
	SourceSpace CoordSpace = iota
	InputSpace
)

// RawBox is a corner-format candidate as returned by engines that already
// run their own post-processing.
type RawBox struct {
	X1      float32
	Y1      float32
	X2      float32
	Y2      float32
	Score   float32
	ClassID int
	Label   string
}

// Boxes holds corner-format candidates
type Boxes struct {
	Space CoordSpace
	Boxes []RawBox
}

// NormBox is one NPU box, normalized to 0..1, in [ymin, xmin, ymax, xmax] order.
type NormBox struct {
	YMin  float32
	XMin  float32
	YMax  float32
	XMax  float32
	Score float32
}

// ClassLists is the NPU NMS output: Lists[c] holds the boxes for class c.
type ClassLists struct {
	Lists [][]NormBox
}

func (Tensor) isRawOutput()     {}
func (Boxes) isRawOutput()      {}
func (ClassLists) isRawOutput() {}
