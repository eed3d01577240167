package detect

import "errors"

// ErrShapeMismatch is returned when an engine's raw output does not have the
// layout its decoder expects. The frame is treated as having no detections.
var ErrShapeMismatch = errors.New("raw output shape mismatch")

// Variant identifies a detection engine backend
type Variant string

const (
	VariantUltralytics Variant = "ultralytics"
	VariantNCNN        Variant = "ncnn"
	VariantHailo       Variant = "hailo"
	VariantMock        Variant = "mock"
)

// BBox is a box in pixel coordinates of the source frame
type BBox struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// Area uses the pixel-inclusive convention: a box from 0 to 9 is 10 pixels wide.
func (b BBox) Area() int {
	return (b.X2 - b.X1 + 1) * (b.Y2 - b.Y1 + 1)
}

// Width returns the exclusive width of the box
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height returns the exclusive height of the box
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Detection is a single decoded object
type Detection struct {
	Label      string
	ClassID    int
	Confidence float32
	BBox       BBox
}
