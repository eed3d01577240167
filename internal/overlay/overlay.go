package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"signwatch/internal/detect"
)

var (
	// HighConfidence is used for boxes above 70% confidence
	HighConfidence = color.RGBA{0, 255, 0, 255}
	// LowConfidence is used for everything else
	LowConfidence = color.RGBA{255, 255, 0, 255}

	textColor = color.RGBA{0, 0, 0, 255}
)

const (
	boxThickness = 2
	glyphWidth   = 7
	labelHeight  = 16
)

// ColorFor returns the box color for a confidence value
func ColorFor(conf float32) color.RGBA {
	if conf > 0.7 {
		return HighConfidence
	}
	return LowConfidence
}

// Label formats the caption drawn above a box
func Label(d detect.Detection) string {
	return fmt.Sprintf("%s %.0f%%", d.Label, d.Confidence*100)
}

// Draw returns a copy of src with detections drawn on it. src is not modified.
func Draw(src *image.RGBA, dets []detect.Detection) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	for _, d := range dets {
		c := ColorFor(d.Confidence)
		drawBox(dst, d.BBox, c)
		drawLabel(dst, d.BBox.X1, d.BBox.Y1, Label(d), c)
	}
	return dst
}

// drawBox strokes the rectangle edges inside the image bounds
func drawBox(img *image.RGBA, b detect.BBox, c color.RGBA) {
	fill := image.NewUniform(c)
	r := image.Rect(b.X1, b.Y1, b.X2, b.Y2)

	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+boxThickness),
		image.Rect(r.Min.X, r.Max.Y-boxThickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+boxThickness, r.Max.Y),
		image.Rect(r.Max.X-boxThickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), fill, image.Point{}, draw.Src)
	}
}

// drawLabel draws text on a filled background above (x, y), or just inside
// the box when there is no room above it.
func drawLabel(img *image.RGBA, x, y int, label string, bg color.RGBA) {
	top := y - labelHeight
	if top < 0 {
		top = y
	}
	if x < 0 {
		x = 0
	}

	bgRect := image.Rect(x, top, x+len(label)*glyphWidth+4, top+labelHeight)
	draw.Draw(img, bgRect.Intersect(img.Bounds()), image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x + 2), Y: fixed.I(top + 12)},
	}
	d.DrawString(label)
}
