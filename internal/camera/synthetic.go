package camera

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"signwatch/internal/pipeline"
)

var (
	backgroundColor = color.RGBA{64, 64, 64, 255}
	markerColor     = color.RGBA{200, 30, 30, 255}
	captionColor    = color.RGBA{255, 255, 255, 255}
)

const (
	caption    = "No Camera"
	markerSize = 24
)

// Synthetic produces generated frames at a fixed rate. It stands in for a
// real camera on development machines and when no device is attached.
type Synthetic struct {
	width    int
	height   int
	interval time.Duration

	mu      sync.Mutex
	started bool
	next    time.Time
	count   int
}

// NewSynthetic creates a synthetic camera
func NewSynthetic(width, height, fps int) *Synthetic {
	if fps <= 0 {
		fps = 30
	}
	return &Synthetic{
		width:    width,
		height:   height,
		interval: time.Second / time.Duration(fps),
	}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.next = time.Now()
	return nil
}

// GetFrame returns a new frame once per interval and nil in between
func (s *Synthetic) GetFrame() (*pipeline.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, ErrNotStarted
	}
	now := time.Now()
	if now.Before(s.next) {
		return nil, nil
	}
	s.next = now.Add(s.interval)
	s.count++

	return pipeline.NewFrame(s.render(s.count), pipeline.PixelFormatRGBA), nil
}

func (s *Synthetic) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

// render draws the background, the caption and a marker that moves one
// step per frame so consecutive frames differ
func (s *Synthetic) render(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.Draw(img, img.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)

	span := max(s.width-markerSize, 1)
	x := (n * 4) % span
	y := s.height/2 + 20
	marker := image.Rect(x, y, x+markerSize, y+markerSize).Intersect(img.Bounds())
	draw.Draw(img, marker, &image.Uniform{markerColor}, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{captionColor},
		Face: basicfont.Face7x13,
	}
	textWidth := d.MeasureString(caption).Round()
	d.Dot = fixed.P((s.width-textWidth)/2, s.height/2)
	d.DrawString(caption)

	return img
}

var _ pipeline.Camera = (*Synthetic)(nil)
