package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"sync"

	"signwatch/internal/pipeline"
)

// ErrEmptyFrame is returned when there is no image to encode
var ErrEmptyFrame = errors.New("codec: empty frame")

// JPEG encodes frames with the standard library encoder, reusing buffers
// between calls.
type JPEG struct {
	buffers sync.Pool
}

// NewJPEG creates a JPEG codec
func NewJPEG() *JPEG {
	return &JPEG{
		buffers: sync.Pool{
			New: func() any { return bytes.NewBuffer(make([]byte, 0, 64*1024)) },
		},
	}
}

// EncodeJPEG encodes a frame; quality is clamped to 1..100
func (c *JPEG) EncodeJPEG(frame *pipeline.Frame, quality int) ([]byte, error) {
	if frame == nil || frame.Image == nil {
		return nil, ErrEmptyFrame
	}
	return c.Encode(frame.Image, quality)
}

// Encode encodes any image
func (c *JPEG) Encode(img image.Image, quality int) ([]byte, error) {
	quality = max(1, min(quality, 100))

	buf := c.buffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.buffers.Put(buf)

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// DecodeJPEG decodes JPEG bytes into an RGBA image
func DecodeJPEG(data []byte) (*image.RGBA, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("jpeg decode: %w", err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba, nil
}

var _ pipeline.ImageCodec = (*JPEG)(nil)
