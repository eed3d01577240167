package pipeline

import (
	"image"
	"image/draw"
	"time"

	"signwatch/internal/detect"
)

// EventVideoFrame is the transport event carrying an annotated frame
const EventVideoFrame = "video_frame"

// PixelFormat tags the format a frame was captured in before it was
// converted to RGBA
type PixelFormat string

const (
	PixelFormatRGBA  PixelFormat = "rgba"
	PixelFormatRGB24 PixelFormat = "rgb24"
	PixelFormatBGR24 PixelFormat = "bgr24"
	PixelFormatMJPEG PixelFormat = "mjpeg"
)

// Frame is a captured image. It must not be modified once published.
type Frame struct {
	Seq       uint64      // Assigned by the frame mailbox at publish time
	Timestamp time.Time   // Capture time
	Format    PixelFormat // Source pixel format
	Image     *image.RGBA
}

// NewFrame wraps an image captured now
func NewFrame(img *image.RGBA, format PixelFormat) *Frame {
	return &Frame{
		Timestamp: time.Now(),
		Format:    format,
		Image:     img,
	}
}

// NewFrameFromImage converts any image to an RGBA frame
func NewFrameFromImage(img image.Image, format PixelFormat) *Frame {
	if rgba, ok := img.(*image.RGBA); ok {
		return NewFrame(rgba, format)
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return NewFrame(rgba, format)
}

func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Detection and BBox are the decoder's types
type (
	Detection = detect.Detection
	BBox      = detect.BBox
)

// DetectionBatch is the ordered detections for one frame
type DetectionBatch struct {
	Seq        uint64
	Detections []Detection
}

// Count returns the number of detections
func (b DetectionBatch) Count() int {
	return len(b.Detections)
}

// Result is one completed inference. Seq equals the source frame's Seq.
type Result struct {
	Seq           uint64
	Frame         *Frame // Annotated copy, or the source frame when nothing was drawn
	Batch         DetectionBatch
	InferenceTime time.Duration
	Engine        string
}

// VideoFrame is the payload handed to transports for EventVideoFrame
type VideoFrame struct {
	Seq        uint64
	Timestamp  time.Time
	Width      int
	Height     int
	JPEG       []byte
	Detections []Detection
	Count      int
}

// MetricsSample is one periodic performance record
type MetricsSample struct {
	Timestamp       time.Time `json:"timestamp"`
	FPS             float64   `json:"fps"`
	InferenceMs     float64   `json:"inference_time_ms"`
	DetectionsCount int       `json:"detections_count"`
	CPUPercent      float64   `json:"cpu_usage_percent"`
	RAMMB           float64   `json:"ram_usage_mb"`
	CameraMs        float64   `json:"camera_frame_time_ms"`
	EncodeMs        float64   `json:"jpeg_encode_time_ms"`
	TotalDetections uint64    `json:"total_detections"`
	DroppedFrames   uint64    `json:"dropped_frames"`
	QueueSize       int       `json:"queue_size"`
}

// ResourceUsage is a CPU/RAM reading
type ResourceUsage struct {
	CPUPercent float64
	RAMMB      float64
}
