package pipeline

import (
	"context"

	"signwatch/internal/detect"
	"signwatch/internal/violations"
)

// Camera produces frames. GetFrame is only ever called from the capture
// goroutine and must return a new Frame on every successful call.
// A nil frame with a nil error means no frame is ready yet.
type Camera interface {
	// Name returns the camera source identifier (e.g., "synthetic", "ffmpeg")
	Name() string

	Start(ctx context.Context) error

	GetFrame() (*Frame, error)

	Stop() error
}

// Engine runs a detection backend. It is owned by the inference goroutine
// and needs no internal locking.
type Engine interface {
	// Name returns the engine identifier
	Name() string

	// Variant selects the raw output format the engine produces
	Variant() detect.Variant

	// Model describes the loaded model for event records
	Model() string

	// Detect runs the backend on a frame and returns its raw output
	Detect(ctx context.Context, frame *Frame) (detect.RawOutput, error)

	// Close releases engine resources
	Close() error
}

// ImageCodec encodes frames for transport
type ImageCodec interface {
	EncodeJPEG(frame *Frame, quality int) ([]byte, error)
}

// Transport delivers events to clients. Emit must not block on network I/O.
type Transport interface {
	Emit(event string, payload any)
}

// MetricsSink records periodic samples
type MetricsSink interface {
	LogMetrics(sample MetricsSample) error
}

// ViolationRule turns one frame's detections into at most one event
type ViolationRule interface {
	Name() string
	Evaluate(seq uint64, dets []Detection) (violations.Event, bool)
}

// ViolationSink persists violation events
type ViolationSink interface {
	LogViolation(ev violations.Event) error
}

// ResourceSampler reads process resource usage
type ResourceSampler interface {
	Sample() (ResourceUsage, error)
}
