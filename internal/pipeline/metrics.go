package pipeline

import (
	"sync/atomic"
	"time"
)

// Metrics holds pipeline counters. They are diagnostics only and never feed
// back into control flow.
type Metrics struct {
	captured atomic.Uint64
	inferred atomic.Uint64
	emitted  atomic.Uint64
	dropped  atomic.Uint64

	captureErrors   atomic.Uint64
	inferenceErrors atomic.Uint64
	encodeFailures  atomic.Uint64
	totalDetections atomic.Uint64

	cameraNanos    atomic.Int64
	inferenceNanos atomic.Int64
	encodeNanos    atomic.Int64
}

// Stats is a point-in-time copy of the pipeline counters
type Stats struct {
	FramesCaptured  uint64  `json:"frames_captured"`
	FramesInferred  uint64  `json:"frames_inferred"`
	FramesEmitted   uint64  `json:"frames_emitted"`
	FramesDropped   uint64  `json:"frames_dropped"`
	FramesSkipped   uint64  `json:"frames_skipped"`
	ResultsSkipped  uint64  `json:"results_skipped"`
	CaptureErrors   uint64  `json:"capture_errors"`
	InferenceErrors uint64  `json:"inference_errors"`
	EncodeFailures  uint64  `json:"encode_failures"`
	TotalDetections uint64  `json:"total_detections"`
	LastFrameSeq    uint64  `json:"last_frame_seq"`
	LastResultSeq   uint64  `json:"last_result_seq"`
	CameraMs        float64 `json:"camera_ms"`
	InferenceMs     float64 `json:"inference_ms"`
	EncodeMs        float64 `json:"encode_ms"`
	Running         bool    `json:"running"`
}

func (m *Metrics) Captured() uint64 { return m.captured.Load() }
func (m *Metrics) Inferred() uint64 { return m.inferred.Load() }
func (m *Metrics) Emitted() uint64  { return m.emitted.Load() }
func (m *Metrics) Dropped() uint64  { return m.dropped.Load() }

func (m *Metrics) cameraMs() float64    { return toMs(m.cameraNanos.Load()) }
func (m *Metrics) inferenceMs() float64 { return toMs(m.inferenceNanos.Load()) }
func (m *Metrics) encodeMs() float64    { return toMs(m.encodeNanos.Load()) }

func toMs(nanos int64) float64 {
	return float64(nanos) / float64(time.Millisecond)
}
