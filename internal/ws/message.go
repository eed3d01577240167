package ws

import (
	"encoding/base64"
	"time"

	"signwatch/internal/pipeline"
)

// Envelope wraps every text message sent to clients
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// FrameMessage is the data of a video_frame event
type FrameMessage struct {
	Seq        uint64            `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Frame      string            `json:"frame,omitempty"`  // Base64 encoded JPEG frame
	Binary     bool              `json:"binary,omitempty"` // JPEG follows as a binary message
	Detections []ObjectDetection `json:"detections"`
	Count      int               `json:"count"`
}

// ObjectDetection represents a single detected object
type ObjectDetection struct {
	ClassName  string  `json:"class_name"`
	Confidence float32 `json:"confidence"` // 0.0-1.0
	BBox       [4]int  `json:"bbox"`       // [x1, y1, x2, y2] in pixels
}

// NewFrameMessage converts an emitted frame. In binary mode the JPEG is left
// out and sent separately.
func NewFrameMessage(vf pipeline.VideoFrame, binary bool) *FrameMessage {
	msg := &FrameMessage{
		Seq:        vf.Seq,
		Timestamp:  vf.Timestamp,
		Width:      vf.Width,
		Height:     vf.Height,
		Binary:     binary,
		Detections: make([]ObjectDetection, 0, len(vf.Detections)),
		Count:      vf.Count,
	}
	if !binary {
		msg.Frame = base64.StdEncoding.EncodeToString(vf.JPEG)
	}
	for _, d := range vf.Detections {
		msg.Detections = append(msg.Detections, ObjectDetection{
			ClassName:  d.Label,
			Confidence: d.Confidence,
			BBox:       [4]int{d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2},
		})
	}
	return msg
}
