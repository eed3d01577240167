package violations

import "time"

// Event is one structured violation record, persisted as a JSON line
type Event struct {
	ID               string     `json:"id"`
	Timestamp        time.Time  `json:"timestamp"`
	ViolationType    string     `json:"violation_type"`
	Confidence       float64    `json:"confidence"`
	DriverAction     string     `json:"driver_action"`
	ActionConfidence float64    `json:"action_confidence"`
	Vehicle          Vehicle    `json:"vehicle"`
	Context          Context    `json:"context"`
	Evidence         Evidence   `json:"evidence"`
	Thresholds       Thresholds `json:"thresholds"`
	Severity         string     `json:"severity"`
	Review           Review     `json:"review"`
	Model            ModelInfo  `json:"model"`
}

// Vehicle identifies the tracked vehicle, when tracking is available
type Vehicle struct {
	TrackID *int `json:"track_id"`
}

// Context locates the event in the video stream
type Context struct {
	CameraID string `json:"camera_id"`
	FrameID  uint64 `json:"frame_id"`
}

// Evidence carries the detection that triggered the event
type Evidence struct {
	SignDetected SignDetected  `json:"sign_detected"`
	BBoxes       EvidenceBoxes `json:"bboxes"`
}

type SignDetected struct {
	Label string  `json:"label"`
	Conf  float64 `json:"conf"`
}

type EvidenceBoxes struct {
	Sign [4]int `json:"sign"`
}

type Thresholds struct {
	DecisionThreshold float64 `json:"decision_threshold"`
}

type Review struct {
	Status string `json:"status"`
}

// ModelInfo describes the engine that produced the evidence
type ModelInfo struct {
	Engine string `json:"engine"`
	Model  string `json:"model"`
}

const (
	TypeStopSign = "stop_sign"

	SeverityLow = "low"

	ReviewAuto = "auto"

	DriverActionUnknown = "unknown"
)
