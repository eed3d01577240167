package violations

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"signwatch/internal/detect"
)

// DefaultMinConfidence is the floor applied on top of the detection threshold
const DefaultMinConfidence = 0.85

// StopSignRule raises a stop_sign event when a stop sign is detected with
// confidence at or above max(MinConfidence, DecisionThreshold).
type StopSignRule struct {
	Labels            []string
	MinConfidence     float64
	DecisionThreshold float64
	CameraID          string
	Model             ModelInfo

	now   func() time.Time
	newID func() string
}

// StopSignConfig holds the rule's tunables
type StopSignConfig struct {
	Labels            []string
	MinConfidence     float64
	DecisionThreshold float64
	CameraID          string
	Model             ModelInfo
}

// NewStopSignRule creates the rule with defaults for any unset field
func NewStopSignRule(cfg StopSignConfig) *StopSignRule {
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = []string{"stop", "stop_sign"}
	}
	minConf := cfg.MinConfidence
	if minConf <= 0 {
		minConf = DefaultMinConfidence
	}
	cameraID := cfg.CameraID
	if cameraID == "" {
		cameraID = "cam-01"
	}

	return &StopSignRule{
		Labels:            labels,
		MinConfidence:     minConf,
		DecisionThreshold: cfg.DecisionThreshold,
		CameraID:          cameraID,
		Model:             cfg.Model,
		now:               time.Now,
		newID:             uuid.NewString,
	}
}

// Name returns the rule identifier
func (r *StopSignRule) Name() string {
	return TypeStopSign
}

// Evaluate inspects one frame's detections. At most one event is produced,
// for the most confident stop sign.
func (r *StopSignRule) Evaluate(seq uint64, dets []detect.Detection) (Event, bool) {
	top := -1
	for i, d := range dets {
		if !r.matches(d.Label) {
			continue
		}
		if top < 0 || d.Confidence > dets[top].Confidence {
			top = i
		}
	}
	if top < 0 {
		return Event{}, false
	}

	sign := dets[top]
	conf := float64(sign.Confidence)
	if conf < max(r.MinConfidence, r.DecisionThreshold) {
		return Event{}, false
	}

	return Event{
		ID:               r.newID(),
		Timestamp:        r.now(),
		ViolationType:    TypeStopSign,
		Confidence:       conf,
		DriverAction:     DriverActionUnknown,
		ActionConfidence: 0,
		Context: Context{
			CameraID: r.CameraID,
			FrameID:  seq,
		},
		Evidence: Evidence{
			SignDetected: SignDetected{Label: sign.Label, Conf: conf},
			BBoxes:       EvidenceBoxes{Sign: [4]int{sign.BBox.X1, sign.BBox.Y1, sign.BBox.X2, sign.BBox.Y2}},
		},
		Thresholds: Thresholds{DecisionThreshold: r.DecisionThreshold},
		Severity:   SeverityLow,
		Review:     Review{Status: ReviewAuto},
		Model:      r.Model,
	}, true
}

func (r *StopSignRule) matches(label string) bool {
	label = strings.ToLower(label)
	for _, l := range r.Labels {
		if label == strings.ToLower(l) {
			return true
		}
	}
	return false
}
