package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"signwatch/internal/detect"
	"signwatch/internal/pipeline"
)

// UltralyticsConfig holds configuration for the HTTP detection sidecar
type UltralyticsConfig struct {
	Endpoint      string
	Model         string
	ConfThreshold float32
	Timeout       time.Duration
}

// Ultralytics sends frames to a YOLO HTTP service
type Ultralytics struct {
	cfg    UltralyticsConfig
	client *http.Client
	enc    encoder
	log    zerolog.Logger
}

// UltralyticsDetection represents a single detection in the service response
type UltralyticsDetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

// UltralyticsResult represents the detection response
type UltralyticsResult struct {
	Detections      []UltralyticsDetection `json:"detections"`
	Count           int                    `json:"count"`
	InferenceTimeMs float32                `json:"inference_time_ms"`
	Device          string                 `json:"device"`
}

// UltralyticsHealth represents the health check response
type UltralyticsHealth struct {
	Status       string `json:"status"`
	Device       string `json:"device"`
	GPUAvailable bool   `json:"gpu_available"`
	ModelLoaded  bool   `json:"model_loaded"`
}

// NewUltralytics creates the engine and verifies the service has a model loaded
func NewUltralytics(cfg UltralyticsConfig, enc encoder, log zerolog.Logger) (*Ultralytics, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	u := &Ultralytics{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		enc:    enc,
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	health, err := u.Health(ctx)
	if err != nil {
		return nil, err
	}
	if !health.ModelLoaded {
		return nil, fmt.Errorf("%w: %s has no model loaded", ErrUnavailable, cfg.Endpoint)
	}

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Str("device", health.Device).
		Bool("gpu", health.GPUAvailable).
		Msg("Connected to detection service")
	return u, nil
}

func (u *Ultralytics) Name() string { return "ultralytics" }

func (u *Ultralytics) Variant() detect.Variant { return detect.VariantUltralytics }

func (u *Ultralytics) Model() string { return u.cfg.Model }

// Health queries the service health endpoint
func (u *Ultralytics) Health(ctx context.Context) (*UltralyticsHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.Endpoint+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: health check returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var health UltralyticsHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}

// Detect uploads the frame as JPEG; boxes come back in frame pixels
func (u *Ultralytics) Detect(ctx context.Context, frame *pipeline.Frame) (detect.RawOutput, error) {
	img, err := u.enc.EncodeJPEG(frame, uploadQuality)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(img); err != nil {
		return nil, err
	}
	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.3f", u.cfg.ConfThreshold)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.Endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("detection failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result UltralyticsResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	return toBoxes(result)
}

func toBoxes(result UltralyticsResult) (detect.RawOutput, error) {
	out := detect.Boxes{
		Space: detect.SourceSpace,
		Boxes: make([]detect.RawBox, 0, len(result.Detections)),
	}
	for _, d := range result.Detections {
		if len(d.BBox) != 4 {
			return nil, fmt.Errorf("%w: bbox has %d values", detect.ErrShapeMismatch, len(d.BBox))
		}
		out.Boxes = append(out.Boxes, detect.RawBox{
			X1:      d.BBox[0],
			Y1:      d.BBox[1],
			X2:      d.BBox[2],
			Y2:      d.BBox[3],
			Score:   d.Confidence,
			ClassID: d.ClassID,
			Label:   d.Class,
		})
	}
	return out, nil
}

func (u *Ultralytics) Close() error {
	u.client.CloseIdleConnections()
	return nil
}

var _ pipeline.Engine = (*Ultralytics)(nil)
