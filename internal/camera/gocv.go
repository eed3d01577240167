//go:build gocv
// +build gocv

package camera

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"signwatch/internal/config"
	"signwatch/internal/pipeline"
)

// GoCV reads frames from an OpenCV VideoCapture. GetFrame blocks for at most
// one camera frame period.
type GoCV struct {
	cfg config.CameraConfig
	log zerolog.Logger

	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// NewGoCV creates an OpenCV camera; the device is opened by Start
func NewGoCV(cfg config.CameraConfig, log zerolog.Logger) (*GoCV, error) {
	return &GoCV{cfg: cfg, log: log}, nil
}

func (c *GoCV) Name() string { return "gocv" }

func (c *GoCV) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return fmt.Errorf("camera %s already started", c.cfg.Device)
	}

	// A numeric device selects a camera index, anything else is a path or URL
	var device any = c.cfg.Device
	if idx, err := strconv.Atoi(c.cfg.Device); err == nil {
		device = idx
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("failed to open video capture: %w", err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("video capture %s is not opened", c.cfg.Device)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(c.cfg.FPS))

	c.capture = capture
	c.mat = gocv.NewMat()

	c.log.Info().
		Str("device", c.cfg.Device).
		Float64("width", capture.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", capture.Get(gocv.VideoCaptureFrameHeight)).
		Msg("Opened video capture")
	return nil
}

func (c *GoCV) GetFrame() (*pipeline.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, ErrNotStarted
	}
	if ok := c.capture.Read(&c.mat); !ok {
		return nil, fmt.Errorf("%w: read from %s failed", ErrStreamEnded, c.cfg.Device)
	}
	if c.mat.Empty() {
		return nil, nil
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return pipeline.NewFrameFromImage(img, pipeline.PixelFormatBGR24), nil
}

func (c *GoCV) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}
	c.mat.Close()
	err := c.capture.Close()
	c.capture = nil
	return err
}

var _ pipeline.Camera = (*GoCV)(nil)
