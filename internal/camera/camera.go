package camera

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"signwatch/internal/config"
	"signwatch/internal/pipeline"
)

var (
	// ErrUnknownCamera is returned for an unrecognized camera source
	ErrUnknownCamera = errors.New("unknown camera source")
	// ErrNotStarted is returned by GetFrame before Start
	ErrNotStarted = errors.New("camera not started")
	// ErrGoCVDisabled is returned when the binary was built without the gocv tag
	ErrGoCVDisabled = errors.New("gocv support not compiled in (build with -tags gocv)")
)

// New creates the camera selected by cfg.Source
func New(cfg config.CameraConfig, log zerolog.Logger) (pipeline.Camera, error) {
	log = log.With().Str("component", "Camera").Str("source", cfg.Source).Logger()

	switch cfg.Source {
	case "mock", "synthetic":
		return NewSynthetic(cfg.Width, cfg.Height, cfg.FPS), nil
	case "ffmpeg":
		if !deviceExists(cfg.Device) {
			return nil, fmt.Errorf("camera device %s does not exist", cfg.Device)
		}
		return NewFFmpeg(cfg, log), nil
	case "gocv":
		cam, err := NewGoCV(cfg, log)
		if err != nil {
			return nil, err
		}
		return cam, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCamera, cfg.Source)
	}
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// deviceExists checks if a camera device can be opened
func deviceExists(device string) bool {
	// Network sources are checked when capture starts
	if isNetworkSource(device) {
		return true
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
