package engines

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"signwatch/internal/codec"
	"signwatch/internal/config"
	"signwatch/internal/detect"
	"signwatch/internal/pipeline"
)

var (
	// ErrUnknownEngine is returned for an unrecognized engine name
	ErrUnknownEngine = errors.New("unknown detection engine")
	// ErrUnavailable is returned when a remote engine is not ready
	ErrUnavailable = errors.New("detection service unavailable")
	// ErrGoCVDisabled is returned when the binary was built without the gocv tag
	ErrGoCVDisabled = errors.New("ncnn engine requires a build with -tags gocv")
)

// uploadQuality is the JPEG quality used when sending frames to a sidecar
const uploadQuality = 90

// New creates the engine selected by cfg.Engine. Remote engines are checked
// for readiness here so that callers can fall back early.
func New(cfg config.DetectionConfig, log zerolog.Logger) (pipeline.Engine, error) {
	log = log.With().Str("component", "Engine").Str("engine", cfg.Engine).Logger()

	var (
		engine pipeline.Engine
		err    error
	)
	switch detect.Variant(cfg.Engine) {
	case detect.VariantMock:
		engine = NewMock(cfg.Seed)
	case detect.VariantUltralytics:
		engine, err = NewUltralytics(UltralyticsConfig{
			Endpoint:      cfg.EndpointOrDefault(),
			Model:         cfg.Model,
			ConfThreshold: float32(cfg.Confidence),
			Timeout:       cfg.Timeout,
		}, codec.NewJPEG(), log)
	case detect.VariantHailo:
		engine, err = NewHailo(HailoConfig{
			Endpoint: cfg.EndpointOrDefault(),
			Model:    cfg.Model,
			Timeout:  cfg.Timeout,
		}, codec.NewJPEG(), log)
	case detect.VariantNCNN:
		engine, err = NewNCNN(NCNNConfig{
			Model:       cfg.Model,
			InputWidth:  cfg.InputWidth,
			InputHeight: cfg.InputHeight,
		}, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("%s engine: %w", cfg.Engine, err)
	}
	return engine, nil
}

// encoder is the part of codec.JPEG the remote engines need
type encoder interface {
	EncodeJPEG(frame *pipeline.Frame, quality int) ([]byte, error)
}
