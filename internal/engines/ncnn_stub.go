//go:build !gocv
// +build !gocv

package engines

import (
	"context"

	"github.com/rs/zerolog"

	"signwatch/internal/detect"
	"signwatch/internal/pipeline"
)

// NCNNConfig configures local inference
type NCNNConfig struct {
	Model       string
	InputWidth  int
	InputHeight int
}

// NCNN is unavailable without the gocv build tag
type NCNN struct{}

// NewNCNN always fails without OpenCV
func NewNCNN(cfg NCNNConfig, log zerolog.Logger) (*NCNN, error) {
	return nil, ErrGoCVDisabled
}

func (n *NCNN) Name() string { return "ncnn" }

func (n *NCNN) Variant() detect.Variant { return detect.VariantNCNN }

func (n *NCNN) Model() string { return "" }

func (n *NCNN) Detect(ctx context.Context, frame *pipeline.Frame) (detect.RawOutput, error) {
	return nil, ErrGoCVDisabled
}

func (n *NCNN) Close() error { return nil }
