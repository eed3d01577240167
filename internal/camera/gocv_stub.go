//go:build !gocv
// +build !gocv

package camera

import (
	"context"

	"github.com/rs/zerolog"

	"signwatch/internal/config"
	"signwatch/internal/pipeline"
)

// GoCV is unavailable without the gocv build tag
type GoCV struct{}

// NewGoCV returns ErrGoCVDisabled
func NewGoCV(cfg config.CameraConfig, log zerolog.Logger) (*GoCV, error) {
	return nil, ErrGoCVDisabled
}

func (c *GoCV) Name() string { return "gocv" }

func (c *GoCV) Start(ctx context.Context) error { return ErrGoCVDisabled }

func (c *GoCV) GetFrame() (*pipeline.Frame, error) { return nil, ErrGoCVDisabled }

func (c *GoCV) Stop() error { return nil }
