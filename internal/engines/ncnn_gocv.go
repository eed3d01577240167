//go:build gocv
// +build gocv

package engines

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"signwatch/internal/detect"
	"signwatch/internal/pipeline"
)

// NCNNConfig configures local inference
type NCNNConfig struct {
	Model       string
	InputWidth  int
	InputHeight int
}

// NCNN runs a YOLO export locally through the OpenCV DNN module. The raw
// head output is returned as a tensor for the shared decoder.
type NCNN struct {
	cfg NCNNConfig
	net gocv.Net
	log zerolog.Logger
}

// NewNCNN loads the model
func NewNCNN(cfg NCNNConfig, log zerolog.Logger) (*NCNN, error) {
	if cfg.InputWidth <= 0 {
		cfg.InputWidth = detect.DefaultInputSize
	}
	if cfg.InputHeight <= 0 {
		cfg.InputHeight = detect.DefaultInputSize
	}

	net := gocv.ReadNet(cfg.Model, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model %s", cfg.Model)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, err
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, err
	}

	log.Info().
		Str("model", cfg.Model).
		Int("input_width", cfg.InputWidth).
		Int("input_height", cfg.InputHeight).
		Msg("Model loaded")
	return &NCNN{cfg: cfg, net: net, log: log}, nil
}

func (n *NCNN) Name() string { return "ncnn" }

func (n *NCNN) Variant() detect.Variant { return detect.VariantNCNN }

func (n *NCNN) Model() string { return n.cfg.Model }

func (n *NCNN) Detect(ctx context.Context, frame *pipeline.Frame) (detect.RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(n.cfg.InputWidth, n.cfg.InputHeight),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	n.net.SetInput(blob, "")
	out := n.net.Forward("")
	defer out.Close()

	// YOLOv8 heads are [1, 4+classes, candidates]
	sizes := out.Size()
	if len(sizes) < 2 {
		return nil, fmt.Errorf("%w: output dims %v", detect.ErrShapeMismatch, sizes)
	}
	rows, cols := sizes[len(sizes)-2], sizes[len(sizes)-1]

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	if len(data) < rows*cols {
		return nil, fmt.Errorf("%w: output has %d values, want %d", detect.ErrShapeMismatch, len(data), rows*cols)
	}

	// The Mat owns data; copy before it is closed
	values := make([]float32, rows*cols)
	copy(values, data)

	return detect.Tensor{
		Layout: detect.LayoutAuto,
		Rows:   rows,
		Cols:   cols,
		Data:   values,
	}, nil
}

func (n *NCNN) Close() error {
	return n.net.Close()
}

var _ pipeline.Engine = (*NCNN)(nil)
