package engines

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"signwatch/internal/detect"
	"signwatch/internal/pipeline"
)

// DetectMethod is the unary RPC served by the NPU sidecar. The request is a
// JPEG in a BytesValue; the response is a Struct whose "classes" field holds
// one list per class of [ymin, xmin, ymax, xmax, score] boxes normalized to
// 0..1.
const DetectMethod = "/signwatch.npu.v1.Detector/Detect"

// HailoConfig holds configuration for the NPU sidecar client
type HailoConfig struct {
	Endpoint    string
	Model       string
	Timeout     time.Duration
	DialOptions []grpc.DialOption // Appended to the defaults
}

// Hailo runs detection on a Hailo NPU through a gRPC sidecar that already
// applies NMS on the accelerator
type Hailo struct {
	cfg  HailoConfig
	conn *grpc.ClientConn
	enc  encoder
	log  zerolog.Logger
}

// NewHailo connects to the sidecar and checks it is serving
func NewHailo(cfg HailoConfig, enc encoder, log zerolog.Logger) (*Hailo, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	// Configure keepalive to detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", cfg.Endpoint, err)
	}

	h := &Hailo{cfg: cfg, conn: conn, enc: enc, log: log}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := h.checkHealth(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("endpoint", cfg.Endpoint).Msg("Connected to NPU sidecar")
	return h, nil
}

func (h *Hailo) Name() string { return "hailo" }

func (h *Hailo) Variant() detect.Variant { return detect.VariantHailo }

func (h *Hailo) Model() string { return h.cfg.Model }

// checkHealth uses the standard health service. Sidecars that do not
// implement it are accepted once the connection itself works.
func (h *Hailo) checkHealth(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(h.conn).Check(ctx, &healthpb.HealthCheckRequest{}, grpc.WaitForReady(true))
	switch {
	case status.Code(err) == codes.Unimplemented:
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case resp.GetStatus() != healthpb.HealthCheckResponse_SERVING:
		return fmt.Errorf("%w: sidecar status %s", ErrUnavailable, resp.GetStatus())
	}
	return nil
}

func (h *Hailo) Detect(ctx context.Context, frame *pipeline.Frame) (detect.RawOutput, error) {
	img, err := h.enc.EncodeJPEG(frame, uploadQuality)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	resp := new(structpb.Struct)
	if err := h.conn.Invoke(ctx, DetectMethod, wrapperspb.Bytes(img), resp); err != nil {
		return nil, fmt.Errorf("npu detect: %w", err)
	}
	return parseClassLists(resp)
}

// parseClassLists converts the sidecar response into per-class box lists
func parseClassLists(s *structpb.Struct) (detect.ClassLists, error) {
	classes := s.GetFields()["classes"].GetListValue()
	if classes == nil {
		return detect.ClassLists{}, fmt.Errorf("%w: response has no classes list", detect.ErrShapeMismatch)
	}

	out := detect.ClassLists{Lists: make([][]detect.NormBox, len(classes.GetValues()))}
	for c, cv := range classes.GetValues() {
		boxes := cv.GetListValue()
		if boxes == nil {
			return detect.ClassLists{}, fmt.Errorf("%w: class %d is not a list", detect.ErrShapeMismatch, c)
		}
		for _, bv := range boxes.GetValues() {
			v := bv.GetListValue().GetValues()
			if len(v) != 5 {
				return detect.ClassLists{}, fmt.Errorf("%w: class %d box has %d values", detect.ErrShapeMismatch, c, len(v))
			}
			out.Lists[c] = append(out.Lists[c], detect.NormBox{
				YMin:  float32(v[0].GetNumberValue()),
				XMin:  float32(v[1].GetNumberValue()),
				YMax:  float32(v[2].GetNumberValue()),
				XMax:  float32(v[3].GetNumberValue()),
				Score: float32(v[4].GetNumberValue()),
			})
		}
	}
	return out, nil
}

func (h *Hailo) Close() error {
	return h.conn.Close()
}

var _ pipeline.Engine = (*Hailo)(nil)
