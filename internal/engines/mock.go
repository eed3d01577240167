package engines

import (
	"context"
	"math/rand/v2"
	"time"

	"signwatch/internal/detect"
	"signwatch/internal/pipeline"
)

const (
	mockLabel       = "mock_sign"
	mockProbability = 0.3
)

// Mock reports a centered sign on roughly a third of frames. It needs no
// model and is the fallback when the configured engine cannot start.
type Mock struct {
	rng *rand.Rand
}

// NewMock creates a mock engine; a zero seed picks one from the clock
func NewMock(seed int64) *Mock {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Mock{rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1))}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Variant() detect.Variant { return detect.VariantMock }

func (m *Mock) Model() string { return "mock" }

func (m *Mock) Detect(ctx context.Context, frame *pipeline.Frame) (detect.RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := detect.Boxes{Space: detect.SourceSpace}
	if m.rng.Float64() >= mockProbability {
		return out, nil
	}

	w, h := float32(frame.Width()), float32(frame.Height())
	out.Boxes = []detect.RawBox{{
		X1:    w * 0.3,
		Y1:    h * 0.3,
		X2:    w * 0.7,
		Y2:    h * 0.7,
		Score: 0.6 + m.rng.Float32()*0.35,
		Label: mockLabel,
	}}
	return out, nil
}

func (m *Mock) Close() error { return nil }

var _ pipeline.Engine = (*Mock)(nil)
