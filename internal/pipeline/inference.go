package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"signwatch/internal/logging"
	"signwatch/internal/overlay"
)

// inferenceLoop runs the engine on the newest frame it has not seen yet and
// publishes the annotated result under the frame's sequence number.
func (p *Pipeline) inferenceLoop(ctx context.Context) {
	defer p.wg.Done()

	log := logging.Component(p.log, "Inference")
	log.Debug().Str("engine", p.comp.Engine.Name()).Msg("Inference stage started")

	var last uint64
	for p.running.Load() {
		seq, frame, ok := p.frames.TryReadIfNewer(last)
		if !ok {
			time.Sleep(p.cfg.InferencePoll)
			continue
		}
		last = seq

		p.guard(&log, func() {
			res := p.infer(ctx, &log, seq, frame)
			if err := p.results.PublishAt(seq, res); err != nil {
				log.Debug().Err(err).Uint64("seq", seq).Msg("Result not published")
				return
			}
			p.metrics.inferred.Add(1)
		})
	}

	log.Debug().Msg("Inference stage stopped")
}

// infer never fails: engine, decode and draw errors yield a result with no
// detections and the unmodified frame.
func (p *Pipeline) infer(ctx context.Context, log *zerolog.Logger, seq uint64, frame *Frame) *Result {
	start := time.Now()

	res := &Result{
		Seq:    seq,
		Frame:  frame,
		Batch:  DetectionBatch{Seq: seq, Detections: []Detection{}},
		Engine: p.comp.Engine.Name(),
	}

	dets, annotated, err := p.detectAndDraw(ctx, frame)
	if err != nil {
		p.metrics.inferenceErrors.Add(1)
		log.Warn().Err(err).Uint64("seq", seq).Msg("Inference failed, treating frame as empty")
	} else {
		res.Batch.Detections = dets
		if annotated != nil {
			res.Frame = annotated
		}
	}

	res.InferenceTime = time.Since(start)
	p.metrics.inferenceNanos.Store(int64(res.InferenceTime))
	return res
}

func (p *Pipeline) detectAndDraw(ctx context.Context, frame *Frame) (dets []Detection, annotated *Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			dets, annotated, err = nil, nil, fmt.Errorf("panic during inference: %v", r)
		}
	}()

	raw, err := p.comp.Engine.Detect(ctx, frame)
	if err != nil {
		return nil, nil, fmt.Errorf("engine %s: %w", p.comp.Engine.Name(), err)
	}

	dets, err = p.comp.Decoder.Decode(raw, frame.Width(), frame.Height())
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s output: %w", p.comp.Engine.Variant(), err)
	}
	if len(dets) == 0 {
		return dets, nil, nil
	}

	annotated = &Frame{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Format:    frame.Format,
		Image:     overlay.Draw(frame.Image, dets),
	}
	return dets, annotated, nil
}
