package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"signwatch/internal/logging"
)

// emitState is owned by the emit goroutine
type emitState struct {
	lastSampleAt    time.Time
	lastSampleCount uint64
}

// emitLoop encodes the newest result and hands it to the transport. It
// never signals upstream: a slow emit only means more results are skipped.
func (p *Pipeline) emitLoop() {
	defer p.wg.Done()

	log := logging.Component(p.log, "Emit")
	log.Debug().Int("quality", p.cfg.JPEGQuality).Msg("Emit stage started")

	state := emitState{lastSampleAt: time.Now()}
	var last uint64
	for p.running.Load() {
		seq, res, ok := p.results.TryReadIfNewer(last)
		if !ok {
			p.metrics.dropped.Add(1)
			time.Sleep(p.cfg.EmitPoll)
			continue
		}
		last = seq

		p.guard(&log, func() {
			p.emit(&log, res, &state)
		})
	}

	log.Debug().Msg("Emit stage stopped")
}

func (p *Pipeline) emit(log *zerolog.Logger, res *Result, state *emitState) {
	start := time.Now()
	data, err := p.comp.Codec.EncodeJPEG(res.Frame, p.cfg.JPEGQuality)
	if err != nil {
		p.metrics.encodeFailures.Add(1)
		log.Warn().Err(err).Uint64("seq", res.Seq).Msg("Encode failed, frame dropped")
		return
	}
	p.metrics.encodeNanos.Store(int64(time.Since(start)))

	dets := res.Batch.Detections
	p.comp.Transport.Emit(EventVideoFrame, VideoFrame{
		Seq:        res.Seq,
		Timestamp:  res.Frame.Timestamp,
		Width:      res.Frame.Width(),
		Height:     res.Frame.Height(),
		JPEG:       data,
		Detections: dets,
		Count:      len(dets),
	})

	emitted := p.metrics.emitted.Add(1)
	p.metrics.totalDetections.Add(uint64(len(dets)))

	p.evaluateRules(log, res)

	if n := p.cfg.MetricsInterval; n > 0 && emitted%uint64(n) == 0 {
		p.guard(log, func() {
			p.sampleMetrics(log, res, emitted, state)
		})
	}
}

// evaluateRules runs each rule under its own guard
func (p *Pipeline) evaluateRules(log *zerolog.Logger, res *Result) {
	for _, rule := range p.comp.Rules {
		p.guard(log, func() {
			p.applyRule(log, rule, res)
		})
	}
}

func (p *Pipeline) applyRule(log *zerolog.Logger, rule ViolationRule, res *Result) {
	ev, ok := rule.Evaluate(res.Seq, res.Batch.Detections)
	if !ok {
		return
	}
	log.Info().
		Str("rule", rule.Name()).
		Str("id", ev.ID).
		Float64("confidence", ev.Confidence).
		Uint64("seq", res.Seq).
		Msg("Violation detected")
	if p.comp.ViolationSink == nil {
		return
	}
	if err := p.comp.ViolationSink.LogViolation(ev); err != nil {
		log.Warn().Err(err).Str("rule", rule.Name()).Msg("Failed to record violation")
	}
}

func (p *Pipeline) sampleMetrics(log *zerolog.Logger, res *Result, emitted uint64, state *emitState) {
	now := time.Now()
	elapsed := now.Sub(state.lastSampleAt).Seconds()
	var fps float64
	if elapsed > 0 {
		fps = float64(emitted-state.lastSampleCount) / elapsed
	}
	state.lastSampleAt = now
	state.lastSampleCount = emitted

	var usage ResourceUsage
	if p.comp.Sampler != nil {
		u, err := p.comp.Sampler.Sample()
		if err != nil {
			log.Debug().Err(err).Msg("Resource sampling failed")
		}
		usage = u
	}

	sample := MetricsSample{
		Timestamp:       now,
		FPS:             fps,
		InferenceMs:     float64(res.InferenceTime) / float64(time.Millisecond),
		DetectionsCount: res.Batch.Count(),
		CPUPercent:      usage.CPUPercent,
		RAMMB:           usage.RAMMB,
		CameraMs:        p.metrics.cameraMs(),
		EncodeMs:        p.metrics.encodeMs(),
		TotalDetections: p.metrics.totalDetections.Load(),
		DroppedFrames:   p.metrics.dropped.Load(),
		QueueSize:       p.queueSize(),
	}

	log.Info().
		Float64("fps", sample.FPS).
		Float64("inference_ms", sample.InferenceMs).
		Float64("cpu_pct", sample.CPUPercent).
		Float64("ram_mb", sample.RAMMB).
		Uint64("emitted", emitted).
		Msg("Pipeline metrics")

	if p.comp.MetricsSink == nil {
		return
	}
	if err := p.comp.MetricsSink.LogMetrics(sample); err != nil {
		log.Warn().Err(err).Msg("Failed to record metrics")
	}
}
