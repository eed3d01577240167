package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"signwatch/internal/detect"
	"signwatch/internal/logging"
)

var (
	ErrAlreadyRunning  = errors.New("pipeline already running")
	ErrShutdownTimeout = errors.New("pipeline stages did not stop within the grace period")
)

// Config holds pipeline timing and output settings
type Config struct {
	InferencePoll   time.Duration // Sleep when no new frame is available
	EmitPoll        time.Duration // Sleep when no new result is available
	CaptureRetry    time.Duration // Sleep when the camera has no frame ready
	CaptureBackoff  time.Duration // Sleep after a camera error
	ShutdownGrace   time.Duration // How long Stop waits for the stages
	JPEGQuality     int
	MetricsInterval int // Emitted frames between metrics samples; 0 disables
}

// DefaultConfig returns the appliance defaults
func DefaultConfig() Config {
	return Config{
		InferencePoll:   time.Millisecond,
		EmitPoll:        5 * time.Millisecond,
		CaptureRetry:    5 * time.Millisecond,
		CaptureBackoff:  50 * time.Millisecond,
		ShutdownGrace:   500 * time.Millisecond,
		JPEGQuality:     85,
		MetricsInterval: 30,
	}
}

// Components are the collaborators a pipeline drives. Camera, Engine,
// Decoder, Codec and Transport are required.
type Components struct {
	Camera    Camera
	Engine    Engine
	Decoder   *detect.Decoder
	Codec     ImageCodec
	Transport Transport

	MetricsSink   MetricsSink
	Sampler       ResourceSampler
	Rules         []ViolationRule
	ViolationSink ViolationSink
}

// Pipeline owns the two mailboxes and runs the capture, inference and emit
// stages. Each stage is a goroutine that polls its upstream mailbox.
type Pipeline struct {
	cfg  Config
	comp Components
	log  zerolog.Logger

	frames  *Mailbox[*Frame]
	results *Mailbox[*Result]
	metrics Metrics

	lifecycle sync.Mutex
	running   atomic.Bool
	started   bool
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	unwatch   func() bool
}

// New validates the components and creates a stopped pipeline
func New(cfg Config, comp Components, log zerolog.Logger) (*Pipeline, error) {
	switch {
	case comp.Camera == nil:
		return nil, errors.New("pipeline: camera is required")
	case comp.Engine == nil:
		return nil, errors.New("pipeline: engine is required")
	case comp.Decoder == nil:
		return nil, errors.New("pipeline: decoder is required")
	case comp.Codec == nil:
		return nil, errors.New("pipeline: codec is required")
	case comp.Transport == nil:
		return nil, errors.New("pipeline: transport is required")
	}

	def := DefaultConfig()
	if cfg.InferencePoll <= 0 {
		cfg.InferencePoll = def.InferencePoll
	}
	if cfg.EmitPoll <= 0 {
		cfg.EmitPoll = def.EmitPoll
	}
	if cfg.CaptureRetry <= 0 {
		cfg.CaptureRetry = def.CaptureRetry
	}
	if cfg.CaptureBackoff <= 0 {
		cfg.CaptureBackoff = def.CaptureBackoff
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.MetricsInterval < 0 {
		cfg.MetricsInterval = 0
	}

	return &Pipeline{
		cfg:     cfg,
		comp:    comp,
		log:     logging.Component(log, "Pipeline"),
		frames:  NewMailbox[*Frame](),
		results: NewMailbox[*Result](),
	}, nil
}

// Start starts the camera and launches the stage goroutines. A camera that
// fails to start is reported to the caller and nothing is launched.
func (p *Pipeline) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.started {
		return ErrAlreadyRunning
	}

	if err := p.comp.Camera.Start(ctx); err != nil {
		return fmt.Errorf("failed to start camera %s: %w", p.comp.Camera.Name(), err)
	}

	// Engine calls only see cancellation once Stop's grace period is over.
	stageCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.started = true
	p.running.Store(true)

	// Cancelling the parent context stops the stages the same way Stop does.
	p.unwatch = context.AfterFunc(ctx, func() { p.running.Store(false) })

	p.wg.Add(3)
	go p.captureLoop()
	go p.inferenceLoop(stageCtx)
	go p.emitLoop()

	p.log.Info().
		Str("camera", p.comp.Camera.Name()).
		Str("engine", p.comp.Engine.Name()).
		Str("variant", string(p.comp.Engine.Variant())).
		Msg("Pipeline started")
	return nil
}

// Stop clears the running flag, waits up to the grace period for the stages
// to finish their current iteration, then stops the camera. In-flight engine
// calls are not interrupted unless the grace period expires.
func (p *Pipeline) Stop() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.started {
		return nil
	}
	p.started = false
	p.unwatch()
	p.running.Store(false)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
		err = ErrShutdownTimeout
		p.log.Warn().Dur("grace", p.cfg.ShutdownGrace).Msg("Stages still running after grace period")
	}
	p.cancel()

	if cerr := p.comp.Camera.Stop(); cerr != nil {
		p.log.Warn().Err(cerr).Msg("Camera stop failed")
	}

	p.log.Info().
		Uint64("captured", p.metrics.Captured()).
		Uint64("inferred", p.metrics.Inferred()).
		Uint64("emitted", p.metrics.Emitted()).
		Msg("Pipeline stopped")
	return err
}

// Running reports whether the stages are active
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Metrics exposes the live counters
func (p *Pipeline) Metrics() *Metrics {
	return &p.metrics
}

// Stats returns a snapshot of counters, mailbox state and stage timings
func (p *Pipeline) Stats() Stats {
	m := &p.metrics
	return Stats{
		FramesCaptured:  m.captured.Load(),
		FramesInferred:  m.inferred.Load(),
		FramesEmitted:   m.emitted.Load(),
		FramesDropped:   m.dropped.Load(),
		FramesSkipped:   p.frames.Overwritten(),
		ResultsSkipped:  p.results.Overwritten(),
		CaptureErrors:   m.captureErrors.Load(),
		InferenceErrors: m.inferenceErrors.Load(),
		EncodeFailures:  m.encodeFailures.Load(),
		TotalDetections: m.totalDetections.Load(),
		LastFrameSeq:    p.frames.Seq(),
		LastResultSeq:   p.results.Seq(),
		CameraMs:        m.cameraMs(),
		InferenceMs:     m.inferenceMs(),
		EncodeMs:        m.encodeMs(),
		Running:         p.running.Load(),
	}
}

// queueSize counts unread values held in both mailboxes
func (p *Pipeline) queueSize() int {
	return p.frames.Pending() + p.results.Pending()
}

// guard runs one stage iteration, recovering from panics so a single bad
// frame cannot end the stage.
func (p *Pipeline) guard(log *zerolog.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic in stage iteration")
		}
	}()
	fn()
}
