package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"signwatch/internal/logging"
)

// captureLoop pulls frames from the camera and publishes them into the
// frame mailbox until the running flag is cleared.
func (p *Pipeline) captureLoop() {
	defer p.wg.Done()

	log := logging.Component(p.log, "Capture")
	log.Debug().Str("camera", p.comp.Camera.Name()).Msg("Capture stage started")

	failing := false
	for p.running.Load() {
		sleep := p.cfg.CaptureBackoff
		p.guard(&log, func() {
			sleep = p.captureOnce(&log, &failing)
		})
		if sleep > 0 {
			time.Sleep(sleep)
		}
	}

	log.Debug().Msg("Capture stage stopped")
}

// captureOnce reads one frame and returns how long to sleep before the next read
func (p *Pipeline) captureOnce(log *zerolog.Logger, failing *bool) time.Duration {
	start := time.Now()
	frame, err := p.comp.Camera.GetFrame()
	if err != nil {
		p.metrics.captureErrors.Add(1)
		if !*failing {
			log.Warn().Err(err).Msg("Camera read failed, retrying")
			*failing = true
		}
		return p.cfg.CaptureBackoff
	}
	if *failing {
		log.Info().Msg("Camera recovered")
		*failing = false
	}
	if frame == nil || frame.Image == nil {
		return p.cfg.CaptureRetry
	}
	p.metrics.cameraNanos.Store(int64(time.Since(start)))

	seq := p.frames.PublishWith(func(seq uint64) *Frame {
		frame.Seq = seq
		return frame
	})
	p.metrics.captured.Add(1)

	if seq%300 == 0 {
		log.Debug().Uint64("seq", seq).Uint64("skipped", p.frames.Overwritten()).Msg("Capture progress")
	}
	return 0
}
