package config

import (
	"errors"
	"fmt"
	"slices"
)

var (
	engines = []string{"mock", "ultralytics", "ncnn", "hailo"}
	cameras = []string{"mock", "synthetic", "ffmpeg", "gocv"}
	levels  = []string{"debug", "info", "warn", "error"}
)

// Validate checks ranges and names. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}

	if !slices.Contains(cameras, c.Camera.Source) {
		add("camera.source %q is not one of %v", c.Camera.Source, cameras)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		add("camera size %dx%d must be positive", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		add("camera.fps must be positive, got %d", c.Camera.FPS)
	}

	if !slices.Contains(engines, c.Detection.Engine) {
		add("detection.engine %q is not one of %v", c.Detection.Engine, engines)
	}
	if c.Detection.Confidence < 0 || c.Detection.Confidence > 1 {
		add("detection.confidence must be within [0,1], got %g", c.Detection.Confidence)
	}
	if c.Detection.IoUThreshold < 0 || c.Detection.IoUThreshold > 1 {
		add("detection.iou_threshold must be within [0,1], got %g", c.Detection.IoUThreshold)
	}
	if c.Detection.InputWidth <= 0 || c.Detection.InputHeight <= 0 {
		add("detection input size %dx%d must be positive", c.Detection.InputWidth, c.Detection.InputHeight)
	}

	if c.Streaming.Quality < 1 || c.Streaming.Quality > 100 {
		add("streaming.quality must be within 1..100, got %d", c.Streaming.Quality)
	}
	if c.Streaming.MetricsInterval < 0 {
		add("streaming.metrics_interval must not be negative")
	}

	if c.Violations.MinConfidence < 0 || c.Violations.MinConfidence > 1 {
		add("violations.min_confidence must be within [0,1], got %g", c.Violations.MinConfidence)
	}

	if c.Storage.MetricsRetention < 0 {
		add("storage.metrics_retention must not be negative")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		add("mqtt.broker is required when mqtt is enabled")
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		add("telegram.bot_token and telegram.chat_id are required when telegram is enabled")
	}
	if c.Telegram.Cooldown < 0 {
		add("telegram.cooldown must not be negative")
	}

	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			add("auth.jwt_secret is required when auth is enabled")
		}
		if c.Auth.Password == "" {
			add("auth.password is required when auth is enabled")
		}
	}

	if !slices.Contains(levels, c.Logging.Level) {
		add("logging.level %q is not one of %v", c.Logging.Level, levels)
	}

	return errors.Join(errs...)
}
