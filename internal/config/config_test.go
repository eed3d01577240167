package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, 0.5, cfg.Detection.Confidence)
	assert.Equal(t, 0.45, cfg.Detection.IoUThreshold)
	assert.Equal(t, 85, cfg.Streaming.Quality)
	assert.Equal(t, 30, cfg.Streaming.MetricsInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.ShutdownGrace)
	assert.Equal(t, []string{"stop", "stop_sign"}, cfg.Violations.Labels)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Detection.Engine)
	assert.Equal(t, 640, cfg.Camera.Width)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
camera:
  source: ffmpeg
  device: rtsp://10.0.0.5/stream
  fps: 15
detection:
  engine: hailo
  confidence: 0.6
pipeline:
  emit_poll: 10ms
violations:
  labels: [stop]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ffmpeg", cfg.Camera.Source)
	assert.Equal(t, "rtsp://10.0.0.5/stream", cfg.Camera.Device)
	assert.Equal(t, 15, cfg.Camera.FPS)
	assert.Equal(t, 480, cfg.Camera.Height, "untouched keys keep defaults")
	assert.Equal(t, "hailo", cfg.Detection.Engine)
	assert.Equal(t, 0.6, cfg.Detection.Confidence)
	assert.Equal(t, 10*time.Millisecond, cfg.Pipeline.EmitPoll)
	assert.Equal(t, []string{"stop"}, cfg.Violations.Labels)
	assert.Equal(t, "localhost:50051", cfg.Detection.EndpointOrDefault())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "detection:\n  engine: ultralytics\n")
	t.Setenv("SIGNWATCH_ENGINE", "mock")
	t.Setenv("SIGNWATCH_JPEG_QUALITY", "70")
	t.Setenv("SIGNWATCH_BINARY_FRAMES", "true")
	t.Setenv("SIGNWATCH_TOKEN_TTL", "2h")
	t.Setenv("SIGNWATCH_METRICS_RETENTION", "72h")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Detection.Engine)
	assert.Equal(t, 70, cfg.Streaming.Quality)
	assert.True(t, cfg.Streaming.BinaryFrames)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 72*time.Hour, cfg.Storage.MetricsRetention)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("SIGNWATCH_CAMERA_FPS", "fast")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIGNWATCH_CAMERA_FPS")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Detection.Engine = "tpu"
	cfg.Detection.Confidence = 1.5
	cfg.Streaming.Quality = 0
	cfg.Camera.Width = 0
	cfg.Auth.Enabled = true
	cfg.Telegram.Enabled = true
	cfg.Storage.MetricsRetention = -time.Hour

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"detection.engine",
		"detection.confidence",
		"streaming.quality",
		"camera size",
		"auth.jwt_secret",
		"auth.password",
		"telegram.bot_token",
		"storage.metrics_retention",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestEndpointOrDefault(t *testing.T) {
	d := DetectionConfig{Engine: "ultralytics"}
	assert.Equal(t, "http://localhost:8000", d.EndpointOrDefault())

	d.Endpoint = "http://gpu:9000"
	assert.Equal(t, "http://gpu:9000", d.EndpointOrDefault())
}
