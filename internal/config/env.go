package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "SIGNWATCH_"

type envBinding struct {
	key string
	set func(cfg *Config, value string) error
}

// envBindings are the knobs commonly changed per deployment
var envBindings = []envBinding{
	{"ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"CAMERA_SOURCE", str(func(c *Config) *string { return &c.Camera.Source })},
	{"CAMERA_DEVICE", str(func(c *Config) *string { return &c.Camera.Device })},
	{"CAMERA_WIDTH", integer(func(c *Config) *int { return &c.Camera.Width })},
	{"CAMERA_HEIGHT", integer(func(c *Config) *int { return &c.Camera.Height })},
	{"CAMERA_FPS", integer(func(c *Config) *int { return &c.Camera.FPS })},
	{"ENGINE", str(func(c *Config) *string { return &c.Detection.Engine })},
	{"MODEL", str(func(c *Config) *string { return &c.Detection.Model })},
	{"LABELS", str(func(c *Config) *string { return &c.Detection.Labels })},
	{"ENGINE_ENDPOINT", str(func(c *Config) *string { return &c.Detection.Endpoint })},
	{"CONFIDENCE", float(func(c *Config) *float64 { return &c.Detection.Confidence })},
	{"IOU_THRESHOLD", float(func(c *Config) *float64 { return &c.Detection.IoUThreshold })},
	{"JPEG_QUALITY", integer(func(c *Config) *int { return &c.Streaming.Quality })},
	{"BINARY_FRAMES", boolean(func(c *Config) *bool { return &c.Streaming.BinaryFrames })},
	{"LOG_DIR", str(func(c *Config) *string { return &c.Storage.LogDir })},
	{"DATABASE", str(func(c *Config) *string { return &c.Storage.Database })},
	{"METRICS_RETENTION", duration(func(c *Config) *time.Duration { return &c.Storage.MetricsRetention })},
	{"CAMERA_ID", str(func(c *Config) *string { return &c.Violations.CameraID })},
	{"MQTT_ENABLED", boolean(func(c *Config) *bool { return &c.MQTT.Enabled })},
	{"MQTT_BROKER", str(func(c *Config) *string { return &c.MQTT.Broker })},
	{"MQTT_USERNAME", str(func(c *Config) *string { return &c.MQTT.Username })},
	{"MQTT_PASSWORD", str(func(c *Config) *string { return &c.MQTT.Password })},
	{"TELEGRAM_ENABLED", boolean(func(c *Config) *bool { return &c.Telegram.Enabled })},
	{"TELEGRAM_BOT_TOKEN", str(func(c *Config) *string { return &c.Telegram.BotToken })},
	{"TELEGRAM_CHAT_ID", str(func(c *Config) *string { return &c.Telegram.ChatID })},
	{"AUTH_ENABLED", boolean(func(c *Config) *bool { return &c.Auth.Enabled })},
	{"AUTH_USERNAME", str(func(c *Config) *string { return &c.Auth.Username })},
	{"AUTH_PASSWORD", str(func(c *Config) *string { return &c.Auth.Password })},
	{"JWT_SECRET", str(func(c *Config) *string { return &c.Auth.JWTSecret })},
	{"TOKEN_TTL", duration(func(c *Config) *time.Duration { return &c.Auth.TokenTTL })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FILE", str(func(c *Config) *string { return &c.Logging.File })},
}

func applyEnv(cfg *Config) error {
	for _, b := range envBindings {
		value, ok := os.LookupEnv(envPrefix + b.key)
		if !ok {
			continue
		}
		if err := b.set(cfg, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, b.key, err)
		}
	}
	return nil
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func float(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func duration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}
