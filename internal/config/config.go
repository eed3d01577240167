package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete appliance configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Camera     CameraConfig     `yaml:"camera"`
	Detection  DetectionConfig  `yaml:"detection"`
	Streaming  StreamingConfig  `yaml:"streaming"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Storage    StorageConfig    `yaml:"storage"`
	Violations ViolationsConfig `yaml:"violations"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CameraConfig selects and sizes the frame source
type CameraConfig struct {
	Source string `yaml:"source"` // mock, synthetic, ffmpeg, gocv
	Device string `yaml:"device"` // /dev/video0, rtsp://..., http://..., or a device index for gocv
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

// DetectionConfig selects the engine and the decoder thresholds
type DetectionConfig struct {
	Engine       string        `yaml:"engine"` // mock, ultralytics, ncnn, hailo
	Model        string        `yaml:"model"`
	Labels       string        `yaml:"labels"`
	Endpoint     string        `yaml:"endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	Confidence   float64       `yaml:"confidence"`
	IoUThreshold float64       `yaml:"iou_threshold"`
	InputWidth   int           `yaml:"input_width"`
	InputHeight  int           `yaml:"input_height"`
	ClassAware   bool          `yaml:"class_aware"`
	Seed         int64         `yaml:"seed"` // mock engine only; 0 picks a time-based seed
}

// StreamingConfig controls what is sent to viewers
type StreamingConfig struct {
	Quality         int  `yaml:"quality"`
	MetricsInterval int  `yaml:"metrics_interval"`
	BinaryFrames    bool `yaml:"binary_frames"`
	ClientBuffer    int  `yaml:"client_buffer"`
}

// PipelineConfig holds stage timings
type PipelineConfig struct {
	InferencePoll  time.Duration `yaml:"inference_poll"`
	EmitPoll       time.Duration `yaml:"emit_poll"`
	CaptureRetry   time.Duration `yaml:"capture_retry"`
	CaptureBackoff time.Duration `yaml:"capture_backoff"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

// StorageConfig locates log files and the optional database
type StorageConfig struct {
	LogDir           string        `yaml:"log_dir"`
	Database         string        `yaml:"database"`          // empty disables SQLite
	MetricsRetention time.Duration `yaml:"metrics_retention"` // 0 keeps metric samples forever
}

// ViolationsConfig configures the stop sign rule
type ViolationsConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Labels        []string `yaml:"labels"`
	MinConfidence float64  `yaml:"min_confidence"`
	CameraID      string   `yaml:"camera_id"`
}

// MQTTConfig contains broker settings for the detection feed
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// TelegramConfig enables violation alerts to a Telegram chat
type TelegramConfig struct {
	Enabled  bool          `yaml:"enabled"`
	BotToken string        `yaml:"bot_token"`
	ChatID   string        `yaml:"chat_id"`
	Cooldown time.Duration `yaml:"cooldown"` // minimum time between alerts per camera
}

// AuthConfig contains JWT settings for the HTTP surface
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// LoggingConfig controls the root logger
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the appliance defaults
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":5000",
			ShutdownTimeout: 5 * time.Second,
		},
		Camera: CameraConfig{
			Source: "mock",
			Device: "/dev/video0",
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Detection: DetectionConfig{
			Engine:       "mock",
			Model:        "models/yolov8n.onnx",
			Labels:       "models/labels.txt",
			Timeout:      5 * time.Second,
			Confidence:   0.5,
			IoUThreshold: 0.45,
			InputWidth:   640,
			InputHeight:  640,
		},
		Streaming: StreamingConfig{
			Quality:         85,
			MetricsInterval: 30,
			ClientBuffer:    4,
		},
		Pipeline: PipelineConfig{
			InferencePoll:  time.Millisecond,
			EmitPoll:       5 * time.Millisecond,
			CaptureRetry:   5 * time.Millisecond,
			CaptureBackoff: 50 * time.Millisecond,
			ShutdownGrace:  500 * time.Millisecond,
		},
		Storage: StorageConfig{
			LogDir:           "logs",
			MetricsRetention: 7 * 24 * time.Hour,
		},
		Violations: ViolationsConfig{
			Enabled:       true,
			Labels:        []string{"stop", "stop_sign"},
			MinConfidence: 0.85,
			CameraID:      "cam-01",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "signwatch",
			TopicPrefix: "signwatch",
		},
		Telegram: TelegramConfig{
			Cooldown: 30 * time.Second,
		},
		Auth: AuthConfig{
			Username: "admin",
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, a
// .env file in the working directory and SIGNWATCH_* environment variables,
// in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// A missing .env file is not an error
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// EndpointOrDefault returns the engine endpoint, falling back to the
// conventional sidecar address for the selected engine
func (d DetectionConfig) EndpointOrDefault() string {
	if d.Endpoint != "" {
		return d.Endpoint
	}
	switch d.Engine {
	case "hailo":
		return "localhost:50051"
	default:
		return "http://localhost:8000"
	}
}
