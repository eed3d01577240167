package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"signwatch/internal/auth"
	"signwatch/internal/camera"
	"signwatch/internal/codec"
	"signwatch/internal/config"
	"signwatch/internal/database"
	"signwatch/internal/detect"
	"signwatch/internal/engines"
	"signwatch/internal/logging"
	"signwatch/internal/metrics"
	"signwatch/internal/mqtt"
	"signwatch/internal/pipeline"
	"signwatch/internal/server"
	"signwatch/internal/stream"
	"signwatch/internal/sysstat"
	"signwatch/internal/telegram"
	"signwatch/internal/violations"
	"signwatch/internal/ws"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to a YAML config file")
		addrF   = flag.String("addr", "", "HTTP listen address (overrides server.addr)")
		dbgF    = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signwatch: %v\n", err)
		os.Exit(1)
	}
	if *addrF != "" {
		cfg.Server.Addr = *addrF
	}

	logger, logCloser, err := logging.New(cfg.Logging, *dbgF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signwatch: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Exited with error")
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn().Err(err).Msg("Close failed")
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Frame source and detection engine, falling back to the offline
	// implementations so the stream keeps running without hardware.
	cam, err := camera.New(cfg.Camera, logger)
	if err != nil {
		logger.Warn().Err(err).Str("source", cfg.Camera.Source).Msg("Camera unavailable, using synthetic frames")
		cam = camera.NewSynthetic(cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	}

	engine, err := engines.New(cfg.Detection, logger)
	if err != nil {
		logger.Warn().Err(err).Str("engine", cfg.Detection.Engine).Msg("Engine unavailable, using mock detections")
		engine = engines.NewMock(cfg.Detection.Seed)
	}
	closers = append(closers, engine)

	labels, err := detect.LoadLabels(cfg.Detection.Labels)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Detection.Labels).Msg("No label file, class ids will be used as labels")
	}
	decoder := detect.NewDecoder(detect.Params{
		ConfThreshold: float32(cfg.Detection.Confidence),
		IoUThreshold:  cfg.Detection.IoUThreshold,
		InputWidth:    cfg.Detection.InputWidth,
		InputHeight:   cfg.Detection.InputHeight,
		Labels:        labels,
		ClassAware:    cfg.Detection.ClassAware,
	})

	// Storage
	var db *database.Database
	if cfg.Storage.Database != "" {
		db, err = database.New(cfg.Storage.Database, logger)
		if err != nil {
			return err
		}
		closers = append(closers, db)
		if err := db.Migrate(); err != nil {
			return err
		}
		if n, err := db.CountViolations(); err == nil {
			logger.Info().Str("path", cfg.Storage.Database).Int("violations", n).Msg("Database ready")
		}
	}

	csvLog, err := metrics.NewCSVLogger(cfg.Storage.LogDir, time.Now())
	if err != nil {
		return err
	}
	closers = append(closers, csvLog)
	metricSinks := pipeline.MultiMetricsSink{csvLog}
	if db != nil {
		metricSinks = append(metricSinks, db)
	}

	// Transports
	hub := ws.NewDetectionHub(ws.HubConfig{
		BinaryFrames: cfg.Streaming.BinaryFrames,
		ClientBuffer: cfg.Streaming.ClientBuffer,
	}, logger)
	mjpeg := stream.NewMJPEG(logger)
	transports := pipeline.MultiTransport{hub, mjpeg}

	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Enabled {
		mqttPub, err = mqtt.Connect(ctx, cfg.MQTT, logger)
		if err != nil {
			logger.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTT disabled")
			mqttPub = nil
		} else {
			closers = append(closers, mqttPub)
			transports = append(transports, mqttPub)
		}
	}

	// Violations
	var (
		rules     []pipeline.ViolationRule
		sink      violations.MultiSink
		violStore server.ViolationStore
	)
	if cfg.Violations.Enabled {
		jsonl, err := violations.NewJSONLSink(cfg.Storage.LogDir, "violations", time.Now())
		if err != nil {
			return err
		}
		closers = append(closers, jsonl)
		sink = append(sink, jsonl, hub)
		violStore = jsonl
		if db != nil {
			sink = append(sink, db)
			violStore = db
		}
		if cfg.Telegram.Enabled {
			notifier := telegram.NewNotifier(cfg.Telegram, logger)
			notifier.Start(ctx)
			closers = append(closers, notifier)
			sink = append(sink, notifier)
		}
		if mqttPub != nil {
			sink = append(sink, mqttPub)
		}

		rules = append(rules, violations.NewStopSignRule(violations.StopSignConfig{
			Labels:            cfg.Violations.Labels,
			MinConfidence:     cfg.Violations.MinConfidence,
			DecisionThreshold: cfg.Detection.Confidence,
			CameraID:          cfg.Violations.CameraID,
			Model:             violations.ModelInfo{Engine: engine.Name(), Model: engine.Model()},
		}))
	}

	comp := pipeline.Components{
		Camera:      cam,
		Engine:      engine,
		Decoder:     decoder,
		Codec:       codec.NewJPEG(),
		Transport:   transports,
		MetricsSink: metricSinks,
		Rules:       rules,
	}
	if len(sink) > 0 {
		comp.ViolationSink = sink
	}
	if sampler, err := sysstat.NewSampler(); err != nil {
		logger.Warn().Err(err).Msg("Resource sampling disabled")
	} else {
		comp.Sampler = sampler
	}

	pipe, err := pipeline.New(pipeline.Config{
		InferencePoll:   cfg.Pipeline.InferencePoll,
		EmitPoll:        cfg.Pipeline.EmitPoll,
		CaptureRetry:    cfg.Pipeline.CaptureRetry,
		CaptureBackoff:  cfg.Pipeline.CaptureBackoff,
		ShutdownGrace:   cfg.Pipeline.ShutdownGrace,
		JPEGQuality:     cfg.Streaming.Quality,
		MetricsInterval: cfg.Streaming.MetricsInterval,
	}, comp, logger)
	if err != nil {
		return err
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}

	deps := server.Deps{
		Pipeline:   pipe,
		Engine:     engine.Name(),
		Variant:    string(engine.Variant()),
		Camera:     cam.Name(),
		Clients:    hub,
		Violations: violStore,
		WebSocket:  ws.NewHandler(hub),
		MJPEG:      mjpeg,
		Auth:       authenticator,
	}
	if db != nil {
		deps.Metrics = db
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error, 1)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	if err := pipe.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	if db != nil && cfg.Storage.MetricsRetention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			db.RunRetention(ctx, cfg.Storage.MetricsRetention, time.Hour)
		}()
	}
	handleHTTPServer(ctx, cfg.Server, server.NewRouter(deps, logger), &wg, errc, logger)

	logger.Info().Msgf("exiting (%v)", <-errc)

	// Stop producing frames before the transports go away.
	if err := pipe.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Pipeline stop failed")
	}
	hub.Close()
	mjpeg.Close()
	cancel()

	wg.Wait()
	logger.Info().Msg("exited")
	return nil
}
