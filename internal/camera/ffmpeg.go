package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signwatch/internal/codec"
	"signwatch/internal/config"
	"signwatch/internal/pipeline"
)

// ErrStreamEnded is reported by GetFrame while the source is down
var ErrStreamEnded = errors.New("camera stream ended")

const (
	retryDelay    = time.Second
	maxRetryDelay = 30 * time.Second
	readChunk     = 8192
)

// FFmpeg captures MJPEG frames from a V4L2 device, an RTSP stream or an HTTP
// source by running ffmpeg and splitting its output on JPEG markers. HTTP
// snapshot URLs are polled directly. Only the newest frame is kept; GetFrame
// decodes it.
type FFmpeg struct {
	cfg     config.CameraConfig
	log     zerolog.Logger
	command string
	client  *http.Client

	latest  *pipeline.Mailbox[[]byte]
	lastSeq uint64 // read only from GetFrame
	spare   chan []byte

	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFFmpeg creates an ffmpeg-backed camera
func NewFFmpeg(cfg config.CameraConfig, log zerolog.Logger) *FFmpeg {
	f := &FFmpeg{
		cfg:     cfg,
		log:     log,
		command: "ffmpeg",
		client:  &http.Client{Timeout: 10 * time.Second},
		latest:  pipeline.NewMailbox[[]byte](),
		spare:   make(chan []byte, 2),
	}
	f.latest.OnDrop = f.recycle
	return f
}

func (f *FFmpeg) Name() string { return "ffmpeg" }

// Start launches the capture goroutine. The source is reopened with
// exponential backoff whenever it fails.
func (f *FFmpeg) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return fmt.Errorf("camera %s already started", f.cfg.Device)
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	f.err = nil

	go f.run(ctx, f.done)

	f.log.Info().
		Str("device", f.cfg.Device).
		Int("fps", f.cfg.FPS).
		Msg("Started capture")
	return nil
}

// GetFrame returns the newest frame not yet returned, nil if there is none,
// or the source error while the stream is down
func (f *FFmpeg) GetFrame() (*pipeline.Frame, error) {
	seq, data, ok := f.latest.TryReadIfNewer(f.lastSeq)
	if !ok {
		return nil, f.failure()
	}
	f.lastSeq = seq

	img, err := codec.DecodeJPEG(data)
	if err != nil {
		return nil, err
	}
	return pipeline.NewFrame(img, pipeline.PixelFormatMJPEG), nil
}

func (f *FFmpeg) Stop() error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	f.log.Info().Str("device", f.cfg.Device).Msg("Stopped capture")
	return nil
}

// Dropped counts frames replaced before GetFrame saw them
func (f *FFmpeg) Dropped() uint64 {
	return f.latest.Overwritten()
}

func (f *FFmpeg) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *FFmpeg) setFailure(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *FFmpeg) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for ctx.Err() == nil {
		var err error
		if isHTTPImageEndpoint(f.cfg.Device) {
			err = f.pollHTTP(ctx)
		} else {
			err = f.captureFFmpeg(ctx)
		}
		if ctx.Err() != nil {
			return
		}

		attempt++
		delay := backoff(attempt)
		f.setFailure(fmt.Errorf("%w: %v", ErrStreamEnded, err))
		f.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Capture failed, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// backoff doubles the delay per attempt up to maxRetryDelay
func backoff(attempt int) time.Duration {
	delay := retryDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func isHTTPImageEndpoint(device string) bool {
	return (strings.HasPrefix(device, "http://") || strings.HasPrefix(device, "https://")) &&
		(strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg") || strings.Contains(device, "image"))
}

// pollHTTP fetches snapshots at the configured rate, capped at 10 per second
func (f *FFmpeg) pollHTTP(ctx context.Context) error {
	interval := time.Second / time.Duration(max(f.cfg.FPS, 1))
	interval = max(interval, 100*time.Millisecond)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			frame, err := f.fetch(ctx)
			if err != nil {
				return err
			}
			f.publish(frame)
		}
	}
}

func (f *FFmpeg) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.Device, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch frame: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (f *FFmpeg) captureFFmpeg(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, f.command, ffmpegArgs(f.cfg)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			f.log.Trace().Str("ffmpeg", scanner.Text()).Msg("ffmpeg output")
		}
	}()

	readErr := f.readStream(stdout)
	waitErr := cmd.Wait()
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return readErr
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	return io.EOF
}

// readStream splits an MJPEG byte stream into frames until r fails
func (f *FFmpeg) readStream(r io.Reader) error {
	buffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, readChunk)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&buffer, f.frameBuffer)
				if frame == nil {
					break
				}
				f.publish(frame)
			}
		}
		if err != nil {
			return err
		}
	}
}

// recycle keeps a frame that was replaced before GetFrame saw it, so its
// buffer can hold a later frame
func (f *FFmpeg) recycle(frame []byte) {
	select {
	case f.spare <- frame:
	default:
	}
}

// frameBuffer returns a buffer of length n, reusing a recycled one if it is
// large enough
func (f *FFmpeg) frameBuffer(n int) []byte {
	select {
	case b := <-f.spare:
		if cap(b) >= n {
			return b[:n]
		}
	default:
	}
	return make([]byte, n)
}

func (f *FFmpeg) publish(frame []byte) {
	seq := f.latest.Publish(frame)
	if seq == 1 || f.failure() != nil {
		f.setFailure(nil)
		f.log.Info().Str("device", f.cfg.Device).Msg("Receiving frames")
	}
}

// ffmpegArgs builds the command line for the configured source
func ffmpegArgs(cfg config.CameraConfig) []string {
	fps := strconv.Itoa(cfg.FPS)
	output := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"}

	switch {
	case strings.HasPrefix(cfg.Device, "rtsp://"):
		return append([]string{"-rtsp_transport", "tcp", "-i", cfg.Device, "-r", fps}, output...)
	case isNetworkSource(cfg.Device):
		return append([]string{"-i", cfg.Device, "-r", fps}, output...)
	default:
		// V4L2 device (USB camera)
		return append([]string{
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
			"-framerate", fps,
			"-i", cfg.Device,
		}, output...)
	}
}

// extractJPEGFrame removes and returns the first complete JPEG in buffer,
// copied into memory from alloc (make when nil). Bytes before the start
// marker are discarded with the frame.
func extractJPEGFrame(buffer *[]byte, alloc func(n int) []byte) []byte {
	buf := *buffer
	if len(buf) < 4 {
		return nil
	}

	start := -1
	for i := 0; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD8 {
			start = i
			break
		}
	}
	if start == -1 {
		*buffer = buf[len(buf)-1:]
		return nil
	}

	end := -1
	for i := start + 2; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD9 {
			end = i + 2
			break
		}
	}
	if end == -1 {
		return nil
	}

	var frame []byte
	if alloc != nil {
		frame = alloc(end - start)
	} else {
		frame = make([]byte, end-start)
	}
	copy(frame, buf[start:end])
	*buffer = buf[end:]
	return frame
}

var _ pipeline.Camera = (*FFmpeg)(nil)
