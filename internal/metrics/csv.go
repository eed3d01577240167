package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"signwatch/internal/pipeline"
)

// Header is the first row of every metrics file
var Header = []string{
	"timestamp",
	"fps",
	"inference_time_ms",
	"detections_count",
	"cpu_usage_percent",
	"ram_usage_mb",
	"camera_frame_time_ms",
	"jpeg_encode_time_ms",
	"total_detections",
	"dropped_frames",
	"queue_size",
}

// CSVLogger appends samples to metrics_<timestamp>.csv and flushes each row
type CSVLogger struct {
	mu   sync.Mutex
	path string
	file *os.File
	csv  *csv.Writer
	rows uint64
}

// NewCSVLogger creates dir if needed and starts a new file named after now
func NewCSVLogger(dir string, now time.Time) (*CSVLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create metrics dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("metrics_%s.csv", now.Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("csv write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("csv write header: %w", err)
	}

	return &CSVLogger{path: path, file: f, csv: w}, nil
}

// Path returns the file being written
func (l *CSVLogger) Path() string { return l.path }

// Rows returns the number of samples written
func (l *CSVLogger) Rows() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}

// LogMetrics writes one row
func (l *CSVLogger) LogMetrics(s pipeline.MetricsSample) error {
	row := []string{
		s.Timestamp.Format(time.RFC3339),
		formatFloat(s.FPS),
		formatFloat(s.InferenceMs),
		strconv.Itoa(s.DetectionsCount),
		formatFloat(s.CPUPercent),
		formatFloat(s.RAMMB),
		formatFloat(s.CameraMs),
		formatFloat(s.EncodeMs),
		strconv.FormatUint(s.TotalDetections, 10),
		strconv.FormatUint(s.DroppedFrames, 10),
		strconv.Itoa(s.QueueSize),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if err := l.csv.Write(row); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	l.csv.Flush()
	if err := l.csv.Error(); err != nil {
		return fmt.Errorf("csv flush: %w", err)
	}
	l.rows++
	return nil
}

// Close flushes and closes the file
func (l *CSVLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	l.csv.Flush()
	err := l.file.Close()
	l.file = nil
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

var _ pipeline.MetricsSink = (*CSVLogger)(nil)
