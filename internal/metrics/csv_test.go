package metrics

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signwatch/internal/pipeline"
)

func TestCSVLogger_WritesHeaderAndRows(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	l, err := NewCSVLogger(dir, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "metrics_20250304_050607.csv"), l.Path())

	require.NoError(t, l.LogMetrics(pipeline.MetricsSample{
		Timestamp:       now,
		FPS:             29.876,
		InferenceMs:     12.3456,
		DetectionsCount: 2,
		CPUPercent:      41.5,
		RAMMB:           128,
		CameraMs:        3.333,
		EncodeMs:        4.005,
		TotalDetections: 17,
		DroppedFrames:   3,
		QueueSize:       1,
	}))
	assert.Equal(t, uint64(1), l.Rows())

	// Rows are flushed as they are written
	f, err := os.Open(l.Path())
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, []string{
		"2025-03-04T05:06:07Z", "29.88", "12.35", "2", "41.50", "128.00",
		"3.33", "4.00", "17", "3", "1",
	}, records[1])

	require.NoError(t, l.Close())
}

func TestCSVLogger_HeaderOrder(t *testing.T) {
	assert.Equal(t,
		"timestamp,fps,inference_time_ms,detections_count,cpu_usage_percent,ram_usage_mb,camera_frame_time_ms,jpeg_encode_time_ms,total_detections,dropped_frames,queue_size",
		strings.Join(Header, ","))
}

func TestCSVLogger_ClosedRejectsWrites(t *testing.T) {
	l, err := NewCSVLogger(t.TempDir(), time.Now())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.LogMetrics(pipeline.MetricsSample{}), os.ErrClosed)
}
