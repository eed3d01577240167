package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signwatch/internal/pipeline"
	"signwatch/internal/violations"
)

func openDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "signwatch.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func violation(id string, ts time.Time, frame uint64) violations.Event {
	return violations.Event{
		ID:            id,
		Timestamp:     ts,
		ViolationType: violations.TypeStopSign,
		Confidence:    0.91,
		DriverAction:  violations.DriverActionUnknown,
		Context:       violations.Context{CameraID: "cam-01", FrameID: frame},
		Evidence: violations.Evidence{
			SignDetected: violations.SignDetected{Label: "stop", Conf: 0.91},
			BBoxes:       violations.EvidenceBoxes{Sign: [4]int{1, 2, 3, 4}},
		},
		Severity: violations.SeverityLow,
		Review:   violations.Review{Status: violations.ReviewAuto},
		Model:    violations.ModelInfo{Engine: "mock", Model: "mock"},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Migrate())
}

func TestViolations_NewestFirst(t *testing.T) {
	db := openDB(t)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.LogViolation(violation(id, base.Add(time.Duration(i)*time.Second), uint64(i+1))))
	}

	got, err := db.RecentViolations(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, uint64(3), got[0].Context.FrameID)
	assert.Equal(t, [4]int{1, 2, 3, 4}, got[0].Evidence.BBoxes.Sign)
	assert.True(t, got[0].Timestamp.Equal(base.Add(2*time.Second)))

	n, err := db.CountViolations()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	empty, err := db.RecentViolations(0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestViolations_SameIDReplaces(t *testing.T) {
	db := openDB(t)
	ev := violation("a", time.Now(), 1)
	require.NoError(t, db.LogViolation(ev))

	ev.Review.Status = "confirmed"
	require.NoError(t, db.LogViolation(ev))

	got, err := db.RecentViolations(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "confirmed", got[0].Review.Status)
}

func TestMetrics_RoundTripAndPrune(t *testing.T) {
	db := openDB(t)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.LogMetrics(pipeline.MetricsSample{
			Timestamp:       base.Add(time.Duration(i) * time.Minute),
			FPS:             float64(20 + i),
			InferenceMs:     12.5,
			DetectionsCount: i,
			TotalDetections: uint64(10 * i),
			DroppedFrames:   uint64(i),
			QueueSize:       1,
		}))
	}

	got, err := db.RecentMetrics(10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 22.0, got[0].FPS)
	assert.Equal(t, uint64(20), got[0].TotalDetections)
	assert.Equal(t, uint64(2), got[0].DroppedFrames)
	assert.True(t, got[2].Timestamp.Equal(base))

	deleted, err := db.DeleteOldMetrics(base.Add(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	got, err = db.RecentMetrics(10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRunRetention(t *testing.T) {
	db := openDB(t)
	now := time.Now()
	require.NoError(t, db.LogMetrics(pipeline.MetricsSample{Timestamp: now.Add(-30 * 24 * time.Hour), FPS: 1}))
	require.NoError(t, db.LogMetrics(pipeline.MetricsSample{Timestamp: now, FPS: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		db.RunRetention(ctx, 24*time.Hour, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		got, err := db.RecentMetrics(10)
		return err == nil && len(got) == 1 && got[0].FPS == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retention loop did not stop")
	}
}
