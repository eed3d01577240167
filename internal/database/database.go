package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"signwatch/internal/logging"
	"signwatch/internal/pipeline"
	"signwatch/internal/violations"
)

// Database handles SQLite database operations
type Database struct {
	db  *sql.DB
	log zerolog.Logger
}

// New opens (or creates) the database file
func New(dbPath string, log zerolog.Logger) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Inference and HTTP handlers write and read concurrently
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db, log: logging.Component(log, "Database")}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS violations (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			camera_id TEXT NOT NULL,
			frame_id INTEGER NOT NULL,
			violation_type TEXT NOT NULL,
			label TEXT,
			confidence REAL,
			severity TEXT,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metrics_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			fps REAL,
			inference_time_ms REAL,
			detections_count INTEGER,
			cpu_usage_percent REAL,
			ram_usage_mb REAL,
			camera_frame_time_ms REAL,
			jpeg_encode_time_ms REAL,
			total_detections INTEGER,
			dropped_frames INTEGER,
			queue_size INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_time ON violations(ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_camera_time ON violations(camera_id, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_time ON metrics_samples(ts DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	d.log.Info().Int("migrations", len(migrations)).Msg("Database migrations completed")
	return nil
}

// LogViolation stores an event; a repeated id replaces the earlier row
func (d *Database) LogViolation(ev violations.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal violation: %w", err)
	}

	query := `INSERT INTO violations
		(id, ts, camera_id, frame_id, violation_type, label, confidence, severity, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			severity = excluded.severity`

	_, err = d.db.Exec(query, ev.ID, ev.Timestamp.UnixMilli(), ev.Context.CameraID,
		int64(ev.Context.FrameID), ev.ViolationType, ev.Evidence.SignDetected.Label,
		ev.Confidence, ev.Severity, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save violation: %w", err)
	}
	return nil
}

// RecentViolations returns up to limit events, newest first
func (d *Database) RecentViolations(limit int) ([]violations.Event, error) {
	if limit <= 0 {
		return []violations.Event{}, nil
	}

	rows, err := d.db.Query(`SELECT payload FROM violations ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	events := make([]violations.Event, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		var ev violations.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal violation: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountViolations returns the number of stored events
func (d *Database) CountViolations() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM violations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count violations: %w", err)
	}
	return n, nil
}

// LogMetrics stores one sample
func (d *Database) LogMetrics(s pipeline.MetricsSample) error {
	query := `INSERT INTO metrics_samples
		(ts, fps, inference_time_ms, detections_count, cpu_usage_percent, ram_usage_mb,
		 camera_frame_time_ms, jpeg_encode_time_ms, total_detections, dropped_frames, queue_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.Exec(query, s.Timestamp.UnixMilli(), s.FPS, s.InferenceMs, s.DetectionsCount,
		s.CPUPercent, s.RAMMB, s.CameraMs, s.EncodeMs, int64(s.TotalDetections),
		int64(s.DroppedFrames), s.QueueSize)
	if err != nil {
		return fmt.Errorf("failed to save metrics sample: %w", err)
	}
	return nil
}

// RecentMetrics returns up to limit samples, newest first
func (d *Database) RecentMetrics(limit int) ([]pipeline.MetricsSample, error) {
	if limit <= 0 {
		return []pipeline.MetricsSample{}, nil
	}

	query := `SELECT ts, fps, inference_time_ms, detections_count, cpu_usage_percent, ram_usage_mb,
		camera_frame_time_ms, jpeg_encode_time_ms, total_detections, dropped_frames, queue_size
		FROM metrics_samples ORDER BY ts DESC, id DESC LIMIT ?`

	rows, err := d.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics samples: %w", err)
	}
	defer rows.Close()

	samples := make([]pipeline.MetricsSample, 0, limit)
	for rows.Next() {
		var s pipeline.MetricsSample
		var ts, total, dropped int64
		if err := rows.Scan(&ts, &s.FPS, &s.InferenceMs, &s.DetectionsCount, &s.CPUPercent,
			&s.RAMMB, &s.CameraMs, &s.EncodeMs, &total, &dropped, &s.QueueSize); err != nil {
			return nil, fmt.Errorf("failed to scan metrics sample: %w", err)
		}
		s.Timestamp = time.UnixMilli(ts)
		s.TotalDetections = uint64(total)
		s.DroppedFrames = uint64(dropped)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// DeleteOldMetrics deletes samples older than before
func (d *Database) DeleteOldMetrics(before time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM metrics_samples WHERE ts < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old metrics samples: %w", err)
	}
	return result.RowsAffected()
}

// RunRetention deletes metric samples older than retention once at start and
// then every interval, until ctx is cancelled.
func (d *Database) RunRetention(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		deleted, err := d.DeleteOldMetrics(time.Now().Add(-retention))
		if err != nil {
			d.log.Warn().Err(err).Msg("Metrics retention failed")
		} else if deleted > 0 {
			d.log.Debug().Int64("deleted", deleted).Dur("retention", retention).Msg("Pruned metric samples")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var (
	_ pipeline.MetricsSink   = (*Database)(nil)
	_ pipeline.ViolationSink = (*Database)(nil)
)
