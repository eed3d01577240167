package violations

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// JSONLSink appends events to violations_<timestamp>.jsonl, one object per line
type JSONLSink struct {
	dir    string
	prefix string
	path   string
	file   *os.File
	mu     sync.Mutex
}

// NewJSONLSink creates the log directory and opens a new file named after now
func NewJSONLSink(dir, prefix string, now time.Time) (*JSONLSink, error) {
	if prefix == "" {
		prefix = "violations"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create violations dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.jsonl", prefix, now.Format("20060102_150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open violations log: %w", err)
	}

	return &JSONLSink{dir: dir, prefix: prefix, path: path, file: f}, nil
}

// Path returns the file currently being written
func (s *JSONLSink) Path() string {
	return s.path
}

// LogViolation appends one event and flushes it to disk
func (s *JSONLSink) LogViolation(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal violation: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return os.ErrClosed
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("failed to write violation: %w", err)
	}
	return nil
}

// RecentViolations returns up to limit events, newest first, reading every
// violations file in the directory from the most recently modified one.
// Lines that fail to parse are skipped.
func (s *JSONLSink) RecentViolations(limit int) ([]Event, error) {
	if limit <= 0 {
		return []Event{}, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations dir: %w", err)
	}

	type logFile struct {
		path    string
		modTime time.Time
	}
	var files []logFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, s.prefix) || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{path: filepath.Join(s.dir, name), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path > files[j].path
		}
		return files[i].modTime.After(files[j].modTime)
	})

	events := make([]Event, 0, limit)
	for _, f := range files {
		lines, err := readLines(f.path)
		if err != nil {
			continue
		}
		for i := len(lines) - 1; i >= 0; i-- {
			var ev Event
			if err := json.Unmarshal([]byte(lines[i]), &ev); err != nil {
				continue
			}
			events = append(events, ev)
			if len(events) >= limit {
				return events, nil
			}
		}
	}
	return events, nil
}

// Close closes the underlying file
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
