// Package logging fans standard-library log output out to the console and a
// daily-rotated file named DD-Mon-YYYY.log.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	timestampLayout   = "2006/01/02 15:04:05"
	fileDateLayout    = "02-Jan-2006"
	maxLineBufferSize = 16 * 1024
	defaultRetention  = 7
)

// Config controls file logging. Console output is always on.
type Config struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// DefaultConfig writes to data/logs and keeps a week of files.
func DefaultConfig() Config {
	return Config{Enabled: true, Dir: "data/logs", RetentionDays: defaultRetention}
}

type lineSink interface {
	WriteLine(line string, now time.Time)
	Close() error
}

type writerSink struct {
	w             io.Writer
	withTimestamp bool
}

func (s *writerSink) WriteLine(line string, now time.Time) {
	if s == nil || s.w == nil {
		return
	}
	if s.withTimestamp {
		line = formatTimestamp(now) + " " + line
	}
	_, _ = io.WriteString(s.w, line+"\n")
}

func (s *writerSink) Close() error { return nil }

// dailyFileSink appends to one file per UTC day and prunes files older than
// the retention window whenever it rotates.
type dailyFileSink struct {
	dir           string
	retentionDays int

	mu          sync.Mutex
	currentDate string
	currentPath string
	file        *os.File
	lastErrorAt time.Time
}

func newDailyFileSink(dir string, retentionDays int) (*dailyFileSink, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, fmt.Errorf("logging: directory is empty")
	}
	if retentionDays <= 0 {
		retentionDays = defaultRetention
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create directory %q: %w", trimmed, err)
	}
	if err := cleanupOldLogs(trimmed, time.Now().UTC(), retentionDays); err != nil {
		fmt.Fprintf(os.Stderr, "logging: cleanup failed for %s: %v\n", trimmed, err)
	}
	return &dailyFileSink{dir: trimmed, retentionDays: retentionDays}, nil
}

func (s *dailyFileSink) WriteLine(line string, now time.Time) {
	if s == nil {
		return
	}
	now = now.UTC()
	date := now.Format(fileDateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil || s.currentDate != date {
		s.rotateLocked(date, now)
	}
	if s.file == nil {
		return
	}
	if _, err := s.file.WriteString(formatTimestamp(now) + " " + line + "\n"); err != nil {
		s.reportErrorLocked(now, fmt.Errorf("write failed: %w", err))
	}
}

// Path returns the file currently written to, or "" before the first line.
func (s *dailyFileSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPath
}

func (s *dailyFileSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.currentDate = ""
	s.currentPath = ""
	return err
}

func (s *dailyFileSink) rotateLocked(date string, now time.Time) {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.reportErrorLocked(now, fmt.Errorf("create directory %q: %w", s.dir, err))
		return
	}
	path := filepath.Join(s.dir, fileNameForDate(now))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.reportErrorLocked(now, fmt.Errorf("open %s: %w", path, err))
		return
	}
	s.file = file
	s.currentDate = date
	s.currentPath = path
	if err := cleanupOldLogs(s.dir, now, s.retentionDays); err != nil {
		s.reportErrorLocked(now, fmt.Errorf("cleanup failed: %w", err))
	}
}

// file errors go to stderr at most once a minute
func (s *dailyFileSink) reportErrorLocked(now time.Time, err error) {
	if !s.lastErrorAt.IsZero() && now.Sub(s.lastErrorAt) < time.Minute {
		return
	}
	s.lastErrorAt = now
	fmt.Fprintf(os.Stderr, "logging: %v\n", err)
}

// Fanout is an io.Writer that splits log output into lines and hands each
// line to the console and file sinks.
type Fanout struct {
	mu      sync.Mutex
	buf     []byte
	console lineSink
	file    lineSink
	now     func() time.Time
}

func newFanout(console, file lineSink) *Fanout {
	return &Fanout{console: console, file: file, now: time.Now}
}

// Setup builds a fanout for cfg and installs it as the standard logger's
// output. Console lines carry their own timestamp, so the standard logger's
// flags are cleared. When the file sink cannot be created the fanout still
// writes to the console and the error is returned.
func Setup(cfg Config, console io.Writer) (*Fanout, error) {
	var consoleSink lineSink
	if console != nil {
		consoleSink = &writerSink{w: console, withTimestamp: true}
	}
	f := newFanout(consoleSink, nil)
	log.SetFlags(0)
	log.SetOutput(f)
	if !cfg.Enabled {
		return f, nil
	}
	sink, err := newDailyFileSink(cfg.Dir, cfg.RetentionDays)
	if err != nil {
		return f, err
	}
	f.mu.Lock()
	f.file = sink
	f.mu.Unlock()
	return f, nil
}

// SetConsole swaps the console writer; nil silences the console.
func (f *Fanout) SetConsole(w io.Writer, withTimestamp bool) {
	if f == nil {
		return
	}
	var sink lineSink
	if w != nil {
		sink = &writerSink{w: w, withTimestamp: withTimestamp}
	}
	f.mu.Lock()
	f.console = sink
	f.mu.Unlock()
}

// Write implements io.Writer.
func (f *Fanout) Write(p []byte) (int, error) {
	if f == nil {
		return len(p), nil
	}
	f.mu.Lock()
	f.buf = append(f.buf, p...)
	data := f.buf
	var lines []string
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx == -1 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(data[:idx], "\r")))
		data = data[idx+1:]
	}
	if len(data) > maxLineBufferSize {
		if trimmed := string(bytes.TrimRight(data, "\r")); trimmed != "" {
			lines = append(lines, trimmed)
		}
		data = data[:0]
	}
	f.buf = data
	console, file := f.console, f.file
	f.mu.Unlock()

	if len(lines) == 0 {
		return len(p), nil
	}
	now := f.now().UTC()
	for _, line := range lines {
		if console != nil {
			console.WriteLine(line, now)
		}
		if file != nil {
			file.WriteLine(line, now)
		}
	}
	return len(p), nil
}

// WriteFileOnly writes one line to the file sink only.
func (f *Fanout) WriteFileOnly(line string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if file != nil {
		file.WriteLine(line, f.now())
	}
}

// Close closes the file sink.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	file := f.file
	f.file = nil
	f.mu.Unlock()
	if file != nil {
		return file.Close()
	}
	return nil
}

func formatTimestamp(now time.Time) string {
	return now.UTC().Format(timestampLayout)
}

func fileNameForDate(now time.Time) string {
	return now.UTC().Format(fileDateLayout) + ".log"
}

func parseFileDate(name string) (time.Time, bool) {
	if filepath.Ext(name) != ".log" {
		return time.Time{}, false
	}
	parsed, err := time.ParseInLocation(fileDateLayout, strings.TrimSuffix(name, ".log"), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func cleanupOldLogs(dir string, now time.Time, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	y, m, d := now.UTC().Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(retentionDays - 1))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		date, ok := parseFileDate(entry.Name())
		if !ok {
			continue
		}
		if date.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
