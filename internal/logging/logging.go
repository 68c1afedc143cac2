// Package logging builds the process logger: structured key/value lines to a
// size-rotated file, with warnings and errors echoed to stderr.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	// Stderr receives warnings and errors; nil disables the echo.
	Stderr io.Writer
}

// Logger couples the root logger with the rotating file behind it.
type Logger struct {
	*log.Logger
	file *lumberjack.Logger
}

// New opens the log file and returns the root logger. Components derive
// their own with WithPrefix.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.File == "" {
		return nil, fmt.Errorf("log file is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    max(opts.MaxSizeMB, 1),
		MaxBackups: opts.MaxBackups,
	}

	var w io.Writer = file
	if opts.Stderr != nil {
		w = &splitWriter{file: file, echo: opts.Stderr}
	}

	l := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		Formatter:       log.LogfmtFormatter,
	})
	return &Logger{Logger: l, file: file}, nil
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a config value to a level; empty means info.
func ParseLevel(s string) (log.Level, error) {
	if strings.TrimSpace(s) == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return log.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// splitWriter copies warn and error lines to echo. It relies on the logfmt
// formatter writing one complete line per Write.
type splitWriter struct {
	file io.Writer
	echo io.Writer
}

func (w *splitWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if isLoud(p) {
		_, _ = w.echo.Write(p)
	}
	return n, err
}

func isLoud(line []byte) bool {
	s := string(line)
	return strings.Contains(s, "level=warn") ||
		strings.Contains(s, "level=error") ||
		strings.Contains(s, "level=fatal")
}
