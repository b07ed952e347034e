// Package build provides the ambient logging plumbing shared by every
// package in the wallet engine: a rotating log writer and a factory for
// per-subsystem slog.Logger instances tagged with a short subsystem code.
package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// LoggingType describes how the root log writer emits records.
type LoggingType int

const (
	// LogTypeStdOut writes log records to stdout only.
	LogTypeStdOut LoggingType = iota

	// LogTypeFile writes log records to a rotating file, and optionally
	// to stdout as well.
	LogTypeFile
)

// rotatorSize is the threshold, in kilobytes, after which the rotator
// starts a new log file.
const rotatorSize = 10 * 1024

// LogWriter is an io.Writer that duplicates log records to stdout and,
// when enabled, to a rotating on-disk log file.
type LogWriter struct {
	mu       sync.Mutex
	loggingType LoggingType
	rotator  *rotator.Rotator
}

// Write implements io.Writer. It always writes to stdout and, when a
// rotator has been initialized, also writes to the current log file.
func (w *LogWriter) Write(b []byte) (int, error) {
	os.Stdout.Write(b)

	w.mu.Lock()
	r := w.rotator
	w.mu.Unlock()

	if r != nil {
		r.Write(b)
	}

	return len(b), nil
}

// RotatingLogWriter is the root of the logging subsystem. It owns the
// backing LogWriter and keeps a registry of every sub-logger that has been
// created from it so their backend can be swapped or closed atomically.
type RotatingLogWriter struct {
	mu      sync.Mutex
	writer  *LogWriter
	backend slog.Backend
	loggers map[string]slog.Logger
}

// NewRotatingLogWriter creates a log writer that initially only writes to
// stdout. Call InitLogRotator to also persist records to disk.
func NewRotatingLogWriter() *RotatingLogWriter {
	w := &LogWriter{}

	return &RotatingLogWriter{
		writer:  w,
		backend: slog.NewBackend(w),
		loggers: make(map[string]slog.Logger),
	}
}

// InitLogRotator initializes the log file rotator to write logs to
// logFile and create roll files in the same directory. Until it is called,
// the writer sends records to stdout only.
func (r *RotatingLogWriter) InitLogRotator(logFile string, maxRolls int) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	rot, err := rotator.New(logFile, rotatorSize, false, maxRolls)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	r.mu.Lock()
	r.writer.loggingType = LogTypeFile
	r.writer.rotator = rot
	r.mu.Unlock()

	return nil
}

// GenSubLogger creates a new slog.Logger backed by this writer's backend,
// tagged with the passed subsystem name.
func (r *RotatingLogWriter) GenSubLogger(subsystem string) slog.Logger {
	return r.backend.Logger(subsystem)
}

// RegisterSubLogger registers an already-created logger under the given
// subsystem tag so it can be tracked/adjusted later (e.g. by SetLogLevels).
func (r *RotatingLogWriter) RegisterSubLogger(subsystem string, logger slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loggers[subsystem] = logger
}

// SetLogLevels applies the given level string (e.g. "info", "debug") to
// every registered sub-logger.
func (r *RotatingLogWriter) SetLogLevels(levelStr string) {
	level, ok := slog.LevelFromString(levelStr)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, logger := range r.loggers {
		logger.SetLevel(level)
	}
}

// Close flushes and releases the underlying rotator, if any.
func (r *RotatingLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer.rotator != nil {
		return r.writer.rotator.Close()
	}

	return nil
}

// NewSubLogger creates a logger for the named subsystem. When gen is nil
// the logger is created disabled so packages can safely log at init time
// before SetupLoggers wires the real root logger in.
func NewSubLogger(subsystem string, gen func(string) slog.Logger) slog.Logger {
	if gen == nil {
		return slog.Disabled
	}

	return gen(subsystem)
}

// discardWriter implements io.Writer by discarding everything written to
// it. Nothing in this package uses it as a backend: loggers created before
// a root writer exists are slog.Disabled (see NewSubLogger).
type discardWriter struct{}

func (discardWriter) Write(b []byte) (int, error) { return len(b), nil }

var _ io.Writer = discardWriter{}
