// Package rplog provides the default structured, rotating-file Logger
// implementation used by cmd/richpresence-demo, and by any integrator
// that wants the same on-disk format without writing their own
// richpresence.Logger.
//
// Log output format:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, key2=value2
//
// Custom levels beyond the standard slog set:
//   - LevelTrace (-8): verbose diagnostic tracing, mirrors richpresence.Logger.Trace
//   - LevelFail  (12): unrecoverable errors, above slog's Error, written via Fail
package rplog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelFail  slog.Level = 12
)

func levelName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= LevelDebug:
		return "DEBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelWarn:
		return "WARN"
	case l <= LevelError:
		return "ERROR"
	default:
		return "FAIL"
	}
}

// ParseLevel converts a level string to slog.Level. Supports: trace,
// debug, info, warn, error, fail (case-insensitive). Unrecognized
// strings map to LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	case "fail":
		return LevelFail
	default:
		return LevelInfo
	}
}

var lineEnding = "\n"

func init() {
	if runtime.GOOS == "windows" {
		lineEnding = "\r\n"
	}
}

// Handler is a slog.Handler that formats records as:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, ...
type Handler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Level
	attrs []slog.Attr
	group string
}

// NewHandler creates a Handler that writes to w, filtering records
// below level.
func NewHandler(w io.Writer, level slog.Level) *Handler {
	return &Handler{w: w, level: level, mu: &sync.Mutex{}}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(r.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	buf.WriteString(" [")
	buf.WriteString(levelName(r.Level))
	buf.WriteString("] ")
	buf.WriteString(r.Message)

	allAttrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	allAttrs = append(allAttrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		allAttrs = append(allAttrs, a)
		return true
	})

	if len(allAttrs) > 0 {
		buf.WriteString(" | ")
		for i, a := range allAttrs {
			if i > 0 {
				buf.WriteString(", ")
			}
			if h.group != "" {
				buf.WriteString(h.group)
				buf.WriteString(".")
			}
			buf.WriteString(a.Key)
			buf.WriteString("=")
			buf.WriteString(a.Value.String())
		}
	}

	buf.WriteString(lineEnding)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, buf.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &Handler{w: h.w, mu: h.mu, level: h.level, attrs: newAttrs, group: h.group}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}
	return &Handler{w: h.w, mu: h.mu, level: h.level, attrs: h.attrs, group: newGroup}
}

// NewRotatingLogger creates a slog.Logger that writes to a
// lumberjack-rotated file at path. The returned io.Closer must be
// closed to flush and release the file.
func NewRotatingLogger(path string, minLevel slog.Level, maxSizeMB int) (*slog.Logger, io.Closer, error) {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   false,
	}
	handler := NewHandler(lj, minLevel)
	return slog.New(handler), lj, nil
}

// Trace logs at LevelTrace, below slog's standard Debug floor.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Fail logs at LevelFail, above slog's standard Error ceiling.
func Fail(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelFail, msg, args...)
}

// tailChunkSize is how much of the file ReadTail pulls in per seek-back
// step while hunting for enough newlines.
const tailChunkSize = 64 * 1024

// ReadTail returns the last n lines of the file at path, in
// chronological order. It seeks backward from the end in chunks rather
// than scanning the whole file forward, so the cost scales with the
// tail requested rather than with the rotated file's total size.
func ReadTail(path string, lines int) (string, error) {
	if lines <= 0 {
		return "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return "", fmt.Errorf("reading log file: %w", err)
	}

	var (
		collected   [][]byte
		newlines    int
		pos         = size
		trailingEnd = true
	)

	for pos > 0 && newlines <= lines {
		chunkLen := int64(tailChunkSize)
		if chunkLen > pos {
			chunkLen = pos
		}
		pos -= chunkLen

		chunk := make([]byte, chunkLen)
		if _, err := f.ReadAt(chunk, pos); err != nil {
			return "", fmt.Errorf("reading log file: %w", err)
		}

		// A lone trailing newline at EOF doesn't count as a line
		// boundary we need to stop on.
		if trailingEnd && len(chunk) > 0 && chunk[len(chunk)-1] == '\n' {
			chunk = chunk[:len(chunk)-1]
		}
		trailingEnd = false

		newlines += strings.Count(string(chunk), "\n")
		collected = append(collected, chunk)
	}

	whole := make([]byte, 0, size)
	for i := len(collected) - 1; i >= 0; i-- {
		whole = append(whole, collected[i]...)
	}

	all := strings.Split(string(whole), "\n")
	if len(all) <= lines {
		return strings.Join(all, "\n"), nil
	}
	return strings.Join(all[len(all)-lines:], "\n"), nil
}

// SlogAdapter satisfies richpresence.Logger by delegating to an
// underlying *slog.Logger, mapping Trace/Error to the package's
// widened level range.
type SlogAdapter struct {
	Logger *slog.Logger
}

func (a SlogAdapter) Trace(msg string, args ...any) {
	Trace(a.Logger, msg, args...)
}

func (a SlogAdapter) Info(msg string, args ...any) {
	a.Logger.Info(msg, args...)
}

func (a SlogAdapter) Warning(msg string, args ...any) {
	a.Logger.Warn(msg, args...)
}

func (a SlogAdapter) Error(msg string, args ...any) {
	a.Logger.Error(msg, args...)
}
