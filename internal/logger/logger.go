// Package logger is the process-wide structured logger. It wraps log/slog
// with a colored text handler for terminals, a JSON handler for pipelines,
// and helpers that prefix CIFS connection fields carried in a context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the minimum severity emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, bool) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), true
		}
	}
	return LevelInfo, false
}

// Config selects level, format and destination.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

// sink is the handler configuration. Level changes go through levelVar
// and never rebuild the handler.
type sink struct {
	w      io.Writer
	color  bool
	format string
	closer io.Closer
}

var (
	levelVar = new(slog.LevelVar)

	// minLevel mirrors levelVar for the fast path in emit.
	minLevel atomic.Int32

	mu      sync.Mutex
	current sink
	slogger atomic.Pointer[slog.Logger]
)

func init() {
	current = sink{w: os.Stderr, color: isTerminal(os.Stderr.Fd()), format: "text"}
	setLevel(LevelInfo)
	rebuild()
}

// rebuild installs a new handler for current. Callers hold mu, except init.
func rebuild() {
	opts := &slog.HandlerOptions{Level: levelVar}

	var h slog.Handler
	if current.format == "json" {
		h = slog.NewJSONHandler(current.w, opts)
	} else {
		h = NewColorTextHandler(current.w, opts, current.color)
	}
	slogger.Store(slog.New(h))
}

func setLevel(l Level) {
	minLevel.Store(int32(l))
	levelVar.Set(l.slogLevel())
}

// Init applies cfg. Empty fields keep their current value. A previously
// opened log file is closed when the output changes.
func Init(cfg Config) error {
	if cfg.Output != "" {
		next, err := openSink(cfg.Output)
		if err != nil {
			return err
		}

		mu.Lock()
		prev := current.closer
		next.format = current.format
		current = next
		rebuild()
		mu.Unlock()

		if prev != nil {
			_ = prev.Close()
		}
	}

	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}
	return nil
}

func openSink(output string) (sink, error) {
	switch strings.ToLower(output) {
	case "stdout":
		return sink{w: os.Stdout, color: isTerminal(os.Stdout.Fd())}, nil
	case "stderr":
		return sink{w: os.Stderr, color: isTerminal(os.Stderr.Fd())}, nil
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return sink{}, fmt.Errorf("failed to open log file %q: %w", output, err)
	}
	return sink{w: f, closer: f}, nil
}

// InitWithWriter redirects output to w. Used by tests and embedding callers.
func InitWithWriter(w io.Writer, level, format string, enableColor bool) {
	mu.Lock()
	current.w = w
	current.color = enableColor
	current.closer = nil
	rebuild()
	mu.Unlock()

	if level != "" {
		SetLevel(level)
	}
	if format != "" {
		SetFormat(format)
	}
}

// SetLevel changes the minimum level. Unknown names are ignored.
func SetLevel(name string) {
	if l, ok := ParseLevel(name); ok {
		setLevel(l)
	}
}

// SetFormat switches between "text" and "json". Unknown formats are ignored.
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if current.format == format {
		return
	}
	current.format = format
	rebuild()
}

func enabled(l Level) bool {
	return l >= Level(minLevel.Load())
}

func emit(ctx context.Context, l Level, msg string, args []any) {
	if !enabled(l) {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	} else if lc := FromContext(ctx); lc != nil {
		args = append(lc.args(), args...)
	}
	slogger.Load().Log(ctx, l.slogLevel(), msg, args...)
}

// ============================================================================
// Structured Logging API
// ============================================================================

// Debug logs key/value pairs at debug level:
//
//	logger.Debug("frame sent", logger.KeyMID, mid)
func Debug(msg string, args ...any) { emit(context.Background(), LevelDebug, msg, args) }

func Info(msg string, args ...any) { emit(context.Background(), LevelInfo, msg, args) }
func Warn(msg string, args ...any) { emit(context.Background(), LevelWarn, msg, args) }
func Error(msg string, args ...any) { emit(context.Background(), LevelError, msg, args) }

// ============================================================================
// Context-aware Logging API
// ============================================================================

// DebugCtx logs at debug level, prefixing the LogContext fields in ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) { emit(ctx, LevelDebug, msg, args) }

func InfoCtx(ctx context.Context, msg string, args ...any) { emit(ctx, LevelInfo, msg, args) }
func WarnCtx(ctx context.Context, msg string, args ...any) { emit(ctx, LevelWarn, msg, args) }
func ErrorCtx(ctx context.Context, msg string, args ...any) { emit(ctx, LevelError, msg, args) }

// With returns a logger with pre-bound attributes.
func With(args ...any) *slog.Logger {
	return slogger.Load().With(args...)
}

// Duration returns the milliseconds elapsed since start.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
