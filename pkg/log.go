package pkg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Component identifies a subsystem for log filtering.
type Component string

// Bus engine component identifiers.
const (
	ComponentBus      Component = "bus"
	ComponentProtocol Component = "protocol"
	ComponentRegistry Component = "registry"
	ComponentDevice   Component = "device"
	ComponentHAL      Component = "hal"
	ComponentHost     Component = "host"
	ComponentProfile  Component = "profile"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

// ParseLogFormat converts a format name ("text" or "json") to a LogFormat.
// Unknown names yield LogFormatText and false.
func ParseLogFormat(name string) (LogFormat, bool) {
	switch name {
	case "text", "":
		return LogFormatText, true
	case "json":
		return LogFormatJSON, true
	default:
		return LogFormatText, false
	}
}

var (
	// DefaultLogger is the default logger used by the bus engine.
	DefaultLogger *slog.Logger

	// logLevel controls the minimum log level.
	logLevel = new(slog.LevelVar)

	// componentLevels holds per-component overrides of logLevel.
	componentLevels map[Component]slog.Level

	// logMutex protects logger configuration.
	logMutex sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// SetLogLevel sets the minimum log level for all bus engine logging.
func SetLogLevel(level slog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logLevel.Set(level)
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() slog.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return logLevel.Level()
}

// SetLogger replaces the default logger with a custom logger.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// SetLogFormat configures the default logger to use the specified format.
// The logger writes to os.Stderr and uses the current log level.
func SetLogFormat(format LogFormat) {
	logMutex.Lock()
	defer logMutex.Unlock()
	opts := &slog.HandlerOptions{Level: logLevel}
	switch format {
	case LogFormatJSON:
		DefaultLogger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	default:
		DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
}

// NewLogger creates a new text logger writing to the given writer.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetComponentLevel overrides the minimum level for one component. The
// override may be below the global level, which lets a single subsystem
// such as the protocol layer log at debug while the rest stays quiet.
func SetComponentLevel(component Component, level slog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	if componentLevels == nil {
		componentLevels = make(map[Component]slog.Level)
	}
	componentLevels[component] = level
}

// ClearComponentLevel removes the override for component.
func ClearComponentLevel(component Component) {
	logMutex.Lock()
	defer logMutex.Unlock()
	delete(componentLevels, component)
}

// enabled reports whether a record at level from component passes the
// override, or the handler when there is none.
func enabled(h slog.Handler, component Component, level slog.Level) bool {
	if min, ok := componentLevels[component]; ok {
		return level >= min
	}
	return h.Enabled(context.Background(), level)
}

// DebugEnabled reports whether debug records from component would be
// emitted. Callers use it to skip building expensive attributes such as
// payload dumps.
func DebugEnabled(component Component) bool {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return enabled(DefaultLogger.Handler(), component, slog.LevelDebug)
}

// logAt hands one record to the default handler. The record is built only
// when it passes the level check.
func logAt(level slog.Level, component Component, msg string, args []any) {
	logMutex.RLock()
	h := DefaultLogger.Handler()
	ok := enabled(h, component, level)
	logMutex.RUnlock()
	if !ok {
		return
	}

	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(slog.String("component", string(component)))
	r.Add(args...)
	_ = h.Handle(context.Background(), r)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, msg, args)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, msg, args)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, msg, args)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, msg, args)
}
