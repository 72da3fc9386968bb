package pkg

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	tests := []struct {
		name  string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLogLevel(tt.level)
			if got := GetLogLevel(); got != tt.level {
				t.Errorf("GetLogLevel() = %v, want %v", got, tt.level)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message")
	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("log output missing message: %s", buf.String())
	}
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	if logger == nil {
		t.Fatal("NewJSONLogger returned nil")
	}

	logger.Info("test message")
	output := buf.String()
	if !strings.Contains(output, `"msg":"test message"`) {
		t.Errorf("JSON log output missing message: %s", output)
	}
}

func TestLogDebug(t *testing.T) {
	var buf bytes.Buffer
	original := DefaultLogger
	defer func() { DefaultLogger = original }()

	SetLogLevel(slog.LevelDebug)
	SetLogger(NewLogger(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogDebug(ComponentBus, "debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("debug log missing message: %s", output)
	}
	if !strings.Contains(output, "component=bus") {
		t.Errorf("debug log missing component: %s", output)
	}
}

func TestLogInfo(t *testing.T) {
	var buf bytes.Buffer
	original := DefaultLogger
	defer func() { DefaultLogger = original }()

	SetLogger(NewLogger(&buf, nil))

	LogInfo(ComponentRegistry, "info message")
	output := buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("info log missing message: %s", output)
	}
	if !strings.Contains(output, "component=registry") {
		t.Errorf("info log missing component: %s", output)
	}
}

func TestLogWarn(t *testing.T) {
	var buf bytes.Buffer
	original := DefaultLogger
	defer func() { DefaultLogger = original }()

	SetLogger(NewLogger(&buf, nil))

	LogWarn(ComponentProtocol, "warn message")
	output := buf.String()
	if !strings.Contains(output, "warn message") {
		t.Errorf("warn log missing message: %s", output)
	}
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	original := DefaultLogger
	defer func() { DefaultLogger = original }()

	SetLogger(NewLogger(&buf, nil))

	LogError(ComponentHAL, "error message")
	output := buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("error log missing message: %s", output)
	}
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	original := DefaultLogger
	defer func() { DefaultLogger = original }()

	customLogger := NewLogger(&buf, nil)
	SetLogger(customLogger)

	LogInfo(ComponentDevice, "custom logger test")
	if !strings.Contains(buf.String(), "custom logger test") {
		t.Error("custom logger not used")
	}
}

func TestDebugEnabled(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	SetLogLevel(slog.LevelWarn)
	if DebugEnabled(ComponentBus) {
		t.Error("DebugEnabled() = true at warn level")
	}
	SetLogLevel(slog.LevelDebug)
	if !DebugEnabled(ComponentBus) {
		t.Error("DebugEnabled() = false at debug level")
	}
}

func TestSetComponentLevel(t *testing.T) {
	var buf bytes.Buffer
	original := DefaultLogger
	level := GetLogLevel()
	defer func() {
		DefaultLogger = original
		SetLogLevel(level)
		ClearComponentLevel(ComponentProtocol)
		ClearComponentLevel(ComponentBus)
	}()

	SetLogLevel(slog.LevelWarn)
	SetLogger(NewLogger(&buf, &slog.HandlerOptions{Level: GetLogLevel()}))

	// Below the global level for one component only.
	SetComponentLevel(ComponentProtocol, slog.LevelDebug)
	LogDebug(ComponentProtocol, "bit timing")
	LogDebug(ComponentHAL, "edge")
	if !DebugEnabled(ComponentProtocol) || DebugEnabled(ComponentHAL) {
		t.Error("DebugEnabled() ignores the override")
	}

	// Above the global level.
	SetComponentLevel(ComponentBus, slog.LevelError)
	LogWarn(ComponentBus, "dropped event")

	output := buf.String()
	if !strings.Contains(output, "bit timing") {
		t.Errorf("override did not lower the level: %s", output)
	}
	if strings.Contains(output, "edge") || strings.Contains(output, "dropped event") {
		t.Errorf("unexpected records: %s", output)
	}

	ClearComponentLevel(ComponentProtocol)
	buf.Reset()
	LogDebug(ComponentProtocol, "bit timing")
	if buf.Len() != 0 {
		t.Errorf("cleared override still applies: %s", buf.String())
	}
}

func TestSetLogFormat(t *testing.T) {
	original := DefaultLogger
	defer func() { DefaultLogger = original }()

	SetLogFormat(LogFormatJSON)
	if DefaultLogger == original {
		t.Error("SetLogFormat did not replace the default logger")
	}
	SetLogFormat(LogFormatText)
	if DefaultLogger == nil {
		t.Error("SetLogFormat left a nil logger")
	}
}

func TestParseLogFormat(t *testing.T) {
	tests := []struct {
		name   string
		want   LogFormat
		wantOK bool
	}{
		{"", LogFormatText, true},
		{"text", LogFormatText, true},
		{"json", LogFormatJSON, true},
		{"xml", LogFormatText, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLogFormat(tt.name)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLogFormat(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
