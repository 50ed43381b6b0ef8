package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}

	if cfg.Pretty != false {
		t.Error("Expected default pretty to be false")
	}

	if cfg.File != "" {
		t.Errorf("Expected no log file by default, got %q", cfg.File)
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		level LogLevel
		log   func(zerolog.Logger, string)
	}{
		{LevelDebug, func(l zerolog.Logger, msg string) { l.Debug().Msg(msg) }},
		{LevelInfo, func(l zerolog.Logger, msg string) { l.Info().Msg(msg) }},
		{LevelWarn, func(l zerolog.Logger, msg string) { l.Warn().Msg(msg) }},
		{LevelError, func(l zerolog.Logger, msg string) { l.Error().Msg(msg) }},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			msg := "schema cache " + string(tt.level)
			tt.log(logger, msg)

			if !strings.Contains(buf.String(), msg) {
				t.Errorf("output = %q, want it to contain %q", buf.String(), msg)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel}, // Should default to Info
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: buf,
	})

	logger := NewLogger("test-component")
	logger.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "test-component") {
		t.Errorf("Expected output to contain 'test-component', got %q", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got %q", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelWarn,
		Pretty: false,
		Output: buf,
	})

	logger := NewLogger("test")

	// These should NOT appear (below warn level)
	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")

	// These SHOULD appear (warn level and above)
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")

	output := buf.String()

	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered out at Warn level")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should be filtered out at Warn level")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message should be included at Warn level")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should be included at Warn level")
	}
}

func TestSetup_FileOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	path := filepath.Join(t.TempDir(), "logs", "client.log")

	Setup(Config{
		Level:      LevelInfo,
		Output:     buf,
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	})
	defer Close()

	logger := NewLogger("file-test")
	logger.Info().Msg("rotated message")

	if err := Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "rotated message") {
		t.Errorf("log file = %q, want it to contain %q", data, "rotated message")
	}
	if !strings.Contains(buf.String(), "rotated message") {
		t.Errorf("console output = %q, want it to contain %q", buf.String(), "rotated message")
	}
}

func TestSetup_FileUnavailable(t *testing.T) {
	buf := &bytes.Buffer{}
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	Setup(Config{
		Level:  LevelInfo,
		Output: buf,
		File:   filepath.Join(blocker, "client.log"),
	})
	defer Close()

	if !strings.Contains(buf.String(), "Log file unavailable") {
		t.Errorf("Expected fallback warning, got %q", buf.String())
	}
}
