// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `mapstructure:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `mapstructure:"pretty"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `mapstructure:"-"`

	// File additionally writes JSON logs to a rotated file when set.
	File string `mapstructure:"file"`

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `mapstructure:"maxSizeMB"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `mapstructure:"maxBackups"`

	// Compress gzips rotated files.
	Compress bool `mapstructure:"compress"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Pretty:     false,
		Output:     os.Stderr,
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

var rotator *lumberjack.Logger

// Setup configures the global zerolog logger.
// When the log file cannot be prepared, logging continues on Output only and
// the failure is reported through the returned logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	closeRotator()
	fileOut, fileErr := buildFileOutput(cfg)
	if fileOut != nil {
		rotator = fileOut
		output = zerolog.MultiLevelWriter(output, fileOut)
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	if fileErr != nil {
		logger.Warn().Err(fileErr).Str("path", cfg.File).Msg("Log file unavailable, logging to console only")
	}

	return logger
}

// Close flushes and closes the rotated log file, if any.
func Close() error {
	return closeRotator()
}

func closeRotator() error {
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	return err
}

func buildFileOutput(cfg Config) (*lumberjack.Logger, error) {
	if cfg.File == "" {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, blob writes)
//   - Request flow (conditional requests, ETags)
//   - JSON-RPC traffic
//
// Info: Normal operation events
//   - Stale content served after a failed fetch
//   - Language server start/restart
//   - Configuration reloads
//
// Warn: Warning conditions that don't prevent operation
//   - Failed schema fetches
//   - Cache write failures (entry rolled back)
//   - Contributor errors (isolated per provider)
//
// Error: Error conditions requiring attention
//   - Language server gave up restarting
//   - Configuration errors
//
// Context Fields:
//   - component: Emitting package (schema-client, schema-cache, session, ...)
//   - uri: Schema URI
//   - status: HTTP status code
//   - error_class: Error classification (client, server, network, unexpected)
//   - etag: ETag value for conditional requests
//   - scheme: Contributor scheme
