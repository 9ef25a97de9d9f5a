// Package logging builds the service's zap logger on top of a rotating
// lumberjack file.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how much the service logs.
type Options struct {
	// File is the rotating log file. Empty disables file output.
	File string
	// Level is one of debug, info, warn, error.
	Level string
	// Console mirrors log lines to stderr in a human-readable encoding.
	Console bool
	// JSONConsole switches the stderr encoder to JSON.
	JSONConsole bool

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultOptions mirrors the rotation policy of the workspace log.
func DefaultOptions() Options {
	return Options{
		File:       filepath.Join(".ryze", "ryze.log"),
		Level:      "info",
		MaxSizeMB:  15,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// New returns a logger and a cleanup func that flushes and closes the file.
func New(opts Options) (*zap.Logger, func(), error) {
	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	var (
		cores   []zapcore.Core
		rotator *lumberjack.Logger
	)

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		def := DefaultOptions()
		rotator = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, def.MaxSizeMB), // megabytes
			MaxBackups: orDefault(opts.MaxBackups, def.MaxBackups),
			MaxAge:     orDefault(opts.MaxAgeDays, def.MaxAgeDays), // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderConfig()),
			zapcore.AddSync(rotator),
			level,
		))
	}

	if opts.Console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		enc := zapcore.NewConsoleEncoder(encCfg)
		if opts.JSONConsole {
			enc = zapcore.NewJSONEncoder(fileEncoderConfig())
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level))
	}

	if len(cores) == 0 {
		return zap.NewNop(), func() {}, nil
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	cleanup := func() {
		_ = logger.Sync()
		if rotator != nil {
			_ = rotator.Close()
		}
	}
	return logger, cleanup, nil
}

func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
