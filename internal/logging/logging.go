// Package logging builds the structured logger shared by every NDS
// component. It mirrors the console+rotating-file tee used by the
// backup-service side of the pack, adapted to this module's fields.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger. The zero value is valid and logs
// info-and-above to stdout only.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// File is a log file path; empty means stdout only.
	File string
	// MaxSizeMB is the rotation threshold in megabytes.
	MaxSizeMB int
	// MaxBackups is how many rotated files to retain.
	MaxBackups int
	// MaxAgeDays is how many days to retain rotated files.
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
	// Development switches to zap's development encoder config (stdout
	// always uses the console encoder).
	Development bool
}

// DefaultOptions returns sensible defaults for a long-running daemon.
func DefaultOptions() Options {
	return Options{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// New builds a *zap.Logger from opts.
func New(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderCfg zapcore.EncoderConfig
	if opts.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "ts"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var cores []zapcore.Core

	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)
	cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level))

	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		fileEncoder := zapcore.NewJSONEncoder(encoderCfg)
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(lj), level))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	if opts.Development {
		logger = logger.WithOptions(zap.AddCaller())
	}
	return logger, nil
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
