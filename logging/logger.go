// Package logging builds the structured logger shared by the probe phases.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the log file created inside the log directory.
const FileName = "rate_limit_test.log"

// Options controls where log output goes.
type Options struct {
	Dir     string        // Directory for the rotated JSON log file
	Console io.Writer     // Optional human-readable mirror, e.g. os.Stderr
	Level   zapcore.Level // Minimum level for both outputs (default info)
}

// NewLogger returns a logger that writes JSON lines to Dir/FileName,
// rotated at 10MB, and optionally mirrors them to Console.
func NewLogger(opts Options) (*zap.Logger, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, FileName),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, opts.Level)}
	if opts.Console != nil {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(opts.Console), opts.Level))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}
