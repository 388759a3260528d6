// Package logger provides the process-wide logging surface. The
// package-level functions are no-ops until InitLogging runs, so
// library code can log unconditionally.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base  *zap.Logger
	sugar *zap.SugaredLogger

	DebugEnabled = false
)

// InitLogging sets up logging based on configuration. With a log path
// the output goes to that file; otherwise to stderr. Debug mode lowers
// the level to debug.
func InitLogging(debugMode bool, logPath string) error {
	DebugEnabled = debugMode

	level := zapcore.InfoLevel
	if debugMode {
		level = zapcore.DebugLevel
	}

	sink := zapcore.AddSync(os.Stderr)

	if logPath != "" {
		logDir := filepath.Dir(logPath)

		err := os.MkdirAll(logDir, 0o755)
		if err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		sink = zapcore.AddSync(f)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, level)

	base = zap.New(core)
	sugar = base.Sugar()

	return nil
}

// Close flushes any buffered log entries.
func Close() {
	if base != nil {
		_ = base.Sync()
	}
}

// Infof logs an informational message.
func Infof(format string, v ...interface{}) {
	if sugar != nil {
		sugar.Infof(format, v...)
	}
}

// Errorf logs an error message.
func Errorf(format string, v ...interface{}) {
	if sugar != nil {
		sugar.Errorf(format, v...)
	}
}

// Debugf logs a debug message.
func Debugf(format string, v ...interface{}) {
	if sugar != nil {
		sugar.Debugf(format, v...)
	}
}

// Warnf logs a warning message.
func Warnf(format string, v ...interface{}) {
	if sugar != nil {
		sugar.Warnf(format, v...)
	}
}
