// Package observability holds the process-wide logger and the metrics
// recorded while runs are processed.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by commands. It is a no-op logger until
// InitCLILogger runs.
var CLILogger = zap.NewNop()

// InitCLILogger installs a console logger on stderr. verbose enables debug
// output.
func InitCLILogger(serviceName string, verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if !verbose {
		encCfg.CallerKey = ""
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(level),
	)
	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if verbose {
		opts = append(opts, zap.AddCaller())
	}
	CLILogger = zap.New(core, opts...).Named(serviceName)
	return CLILogger
}
