package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger creates a logger based on global flags loggerMode (dev|plain) and debug.
// dev: console encoder with development config.
// plain: minimal log format "message" only, meant for report-style output.
func newLogger() *zap.Logger {
	enabler := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return debug || lvl != zapcore.DebugLevel })
	switch loggerMode {
	case "plain":
		encCfg := zapcore.EncoderConfig{MessageKey: "msg"}
		enc := zapcore.NewConsoleEncoder(encCfg)
		core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), enabler)
		return zap.New(core)
	case "dev":
		fallthrough
	default:
		consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		core := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), enabler)
		return zap.New(core)
	}
}
