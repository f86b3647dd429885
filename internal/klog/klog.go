// Package klog defines the narrow logging seam the rest of this server
// depends on, instead of importing zap directly everywhere — the same
// shape the teacher pack's kzap plugin adapts a client logger interface
// to, turned around so this server's own code is the thing being adapted.
package klog

import "go.uber.org/zap"

// Field is a structured key-value pair attached to a log line.
type Field = zap.Field

// String, Int, Err and friends build Fields without every call site
// importing zap directly.
func String(key, val string) Field  { return zap.String(key, val) }
func Int(key string, val int) Field { return zap.Int(key, val) }
func Int32(key string, val int32) Field { return zap.Int32(key, val) }
func Int64(key string, val int64) Field { return zap.Int64(key, val) }
func Err(err error) Field           { return zap.Error(err) }

// Logger is the logging interface every other package in this server
// depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type zapLogger struct {
	l *zap.Logger
}

// NewZap adapts a *zap.Logger to Logger.
func NewZap(l *zap.Logger) Logger {
	return zapLogger{l: l}
}

func (z zapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z zapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z zapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, fields...) }
func (z zapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, fields...) }
func (z zapLogger) With(fields ...Field) Logger       { return zapLogger{l: z.l.With(fields...)} }

// Nop returns a Logger that discards everything, for tests.
func Nop() Logger { return NewZap(zap.NewNop()) }
