// Package logger wraps zap so call sites never import it directly and so
// sensitive key/value pairs (webhook secrets, signatures) never reach a sink.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

// New builds a Logger. mode "prod"/"production" selects the JSON production
// encoder with ISO8601 timestamps; anything else selects the development
// console encoder with colorized levels.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)

	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, kvs ...interface{}) {
	l.SugaredLogger.Debugw(msg, redact(kvs)...)
}

func (l *Logger) Info(msg string, kvs ...interface{}) {
	l.SugaredLogger.Infow(msg, redact(kvs)...)
}

func (l *Logger) Warn(msg string, kvs ...interface{}) {
	l.SugaredLogger.Warnw(msg, redact(kvs)...)
}

func (l *Logger) Error(msg string, kvs ...interface{}) {
	l.SugaredLogger.Errorw(msg, redact(kvs)...)
}

func (l *Logger) Fatal(msg string, kvs ...interface{}) {
	l.SugaredLogger.Fatalw(msg, redact(kvs)...)
}

func (l *Logger) With(kvs ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(redact(kvs)...)}
}

// sensitiveKeys never get their values logged, regardless of call site.
var sensitiveKeys = map[string]bool{
	"webhook_secret": true,
	"api_key":        true,
	"authorization":  true,
	"signature":      true,
	"x-signature":    true,
}

// redact walks a flat key/value slice (as passed to zap's Sugared *w methods)
// and replaces the value of any sensitive key with a fixed placeholder.
func redact(kvs []interface{}) []interface{} {
	out := make([]interface{}, len(kvs))
	copy(out, kvs)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok {
			continue
		}
		if sensitiveKeys[strings.ToLower(key)] {
			out[i+1] = "[redacted]"
		}
	}
	return out
}
