package logger

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pdfbot/slack-pdf-backend/config"
)

var once sync.Once
var core zapcore.Core

// GetZapLogger returns a zap logger writing JSON to stdout (info, and debug
// when server.debug is set) and stderr (warn and above). Entries logged while
// ctx carries a recording span are copied onto that span as events.
func GetZapLogger(ctx context.Context) (*zap.Logger, error) {
	once.Do(func() {
		core = newCore(config.Config.Server.Debug)
	})

	return zap.New(core).WithOptions(
		zap.Hooks(spanHook(ctx)),
		zap.AddCaller(),
	), nil
}

func newCore(debug bool) zapcore.Core {
	stdoutLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		if debug {
			return level == zapcore.DebugLevel || level == zapcore.InfoLevel
		}
		return level == zapcore.InfoLevel
	})
	stderrLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= zapcore.WarnLevel
	})

	encoderConfig := zap.NewProductionEncoderConfig()
	if debug {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	return zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), stdoutLevel),
		zapcore.NewCore(encoder.Clone(), zapcore.Lock(os.Stderr), stderrLevel),
	)
}

func spanHook(ctx context.Context) func(zapcore.Entry) error {
	return func(entry zapcore.Entry) error {
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return nil
		}

		span.AddEvent("log", trace.WithAttributes(
			attribute.String("log.severity", entry.Level.String()),
			attribute.String("log.message", entry.Message),
		))

		if entry.Level >= zap.ErrorLevel {
			span.SetStatus(codes.Error, entry.Message)
		}
		return nil
	}
}
