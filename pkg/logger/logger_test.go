package logger

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	qt "github.com/frankban/quicktest"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpanHook(t *testing.T) {
	c := qt.New(t)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	c.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "sync")

	zCore, zLogs := observer.New(zap.InfoLevel)
	log := zap.New(zCore).WithOptions(zap.Hooks(spanHook(ctx)))

	log.Info("files queued")
	log.Error("slack history failed")
	span.End()

	c.Assert(zLogs.Len(), qt.Equals, 2)

	spans := recorder.Ended()
	c.Assert(spans, qt.HasLen, 1)
	c.Check(spans[0].Events(), qt.HasLen, 2)
	c.Check(spans[0].Status().Code, qt.Equals, codes.Error)
	c.Check(spans[0].Status().Description, qt.Equals, "slack history failed")
}

func TestSpanHook_NoSpan(t *testing.T) {
	c := qt.New(t)

	hook := spanHook(context.Background())
	c.Check(hook(zapcore.Entry{Level: zapcore.ErrorLevel, Message: "ignored"}), qt.IsNil)
}

func TestNewCore_Levels(t *testing.T) {
	c := qt.New(t)

	prod := newCore(false)
	c.Check(prod.Enabled(zapcore.DebugLevel), qt.IsFalse)
	c.Check(prod.Enabled(zapcore.InfoLevel), qt.IsTrue)
	c.Check(prod.Enabled(zapcore.ErrorLevel), qt.IsTrue)

	debug := newCore(true)
	c.Check(debug.Enabled(zapcore.DebugLevel), qt.IsTrue)
}
