package temporal

import (
	"fmt"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// ZapAdapter implements the Temporal SDK logger on top of zap.
type ZapAdapter struct {
	zl *zap.Logger
}

var _ log.WithLogger = (*ZapAdapter)(nil)

// NewZapAdapter wraps zapLogger. The caller frame is skipped so that log
// lines point at the SDK call site.
func NewZapAdapter(zapLogger *zap.Logger) *ZapAdapter {
	return &ZapAdapter{
		zl: zapLogger.WithOptions(zap.AddCallerSkip(1)),
	}
}

func (l *ZapAdapter) fields(keyvals []any) []zap.Field {
	if len(keyvals)%2 != 0 {
		return []zap.Field{zap.Error(fmt.Errorf("odd number of keyvals pairs: %v", keyvals))}
	}

	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	return fields
}

// Debug level log.
func (l *ZapAdapter) Debug(msg string, keyvals ...any) {
	l.zl.Debug(msg, l.fields(keyvals)...)
}

// Info level log.
func (l *ZapAdapter) Info(msg string, keyvals ...any) {
	l.zl.Info(msg, l.fields(keyvals)...)
}

// Warn level log.
func (l *ZapAdapter) Warn(msg string, keyvals ...any) {
	l.zl.Warn(msg, l.fields(keyvals)...)
}

// Error level log.
func (l *ZapAdapter) Error(msg string, keyvals ...any) {
	l.zl.Error(msg, l.fields(keyvals)...)
}

// With returns a logger that always carries keyvals.
func (l *ZapAdapter) With(keyvals ...any) log.Logger {
	return &ZapAdapter{zl: l.zl.With(l.fields(keyvals)...)}
}
