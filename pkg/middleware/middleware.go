package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
)

// AccessLog logs the method, path, status and latency of each request
// served by next. Successful health checks are not logged.
func AccessLog(log *zap.Logger, next runtime.HandlerFunc) runtime.HandlerFunc {
	return runtime.HandlerFunc(func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next(ww, r, pathParams)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if r.URL.Path == "/health" && status == http.StatusOK {
			return
		}

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("latency", time.Since(start)),
		}
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			fields = append(fields, zap.String("requestID", reqID))
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("HTTP request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	})
}
