package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Middleware returns a middleware that attaches a request-scoped logger to
// the context and logs each request once it completes. Server errors are
// logged at ERROR, client errors at WARN and everything else at INFO.
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			requestLogger := logger.WithFields(map[string]interface{}{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"remote":     r.RemoteAddr,
			})
			requestLogger.Debug("Request started")

			ctx := (&CtxLogger{requestLogger}).WithContext(r.Context())
			next.ServeHTTP(ww, r.WithContext(ctx))

			latency := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := map[string]interface{}{
				"status":     status,
				"bytes":      ww.BytesWritten(),
				"latency_ms": float64(latency.Microseconds()) / 1000.0,
				"user_agent": r.UserAgent(),
				"protocol":   r.Proto,
			}

			done := requestLogger.WithFields(fields)
			switch {
			case status >= http.StatusInternalServerError:
				done.Error("Request completed")
			case status >= http.StatusBadRequest:
				done.Warn("Request completed")
			default:
				done.Info("Request completed")
			}
		})
	}
}
