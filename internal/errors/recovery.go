package errors

import (
	"net/http"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/logging"
)

// RecoveryMiddleware returns a middleware that turns handler panics into a
// 500 response and logs them with their stack.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err := Errorf("panic: %v", rec).
					WithOperation(r.Method + " " + r.URL.Path).
					WithComponent("http")

				logging.LoggerFrom(r.Context(), logger).
					Error("Recovered from panic", map[string]interface{}{
						"error": err.Error(),
						"stack": err.StackTrace(),
						"query": r.URL.RawQuery,
					})

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ErrorHandler is a middleware that logs server-side failures (5xx).
// Client errors are left to the request logger.
func ErrorHandler(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			if rw.status >= http.StatusInternalServerError {
				logger.Error("Request failed", map[string]interface{}{
					"status": rw.status,
					"method": r.Method,
					"path":   r.URL.Path,
					"query":  r.URL.RawQuery,
					"ip":     r.RemoteAddr,
				})
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// WriteHeader captures the status code before writing the header.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write records an implicit 200.
func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}
