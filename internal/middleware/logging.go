package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingMiddleware wraps handlers with request logging for the engine's
// admin HTTP surface (health, readiness, liveness, metrics — spec.md §1
// treats the Subsonic-compatible API as an external collaborator, so no
// chunk or catalogue traffic flows through this router). Unlike the
// teacher's gateway, there is no PUT/POST blob body to size; every request
// here is a small, bodyless probe, so only response size is worth logging.
func LoggingMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)

			logger.WithFields(logrus.Fields{
				"component":     "admin_http",
				"method":        r.Method,
				"path":          r.URL.Path,
				"query":         r.URL.RawQuery,
				"remote_addr":   r.RemoteAddr,
				"user_agent":    r.UserAgent(),
				"status":        rw.statusCode,
				"duration_ms":   duration.Milliseconds(),
				"response_bytes": rw.bytesWritten,
			}).Info("admin http request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
