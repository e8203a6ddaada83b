package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoveryMiddleware recovers from panics in the admin HTTP surface (health,
// readiness, liveness, metrics) and logs them tagged as such, so a panic here
// is never confused in the logs with a worker panic from the import pipeline
// or playback engine, which recover and report through their own event/error
// channels instead of this middleware.
func RecoveryMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.WithFields(logrus.Fields{
						"component": "admin_http",
						"panic":     err,
						"method":    r.Method,
						"path":      r.URL.Path,
						"stack":     string(debug.Stack()),
					}).Error("admin http handler panicked")

					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
