package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/metrics"
)

// Logging writes one access line per request and feeds the HTTP metrics.
// Health checks are counted but not logged.
func Logging(logg *logger.Logger, m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			m.ObserveRequest(r.Method, route, status, elapsed)

			if logg == nil || isHealthCheck(r.URL.Path) {
				return
			}
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"route":       route,
				"status":      status,
				"duration_ms": elapsed.Milliseconds(),
			})
			if status >= http.StatusInternalServerError {
				logg.Warn(ctx, "request.failed")
				return
			}
			logg.Info(ctx, "request.complete")
		})
	}
}

func isHealthCheck(path string) bool {
	return path == "/health/live" || path == "/health/ready" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
