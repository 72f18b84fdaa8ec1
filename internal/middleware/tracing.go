package middleware

import (
	"net/http"
	"time"

	"github.com/sentineltrust/controlplane/internal/logging"
)

// Tracing attaches a trace ID (from the X-Trace-ID header, or freshly
// generated) to the request context and echoes it back on the response.
func Tracing(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			ctx := logging.WithTraceID(r.Context(), traceID)
			traceID = logging.TraceID(ctx)
			w.Header().Set("X-Trace-ID", traceID)

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))

			logger.Info(ctx, "request completed", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"duration_ms": time.Since(start).Milliseconds(),
			})
		})
	}
}
