// Package middleware provides HTTP middleware for the control plane API.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/sentineltrust/controlplane/internal/apperrors"
	"github.com/sentineltrust/controlplane/internal/httputil"
	"github.com/sentineltrust/controlplane/internal/logging"
)

// Recovery recovers from panics in downstream handlers, logs the stack, and
// writes a uniform internal error response instead of crashing the server.
func Recovery(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					stack := debug.Stack()
					logger.WithContext(r.Context()).WithFields(map[string]interface{}{
						"panic":       fmt.Sprintf("%v", rec),
						"stack":       string(stack),
						"path":        r.URL.Path,
						"method":      r.Method,
						"remote_addr": r.RemoteAddr,
					}).Error("panic recovered")

					appErr := apperrors.Internal("internal server error", fmt.Errorf("%v", rec))
					httputil.WriteError(w, r, appErr)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
