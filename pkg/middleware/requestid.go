package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/drivelinehq/driveline/pkg/contextkeys"
	"github.com/drivelinehq/driveline/pkg/observability"
)

// RequestID assigns each request an id, honoring an inbound X-Request-ID,
// and threads a request-scoped logger through the context.
func RequestID(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := contextkeys.WithRequestID(r.Context(), id)
			ctx = observability.WithLogger(ctx, logger.WithField("request_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
