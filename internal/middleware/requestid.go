package middleware

import (
	"net/http"

	"github.com/hoongun/getpaid/internal/logger"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware makes sure every request carries a request id,
// reusing the caller's when present. The id lands in the context for
// logger.FromCtx and is echoed back on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), rid)
		w.Header().Set(requestIDHeader, rid)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
