package middleware

import (
	"net/http"

	"github.com/frahmantamala/courier-backoffice/pkg/logger"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
)

const TraceIDHeader = "X-Trace-ID"

// RequestID reuses an incoming X-Trace-ID or mints one, echoes it on the
// response and attaches it to the request logger. It runs after chi's
// RequestID so both ids land in the log context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		fields := []any{"trace_id", traceID}
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		ctx := logger.With(r.Context(), fields...)

		w.Header().Set(TraceIDHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
