package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/infrasage/infrasage/internal/tracing"
)

// TraceIDHeader returns the request's trace ID to the caller.
const TraceIDHeader = "X-Trace-ID"

// Tracing starts a server span per request, continuing any incoming
// traceparent, and echoes the trace ID in X-Trace-ID.
func Tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := tracing.TraceIDFromContext(r.Context()); id != "" {
				w.Header().Set(TraceIDHeader, id)
			}
			next.ServeHTTP(w, r)
		}),
		"http.request",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
	)
}
