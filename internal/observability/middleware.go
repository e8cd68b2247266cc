package observability

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceContext extracts an incoming W3C trace context into the request context
// so it is propagated upstream, and tags the request log with its trace id.
func TraceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			httplog.SetAttrs(ctx,
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
