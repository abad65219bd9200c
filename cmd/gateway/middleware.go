package main

import (
	"io"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/avapigw/core/internal/observability"
)

// requestIDHeader propagates a correlation id across a request's
// lifetime, stamped into the logger's context fields via
// observability.ContextWithRequestID.
const requestIDHeader = "X-Request-ID"

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := observability.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRecovery guards the dispatch core against a panic in any handler
// reachable from it, turning it into a 500 instead of taking the listener
// goroutine down.
func withRecovery(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						observability.String("path", r.URL.Path),
						observability.String("method", r.Method),
						observability.Any("error", err),
						observability.String("stack", string(debug.Stack())),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = io.WriteString(w, `{"error":"internal server error"}`)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// buildMiddlewareChain wraps the reverse proxy with tracing, panic
// recovery, and request-id propagation, innermost first.
func buildMiddlewareChain(
	handler http.Handler,
	logger observability.Logger,
	tracer *observability.Tracer,
) http.Handler {
	h := handler
	h = withRecovery(logger)(h)
	h = observability.TracingMiddleware(tracer)(h)
	h = withRequestID(h)
	return h
}
