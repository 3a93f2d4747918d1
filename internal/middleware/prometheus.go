package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aaronlmathis/voltwatch/internal/metrics"
)

// PrometheusMiddleware records HTTP request metrics for Prometheus
func PrometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		metrics.RecordHTTPRequest(r.Method, routeLabel(r), ww.Status(), time.Since(start))
	})
}

// RequestIDResponseMiddleware adds the request ID to response headers
func RequestIDResponseMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// routeLabel returns the matched chi route pattern, falling back to sanitizePath
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return sanitizePath(r.URL.Path)
}

// sanitizePath normalizes unmatched URL paths
func sanitizePath(path string) string {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return "/"
	}

	switch path {
	case "/healthz", "/readyz", "/version", "/metrics":
		return path
	}

	if strings.HasPrefix(path, "/api/v1/charts/") {
		if strings.HasSuffix(path, ".png") {
			return "/api/v1/charts/:field.png"
		}
		return "/api/v1/charts/:field"
	}
	if strings.HasPrefix(path, "/api/v1/") {
		parts := strings.Split(path, "/")
		if len(parts) > 4 {
			return strings.Join(parts[:4], "/") + "/:id"
		}
		return path
	}

	return "other"
}
