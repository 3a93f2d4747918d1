package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aaronlmathis/voltwatch/internal/chart"
	"github.com/aaronlmathis/voltwatch/internal/config"
	"github.com/aaronlmathis/voltwatch/internal/dashboard"
	"github.com/aaronlmathis/voltwatch/internal/fetch"
	vwmiddleware "github.com/aaronlmathis/voltwatch/internal/middleware"
	"github.com/aaronlmathis/voltwatch/internal/version"
)

// DeviceLister lists the devices known upstream
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]fetch.Device, error)
}

// ReadinessChecker reports whether the upstream API is reachable
type ReadinessChecker interface {
	TestConnection(ctx context.Context) error
}

// StreamServer upgrades a request to a WebSocket watching room
type StreamServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, room string)
}

// Dependencies are the collaborators the API serves from
type Dependencies struct {
	Dashboard *dashboard.Service
	Devices   DeviceLister
	Readiness ReadinessChecker
	Stream    StreamServer
}

// Server represents the API server
type Server struct {
	logger    *zap.Logger
	config    *config.Config
	router    chi.Router
	dashboard *dashboard.Service
	devices   DeviceLister
	readiness ReadinessChecker
	stream    StreamServer
	layout    chart.Layout
	etag      *vwmiddleware.ETagMiddleware
}

const readinessTimeout = 5 * time.Second

// NewServer creates a new API server
func NewServer(logger *zap.Logger, cfg *config.Config, deps Dependencies) *Server {
	layout := chart.DefaultLayout()
	layout.Location = deps.Dashboard.Location()

	s := &Server{
		logger:    logger.Named("api"),
		config:    cfg,
		router:    chi.NewRouter(),
		dashboard: deps.Dashboard,
		devices:   deps.Devices,
		readiness: deps.Readiness,
		stream:    deps.Stream,
		layout:    layout,
		etag:      vwmiddleware.NewETagMiddleware(logger),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(vwmiddleware.RequestIDResponseMiddleware)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(vwmiddleware.PrometheusMiddleware)
	s.router.Use(s.cors)
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	// Version endpoint
	s.router.Get("/version", s.handleVersion)

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		// The stream outlives the request timeout
		r.Get("/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(config.Duration(s.config.Server.RequestTimeout, 60*time.Second)))
			r.Use(s.etag.Middleware)

			r.Get("/devices", s.handleListDevices)

			r.Get("/state", s.handleGetState)
			r.Put("/state", s.handlePutState)
			r.Post("/refresh", s.handleRefresh)

			r.Get("/series", s.handleSeries)
			r.Get("/stats", s.handleStats)
			r.Get("/deviations", s.handleDeviations)
			r.Get("/status", s.handleStatus)
			r.Get("/charts/{field}", s.handleChart)
		})
	})
}

// requestLogger logs one line per request with zap
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// cors applies the configured CORS policy and answers preflight requests
func (s *Server) cors(next http.Handler) http.Handler {
	allowed := s.config.Server.CORS.AllowOrigins
	methods := strings.Join(s.config.Server.CORS.AllowMethods, ", ")
	if methods == "" {
		methods = "GET, PUT, POST, OPTIONS"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && originAllowed(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once the upstream API answers
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.readiness != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := s.readiness.TestConnection(ctx); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "upstream telemetry API unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}
