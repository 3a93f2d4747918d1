package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ETagMiddleware adds content ETags to GET responses and answers matching
// If-None-Match requests with 304.
type ETagMiddleware struct {
	logger   *zap.Logger
	maxAge   string
	skipList []string
}

// NewETagMiddleware creates a new ETag middleware
func NewETagMiddleware(logger *zap.Logger) *ETagMiddleware {
	return &ETagMiddleware{
		logger:   logger,
		maxAge:   "no-cache",
		skipList: []string{"/api/v1/stream", "/metrics"},
	}
}

// Middleware returns the ETag middleware handler
func (em *ETagMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || em.shouldSkip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		rec := &etagRecorder{header: make(http.Header), status: http.StatusOK}
		next.ServeHTTP(rec, r)

		for k, v := range rec.header {
			w.Header()[k] = v
		}

		if rec.status != http.StatusOK || rec.body.Len() == 0 {
			w.WriteHeader(rec.status)
			_, _ = w.Write(rec.body.Bytes())
			return
		}

		etag := `"` + calculateETag(rec.body.Bytes()) + `"`
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", em.maxAge)

		if etagMatches(r.Header.Get("If-None-Match"), etag) {
			em.logger.Debug("ETag matched, serving 304",
				zap.String("path", r.URL.Path),
				zap.String("etag", etag),
				zap.String("request_id", middleware.GetReqID(r.Context())))
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.WriteHeader(rec.status)
		_, _ = w.Write(rec.body.Bytes())
	})
}

func (em *ETagMiddleware) shouldSkip(path string) bool {
	for _, prefix := range em.skipList {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func calculateETag(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:8])
}

// etagMatches handles lists and weak validators in If-None-Match
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

// etagRecorder buffers a response so its ETag can be set before anything is sent
type etagRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
	wrote  bool
}

func (r *etagRecorder) Header() http.Header { return r.header }

func (r *etagRecorder) WriteHeader(statusCode int) {
	if r.wrote {
		return
	}
	r.status = statusCode
	r.wrote = true
}

func (r *etagRecorder) Write(data []byte) (int, error) {
	r.wrote = true
	return r.body.Write(data)
}
