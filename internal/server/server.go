// Package server exposes the classification pipeline over HTTP: upload,
// classify, export, and result listing, behind CORS, security headers, and
// per-client rate limiting.
package server

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/canopylabs/cropclass/internal/classify"
	"github.com/canopylabs/cropclass/internal/config"
	"github.com/canopylabs/cropclass/internal/export"
	"github.com/canopylabs/cropclass/internal/store"
)

// Server routes API requests to the pipeline and store.
type Server struct {
	cfg      *config.Config
	store    store.Store
	pipeline *classify.Pipeline
	renderer *export.Renderer
	limiter  *ClientLimiter
	router   chi.Router
}

// New wires the HTTP server. The limiter is injected so tests can reset it.
func New(cfg *config.Config, st store.Store, pipeline *classify.Pipeline, renderer *export.Renderer, limiter *ClientLimiter) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		pipeline: pipeline,
		renderer: renderer,
		limiter:  limiter,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(securityHeaders)
	r.Use(limiter.Middleware)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
		r.Post("/upload", s.handleUpload)
		r.Post("/classify", s.handleClassify)
		r.Post("/export", s.handleExport)
		r.Get("/results", s.handleListResults)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// securityHeaders sets the standard response hardening headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// imageSource adapts the upload store to the extractor's ImageSource.
type imageSource struct {
	store store.Store
}

// NewImageSource returns an ImageSource reading uploaded blobs from st.
func NewImageSource(st store.Store) classify.ImageSource {
	return imageSource{store: st}
}

func (s imageSource) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	u, err := s.store.GetUpload(ctx, ref)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(u.Data)), nil
}
