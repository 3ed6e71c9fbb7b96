// Package server exposes the pipeline trigger surface and the per-project
// event stream over HTTP.
package server

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/expensecam/internal/notify"
	"github.com/zombor/expensecam/internal/pipeline"
	"github.com/zombor/expensecam/internal/record"
)

// defaultOwner scopes records when basic auth is not configured.
const defaultOwner = "default"

// BasicAuth holds basic authentication credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Server handles HTTP requests for the image pipeline.
type Server struct {
	pipeline  *pipeline.Pipeline
	hub       *notify.Hub
	blobs     record.BlobStore
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// NewServer creates a new Server with a default mux.
func NewServer(p *pipeline.Pipeline, hub *notify.Hub, blobs record.BlobStore, basicAuth BasicAuth) *Server {
	return NewServerWithMux(p, hub, blobs, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing.
func NewServerWithMux(p *pipeline.Pipeline, hub *notify.Hub, blobs record.BlobStore, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		pipeline:  p,
		hub:       hub,
		blobs:     blobs,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials.
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// owner resolves the owner id scoping a request: the authenticated
// username, or a fixed default when auth is off.
func (s *Server) owner(r *http.Request) string {
	if s.basicAuth.Username != "" {
		return s.basicAuth.Username
	}
	return defaultOwner
}

// corsMiddleware adds CORS headers to responses.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="expensecam"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux.
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/projects/{projectID}/images/{id}/ocr", s.requireAuth(s.handleRunOCR))
	s.mux.HandleFunc("POST /api/projects/{projectID}/images/{id}/analysis", s.requireAuth(s.handleRunAnalysis))
	s.mux.HandleFunc("GET /api/projects/{projectID}/images/{id}/file", s.requireAuth(s.handleGetImageFile))
	s.mux.HandleFunc("GET /api/projects/{projectID}/images/{id}", s.requireAuth(s.handleGetImage))
	s.mux.HandleFunc("DELETE /api/projects/{projectID}/images/{id}", s.requireAuth(s.handleDeleteImage))
	s.mux.HandleFunc("GET /api/projects/{projectID}/images", s.requireAuth(s.handleListImages))
	s.mux.HandleFunc("POST /api/projects/{projectID}/images", s.requireAuth(s.handleUploadImage))
	s.mux.HandleFunc("GET /api/projects/{projectID}/events", s.requireAuth(s.handleEvents))
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
