// Package api serves the shape database over HTTP: browsing, per-shape
// information, similarity queries and echarts views of the descriptors.
package api

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/shape.search/internal/catalog"
	"github.com/banshee-data/shape.search/internal/db"
	"github.com/banshee-data/shape.search/internal/httputil"
	"github.com/banshee-data/shape.search/internal/mesh"
	"github.com/banshee-data/shape.search/internal/monitoring"
	"github.com/banshee-data/shape.search/internal/retrieval"
	"github.com/banshee-data/shape.search/internal/version"
)

// DefaultMaxUploadBytes bounds the OBJ body accepted by POST /api/query.
const DefaultMaxUploadBytes = 32 << 20

//go:embed index.html
var indexFS embed.FS

var indexTemplate = template.Must(template.ParseFS(indexFS, "index.html"))

// ServerConfig contains the dependencies of a Server.
type ServerConfig struct {
	Engine *retrieval.Engine
	// DB is optional. Without it evaluation runs are neither stored nor
	// listed and no admin routes are mounted.
	DB             *db.DB
	MaxUploadBytes int64
}

type Server struct {
	engine    *retrieval.Engine
	db        *db.DB
	maxUpload int64
}

func NewServer(cfg ServerConfig) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Server{
		engine:    cfg.Engine,
		db:        cfg.DB,
		maxUpload: maxUpload,
	}
}

// ServeMux returns the routes of the server.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/categories", s.handleCategories)
	mux.HandleFunc("/api/shapes", s.handleListShapes)
	mux.HandleFunc("/api/shapes/", s.handleShapeByID)
	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/api/evaluations", s.handleEvaluations)
	mux.HandleFunc("/api/evaluations/", s.handleEvaluationByID)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/charts/descriptor", s.handleDescriptorChart)
	mux.HandleFunc("/charts/shape", s.handleShapeChart)
	mux.HandleFunc("/charts/similar", s.handleSimilarChart)
	return mux
}

// Handler returns the routes wrapped in request logging, with the database
// admin routes mounted when a database is configured.
func (s *Server) Handler() (http.Handler, error) {
	mux := s.ServeMux()
	if s.db != nil {
		if err := s.db.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return LoggingMiddleware(mux), nil
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server stopped")
	return nil
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var parseErr *mesh.ParseError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, catalog.ErrShapeNotFound), errors.Is(err, db.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.As(err, &tooLarge):
		httputil.RequestTooLarge(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case errors.As(err, &parseErr), errors.Is(err, mesh.ErrNoVertices), errors.Is(err, bufio.ErrTooLong):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

// parseK reads the optional k query parameter. Zero means the configured
// default.
func parseK(r *http.Request) (int, error) {
	v := r.URL.Query().Get("k")
	if v == "" {
		return 0, nil
	}
	k, err := strconv.Atoi(v)
	if err != nil || k < 1 {
		return 0, fmt.Errorf("invalid 'k' parameter %q", v)
	}
	return k, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		httputil.NotFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	cat := s.engine.Catalog()
	data := struct {
		Version    version.Info
		Indexed    int
		Categories []catalog.CategoryCount
		Entries    []catalog.Entry
	}{
		Version:    version.Current(),
		Indexed:    s.engine.Len(),
		Categories: cat.CategoryCounts(),
		Entries:    cat.Filter(r.URL.Query().Get("category")),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		monitoring.Logf("failed to render index: %v", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}
