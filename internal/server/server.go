// Package server exposes scans over HTTP: a server-sent event stream, a
// websocket variant, stored reports and an asset minifier.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/PentesterFlow/SiteAudit/internal/logger"
	"github.com/PentesterFlow/SiteAudit/internal/metrics"
	"github.com/PentesterFlow/SiteAudit/internal/minify"
	"github.com/PentesterFlow/SiteAudit/internal/state"
	"github.com/PentesterFlow/SiteAudit/pkg/crawler"
)

// maxBodyBytes bounds JSON request bodies; minify uploads are the largest.
const maxBodyBytes = 10 << 20

// Config wires a Server to its collaborators.
type Config struct {
	HTTP     crawler.ServerConfig
	Scanner  *crawler.Scanner
	Store    state.ReportStore
	Minifier *minify.Minifier
	Logger   *logger.Logger
	Metrics  *metrics.Collector
}

// Server is the HTTP + WebSocket API surface.
type Server struct {
	cfg      crawler.ServerConfig
	scanner  *crawler.Scanner
	store    state.ReportStore
	minifier *minify.Minifier
	logger   *logger.Logger
	metrics  *metrics.Collector
	router   chi.Router
	upgrader websocket.Upgrader
	started  time.Time
}

// New creates a Server. Scanner is required; the other collaborators
// default to an in-memory store, a fresh minifier, the global logger and
// the scanner's metrics.
func New(cfg Config) *Server {
	if cfg.Store == nil {
		cfg.Store = state.NewMemoryStore()
	}
	if cfg.Minifier == nil {
		cfg.Minifier = minify.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = cfg.Scanner.Metrics()
	}

	s := &Server{
		cfg:      cfg.HTTP,
		scanner:  cfg.Scanner,
		store:    cfg.Store,
		minifier: cfg.Minifier,
		logger:   cfg.Logger.WithComponent("server"),
		metrics:  cfg.Metrics,
		router:   chi.NewRouter(),
		started:  time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(s.observe)

	r.Post("/analyze", s.handleAnalyze)
	r.Get("/ws/analyze", s.handleAnalyzeWS)

	r.Get("/reports", s.handleListReports)
	r.Get("/reports/{id}", s.handleGetReport)
	r.Delete("/reports/{id}", s.handleDeleteReport)

	r.Post("/minify", s.handleMinify)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// CORS preflight for every route
	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: readTimeout,
		// No ReadTimeout or WriteTimeout: a scan stream stays open for
		// minutes and an expired read deadline would cancel it.
	}
}

// Close releases the report store.
func (s *Server) Close() error {
	return s.store.Close()
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
