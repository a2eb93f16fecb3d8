// Package web serves the CSV import admin API.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/results-america/internal/config"
	"github.com/JonMunkholm/results-america/internal/core"
	appmw "github.com/JonMunkholm/results-america/internal/web/middleware"
)

const rateWindow = time.Minute

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the import pipeline.
type Server struct {
	service  *core.Service
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
	limits   RateLimitStore
	pinger   Pinger
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimitStore sets the store backing request rate limits. Without
// one the server keeps its own in-memory counters.
func WithRateLimitStore(store RateLimitStore) Option {
	return func(s *Server) { s.limits = store }
}

// WithHealthCheck makes /healthz report the database through p.
func WithHealthCheck(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// WithMetrics exposes g on the configured metrics path.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(service *core.Service, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limits == nil {
		s.limits = NewMemoryRateLimitStore()
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(appmw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(appmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
	s.router.Use(requestMetadata)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.gatherer != nil && s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
		r.Use(appmw.APIKeyAuth(&s.cfg.Security))
		if s.cfg.Rate.Enabled {
			r.Use(rateLimit(s.limits, "api", s.cfg.Rate.RequestsPerMinute, rateWindow))
		}

		r.Get("/csv-import-templates", s.handleListTemplates)
		r.Get("/csv-import-templates/{id}", s.handleGetTemplate)

		r.Route("/csv-imports", func(r chi.Router) {
			r.Get("/", s.handleListImports)
			r.With(s.uploadLimit()).Post("/", s.handleUpload)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetImport)
				r.Get("/rows", s.handleListRows)
				r.Post("/validate", s.handleValidate)
				r.Post("/publish", s.handlePublish)
				r.Get("/errors.csv", s.handleExportCSV)
				r.Get("/errors.xlsx", s.handleExportXLSX)
			})
		})
	})
}

// uploadLimit applies the stricter upload limit on top of the API limit.
func (s *Server) uploadLimit() func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return rateLimit(s.limits, "upload", s.cfg.Rate.UploadLimit, rateWindow)
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

type healthStatus struct {
	Status   string                   `json:"status"`
	Database string                   `json:"database"`
	Uploads  core.UploadLimiterStatus `json:"uploads"`
}

// handleHealth reports 503 when the database does not answer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:   "ok",
		Database: "unchecked",
		Uploads:  s.service.Limiter().Status(),
	}
	code := http.StatusOK
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			status.Status = "degraded"
			status.Database = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			status.Database = "ok"
		}
	}
	writeJSON(w, code, status)
}
