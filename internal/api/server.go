package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/owinhost/internal/auth"
	"github.com/mattjoyce/owinhost/internal/envelope"
	"github.com/mattjoyce/owinhost/internal/events"
	"github.com/mattjoyce/owinhost/internal/journal"
	"github.com/mattjoyce/owinhost/internal/registry"
)

// AppRegistry is the part of the registry the HTTP host needs.
type AppRegistry interface {
	Invoke(ctx context.Context, env envelope.Env) (envelope.Env, error)
	Info(id int) (registry.AppInfo, bool)
	Apps() []registry.AppInfo
}

// InvocationJournal reads the current run's journal.
type InvocationJournal interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	Apps(ctx context.Context) ([]registry.AppInfo, error)
	Outcomes(ctx context.Context) (map[registry.Outcome]int, error)
}

// Mount serves an application under a fixed path prefix in addition to
// /apps/{id}/.
type Mount struct {
	Path  string
	AppID int
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey grants every admin scope.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens       []auth.TokenConfig
	MaxBodyBytes int64
	Mounts       []Mount
}

// Server hosts configured applications over HTTP and exposes the admin API.
type Server struct {
	config    Config
	registry  AppRegistry
	journal   InvocationJournal
	events    *events.Hub
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithJournal enables GET /invocations and GET /invocations/summary.
func WithJournal(j InvocationJournal) Option {
	return func(s *Server) { s.journal = j }
}

// WithEvents enables GET /events.
func WithEvents(h *events.Hub) Option {
	return func(s *Server) { s.events = h }
}

// WithGatherer enables GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a new API server instance
func New(config Config, reg AppRegistry, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		config:    config,
		registry:  reg,
		logger:    logger,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "mounts", len(s.config.Mounts))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the server's routes without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Application traffic.
	r.HandleFunc("/apps/{appID}/*", s.handleAppByID)
	for _, m := range s.config.Mounts {
		h := s.mountHandler(m)
		if m.Path == "/" {
			r.Handle("/*", h)
			continue
		}
		r.Handle(m.Path, h)
		r.Handle(m.Path+"/*", h)
	}

	// Admin API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeAppsRead)).Get("/apps", s.handleListApps)
		r.With(s.requireScopes(auth.ScopeAppsRead)).Get("/apps/{appID}", s.handleGetApp)
		r.With(s.requireScopes(auth.ScopeAppsRead)).Get("/openapi.json", s.handleOpenAPI)
		r.With(s.requireScopes(auth.ScopeJournalRead)).Get("/invocations", s.handleInvocations)
		r.With(s.requireScopes(auth.ScopeJournalRead)).Get("/invocations/summary", s.handleInvocationSummary)
		r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware authenticates the bearer token and stores the principal in
// the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		principal, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
