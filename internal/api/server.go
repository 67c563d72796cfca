package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/CloudReel/sentinel/internal/audit"
	"github.com/CloudReel/sentinel/internal/config"
	"github.com/CloudReel/sentinel/internal/fraud"
	"github.com/CloudReel/sentinel/internal/incident"
	"github.com/CloudReel/sentinel/internal/keys"
	"github.com/CloudReel/sentinel/internal/moderation"
	"github.com/CloudReel/sentinel/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the defense layer over HTTP.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server

	limiter   *ratelimit.Limiter
	guard     *ratelimit.FloodGuard
	blocklist *ratelimit.Blocklist
	moderator *moderation.Moderator
	fraud     *fraud.Engine
	trail     *audit.Trail
	keys      *keys.Manager
	incidents *incident.Orchestrator
	identify  ratelimit.IdentityFunc

	startTime time.Time
}

// Services bundles the subsystems the server fronts.
type Services struct {
	Limiter   *ratelimit.Limiter
	Guard     *ratelimit.FloodGuard
	Blocklist *ratelimit.Blocklist
	Moderator *moderation.Moderator
	Fraud     *fraud.Engine
	Trail     *audit.Trail
	Keys      *keys.Manager
	Incidents *incident.Orchestrator
	Identify  ratelimit.IdentityFunc
}

func NewServer(cfg *config.Config, svcs Services, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    chi.NewRouter(),
		limiter:   svcs.Limiter,
		guard:     svcs.Guard,
		blocklist: svcs.Blocklist,
		moderator: svcs.Moderator,
		fraud:     svcs.Fraud,
		trail:     svcs.Trail,
		keys:      svcs.Keys,
		incidents: svcs.Incidents,
		identify:  svcs.Identify,
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestLogger)
	s.router.Use(SecurityHeaders(s.cfg.Server))
	s.router.Use(CORS(s.cfg.Server.AllowedOrigins))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	limited := func(class string) func(http.Handler) http.Handler {
		return ratelimit.Middleware(s.limiter, s.guard, s.blocklist, class, s.identify)
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.With(limited("api")).Post("/moderate", s.handleModerate)
		r.With(limited("api")).Post("/fraud/analyze", s.handleFraudAnalyze)
		r.With(limited("api")).Post("/fraud/sessions", s.handleFraudSession)
		r.With(limited("api")).Get("/fraud/events/{userID}", s.handleFraudEvents)

		r.With(limited("stream_create")).Post("/sign", s.handleSignURL)
		r.With(limited("api")).Post("/validate", s.handleValidateURL)

		r.Route("/keys", func(r chi.Router) {
			r.Use(limited("api"))
			r.Post("/rotate", s.handleRotateKeys)
			r.Post("/emergency-rotate", s.handleEmergencyRotate)
			r.Get("/active", s.handleActiveKeys)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Use(limited("api"))
			r.Get("/events", s.handleAuditEvents)
			r.Post("/reports", s.handleGenerateReport)
			r.Get("/reports/{id}", s.handleGetReport)
			r.Get("/violations", s.handleViolations)
		})

		r.Route("/compliance", func(r chi.Router) {
			r.Use(limited("api"))
			r.Get("/export/{userID}", s.handleExportUserData)
			r.Delete("/users/{userID}", s.handleDeleteUserData)
		})

		r.Route("/incidents", func(r chi.Router) {
			r.Use(limited("api"))
			r.Post("/", s.handleDetectIncident)
			r.Get("/", s.handleListIncidents)
			r.Get("/{id}", s.handleGetIncident)
			r.Patch("/{id}/status", s.handleIncidentStatus)
			r.Post("/{id}/actions", s.handleIncidentAction)
		})
	})
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
}
