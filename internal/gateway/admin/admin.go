// Package admin implements the operational HTTP surface: health probes,
// Prometheus metrics, conversation statistics, and a manual retention sweep.
// It is meant to listen on an internal address behind the deployment's
// network boundary; TLS and auth are expected via reverse proxy.
package admin

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkaninda/mioo/internal/history"
	"github.com/jkaninda/mioo/internal/janitor"
	"github.com/jkaninda/mioo/internal/observability"
)

// Config configures the admin server.
type Config struct {
	ListenAddr string // e.g., ":8080"
	EnableDocs bool

	MetricsRegistry *prometheus.Registry         // Custom Prometheus registry for /metrics.
	MetricsPath     string                       // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker // Health checker for /readyz.
}

// Server is the admin HTTP server.
type Server struct {
	config  Config
	store   history.Store
	janitor *janitor.Janitor // nil = manual sweep disabled
	logger  *slog.Logger
	okapi   *okapi.Okapi
	server  *http.Server
}

// NewServer creates an admin server. janitor may be nil.
func NewServer(cfg Config, store history.Store, j *janitor.Janitor, logger *slog.Logger) *Server {
	return &Server{
		config:  cfg,
		store:   store,
		janitor: j,
		logger:  logger,
		okapi:   okapi.New(),
	}
}

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	v1 := s.okapi.Group("/v1")

	v1.Get("/conversations", s.handleConversations,
		okapi.DocSummary("List tracked conversations and their activity"),
		okapi.DocTags("Conversations"),
		okapi.DocResponse([]ConversationResponse{}),
		okapi.DocResponse(http.StatusInternalServerError, ErrorBody{}),
	)

	if s.janitor != nil {
		v1.Post("/retention/sweep", s.handleSweep,
			okapi.DocSummary("Run the retention sweep now"),
			okapi.DocTags("Retention"),
			okapi.DocResponse(SweepResponse{}),
			okapi.DocResponse(http.StatusInternalServerError, ErrorBody{}),
		)
	}

	// Observability endpoints.
	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)

	if s.config.MetricsRegistry != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.okapi.HandleStd("GET", path, promhttp.HandlerFor(s.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if s.config.EnableDocs {
		s.okapi.WithOpenAPIDocs(okapi.OpenAPI{
			Title:   "Mioo Admin",
			Version: "v0.0.1",
		})
	}

	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("admin server starting", slog.String("addr", s.config.ListenAddr))

	return s.okapi.StartServer(s.server)
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(_ context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("admin server stopping")
	return s.okapi.Shutdown(s.server)
}

// --- Handlers ---

// ConversationResponse describes one tracked conversation.
type ConversationResponse struct {
	ChatID       int64     `json:"chat_id"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
}

func (s *Server) handleConversations(c *okapi.Context) error {
	convs, err := s.store.Conversations(c.Context())
	if err != nil {
		s.logger.Error("listing conversations failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing conversations failed")
	}

	resp := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		resp = append(resp, ConversationResponse{
			ChatID:       conv.ChatID,
			MessageCount: conv.MessageCount,
			LastActivity: conv.LastActivity,
		})
	}
	return c.OK(resp)
}

// SweepResponse is the JSON response for POST /v1/retention/sweep.
type SweepResponse struct {
	Pruned int `json:"pruned"`
}

func (s *Server) handleSweep(c *okapi.Context) error {
	pruned, err := s.janitor.Sweep(c.Context())
	if err != nil {
		return c.AbortInternalServerError("retention sweep failed")
	}
	return c.OK(SweepResponse{Pruned: pruned})
}

// HealthResponse is the JSON response for the health probes.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (s *Server) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (s *Server) handleReadiness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := s.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
