// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/invoice-engine/internal/application/service"
	"github.com/garyjia/invoice-engine/internal/infrastructure/fanout"
	"github.com/garyjia/invoice-engine/internal/webhook"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration. There is no write timeout:
// event streams stay open indefinitely.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	// Tokens maps bearer tokens to session ids. Empty disables auth.
	Tokens map[string]string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Dependencies are the collaborators the handlers call into
type Dependencies struct {
	Invoices       service.InvoiceService
	Payments       service.PaymentService
	Schedules      service.ScheduleService
	Clients        service.ClientService
	Hub            *fanout.Hub
	Verifier       *webhook.Verifier
	WebhookMetrics WebhookMetrics
	// Gatherer backs /metrics; nil means prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
	Clock    func() time.Time
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	deps       Dependencies
	httpServer *http.Server
	router     *gin.Engine
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	server := &Server{
		config: config,
		deps:   deps,
		router: gin.New(),
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	if len(config.Tokens) == 0 {
		logger.Info("No API tokens configured, requests run as the anonymous session")
	}
	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.deps, s.logger)

	s.router.GET("/health", handlers.HealthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	s.router.GET("/public/invoices/:shareId", handlers.PublicInvoice)

	api := s.router.Group("/api/v1")

	// authenticated by signature, not token
	api.POST("/webhooks/gateway", handlers.GatewayWebhook)

	authed := api.Group("", authMiddleware(s.config.Tokens))
	{
		authed.POST("/clients", handlers.CreateClient)
		authed.GET("/clients/:id", handlers.GetClient)
		authed.PUT("/clients/:id", handlers.UpdateClient)

		authed.POST("/invoices", handlers.CreateInvoice)
		authed.GET("/invoices", handlers.ListInvoices)
		authed.GET("/invoices/:id", handlers.GetInvoice)
		authed.PUT("/invoices/:id/items", handlers.UpdateInvoice)
		authed.POST("/invoices/:id/send", handlers.SendInvoice)
		authed.POST("/invoices/:id/reopen", handlers.ReopenInvoice)
		authed.POST("/invoices/:id/cancel", handlers.CancelInvoice)
		authed.DELETE("/invoices/:id", handlers.DeleteInvoice)
		authed.POST("/invoices/:id/share", handlers.EnableShare)
		authed.DELETE("/invoices/:id/share", handlers.DisableShare)
		authed.GET("/invoices/:id/history", handlers.InvoiceHistory)

		authed.POST("/invoices/:id/payments", handlers.RecordPayment)
		authed.GET("/invoices/:id/payments", handlers.ListPayments)
		authed.POST("/payments/:id/refund", handlers.RefundPayment)

		authed.POST("/schedules", handlers.CreateSchedule)
		authed.GET("/schedules", handlers.ListSchedules)
		authed.GET("/schedules/:id", handlers.GetSchedule)
		authed.PUT("/schedules/:id", handlers.UpdateSchedule)
		authed.POST("/schedules/:id/pause", handlers.PauseSchedule)
		authed.POST("/schedules/:id/resume", handlers.ResumeSchedule)
		authed.POST("/schedules/:id/cancel", handlers.CancelSchedule)
		authed.POST("/schedules/:id/run", handlers.RunSchedule)
		authed.GET("/schedules/:id/preview", handlers.PreviewSchedule)

		authed.GET("/events", handlers.StreamEvents)
		authed.GET("/events/ws", handlers.StreamEventsWS)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server. The hub is closed first so open
// event streams return and do not hold up the shutdown.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
