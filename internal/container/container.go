package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-engine/internal/application/dispatcher"
	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/infrastructure/fanout"
	"github.com/garyjia/invoice-engine/internal/infrastructure/metrics"
	"github.com/garyjia/invoice-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-engine/internal/infrastructure/worker"
	httpserver "github.com/garyjia/invoice-engine/internal/interfaces/http"
	"github.com/garyjia/invoice-engine/internal/webhook"
	"github.com/garyjia/invoice-engine/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Initialization is ordered; teardown runs in reverse.
type Container struct {
	config *Config
	logger *zap.Logger
	clock  func() time.Time

	// Infrastructure - Data
	database     *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - Observability
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// Application
	dispatcher dispatcher.Dispatcher
	hub        *fanout.Hub
	sender     port.InvoiceSender
	services   *ServiceBundle

	// Interfaces
	server *httpserver.Server

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// Option configures a Container
type Option func(*Container)

// WithClock replaces the wall clock, for tests
func WithClock(clock func() time.Time) Option {
	return func(c *Container) {
		c.clock = clock
	}
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config: cfg,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components. Workers are built but not started;
// run them with Workers().Run. Components are initialized in order:
// 1. Database and repositories
// 2. Metrics registry
// 3. Dispatcher and fan-out hub
// 4. Application services and schedule runner
// 5. Workers
// 6. HTTP server
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("path", c.config.Database.Path))

	c.registry = prometheus.NewRegistry()
	c.metrics = ProvideMetrics(&c.config.Metrics, c.registry)

	c.dispatcher = ProvideDispatcher(c.logger)
	c.hub = ProvideHub(&c.config.Fanout, c.dispatcher, c.metrics, c.logger)
	c.logger.Info("Dispatcher and fan-out hub initialized")

	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized", zap.Int("count", c.workers.GetWorkerCount()))

	c.initServer()

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.database = bundle.DB
	c.db = bundle.TransactionMgr
	c.repositories = ProvideRepositories(bundle.DB, c.logger)
	return nil
}

func (c *Container) initServices() error {
	c.sender = ProvideSender(&c.config.Delivery, &c.config.Invoice, c.logger)

	services, err := ProvideServices(&ServiceDeps{
		Repos:      c.repositories,
		TxManager:  c.db,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Invoice:    &c.config.Invoice,
		Scheduler:  &c.config.Scheduler,
		Clock:      c.clock,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Repos:     c.repositories,
		Runner:    c.services.Runner,
		Sender:    c.sender,
		Metrics:   c.metrics,
		Scheduler: &c.config.Scheduler,
		Delivery:  &c.config.Delivery,
		Clock:     c.clock,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers
	return nil
}

func (c *Container) initServer() {
	c.server = httpserver.NewServer(httpserver.ServerConfig{
		Host:            c.config.Server.Host,
		Port:            c.config.Server.Port,
		ReadTimeout:     c.config.Server.ReadTimeout,
		ShutdownTimeout: c.config.Server.ShutdownTimeout,
		Tokens:          c.config.Auth.Tokens,
	}, httpserver.Dependencies{
		Invoices:       c.services.Invoices,
		Payments:       c.services.Payments,
		Schedules:      c.services.Schedules,
		Clients:        c.services.Clients,
		Hub:            c.hub,
		Verifier:       webhook.NewVerifier(c.config.Gateway.WebhookSecret, c.logger),
		WebhookMetrics: c.metrics,
		Gatherer:       c.registry,
		Clock:          c.clock,
	}, &zapLoggerAdapter{logger: c.logger})

	if c.config.Gateway.WebhookSecret == "" {
		c.logger.Warn("No gateway webhook secret configured, gateway callbacks will be rejected")
	}
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.workers != nil && c.workers.IsRunning() {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.hub != nil {
		c.hub.Close()
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.database != nil {
		if err := c.database.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.logger.Info("Container closed successfully")
	return nil
}

// IsReady returns true once Start has completed.
func (c *Container) IsReady() bool {
	return c.ready.Load()
}

// Health reports the state of the database and the stream hub.
func (c *Container) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	if c.database == nil {
		status.Components["database"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	} else if err := c.database.PingContext(ctx); err != nil {
		status.Components["database"] = ComponentHealth{Healthy: false, Message: err.Error()}
		status.Overall = false
	} else {
		status.Components["database"] = ComponentHealth{Healthy: true}
	}

	if c.workers != nil {
		status.Components["workers"] = ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("%d registered", c.workers.GetWorkerCount()),
		}
	}
	if c.hub != nil {
		status.Components["fanout"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("%d connections", c.hub.Count()),
		}
	}
	return status
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Hub returns the fan-out hub.
func (c *Container) Hub() *fanout.Hub {
	return c.hub
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Server returns the HTTP server.
func (c *Container) Server() *httpserver.Server {
	return c.server
}

// Registry returns the prometheus registry behind /metrics.
func (c *Container) Registry() *prometheus.Registry {
	return c.registry
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Client   port.ClientRepository
	Invoice  port.InvoiceRepository
	Payment  port.PaymentRepository
	Schedule port.ScheduleRepository
	History  port.HistoryRepository
	Delivery port.DeliveryRepository
}

// zapLoggerAdapter adapts zap.Logger to the Info/Error logger interfaces of
// the application and interface layers.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
