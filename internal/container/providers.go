package container

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-engine/internal/application/dispatcher"
	"github.com/garyjia/invoice-engine/internal/application/locker"
	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/application/scheduler"
	"github.com/garyjia/invoice-engine/internal/application/service"
	"github.com/garyjia/invoice-engine/internal/application/workflow"
	"github.com/garyjia/invoice-engine/internal/infrastructure/external/email"
	"github.com/garyjia/invoice-engine/internal/infrastructure/fanout"
	"github.com/garyjia/invoice-engine/internal/infrastructure/metrics"
	"github.com/garyjia/invoice-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/invoice-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-engine/internal/infrastructure/worker"
	"github.com/garyjia/invoice-engine/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the database and applies pending migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunEmbedded(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories over one connection pool.
func ProvideRepositories(db *database.DB, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Client:   repository.NewClientRepository(db.DB, logger),
		Invoice:  repository.NewInvoiceRepository(db.DB, logger),
		Payment:  repository.NewPaymentRepository(db.DB, logger),
		Schedule: repository.NewScheduleRepository(db.DB, logger),
		History:  repository.NewHistoryRepository(db.DB, logger),
		Delivery: repository.NewDeliveryRepository(db.DB, logger),
	}
}

// ProvideMetrics registers the billing collectors.
func ProvideMetrics(cfg *MetricsConfig, registerer prometheus.Registerer) *metrics.Metrics {
	return metrics.New(registerer, metrics.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	})
}

// ProvideDispatcher creates the change bus. Publishing is synchronous: the
// only heavy subscriber is the hub, whose Publish never blocks.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}))
}

// ProvideHub creates the fan-out hub and subscribes it to the dispatcher.
func ProvideHub(cfg *FanoutConfig, disp dispatcher.Dispatcher, m fanout.Metrics, logger *zap.Logger) *fanout.Hub {
	hub := fanout.NewHub(fanout.Config{
		QueueSize:     cfg.QueueSize,
		Heartbeat:     cfg.Heartbeat,
		MaxPerSession: cfg.MaxPerSession,
	}, m, logger)
	hub.Attach(disp)
	return hub
}

// ServiceDeps holds dependencies for creating application services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.Metrics
	Invoice    *InvoiceConfig
	Scheduler  *SchedulerConfig
	Clock      func() time.Time
	Logger     *zap.Logger
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Invoices  service.InvoiceService
	Payments  service.PaymentService
	Schedules service.ScheduleService
	Clients   service.ClientService
	Runner    *scheduler.Runner
}

// ProvideServices creates the workflow engine, the services and the
// schedule runner. Invoice and payment services share one lock table.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}

	log := &zapLoggerAdapter{logger: deps.Logger}
	repos := deps.Repos
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	clock := service.Clock(deps.Clock)

	engine := workflow.NewEngine(repos.Invoice, repos.History, deps.TxManager,
		workflow.WithPublisher(deps.Dispatcher),
		workflow.WithClock(deps.Clock))
	locks := locker.New[int64]()

	invoices := service.NewInvoiceService(
		repos.Invoice, repos.Payment, repos.History, repos.Client, repos.Delivery,
		deps.TxManager, engine, locks, deps.Dispatcher,
		service.InvoiceConfig{
			NumberPrefix:    deps.Invoice.NumberPrefix,
			DefaultCurrency: deps.Invoice.DefaultCurrency,
			DefaultDueDays:  deps.Invoice.DefaultDueDays,
			Clock:           clock,
		},
		log,
	)

	payments := service.NewPaymentService(
		repos.Invoice, repos.Payment, repos.History,
		deps.TxManager, engine, locks, deps.Dispatcher, clock, log,
	)

	runner := scheduler.NewRunner(
		repos.Schedule, repos.Invoice, repos.History, deps.TxManager,
		scheduler.Config{
			RunnerID:     deps.Scheduler.RunnerID,
			Lease:        deps.Scheduler.Lease,
			BatchSize:    deps.Scheduler.BatchSize,
			NumberPrefix: deps.Invoice.NumberPrefix,
			Clock:        deps.Clock,
		},
		log,
		scheduler.WithSender(invoices),
		scheduler.WithPublisher(deps.Dispatcher),
		scheduler.WithMetrics(deps.Metrics),
	)

	schedules := service.NewScheduleService(
		repos.Schedule, repos.Client, deps.TxManager, runner, deps.Dispatcher,
		deps.Invoice.DefaultCurrency, clock, log,
	)

	clients := service.NewClientService(repos.Client, deps.Dispatcher, clock, log)

	return &ServiceBundle{
		Invoices:  invoices,
		Payments:  payments,
		Schedules: schedules,
		Clients:   clients,
		Runner:    runner,
	}, nil
}

// WorkerDeps holds dependencies for creating background workers.
type WorkerDeps struct {
	Repos     *RepositoryBundle
	Runner    worker.DueRunner
	Sender    port.InvoiceSender
	Metrics   *metrics.Metrics
	Scheduler *SchedulerConfig
	Delivery  *DeliveryConfig
	Clock     func() time.Time
	Logger    *zap.Logger
}

// ProvideWorkers creates the recurring and delivery workers and registers
// them with a manager. The workers are not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	manager.Register(worker.NewRecurringWorker(worker.RecurringWorkerConfig{
		Interval:   deps.Scheduler.Interval,
		RunTimeout: deps.Scheduler.RunTimeout,
		Clock:      deps.Clock,
	}, deps.Runner, deps.Logger))

	manager.Register(worker.NewDeliveryWorker(worker.DeliveryWorkerConfig{
		PollInterval: deps.Delivery.PollInterval,
		BatchSize:    deps.Delivery.BatchSize,
		MaxAttempts:  deps.Delivery.MaxAttempts,
		BaseBackoff:  deps.Delivery.BaseBackoff,
		MaxBackoff:   deps.Delivery.MaxBackoff,
		Clock:        deps.Clock,
	},
		deps.Repos.Delivery, deps.Repos.Invoice, deps.Repos.Client, deps.Repos.History,
		deps.Sender, deps.Metrics, deps.Logger,
	))

	return manager, nil
}

// ProvideSender creates the outbound invoice sender. Messages are logged;
// a mail transport can be plugged in through email.Transport.
func ProvideSender(delivery *DeliveryConfig, invoice *InvoiceConfig, logger *zap.Logger) port.InvoiceSender {
	return email.NewSender(email.Config{
		From:          delivery.From,
		PublicBaseURL: invoice.PublicBaseURL,
	}, nil, logger)
}
