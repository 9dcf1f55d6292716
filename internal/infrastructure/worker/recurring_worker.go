package worker

import (
	"context"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/scheduler"
	"go.uber.org/zap"
)

// DueRunner generates invoices for every schedule due at now
type DueRunner interface {
	RunDue(ctx context.Context, now time.Time) (scheduler.Summary, error)
}

// RecurringWorkerConfig holds configuration for the recurring worker
type RecurringWorkerConfig struct {
	Interval   time.Duration
	RunTimeout time.Duration
	Clock      func() time.Time
}

// DefaultRecurringWorkerConfig returns default configuration
func DefaultRecurringWorkerConfig() RecurringWorkerConfig {
	return RecurringWorkerConfig{
		Interval:   time.Minute,
		RunTimeout: 2 * time.Minute,
		Clock:      time.Now,
	}
}

// RecurringWorker drives the schedule runner on a ticker
type RecurringWorker struct {
	poller
	config RecurringWorkerConfig
	runner DueRunner
}

// NewRecurringWorker creates a new recurring worker
func NewRecurringWorker(config RecurringWorkerConfig, runner DueRunner, logger *zap.Logger) *RecurringWorker {
	defaults := DefaultRecurringWorkerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}

	w := &RecurringWorker{
		config: config,
		runner: runner,
	}
	w.poller = poller{
		name:     w.Name(),
		interval: config.Interval,
		tick:     w.runDue,
		logger:   logger,
	}
	return w
}

// Start begins the ticker loop; the first pass runs immediately
func (w *RecurringWorker) Start(ctx context.Context) error {
	return w.start(ctx)
}

// Stop gracefully terminates the worker
func (w *RecurringWorker) Stop() error {
	return w.stop()
}

// Name returns the worker name for identification
func (w *RecurringWorker) Name() string {
	return "RecurringWorker"
}

// Status returns the worker counters
func (w *RecurringWorker) Status() Status {
	return w.status()
}

func (w *RecurringWorker) runDue(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, w.config.RunTimeout)
	defer cancel()

	_, err := w.runner.RunDue(runCtx, w.config.Clock())
	return err
}
