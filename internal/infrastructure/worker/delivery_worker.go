package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"go.uber.org/zap"
)

// Delivery results, used as metric labels
const (
	DeliverySent   = "sent"
	DeliveryRetry  = "retry"
	DeliveryFailed = "failed"
)

// DeliveryMetrics receives delivery outcomes
type DeliveryMetrics interface {
	Delivery(result string)
}

type noopDeliveryMetrics struct{}

func (noopDeliveryMetrics) Delivery(string) {}

// DeliveryWorkerConfig holds configuration for the delivery worker
type DeliveryWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	SendTimeout  time.Duration
	Clock        func() time.Time
}

// DefaultDeliveryWorkerConfig returns default configuration
func DefaultDeliveryWorkerConfig() DeliveryWorkerConfig {
	return DeliveryWorkerConfig{
		PollInterval: 10 * time.Second,
		BatchSize:    20,
		MaxAttempts:  5,
		BaseBackoff:  30 * time.Second,
		MaxBackoff:   time.Hour,
		SendTimeout:  30 * time.Second,
		Clock:        time.Now,
	}
}

// DeliveryWorker drains the invoice delivery queue through an InvoiceSender,
// retrying failed sends with exponential backoff
type DeliveryWorker struct {
	poller
	config DeliveryWorkerConfig

	deliveryRepo port.DeliveryRepository
	invoiceRepo  port.InvoiceRepository
	clientRepo   port.ClientRepository
	historyRepo  port.HistoryRepository
	sender       port.InvoiceSender
	metrics      DeliveryMetrics
}

// NewDeliveryWorker creates a new delivery worker. metrics may be nil.
func NewDeliveryWorker(
	config DeliveryWorkerConfig,
	deliveryRepo port.DeliveryRepository,
	invoiceRepo port.InvoiceRepository,
	clientRepo port.ClientRepository,
	historyRepo port.HistoryRepository,
	sender port.InvoiceSender,
	metrics DeliveryMetrics,
	logger *zap.Logger,
) *DeliveryWorker {
	defaults := DefaultDeliveryWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = defaults.BaseBackoff
	}
	if config.MaxBackoff < config.BaseBackoff {
		config.MaxBackoff = max(defaults.MaxBackoff, config.BaseBackoff)
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if metrics == nil {
		metrics = noopDeliveryMetrics{}
	}

	w := &DeliveryWorker{
		config:       config,
		deliveryRepo: deliveryRepo,
		invoiceRepo:  invoiceRepo,
		clientRepo:   clientRepo,
		historyRepo:  historyRepo,
		sender:       sender,
		metrics:      metrics,
	}
	w.poller = poller{
		name:     w.Name(),
		interval: config.PollInterval,
		tick:     w.ProcessDue,
		logger:   logger,
	}
	return w
}

// Start begins the polling loop
func (w *DeliveryWorker) Start(ctx context.Context) error {
	return w.start(ctx)
}

// Stop gracefully terminates the worker
func (w *DeliveryWorker) Stop() error {
	return w.stop()
}

// Name returns the worker name for identification
func (w *DeliveryWorker) Name() string {
	return "DeliveryWorker"
}

// Status returns the worker counters
func (w *DeliveryWorker) Status() Status {
	return w.status()
}

// ProcessDue attempts every delivery due now, up to the batch size
func (w *DeliveryWorker) ProcessDue(ctx context.Context) error {
	now := w.config.Clock().UTC()

	deliveries, err := w.deliveryRepo.ListDue(ctx, now, w.config.BatchSize)
	if err != nil {
		return fmt.Errorf("list due deliveries: %w", err)
	}

	for _, d := range deliveries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.deliver(ctx, d, now); err != nil {
			w.logger.Error("Failed to record delivery outcome",
				zap.Int64("delivery_id", d.ID),
				zap.Int64("invoice_id", d.InvoiceID),
				zap.Error(err))
		}
	}
	return nil
}

func (w *DeliveryWorker) deliver(ctx context.Context, d *entity.InvoiceDelivery, now time.Time) error {
	attempts := d.Attempts + 1

	inv, err := w.invoiceRepo.GetByID(ctx, d.InvoiceID)
	if errors.Is(err, entity.ErrInvoiceNotFound) {
		return w.fail(ctx, d, attempts, "invoice deleted")
	}
	if err != nil {
		return err
	}
	if inv.Status == entity.InvoiceStatusCancelled {
		return w.fail(ctx, d, attempts, "invoice cancelled")
	}

	client, err := w.clientRepo.GetByID(ctx, inv.ClientID)
	if err != nil {
		return w.retry(ctx, d, attempts, now, fmt.Errorf("load client: %w", err))
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.config.SendTimeout)
	err = w.sender.Send(sendCtx, inv, client)
	cancel()
	if err != nil {
		return w.retry(ctx, d, attempts, now, err)
	}

	if err := w.deliveryRepo.MarkSent(ctx, d.ID, now); err != nil {
		return err
	}
	w.metrics.Delivery(DeliverySent)
	w.logger.Info("Invoice delivered",
		zap.Int64("invoice_id", inv.ID),
		zap.String("number", inv.Number),
		zap.Int("attempts", attempts))

	return w.historyRepo.Create(ctx, &entity.InvoiceHistory{
		InvoiceID:  inv.ID,
		Action:     entity.HistoryActionDelivered,
		FromStatus: inv.Status,
		ToStatus:   inv.Status,
		Actor:      entity.ActorSystem,
		Detail:     fmt.Sprintf("delivered to %s", client.Email),
		CreatedAt:  now,
	})
}

func (w *DeliveryWorker) retry(ctx context.Context, d *entity.InvoiceDelivery, attempts int, now time.Time, cause error) error {
	if attempts >= w.config.MaxAttempts {
		return w.fail(ctx, d, attempts, cause.Error())
	}

	next := now.Add(w.Backoff(attempts))
	w.metrics.Delivery(DeliveryRetry)
	w.logger.Warn("Invoice delivery failed, will retry",
		zap.Int64("invoice_id", d.InvoiceID),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(cause))
	return w.deliveryRepo.MarkRetry(ctx, d.ID, attempts, cause.Error(), next)
}

func (w *DeliveryWorker) fail(ctx context.Context, d *entity.InvoiceDelivery, attempts int, reason string) error {
	w.metrics.Delivery(DeliveryFailed)
	w.logger.Error("Invoice delivery abandoned",
		zap.Int64("invoice_id", d.InvoiceID),
		zap.Int("attempts", attempts),
		zap.String("reason", reason))
	return w.deliveryRepo.MarkFailed(ctx, d.ID, attempts, reason)
}

// Backoff returns the wait after the given failed attempt:
// base·2^(attempts-1), capped at MaxBackoff
func (w *DeliveryWorker) Backoff(attempts int) time.Duration {
	delay := w.config.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= w.config.MaxBackoff {
			return w.config.MaxBackoff
		}
	}
	return delay
}
