// Package scheduler turns due recurring schedules into invoices.
//
// A run claims schedules with a time-boxed lease, then generates each invoice
// and advances its schedule in one transaction. The unique
// (schedule, occurrence) key on invoices makes a replayed run harmless.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/dispatcher"
	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/domain/event"
	"github.com/garyjia/invoice-engine/internal/domain/money"
	"github.com/garyjia/invoice-engine/internal/domain/recurrence"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Run results, used as metric labels
const (
	ResultGenerated = "generated"
	ResultReplayed  = "replayed"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

var (
	errNotDue    = errors.New("schedule is not due")
	errLostClaim = errors.New("schedule claim lost")
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// InvoiceSender moves a generated DRAFT invoice to SENT and queues delivery
type InvoiceSender interface {
	Send(ctx context.Context, invoiceID int64, actor string) (*entity.Invoice, error)
}

// Metrics receives run outcomes
type Metrics interface {
	ScheduleRun(result string)
	InvoiceGenerated()
}

type noopMetrics struct{}

func (noopMetrics) ScheduleRun(string) {}
func (noopMetrics) InvoiceGenerated()  {}

// Config tunes a Runner
type Config struct {
	// RunnerID names this process in claim columns. Random when empty.
	RunnerID     string
	Lease        time.Duration
	BatchSize    int
	NumberPrefix string
	Clock        func() time.Time
}

// Summary counts the outcomes of one RunDue pass
type Summary struct {
	Claimed   int
	Generated int
	Replayed  int
	Skipped   int
	Failed    int
}

// Runner generates invoices from due schedules
type Runner struct {
	scheduleRepo port.ScheduleRepository
	invoiceRepo  port.InvoiceRepository
	historyRepo  port.HistoryRepository
	txManager    port.TransactionManager
	sender       InvoiceSender
	publisher    dispatcher.Publisher
	metrics      Metrics
	cfg          Config
	logger       Logger
}

// Option configures a Runner
type Option func(*Runner)

// WithSender enables auto-send for schedules that ask for it
func WithSender(sender InvoiceSender) Option {
	return func(r *Runner) {
		r.sender = sender
	}
}

// WithPublisher sets where run events go
func WithPublisher(p dispatcher.Publisher) Option {
	return func(r *Runner) {
		r.publisher = p
	}
}

// WithMetrics sets the run outcome sink
func WithMetrics(m Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner creates a Runner
func NewRunner(
	scheduleRepo port.ScheduleRepository,
	invoiceRepo port.InvoiceRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	cfg Config,
	logger Logger,
	opts ...Option,
) *Runner {
	if cfg.RunnerID == "" {
		cfg.RunnerID = "runner-" + uuid.NewString()
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.NumberPrefix == "" {
		cfg.NumberPrefix = "INV-"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	r := &Runner{
		scheduleRepo: scheduleRepo,
		invoiceRepo:  invoiceRepo,
		historyRepo:  historyRepo,
		txManager:    txManager,
		metrics:      noopMetrics{},
		cfg:          cfg,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunnerID returns the owner name this runner claims schedules with
func (r *Runner) RunnerID() string {
	return r.cfg.RunnerID
}

// RunDue generates one invoice for every schedule due at now. Per-schedule
// failures are logged and counted; the schedule is retried on a later pass.
func (r *Runner) RunDue(ctx context.Context, now time.Time) (Summary, error) {
	now = now.UTC()
	var summary Summary

	claimed, err := r.scheduleRepo.ClaimDue(ctx, r.cfg.RunnerID, now, now.Add(r.cfg.Lease), r.cfg.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("claim due schedules: %w", err)
	}
	summary.Claimed = len(claimed)

	for _, sched := range claimed {
		if err := ctx.Err(); err != nil {
			r.release(sched.ID)
			continue
		}

		_, result, err := r.run(ctx, sched.ID, now, true)
		switch result {
		case ResultGenerated:
			summary.Generated++
		case ResultReplayed:
			summary.Replayed++
		case ResultSkipped:
			summary.Skipped++
		default:
			summary.Failed++
			r.logger.Error("Schedule run failed", "error", err, "schedule_id", sched.ID)
		}
	}

	if summary.Claimed > 0 {
		r.logger.Info("Scheduler pass finished",
			"claimed", summary.Claimed,
			"generated", summary.Generated,
			"replayed", summary.Replayed,
			"skipped", summary.Skipped,
			"failed", summary.Failed)
	}
	return summary, ctx.Err()
}

// RunNow generates the next occurrence of one schedule without waiting for
// its due time
func (r *Runner) RunNow(ctx context.Context, scheduleID int64) (*entity.Invoice, error) {
	now := r.cfg.Clock().UTC()

	sched, err := r.scheduleRepo.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := runnable(sched); err != nil {
		return nil, err
	}

	ok, err := r.scheduleRepo.Claim(ctx, scheduleID, r.cfg.RunnerID, now, now.Add(r.cfg.Lease))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("schedule %d is being run elsewhere: %w", scheduleID, entity.ErrConflict)
	}

	inv, result, err := r.run(ctx, scheduleID, now, false)
	switch result {
	case ResultFailed:
		return nil, err
	case ResultSkipped:
		return nil, fmt.Errorf("schedule %d claim lost: %w", scheduleID, entity.ErrConflict)
	}
	return inv, nil
}

func runnable(sched *entity.RecurringSchedule) error {
	if sched.Status != entity.ScheduleStatusActive {
		return fmt.Errorf("schedule %d is %s: %w", sched.ID, sched.Status, entity.ErrScheduleNotActive)
	}
	if sched.Exhausted || sched.NextRunAt == nil {
		return fmt.Errorf("schedule %d: %w", sched.ID, entity.ErrScheduleExhausted)
	}
	return nil
}

// run generates and commits one occurrence of a schedule this runner holds
func (r *Runner) run(ctx context.Context, scheduleID int64, now time.Time, requireDue bool) (*entity.Invoice, string, error) {
	var (
		sched    *entity.RecurringSchedule
		inv      *entity.Invoice
		replayed bool
	)

	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		sched, err = r.scheduleRepo.GetByID(txCtx, scheduleID)
		if err != nil {
			return err
		}
		if sched.ClaimedBy != r.cfg.RunnerID {
			return errLostClaim
		}
		if err := runnable(sched); err != nil {
			return err
		}
		if requireDue && !sched.IsDue(now) {
			return errNotDue
		}

		occurrence := sched.OccurrencesGenerated + 1
		inv, err = buildInvoice(sched, occurrence, now)
		if err != nil {
			return fmt.Errorf("build invoice: %w", err)
		}

		err = r.invoiceRepo.Create(txCtx, inv)
		switch {
		case errors.Is(err, entity.ErrDuplicateOccurrence):
			replayed = true
			inv, err = r.invoiceRepo.GetByScheduleOccurrence(txCtx, scheduleID, occurrence)
			if err != nil {
				return fmt.Errorf("load replayed occurrence: %w", err)
			}
		case err != nil:
			return fmt.Errorf("create invoice: %w", err)
		default:
			inv.Number = entity.FormatInvoiceNumber(r.cfg.NumberPrefix, inv.ID)
			if err := r.invoiceRepo.SetNumber(txCtx, inv.ID, inv.Number); err != nil {
				return fmt.Errorf("assign invoice number: %w", err)
			}
			if err := r.historyRepo.Create(txCtx, &entity.InvoiceHistory{
				InvoiceID: inv.ID,
				Action:    entity.HistoryActionGenerated,
				ToStatus:  entity.InvoiceStatusDraft,
				Actor:     entity.ActorScheduler,
				Detail:    fmt.Sprintf("schedule %d occurrence %d", scheduleID, occurrence),
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}

		advance(sched, occurrence, now)
		return r.scheduleRepo.Advance(txCtx, sched, r.cfg.RunnerID)
	})

	switch {
	case err == nil:
	case errors.Is(err, errNotDue), errors.Is(err, errLostClaim),
		requireDue && errors.Is(err, entity.ErrConflict):
		// paused, cancelled or taken over since the claim
		r.release(scheduleID)
		r.metrics.ScheduleRun(ResultSkipped)
		return nil, ResultSkipped, nil
	default:
		r.release(scheduleID)
		r.metrics.ScheduleRun(ResultFailed)
		return nil, ResultFailed, err
	}

	if replayed {
		r.logger.Info("Schedule occurrence already generated",
			"schedule_id", scheduleID,
			"occurrence", sched.OccurrencesGenerated,
			"invoice_id", inv.ID)
		r.metrics.ScheduleRun(ResultReplayed)
		r.publish(ctx, event.NewEvent(event.TypeScheduleRun, scheduleID).WithInvoice(inv.ID))
		return inv, ResultReplayed, nil
	}

	r.logger.Info("Invoice generated from schedule",
		"schedule_id", scheduleID,
		"occurrence", sched.OccurrencesGenerated,
		"invoice_id", inv.ID,
		"exhausted", sched.Exhausted)
	r.metrics.ScheduleRun(ResultGenerated)
	r.metrics.InvoiceGenerated()
	r.publish(ctx,
		event.NewEvent(event.TypeInvoiceCreated, inv.ID).WithInvoice(inv.ID).WithStatus(inv.Status.String()),
		event.NewEvent(event.TypeScheduleRun, scheduleID).WithInvoice(inv.ID))

	if sched.AutoSend && r.sender != nil {
		sent, err := r.sender.Send(ctx, inv.ID, entity.ActorScheduler)
		if err != nil {
			// the invoice stays DRAFT and is visible to users
			r.logger.Error("Auto-send failed", "error", err, "invoice_id", inv.ID, "schedule_id", scheduleID)
		} else {
			inv = sent
		}
	}
	return inv, ResultGenerated, nil
}

// advance records a run at now. A schedule with no further occurrence stays
// ACTIVE but exhausted.
func advance(sched *entity.RecurringSchedule, occurrence int, now time.Time) {
	sched.OccurrencesGenerated = occurrence
	sched.LastRunAt = &now
	sched.NextRunAt = recurrence.Next(sched, now)
	sched.Exhausted = sched.NextRunAt == nil
	sched.UpdatedAt = now
}

// buildInvoice prices a DRAFT invoice from the schedule template
func buildInvoice(sched *entity.RecurringSchedule, occurrence int, now time.Time) (*entity.Invoice, error) {
	items := make([]entity.InvoiceItem, len(sched.Items))
	for i, item := range sched.Items {
		item.ID = 0
		item.Position = i + 1
		items[i] = item
	}

	scheduleID := sched.ID
	inv := &entity.Invoice{
		ClientID:                sched.ClientID,
		Items:                   items,
		TaxRate:                 sched.TaxRate,
		Discount:                sched.Discount,
		DiscountType:            sched.DiscountType,
		Currency:                sched.Currency,
		IssueDate:               now,
		DueDate:                 now.AddDate(0, 0, sched.DueInDays),
		PaidAmount:              decimal.Zero,
		Status:                  entity.InvoiceStatusDraft,
		GeneratedFromScheduleID: &scheduleID,
		Occurrence:              &occurrence,
		Notes:                   sched.Notes,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := money.Recalculate(inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// release gives the claim back early; an unreleased claim expires on its own
func (r *Runner) release(scheduleID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.scheduleRepo.Release(ctx, scheduleID, r.cfg.RunnerID); err != nil {
		r.logger.Error("Failed to release schedule claim", "error", err, "schedule_id", scheduleID)
	}
}

func (r *Runner) publish(ctx context.Context, events ...*event.Event) {
	if r.publisher == nil {
		return
	}
	for _, evt := range events {
		r.publisher.Publish(ctx, evt)
	}
}
