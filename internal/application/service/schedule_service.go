package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/dispatcher"
	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/application/workflow"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/domain/event"
	"github.com/garyjia/invoice-engine/internal/domain/money"
	"github.com/garyjia/invoice-engine/internal/domain/recurrence"
	domainwf "github.com/garyjia/invoice-engine/internal/domain/workflow"
	"github.com/garyjia/invoice-engine/pkg/utils"
	"github.com/shopspring/decimal"
)

// MaxPreview caps how many future runs Preview returns
const MaxPreview = 50

// ScheduleInput carries the template and cadence of a schedule
type ScheduleInput struct {
	ClientID     int64
	Name         string
	Items        []entity.InvoiceItem
	TaxRate      decimal.Decimal
	Discount     decimal.Decimal
	DiscountType entity.DiscountType
	Currency     string
	DueInDays    int
	Notes        string

	Frequency      entity.Frequency
	Interval       int
	StartDate      time.Time
	EndDate        *time.Time
	MaxOccurrences *int
	AutoSend       bool
}

// ScheduleRunner generates an invoice for one schedule on demand
type ScheduleRunner interface {
	RunNow(ctx context.Context, scheduleID int64) (*entity.Invoice, error)
}

// ScheduleService manages recurring schedules
type ScheduleService interface {
	Create(ctx context.Context, input ScheduleInput) (*entity.RecurringSchedule, error)
	Get(ctx context.Context, id int64) (*entity.RecurringSchedule, error)
	List(ctx context.Context, filter entity.ScheduleFilter) ([]*entity.RecurringSchedule, error)
	// Update replaces the template and cadence. Run counters are kept.
	Update(ctx context.Context, id int64, input ScheduleInput) (*entity.RecurringSchedule, error)
	Pause(ctx context.Context, id int64) (*entity.RecurringSchedule, error)
	// Resume reactivates a paused schedule. At most one missed run fires.
	Resume(ctx context.Context, id int64) (*entity.RecurringSchedule, error)
	Cancel(ctx context.Context, id int64) (*entity.RecurringSchedule, error)
	RunNow(ctx context.Context, id int64) (*entity.Invoice, error)
	Preview(ctx context.Context, id int64, n int) ([]time.Time, error)
}

type scheduleServiceImpl struct {
	scheduleRepo port.ScheduleRepository
	clientRepo   port.ClientRepository
	txManager    port.TransactionManager
	runner       ScheduleRunner
	publisher    dispatcher.Publisher
	defaultCurr  string
	clock        Clock
	logger       Logger
}

// NewScheduleService creates a new ScheduleService
func NewScheduleService(
	scheduleRepo port.ScheduleRepository,
	clientRepo port.ClientRepository,
	txManager port.TransactionManager,
	runner ScheduleRunner,
	publisher dispatcher.Publisher,
	defaultCurrency string,
	clock Clock,
	logger Logger,
) ScheduleService {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &scheduleServiceImpl{
		scheduleRepo: scheduleRepo,
		clientRepo:   clientRepo,
		txManager:    txManager,
		runner:       runner,
		publisher:    publisher,
		defaultCurr:  defaultCurrency,
		clock:        clock,
		logger:       logger,
	}
}

func (s *scheduleServiceImpl) Create(ctx context.Context, input ScheduleInput) (*entity.RecurringSchedule, error) {
	now := s.clock.now()
	sched := &entity.RecurringSchedule{
		Status:    entity.ScheduleStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.applyInput(ctx, sched, input); err != nil {
		return nil, err
	}
	s.reschedule(sched)

	if err := s.scheduleRepo.Create(ctx, sched); err != nil {
		s.logger.Error("Failed to create schedule", "error", err, "client_id", input.ClientID)
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	s.logger.Info("Schedule created",
		"id", sched.ID,
		"frequency", string(sched.Frequency),
		"interval", sched.Interval,
		"next_run_at", sched.NextRunAt)
	publishAll(ctx, s.publisher, event.NewEvent(event.TypeScheduleCreated, sched.ID).WithStatus(sched.Status.String()))
	return sched, nil
}

// applyInput validates input and copies it onto sched
func (s *scheduleServiceImpl) applyInput(ctx context.Context, sched *entity.RecurringSchedule, input ScheduleInput) error {
	if input.ClientID > 0 {
		if _, err := s.clientRepo.GetByID(ctx, input.ClientID); err != nil {
			if errors.Is(err, entity.ErrClientNotFound) {
				return fmt.Errorf("client %d: %w", input.ClientID, entity.ErrMissingClient)
			}
			return err
		}
	}

	items, err := sanitizeItems(input.Items)
	if err != nil {
		return err
	}

	currency := input.Currency
	if currency == "" {
		currency = s.defaultCurr
	}
	currency, err = money.NormalizeCurrency(currency)
	if err != nil {
		return err
	}

	discountType := input.DiscountType
	if discountType == "" {
		discountType = entity.DiscountTypeFixed
	}
	if err := money.ValidateRates(input.TaxRate, input.Discount, discountType); err != nil {
		return err
	}

	start := input.StartDate
	if start.IsZero() {
		start = s.clock.now()
	}
	var end *time.Time
	if input.EndDate != nil {
		e := input.EndDate.UTC()
		end = &e
	}

	sched.ClientID = input.ClientID
	sched.Name = utils.SanitizeString(input.Name)
	sched.Items = items
	sched.TaxRate = input.TaxRate
	sched.Discount = input.Discount
	sched.DiscountType = discountType
	sched.Currency = currency
	sched.DueInDays = input.DueInDays
	sched.Notes = utils.SanitizeString(input.Notes)
	sched.Frequency = input.Frequency
	sched.Interval = input.Interval
	sched.StartDate = start.UTC()
	sched.EndDate = end
	sched.MaxOccurrences = input.MaxOccurrences
	sched.AutoSend = input.AutoSend

	if sched.Name == "" {
		return entity.ErrInvalidName
	}
	return sched.Validate()
}

// reschedule sets NextRunAt for an ACTIVE schedule from its run history
func (s *scheduleServiceImpl) reschedule(sched *entity.RecurringSchedule) {
	if sched.Status != entity.ScheduleStatusActive {
		sched.NextRunAt = nil
		return
	}
	sched.NextRunAt = recurrence.Upcoming(sched)
	sched.Exhausted = sched.NextRunAt == nil
}

func (s *scheduleServiceImpl) Get(ctx context.Context, id int64) (*entity.RecurringSchedule, error) {
	return s.scheduleRepo.GetByID(ctx, id)
}

func (s *scheduleServiceImpl) List(ctx context.Context, filter entity.ScheduleFilter) ([]*entity.RecurringSchedule, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("unknown status %q: %w", filter.Status, entity.ErrValidation)
	}
	return s.scheduleRepo.List(ctx, filter)
}

func (s *scheduleServiceImpl) Update(ctx context.Context, id int64, input ScheduleInput) (*entity.RecurringSchedule, error) {
	var sched *entity.RecurringSchedule
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		sched, err = s.scheduleRepo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if sched.Status.IsTerminal() {
			return fmt.Errorf("schedule %d: %w", id, entity.ErrScheduleCancelled)
		}
		if err := s.applyInput(txCtx, sched, input); err != nil {
			return err
		}
		s.reschedule(sched)
		sched.UpdatedAt = s.clock.now()
		return s.scheduleRepo.Update(txCtx, sched)
	})
	if err != nil {
		return nil, err
	}

	publishAll(ctx, s.publisher, event.NewEvent(event.TypeScheduleUpdated, id).WithStatus(sched.Status.String()))
	return sched, nil
}

func (s *scheduleServiceImpl) Pause(ctx context.Context, id int64) (*entity.RecurringSchedule, error) {
	return s.fire(ctx, id, workflow.TriggerPause)
}

func (s *scheduleServiceImpl) Resume(ctx context.Context, id int64) (*entity.RecurringSchedule, error) {
	return s.fire(ctx, id, workflow.TriggerResume)
}

func (s *scheduleServiceImpl) Cancel(ctx context.Context, id int64) (*entity.RecurringSchedule, error) {
	return s.fire(ctx, id, workflow.TriggerStop)
}

// fire applies a user status change and recomputes the next run
func (s *scheduleServiceImpl) fire(ctx context.Context, id int64, trigger workflow.ScheduleTrigger) (*entity.RecurringSchedule, error) {
	var sched *entity.RecurringSchedule
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		sched, err = s.scheduleRepo.GetByID(txCtx, id)
		if err != nil {
			return err
		}

		machine := workflow.BuildScheduleStateMachine(sched.Status)
		if err := machine.Fire(txCtx, trigger); err != nil {
			if errors.Is(err, domainwf.ErrInvalidTransition) && sched.Status.IsTerminal() {
				return fmt.Errorf("schedule %d: %w", id, entity.ErrScheduleCancelled)
			}
			return fmt.Errorf("%w: %s from %s", entity.ErrInvalidTransition, trigger, sched.Status)
		}

		sched.Status = machine.State()
		s.reschedule(sched)
		sched.UpdatedAt = s.clock.now()
		return s.scheduleRepo.Update(txCtx, sched)
	})
	if err != nil {
		s.logger.Error("Failed to change schedule status", "error", err, "id", id, "trigger", string(trigger))
		return nil, err
	}

	s.logger.Info("Schedule status changed", "id", id, "status", sched.Status.String(), "next_run_at", sched.NextRunAt)
	publishAll(ctx, s.publisher, event.NewEvent(event.TypeScheduleUpdated, id).WithStatus(sched.Status.String()))
	return sched, nil
}

func (s *scheduleServiceImpl) RunNow(ctx context.Context, id int64) (*entity.Invoice, error) {
	return s.runner.RunNow(ctx, id)
}

func (s *scheduleServiceImpl) Preview(ctx context.Context, id int64, n int) ([]time.Time, error) {
	sched, err := s.scheduleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 5
	}
	if n > MaxPreview {
		n = MaxPreview
	}
	return recurrence.Preview(sched, n), nil
}
