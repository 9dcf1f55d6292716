package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/dispatcher"
	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/domain/event"
	domainwf "github.com/garyjia/invoice-engine/internal/domain/workflow"
)

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	invoiceRepo port.InvoiceRepository
	historyRepo port.HistoryRepository
	txManager   port.TransactionManager
	publisher   dispatcher.Publisher
	now         func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithPublisher sets where status change events go
func WithPublisher(p dispatcher.Publisher) EngineOption {
	return func(e *engineImpl) {
		e.publisher = p
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	invoiceRepo port.InvoiceRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		invoiceRepo: invoiceRepo,
		historyRepo: historyRepo,
		txManager:   txManager,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) CanFire(inv *entity.Invoice, trigger InvoiceTrigger) bool {
	return BuildInvoiceStateMachine(inv).CanFire(trigger)
}

func (e *engineImpl) Apply(ctx context.Context, inv *entity.Invoice, trigger InvoiceTrigger, actor, detail string) (Transition, error) {
	machine := BuildInvoiceStateMachine(inv)
	from := machine.State()

	if trigger == TriggerExpire {
		// OVERDUE is derived on read and never stored
		return Transition{}, fmt.Errorf("%w: %s is not persisted", entity.ErrInvalidTransition, trigger)
	}

	if err := machine.Fire(ctx, trigger); err != nil {
		if trigger == TriggerSend && errors.Is(err, domainwf.ErrGuardFailed) {
			if reason := SendReadiness(inv); reason != nil {
				return Transition{}, fmt.Errorf("cannot send invoice %d: %w", inv.ID, reason)
			}
		}
		return Transition{}, fmt.Errorf("%w: %s from %s", entity.ErrInvalidTransition, trigger, from)
	}

	to := machine.State()
	now := e.now().UTC()
	inv.Status = to
	stamp(inv, to, now)

	if err := e.invoiceRepo.Update(ctx, inv); err != nil {
		return Transition{}, fmt.Errorf("failed to update invoice status: %w", err)
	}

	action := entity.HistoryActionStatusChanged
	if trigger == TriggerReopen {
		action = entity.HistoryActionReopened
	}
	if detail == "" {
		detail = trigger.String()
	}
	if actor == "" {
		actor = entity.ActorSystem
	}

	history := &entity.InvoiceHistory{
		InvoiceID:  inv.ID,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Detail:     detail,
		CreatedAt:  now,
	}
	if err := e.historyRepo.Create(ctx, history); err != nil {
		return Transition{}, fmt.Errorf("failed to create history record: %w", err)
	}

	return Transition{From: from, To: to, Trigger: trigger}, nil
}

func (e *engineImpl) Transition(ctx context.Context, invoiceID int64, trigger InvoiceTrigger, actor, detail string) (*entity.Invoice, error) {
	var (
		inv *entity.Invoice
		tr  Transition
	)

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		inv, err = e.invoiceRepo.GetByID(txCtx, invoiceID)
		if err != nil {
			return err
		}
		tr, err = e.Apply(txCtx, inv, trigger, actor, detail)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.publishTransition(ctx, inv, tr)
	return inv, nil
}

// publishTransition emits invoice.status_changed for an applied transition
func (e *engineImpl) publishTransition(ctx context.Context, inv *entity.Invoice, tr Transition) {
	if e.publisher == nil || !tr.Changed() {
		return
	}
	e.publisher.Publish(ctx, StatusChangedEvent(inv))
}

// StatusChangedEvent builds the notification for inv's current status
func StatusChangedEvent(inv *entity.Invoice) *event.Event {
	return event.NewEvent(event.TypeInvoiceStatusChanged, inv.ID).
		WithInvoice(inv.ID).
		WithStatus(inv.Status.String())
}

// stamp records when the invoice entered a status
func stamp(inv *entity.Invoice, to entity.InvoiceStatus, now time.Time) {
	switch to {
	case entity.InvoiceStatusSent:
		if inv.SentAt == nil {
			inv.SentAt = &now
		}
		inv.PaidAt = nil
	case entity.InvoiceStatusViewed:
		if inv.ViewedAt == nil {
			inv.ViewedAt = &now
		}
	case entity.InvoiceStatusPaid:
		inv.PaidAt = &now
	case entity.InvoiceStatusPartiallyPaid:
		inv.PaidAt = nil
	case entity.InvoiceStatusCancelled:
		inv.CancelledAt = &now
	case entity.InvoiceStatusDraft:
		inv.SentAt = nil
		inv.ViewedAt = nil
	}
}

var _ Engine = (*engineImpl)(nil)
