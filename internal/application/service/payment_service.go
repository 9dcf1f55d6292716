package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/dispatcher"
	"github.com/garyjia/invoice-engine/internal/application/locker"
	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/application/reconcile"
	"github.com/garyjia/invoice-engine/internal/application/workflow"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/domain/event"
	"github.com/garyjia/invoice-engine/pkg/utils"
	"github.com/shopspring/decimal"
)

// PaymentInput records money received against an invoice
type PaymentInput struct {
	Amount    decimal.Decimal
	Method    entity.PaymentMethod
	Reference string
	Note      string
}

// RefundInput refunds part or all of a payment. A zero Amount refunds what is
// left. Reference, when set, makes the refund idempotent.
type RefundInput struct {
	Amount    decimal.Decimal
	Reference string
	Reason    string
}

// PaymentResult is the outcome of a payment or refund. Duplicate is true
// when the request replayed an already recorded reference and changed nothing.
type PaymentResult struct {
	Payment   *entity.Payment
	Invoice   *entity.Invoice
	Duplicate bool
}

// PaymentService records payments and refunds. All work on one invoice is
// serialized through the shared invoice lock.
type PaymentService interface {
	RecordPayment(ctx context.Context, invoiceID int64, input PaymentInput, actor string) (*PaymentResult, error)
	Refund(ctx context.Context, paymentID int64, input RefundInput, actor string) (*PaymentResult, error)
	// HandleGatewayEvent applies a verified gateway callback. Replays are no-ops.
	HandleGatewayEvent(ctx context.Context, evt port.GatewayEvent) (*PaymentResult, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]*entity.Payment, error)
}

type paymentServiceImpl struct {
	invoiceRepo port.InvoiceRepository
	paymentRepo port.PaymentRepository
	historyRepo port.HistoryRepository
	txManager   port.TransactionManager
	engine      workflow.Engine
	locks       *locker.KeyedMutex[int64]
	publisher   dispatcher.Publisher
	clock       Clock
	logger      Logger
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	invoiceRepo port.InvoiceRepository,
	paymentRepo port.PaymentRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	engine workflow.Engine,
	locks *locker.KeyedMutex[int64],
	publisher dispatcher.Publisher,
	clock Clock,
	logger Logger,
) PaymentService {
	return &paymentServiceImpl{
		invoiceRepo: invoiceRepo,
		paymentRepo: paymentRepo,
		historyRepo: historyRepo,
		txManager:   txManager,
		engine:      engine,
		locks:       locks,
		publisher:   publisher,
		clock:       clock,
		logger:      logger,
	}
}

func (s *paymentServiceImpl) RecordPayment(ctx context.Context, invoiceID int64, input PaymentInput, actor string) (*PaymentResult, error) {
	if input.Method == entity.PaymentMethodGateway {
		return nil, fmt.Errorf("%w: gateway payments arrive through the webhook", entity.ErrInvalidPaymentMethod)
	}
	return s.record(ctx, invoiceID, input, entity.PaymentStatusCompleted, actor)
}

// record inserts a payment and applies it to the invoice under its lock
func (s *paymentServiceImpl) record(ctx context.Context, invoiceID int64, input PaymentInput, status entity.PaymentStatus, actor string) (*PaymentResult, error) {
	if !input.Amount.IsPositive() {
		return nil, entity.ErrInvalidAmount
	}
	if !input.Method.IsValid() {
		return nil, entity.ErrInvalidPaymentMethod
	}
	input.Reference = strings.TrimSpace(input.Reference)

	unlock, err := s.locks.Lock(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.clock.now()
	result := &PaymentResult{}
	var tr workflow.Transition

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inv, err := s.invoiceRepo.GetByID(txCtx, invoiceID)
		if err != nil {
			return err
		}
		result.Invoice = inv

		if input.Reference != "" {
			existing, err := s.paymentRepo.GetByReference(txCtx, input.Method, input.Reference)
			switch {
			case err == nil:
				result.Payment = existing
				result.Duplicate = true
				return nil
			case !errors.Is(err, entity.ErrPaymentNotFound):
				return err
			}
		}

		payment := &entity.Payment{
			InvoiceID:      invoiceID,
			Amount:         input.Amount,
			RefundedAmount: decimal.Zero,
			Method:         input.Method,
			Status:         status,
			Reference:      input.Reference,
			Note:           utils.SanitizeString(input.Note),
			CreatedAt:      now,
		}
		if status != entity.PaymentStatusCompleted {
			// failed charges are kept for the record only
			result.Payment = payment
			return s.paymentRepo.Create(txCtx, payment)
		}
		payment.ProcessedAt = &now

		trigger, err := reconcile.ApplyPayment(inv, payment)
		if notApplicable(payment, err) {
			payment.Status = entity.PaymentStatusUnapplied
			result.Payment = payment
			if err := s.paymentRepo.Create(txCtx, payment); err != nil {
				return err
			}
			return s.recordUnapplied(txCtx, inv, payment, now)
		}
		if err != nil {
			return err
		}
		if err := s.paymentRepo.Create(txCtx, payment); err != nil {
			return err
		}
		result.Payment = payment

		tr, err = s.applyMoney(txCtx, inv, trigger, actor)
		if err != nil {
			return err
		}
		if err := s.verifyLedger(txCtx, inv); err != nil {
			return err
		}
		return s.historyRepo.Create(txCtx, &entity.InvoiceHistory{
			InvoiceID: invoiceID,
			Action:    entity.HistoryActionPayment,
			Actor:     actorOr(actor),
			Detail:    fmt.Sprintf("%s %s via %s", payment.Amount.String(), inv.Currency, payment.Method),
			CreatedAt: now,
		})
	})
	if errors.Is(err, entity.ErrDuplicatePayment) {
		return s.replayed(ctx, invoiceID, input.Method, input.Reference, false)
	}
	if err != nil {
		s.logger.Error("Failed to record payment", "error", err, "invoice_id", invoiceID)
		return nil, err
	}
	if result.Duplicate {
		s.logger.Info("Payment reference already recorded", "invoice_id", invoiceID, "reference", input.Reference)
		return result, nil
	}

	s.logger.Info("Payment recorded",
		"invoice_id", invoiceID,
		"payment_id", result.Payment.ID,
		"amount", result.Payment.Amount.String(),
		"status", result.Invoice.Status.String())
	s.publishPayment(ctx, result, tr)
	return result, nil
}

// applyMoney persists the invoice money fields and fires trigger if any
func (s *paymentServiceImpl) applyMoney(ctx context.Context, inv *entity.Invoice, trigger workflow.InvoiceTrigger, actor string) (workflow.Transition, error) {
	inv.UpdatedAt = s.clock.now()
	if trigger == "" {
		if err := s.invoiceRepo.Update(ctx, inv); err != nil {
			return workflow.Transition{}, fmt.Errorf("update invoice balance: %w", err)
		}
		return workflow.Transition{}, nil
	}
	return s.engine.Apply(ctx, inv, trigger, actor, "")
}

// notApplicable reports whether err only says the invoice takes no more money
// for a charge the gateway has already captured. Such money is kept on the
// ledger as unapplied instead of being dropped.
func notApplicable(payment *entity.Payment, err error) bool {
	return err != nil && payment.Method == entity.PaymentMethodGateway &&
		(errors.Is(err, entity.ErrAlreadyPaid) || errors.Is(err, entity.ErrInvoiceNotPayable))
}

func (s *paymentServiceImpl) recordUnapplied(ctx context.Context, inv *entity.Invoice, payment *entity.Payment, now time.Time) error {
	s.logger.Info("Gateway payment kept unapplied",
		"invoice_id", inv.ID,
		"reference", payment.Reference,
		"invoice_status", inv.Status.String())
	return s.historyRepo.Create(ctx, &entity.InvoiceHistory{
		InvoiceID: inv.ID,
		Action:    entity.HistoryActionUnapplied,
		Actor:     entity.ActorGateway,
		Detail:    fmt.Sprintf("%s %s via %s not applied: invoice is %s", payment.Amount.String(), inv.Currency, payment.Method, inv.Status),
		CreatedAt: now,
	})
}

// verifyLedger fails the transaction when the payment rows no longer add up
// to the invoice's paid amount
func (s *paymentServiceImpl) verifyLedger(ctx context.Context, inv *entity.Invoice) error {
	payments, err := s.paymentRepo.ListByInvoice(ctx, inv.ID)
	if err != nil {
		return err
	}
	if ledger := reconcile.PaidFromLedger(payments); !ledger.Equal(inv.PaidAmount) {
		return fmt.Errorf("invoice %d: ledger sums to %s, paid is %s: %w", inv.ID, ledger, inv.PaidAmount, entity.ErrLedgerMismatch)
	}
	return nil
}

// replayed loads the state left by an earlier request with the same reference
func (s *paymentServiceImpl) replayed(ctx context.Context, invoiceID int64, method entity.PaymentMethod, reference string, reversal bool) (*PaymentResult, error) {
	inv, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	result := &PaymentResult{Invoice: inv, Duplicate: true}
	lookup := s.paymentRepo.GetByReference
	if reversal {
		lookup = s.paymentRepo.GetReversalByReference
	}
	if payment, err := lookup(ctx, method, reference); err == nil {
		result.Payment = payment
	}
	return result, nil
}

func (s *paymentServiceImpl) Refund(ctx context.Context, paymentID int64, input RefundInput, actor string) (*PaymentResult, error) {
	original, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return s.refund(ctx, original.InvoiceID, paymentID, input, actor)
}

func (s *paymentServiceImpl) refund(ctx context.Context, invoiceID, paymentID int64, input RefundInput, actor string) (*PaymentResult, error) {
	if input.Amount.IsNegative() {
		return nil, entity.ErrInvalidAmount
	}
	input.Reference = strings.TrimSpace(input.Reference)

	unlock, err := s.locks.Lock(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.clock.now()
	result := &PaymentResult{}
	var (
		tr     workflow.Transition
		method entity.PaymentMethod
	)

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		original, err := s.paymentRepo.GetByID(txCtx, paymentID)
		if err != nil {
			return err
		}
		method = original.Method
		inv, err := s.invoiceRepo.GetByID(txCtx, invoiceID)
		if err != nil {
			return err
		}
		result.Invoice = inv

		if input.Reference != "" {
			existing, err := s.paymentRepo.GetReversalByReference(txCtx, original.Method, input.Reference)
			switch {
			case err == nil:
				result.Payment = existing
				result.Duplicate = true
				return nil
			case !errors.Is(err, entity.ErrPaymentNotFound):
				return err
			}
		}

		reversal, trigger, err := reconcile.ApplyRefund(inv, original, input.Amount, now)
		if err != nil {
			return err
		}
		reversal.Reference = input.Reference
		if input.Reason != "" {
			reversal.Note = utils.SanitizeString(input.Reason)
		}

		if err := s.paymentRepo.Create(txCtx, reversal); err != nil {
			return err
		}
		if err := s.paymentRepo.UpdateRefund(txCtx, original.ID, original.RefundedAmount, original.Status); err != nil {
			return fmt.Errorf("update refunded amount: %w", err)
		}
		result.Payment = reversal

		if reversal.Status == entity.PaymentStatusUnapplied {
			return s.historyRepo.Create(txCtx, &entity.InvoiceHistory{
				InvoiceID: invoiceID,
				Action:    entity.HistoryActionRefund,
				Actor:     actorOr(actor),
				Detail:    fmt.Sprintf("%s %s of unapplied payment %d", reversal.Amount.Neg().String(), inv.Currency, original.ID),
				CreatedAt: now,
			})
		}

		tr, err = s.applyMoney(txCtx, inv, trigger, actor)
		if err != nil {
			return err
		}
		if err := s.verifyLedger(txCtx, inv); err != nil {
			return err
		}
		return s.historyRepo.Create(txCtx, &entity.InvoiceHistory{
			InvoiceID: invoiceID,
			Action:    entity.HistoryActionRefund,
			Actor:     actorOr(actor),
			Detail:    fmt.Sprintf("%s %s of payment %d", reversal.Amount.Neg().String(), inv.Currency, original.ID),
			CreatedAt: now,
		})
	})
	if errors.Is(err, entity.ErrDuplicatePayment) {
		return s.replayed(ctx, invoiceID, method, input.Reference, true)
	}
	if err != nil {
		s.logger.Error("Failed to refund payment", "error", err, "payment_id", paymentID)
		return nil, err
	}
	if result.Duplicate {
		s.logger.Info("Refund reference already recorded", "payment_id", paymentID, "reference", input.Reference)
		return result, nil
	}

	s.logger.Info("Payment refunded",
		"invoice_id", invoiceID,
		"payment_id", paymentID,
		"amount", result.Payment.Amount.Neg().String(),
		"status", result.Invoice.Status.String())
	s.publishPayment(ctx, result, tr)
	return result, nil
}

func (s *paymentServiceImpl) HandleGatewayEvent(ctx context.Context, evt port.GatewayEvent) (*PaymentResult, error) {
	evt.Reference = strings.TrimSpace(evt.Reference)
	if evt.Reference == "" {
		return nil, entity.ErrInvalidReference
	}

	switch evt.Type {
	case port.GatewayPaymentCompleted:
		return s.gatewayCompleted(ctx, evt)
	case port.GatewayPaymentFailed:
		return s.gatewayFailed(ctx, evt)
	case port.GatewayRefundCompleted:
		if strings.TrimSpace(evt.RefundID) == "" {
			return nil, fmt.Errorf("refund_id: %w", entity.ErrInvalidReference)
		}
		original, err := s.paymentRepo.GetByReference(ctx, entity.PaymentMethodGateway, evt.Reference)
		if err != nil {
			return nil, err
		}
		return s.refund(ctx, original.InvoiceID, original.ID, RefundInput{
			Amount:    evt.Amount,
			Reference: evt.RefundID,
			Reason:    "gateway refund " + evt.RefundID,
		}, entity.ActorGateway)
	default:
		return nil, fmt.Errorf("unknown gateway event %q: %w", evt.Type, entity.ErrValidation)
	}
}

// gatewayCompleted records a charge, or completes one first seen as pending
func (s *paymentServiceImpl) gatewayCompleted(ctx context.Context, evt port.GatewayEvent) (*PaymentResult, error) {
	existing, err := s.paymentRepo.GetByReference(ctx, entity.PaymentMethodGateway, evt.Reference)
	switch {
	case errors.Is(err, entity.ErrPaymentNotFound):
		return s.record(ctx, evt.InvoiceID, PaymentInput{
			Amount:    evt.Amount,
			Method:    entity.PaymentMethodGateway,
			Reference: evt.Reference,
		}, entity.PaymentStatusCompleted, entity.ActorGateway)
	case err != nil:
		return nil, err
	}

	if !existing.IsAwaitingGateway() {
		return s.replayed(ctx, existing.InvoiceID, entity.PaymentMethodGateway, evt.Reference, false)
	}
	return s.complete(ctx, existing.ID, existing.InvoiceID)
}

// complete turns a pending gateway payment into money on the invoice
func (s *paymentServiceImpl) complete(ctx context.Context, paymentID, invoiceID int64) (*PaymentResult, error) {
	unlock, err := s.locks.Lock(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.clock.now()
	result := &PaymentResult{}
	var tr workflow.Transition

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		payment, err := s.paymentRepo.GetByID(txCtx, paymentID)
		if err != nil {
			return err
		}
		inv, err := s.invoiceRepo.GetByID(txCtx, invoiceID)
		if err != nil {
			return err
		}
		result.Payment = payment
		result.Invoice = inv
		if !payment.IsAwaitingGateway() {
			result.Duplicate = true
			return nil
		}

		payment.Status = entity.PaymentStatusCompleted
		payment.ProcessedAt = &now
		trigger, err := reconcile.ApplyPayment(inv, payment)
		if notApplicable(payment, err) {
			payment.Status = entity.PaymentStatusUnapplied
			if err := s.paymentRepo.UpdateStatus(txCtx, payment.ID, payment.Status, payment.ProcessedAt); err != nil {
				return err
			}
			return s.recordUnapplied(txCtx, inv, payment, now)
		}
		if err != nil {
			return err
		}
		if err := s.paymentRepo.UpdateStatus(txCtx, payment.ID, payment.Status, payment.ProcessedAt); err != nil {
			return err
		}
		tr, err = s.applyMoney(txCtx, inv, trigger, entity.ActorGateway)
		if err != nil {
			return err
		}
		if err := s.verifyLedger(txCtx, inv); err != nil {
			return err
		}
		return s.historyRepo.Create(txCtx, &entity.InvoiceHistory{
			InvoiceID: invoiceID,
			Action:    entity.HistoryActionPayment,
			Actor:     entity.ActorGateway,
			Detail:    fmt.Sprintf("%s %s via %s", payment.Amount.String(), inv.Currency, payment.Method),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	if !result.Duplicate {
		s.publishPayment(ctx, result, tr)
	}
	return result, nil
}

// gatewayFailed records a failed charge. It never touches invoice money.
func (s *paymentServiceImpl) gatewayFailed(ctx context.Context, evt port.GatewayEvent) (*PaymentResult, error) {
	existing, err := s.paymentRepo.GetByReference(ctx, entity.PaymentMethodGateway, evt.Reference)
	switch {
	case err == nil:
		return s.fail(ctx, existing.ID, existing.InvoiceID)
	case !errors.Is(err, entity.ErrPaymentNotFound):
		return nil, err
	}

	result, err := s.record(ctx, evt.InvoiceID, PaymentInput{
		Amount:    evt.Amount,
		Method:    entity.PaymentMethodGateway,
		Reference: evt.Reference,
		Note:      "gateway reported failure",
	}, entity.PaymentStatusFailed, entity.ActorGateway)
	if err != nil {
		return nil, err
	}
	if !result.Duplicate {
		s.publishFailed(ctx, result.Payment)
	}
	return result, nil
}

// fail marks a pending gateway payment failed under the invoice lock
func (s *paymentServiceImpl) fail(ctx context.Context, paymentID, invoiceID int64) (*PaymentResult, error) {
	unlock, err := s.locks.Lock(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.clock.now()
	result := &PaymentResult{}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		payment, err := s.paymentRepo.GetByID(txCtx, paymentID)
		if err != nil {
			return err
		}
		inv, err := s.invoiceRepo.GetByID(txCtx, invoiceID)
		if err != nil {
			return err
		}
		result.Payment = payment
		result.Invoice = inv
		if !payment.IsAwaitingGateway() {
			result.Duplicate = true
			return nil
		}

		if err := s.paymentRepo.UpdateStatus(txCtx, payment.ID, entity.PaymentStatusFailed, &now); err != nil {
			return err
		}
		payment.Status = entity.PaymentStatusFailed
		payment.ProcessedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Duplicate {
		s.publishFailed(ctx, result.Payment)
	}
	return result, nil
}

func (s *paymentServiceImpl) ListPayments(ctx context.Context, invoiceID int64) ([]*entity.Payment, error) {
	if _, err := s.invoiceRepo.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.paymentRepo.ListByInvoice(ctx, invoiceID)
}

func (s *paymentServiceImpl) publishPayment(ctx context.Context, result *PaymentResult, tr workflow.Transition) {
	if result.Payment.Status == entity.PaymentStatusFailed {
		return
	}
	evtType := event.TypePaymentRecorded
	if result.Payment.IsReversal() {
		evtType = event.TypePaymentRefunded
	}
	events := []*event.Event{
		event.NewEvent(evtType, result.Payment.ID).WithInvoice(result.Invoice.ID),
	}
	if tr.Changed() {
		events = append(events, workflow.StatusChangedEvent(result.Invoice))
	}
	publishAll(ctx, s.publisher, events...)
}

func (s *paymentServiceImpl) publishFailed(ctx context.Context, payment *entity.Payment) {
	s.logger.Info("Gateway payment failed", "invoice_id", payment.InvoiceID, "reference", payment.Reference)
	publishAll(ctx, s.publisher, event.NewEvent(event.TypePaymentFailed, payment.ID).
		WithInvoice(payment.InvoiceID).
		WithStatus(string(entity.PaymentStatusFailed)))
}
