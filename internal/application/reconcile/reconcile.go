// Package reconcile applies payments and refunds to an invoice's money state.
//
// Both functions mutate their arguments in memory only. Callers persist the
// results and fire the returned trigger through the workflow engine inside
// one transaction, under the invoice's lock.
package reconcile

import (
	"fmt"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/workflow"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/domain/money"
	"github.com/shopspring/decimal"
)

// Payable reports whether inv accepts a new payment
func Payable(inv *entity.Invoice) error {
	switch inv.Status {
	case entity.InvoiceStatusDraft, entity.InvoiceStatusCancelled:
		return fmt.Errorf("invoice %d is %s: %w", inv.ID, inv.Status, entity.ErrInvoiceNotPayable)
	case entity.InvoiceStatusPaid:
		return fmt.Errorf("invoice %d: %w", inv.ID, entity.ErrAlreadyPaid)
	}
	return nil
}

// ApplyPayment adds a completed payment to the invoice's paid amount and
// returns the status trigger to fire, if any. Payments in any other status
// are accepted without touching the invoice. Overpayment is allowed; the
// balance floors at zero.
func ApplyPayment(inv *entity.Invoice, payment *entity.Payment) (workflow.InvoiceTrigger, error) {
	if err := Payable(inv); err != nil {
		return "", err
	}
	if !payment.Amount.IsPositive() {
		return "", entity.ErrInvalidAmount
	}
	if !payment.Method.IsValid() {
		return "", entity.ErrInvalidPaymentMethod
	}
	if payment.Status != entity.PaymentStatusCompleted {
		return "", nil
	}

	inv.PaidAmount = inv.PaidAmount.Add(payment.Amount)
	inv.BalanceDue = money.BalanceDue(inv.TotalAmount, inv.PaidAmount)
	return workflow.PaymentTrigger(inv), nil
}

// ApplyRefund refunds amount of original, or everything still refundable when
// amount is zero. It updates original's refunded total and the invoice, and
// returns the reversal row to insert; the caller sets its Reference. Refunds
// on a cancelled invoice move money only. Refunds of unapplied money never
// touch the invoice and their reversal rows stay unapplied too.
func ApplyRefund(inv *entity.Invoice, original *entity.Payment, amount decimal.Decimal, now time.Time) (*entity.Payment, workflow.InvoiceTrigger, error) {
	if original.InvoiceID != inv.ID {
		return nil, "", fmt.Errorf("payment %d does not belong to invoice %d: %w", original.ID, inv.ID, entity.ErrPaymentNotRefundable)
	}
	unapplied := original.Status == entity.PaymentStatusUnapplied
	if original.IsReversal() || (original.Status != entity.PaymentStatusCompleted && !unapplied) {
		return nil, "", fmt.Errorf("payment %d is %s: %w", original.ID, original.Status, entity.ErrPaymentNotRefundable)
	}
	if amount.IsNegative() {
		return nil, "", entity.ErrInvalidAmount
	}

	refundable := original.Refundable()
	if !refundable.IsPositive() {
		return nil, "", entity.ErrPaymentNotRefundable
	}
	if amount.IsZero() {
		amount = refundable
	}
	if amount.GreaterThan(refundable) {
		return nil, "", fmt.Errorf("refund %s exceeds refundable %s: %w", amount, refundable, entity.ErrRefundExceedsPayment)
	}

	original.RefundedAmount = original.RefundedAmount.Add(amount)
	processed := now.UTC()
	reversal := &entity.Payment{
		InvoiceID:   inv.ID,
		Amount:      amount.Neg(),
		Method:      original.Method,
		Status:      entity.PaymentStatusCompleted,
		ReversalOf:  &original.ID,
		Note:        fmt.Sprintf("refund of payment %d", original.ID),
		ProcessedAt: &processed,
		CreatedAt:   processed,
	}
	if unapplied {
		reversal.Status = entity.PaymentStatusUnapplied
		return reversal, "", nil
	}
	if original.RefundedAmount.Equal(original.Amount) {
		original.Status = entity.PaymentStatusRefunded
	}

	inv.PaidAmount = inv.PaidAmount.Sub(amount)
	if inv.PaidAmount.IsNegative() {
		inv.PaidAmount = decimal.Zero
	}
	inv.BalanceDue = money.BalanceDue(inv.TotalAmount, inv.PaidAmount)

	if inv.Status == entity.InvoiceStatusCancelled {
		return reversal, "", nil
	}
	return reversal, workflow.RefundTrigger(inv), nil
}

// PaidFromLedger sums completed payment and reversal rows. Unapplied, failed
// and pending rows do not count. It equals the invoice's paid amount whenever
// the ledger is consistent.
func PaidFromLedger(payments []*entity.Payment) decimal.Decimal {
	paid := decimal.Zero
	for _, p := range payments {
		if p.Status == entity.PaymentStatusCompleted || p.Status == entity.PaymentStatusRefunded {
			paid = paid.Add(p.Amount)
		}
	}
	if paid.IsNegative() {
		return decimal.Zero
	}
	return paid
}
