package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the processing status of a payment
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	// PaymentStatusUnapplied is money the gateway captured for an invoice
	// that no longer accepted payments. It is kept out of the paid amount.
	PaymentStatusUnapplied PaymentStatus = "unapplied"
)

// IsValid returns true if the status is known
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusCancelled,
		PaymentStatusUnapplied:
		return true
	}
	return false
}

// PaymentMethod is how the money arrived
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodCheck        PaymentMethod = "CHECK"
	PaymentMethodGateway      PaymentMethod = "GATEWAY"
	PaymentMethodOther        PaymentMethod = "OTHER"
)

// IsValid returns true if the method is known
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCard,
		PaymentMethodCheck, PaymentMethodGateway, PaymentMethodOther:
		return true
	}
	return false
}

// Payment is money received against one invoice. A completed payment is never
// edited in place: refunds are recorded as reversal rows pointing back at it
// through ReversalOf, and only RefundedAmount and the final move to refunded
// touch the original.
type Payment struct {
	ID             int64           `json:"id"`
	InvoiceID      int64           `json:"invoice_id"`
	Amount         decimal.Decimal `json:"amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	Method         PaymentMethod   `json:"method"`
	Status         PaymentStatus   `json:"status"`
	Reference      string          `json:"reference,omitempty"`
	ReversalOf     *int64          `json:"reversal_of,omitempty"`
	Note           string          `json:"note,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsReversal reports whether the row is a refund of another payment
func (p *Payment) IsReversal() bool {
	return p.ReversalOf != nil
}

// IsAwaitingGateway reports whether the gateway has yet to settle the payment
func (p *Payment) IsAwaitingGateway() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusProcessing
}

// Refundable returns the part of the payment not yet refunded
func (p *Payment) Refundable() decimal.Decimal {
	if p.IsReversal() {
		return decimal.Zero
	}
	switch p.Status {
	case PaymentStatusCompleted, PaymentStatusUnapplied:
		return p.Amount.Sub(p.RefundedAmount)
	default:
		return decimal.Zero
	}
}
