package port

import (
	"context"

	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// InvoiceSender delivers an invoice to its client. Layout and transport are
// the implementation's concern.
type InvoiceSender interface {
	Send(ctx context.Context, invoice *entity.Invoice, client *entity.Client) error
}

// GatewayEventType is a payment gateway callback kind
type GatewayEventType string

const (
	GatewayPaymentCompleted GatewayEventType = "payment.completed"
	GatewayPaymentFailed    GatewayEventType = "payment.failed"
	GatewayRefundCompleted  GatewayEventType = "refund.completed"
)

// GatewayEvent is a verified payment gateway callback. Reference identifies
// the gateway charge; refunds carry the original charge's reference plus
// their own RefundID. A zero refund Amount refunds the whole remainder.
type GatewayEvent struct {
	Type      GatewayEventType `json:"type"`
	Reference string           `json:"reference"`
	RefundID  string           `json:"refund_id,omitempty"`
	InvoiceID int64            `json:"invoice_id"`
	Amount    decimal.Decimal  `json:"amount"`
}
