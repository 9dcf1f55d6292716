package workflow

import (
	"context"

	"github.com/garyjia/invoice-engine/internal/domain/entity"
)

// Engine applies invoice status transitions with their audit trail
type Engine interface {
	// Apply fires trigger on inv, stamps the matching timestamp, persists the
	// invoice and writes a history row. It runs in the transaction carried by
	// ctx and publishes nothing; callers publish after commit.
	Apply(ctx context.Context, inv *entity.Invoice, trigger InvoiceTrigger, actor, detail string) (Transition, error)

	// Transition loads the invoice, applies trigger in its own transaction and
	// publishes invoice.status_changed after commit
	Transition(ctx context.Context, invoiceID int64, trigger InvoiceTrigger, actor, detail string) (*entity.Invoice, error)

	// CanFire reports whether trigger is configured for the invoice's status
	CanFire(inv *entity.Invoice, trigger InvoiceTrigger) bool
}

// Transition describes an applied status change
type Transition struct {
	From    entity.InvoiceStatus
	To      entity.InvoiceStatus
	Trigger InvoiceTrigger
}

// Changed reports whether the status moved
func (t Transition) Changed() bool {
	return t.From != t.To
}
