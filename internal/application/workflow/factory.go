package workflow

import (
	"context"

	"github.com/garyjia/invoice-engine/internal/domain/entity"
	domainwf "github.com/garyjia/invoice-engine/internal/domain/workflow"
)

// InvoiceTrigger drives invoice status transitions
type InvoiceTrigger string

const (
	TriggerSend       InvoiceTrigger = "SEND"
	TriggerView       InvoiceTrigger = "VIEW"
	TriggerPayPartial InvoiceTrigger = "PAY_PARTIAL"
	TriggerPayFull    InvoiceTrigger = "PAY_FULL"
	TriggerExpire     InvoiceTrigger = "EXPIRE"
	TriggerCancel     InvoiceTrigger = "CANCEL"
	TriggerRefund     InvoiceTrigger = "REFUND"
	TriggerRefundAll  InvoiceTrigger = "REFUND_ALL"
	TriggerReopen     InvoiceTrigger = "REOPEN"
)

// String returns the string representation of the trigger
func (t InvoiceTrigger) String() string {
	return string(t)
}

// ScheduleTrigger drives user-initiated schedule status changes
type ScheduleTrigger string

const (
	TriggerPause  ScheduleTrigger = "PAUSE"
	TriggerResume ScheduleTrigger = "RESUME"
	TriggerStop   ScheduleTrigger = "CANCEL"
)

// BuildInvoiceStateMachine creates a machine positioned at the invoice's
// stored status. Guards read inv, so the machine must not outlive the call
// that built it.
func BuildInvoiceStateMachine(inv *entity.Invoice) domainwf.StateMachine[entity.InvoiceStatus, InvoiceTrigger] {
	b := domainwf.NewBuilder[entity.InvoiceStatus, InvoiceTrigger]()

	sendable := func(ctx context.Context) bool { return SendReadiness(inv) == nil }
	unpaid := func(ctx context.Context) bool { return !inv.PaidAmount.IsPositive() }

	b.Configure(entity.InvoiceStatusDraft).
		PermitIf(TriggerSend, entity.InvoiceStatusSent, sendable).
		Permit(TriggerCancel, entity.InvoiceStatusCancelled)

	b.Configure(entity.InvoiceStatusSent).
		Permit(TriggerView, entity.InvoiceStatusViewed).
		Permit(TriggerPayPartial, entity.InvoiceStatusPartiallyPaid).
		Permit(TriggerPayFull, entity.InvoiceStatusPaid).
		Permit(TriggerExpire, entity.InvoiceStatusOverdue).
		Permit(TriggerCancel, entity.InvoiceStatusCancelled).
		PermitIf(TriggerReopen, entity.InvoiceStatusDraft, unpaid)

	b.Configure(entity.InvoiceStatusViewed).
		Permit(TriggerPayPartial, entity.InvoiceStatusPartiallyPaid).
		Permit(TriggerPayFull, entity.InvoiceStatusPaid).
		Permit(TriggerExpire, entity.InvoiceStatusOverdue).
		Permit(TriggerCancel, entity.InvoiceStatusCancelled).
		PermitIf(TriggerReopen, entity.InvoiceStatusDraft, unpaid)

	b.Configure(entity.InvoiceStatusPartiallyPaid).
		Permit(TriggerPayPartial, entity.InvoiceStatusPartiallyPaid).
		Permit(TriggerPayFull, entity.InvoiceStatusPaid).
		Permit(TriggerExpire, entity.InvoiceStatusOverdue).
		Permit(TriggerCancel, entity.InvoiceStatusCancelled).
		Permit(TriggerRefund, entity.InvoiceStatusPartiallyPaid).
		Permit(TriggerRefundAll, entity.InvoiceStatusSent)

	b.Configure(entity.InvoiceStatusPaid).
		Permit(TriggerRefund, entity.InvoiceStatusPartiallyPaid).
		Permit(TriggerRefundAll, entity.InvoiceStatusSent)

	b.Configure(entity.InvoiceStatusOverdue).
		Permit(TriggerPayPartial, entity.InvoiceStatusPartiallyPaid).
		Permit(TriggerPayFull, entity.InvoiceStatusPaid).
		Permit(TriggerCancel, entity.InvoiceStatusCancelled).
		PermitIf(TriggerReopen, entity.InvoiceStatusDraft, unpaid)

	// CANCELLED is terminal

	return b.Build(inv.Status)
}

// BuildScheduleStateMachine creates a machine for user-driven schedule changes.
// Exhaustion is not a status and never goes through it.
func BuildScheduleStateMachine(initial entity.ScheduleStatus) domainwf.StateMachine[entity.ScheduleStatus, ScheduleTrigger] {
	b := domainwf.NewBuilder[entity.ScheduleStatus, ScheduleTrigger]()

	b.Configure(entity.ScheduleStatusActive).
		Permit(TriggerPause, entity.ScheduleStatusPaused).
		Permit(TriggerStop, entity.ScheduleStatusCancelled)

	b.Configure(entity.ScheduleStatusPaused).
		Permit(TriggerResume, entity.ScheduleStatusActive).
		Permit(TriggerStop, entity.ScheduleStatusCancelled)

	return b.Build(initial)
}

// SendReadiness reports why an invoice cannot leave DRAFT, or nil
func SendReadiness(inv *entity.Invoice) error {
	if inv.ClientID <= 0 {
		return entity.ErrMissingClient
	}
	if len(inv.Items) == 0 {
		return entity.ErrNoItems
	}
	for _, item := range inv.Items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ResolvePaymentStatus maps the paid amount onto the status table:
// paid ≥ total → PAID, 0 < paid < total → PARTIALLY_PAID, nothing paid → the
// current status, or SENT when leaving PAID or PARTIALLY_PAID.
func ResolvePaymentStatus(inv *entity.Invoice) entity.InvoiceStatus {
	paid := inv.PaidAmount
	switch {
	case paid.IsPositive() && paid.GreaterThanOrEqual(inv.TotalAmount):
		return entity.InvoiceStatusPaid
	case paid.IsPositive():
		return entity.InvoiceStatusPartiallyPaid
	case inv.Status == entity.InvoiceStatusPaid || inv.Status == entity.InvoiceStatusPartiallyPaid:
		return entity.InvoiceStatusSent
	default:
		return inv.Status
	}
}

// PaymentTrigger returns the trigger that moves inv to ResolvePaymentStatus
// after paid went up, or "" when the status stays put
func PaymentTrigger(inv *entity.Invoice) InvoiceTrigger {
	resolved := ResolvePaymentStatus(inv)
	if resolved == inv.Status {
		return ""
	}
	switch resolved {
	case entity.InvoiceStatusPaid:
		return TriggerPayFull
	case entity.InvoiceStatusPartiallyPaid:
		return TriggerPayPartial
	}
	return ""
}

// RefundTrigger is PaymentTrigger's counterpart after paid went down
func RefundTrigger(inv *entity.Invoice) InvoiceTrigger {
	switch ResolvePaymentStatus(inv) {
	case entity.InvoiceStatusPartiallyPaid:
		if inv.Status == entity.InvoiceStatusPartiallyPaid {
			return ""
		}
		return TriggerRefund
	case entity.InvoiceStatusSent:
		return TriggerRefundAll
	}
	return ""
}
