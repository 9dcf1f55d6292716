package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusSent          InvoiceStatus = "SENT"
	InvoiceStatusViewed        InvoiceStatus = "VIEWED"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusOverdue       InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled     InvoiceStatus = "CANCELLED"
)

var validInvoiceStatuses = map[InvoiceStatus]bool{
	InvoiceStatusDraft:         true,
	InvoiceStatusSent:          true,
	InvoiceStatusViewed:        true,
	InvoiceStatusPartiallyPaid: true,
	InvoiceStatusPaid:          true,
	InvoiceStatusOverdue:       true,
	InvoiceStatusCancelled:     true,
}

// IsValid returns true if the status is a known invoice status
func (s InvoiceStatus) IsValid() bool {
	return validInvoiceStatuses[s]
}

// IsTerminal returns true if no transition can leave the status
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusCancelled
}

// String returns the string representation of the status
func (s InvoiceStatus) String() string {
	return string(s)
}

// DiscountType selects how Invoice.Discount is interpreted
type DiscountType string

const (
	DiscountTypeFixed      DiscountType = "FIXED"
	DiscountTypePercentage DiscountType = "PERCENTAGE"
)

// IsValid returns true if the discount type is known
func (d DiscountType) IsValid() bool {
	return d == DiscountTypeFixed || d == DiscountTypePercentage
}

// InvoiceItem is one line of an invoice or of a schedule template
type InvoiceItem struct {
	ID          int64           `json:"id,omitempty"`
	Position    int             `json:"position"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
}

// Amount returns quantity × rate. It is never stored.
func (i InvoiceItem) Amount() decimal.Decimal {
	return i.Quantity.Mul(i.Rate)
}

// Validate checks description, quantity and rate
func (i InvoiceItem) Validate() error {
	if strings.TrimSpace(i.Description) == "" {
		return ErrInvalidItem
	}
	if !i.Quantity.IsPositive() {
		return ErrInvalidItem
	}
	if i.Rate.IsNegative() {
		return ErrInvalidItem
	}
	return nil
}

// Invoice is a bill issued to a client. Subtotal through BalanceDue are derived
// from Items, TaxRate, Discount and PaidAmount and are only written by the
// money and reconcile packages.
type Invoice struct {
	ID       int64         `json:"id"`
	Number   string        `json:"number"`
	ClientID int64         `json:"client_id"`
	Items    []InvoiceItem `json:"items"`

	TaxRate      decimal.Decimal `json:"tax_rate"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountType DiscountType    `json:"discount_type"`
	Currency     string          `json:"currency"`

	IssueDate time.Time `json:"issue_date"`
	DueDate   time.Time `json:"due_date"`

	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	BalanceDue     decimal.Decimal `json:"balance_due"`
	TotalClamped   bool            `json:"total_clamped"`

	Status InvoiceStatus `json:"status"`

	ShareID      string `json:"share_id,omitempty"`
	ShareEnabled bool   `json:"share_enabled"`

	GeneratedFromScheduleID *int64 `json:"generated_from_schedule_id,omitempty"`
	Occurrence              *int   `json:"occurrence,omitempty"`

	Notes string `json:"notes,omitempty"`

	SentAt      *time.Time `json:"sent_at,omitempty"`
	ViewedAt    *time.Time `json:"viewed_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsEditable reports whether items, tax and discount may change
func (inv *Invoice) IsEditable() bool {
	return inv.Status == InvoiceStatusDraft
}

// IsOverdue reports whether the invoice is past due and still owes money
func (inv *Invoice) IsOverdue(now time.Time) bool {
	switch inv.Status {
	case InvoiceStatusSent, InvoiceStatusViewed, InvoiceStatusPartiallyPaid:
	default:
		return false
	}
	if inv.DueDate.IsZero() || !now.After(inv.DueDate) {
		return false
	}
	return inv.BalanceDue.IsPositive()
}

// EffectiveStatus is the status shown to readers. OVERDUE is derived here and
// never persisted.
func (inv *Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if inv.IsOverdue(now) {
		return InvoiceStatusOverdue
	}
	return inv.Status
}

// IsPubliclyShared reports whether the public share token resolves
func (inv *Invoice) IsPubliclyShared() bool {
	return inv.ShareEnabled && inv.ShareID != ""
}

// FromSchedule reports whether a recurring schedule generated the invoice
func (inv *Invoice) FromSchedule() bool {
	return inv.GeneratedFromScheduleID != nil
}

// FormatInvoiceNumber renders the human-readable number of invoice id
func FormatInvoiceNumber(prefix string, id int64) string {
	return fmt.Sprintf("%s%06d", prefix, id)
}

// InvoiceFilter narrows invoice listings. With EffectiveAt set, Status is
// matched against EffectiveStatus at that instant, so OVERDUE can be listed.
type InvoiceFilter struct {
	Status      InvoiceStatus
	ClientID    int64
	EffectiveAt time.Time
	Limit       int
	Offset      int
}
