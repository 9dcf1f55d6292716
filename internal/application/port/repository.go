package port

import (
	"context"
	"time"

	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// TransactionManager runs fn inside a transaction carried by ctx. Nested calls
// join the outer transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// InvoiceRepository persists invoices and their line items.
// Getters return entity.ErrInvoiceNotFound when no row matches.
type InvoiceRepository interface {
	// Create inserts the invoice and its items. It returns
	// entity.ErrDuplicateOccurrence when the (schedule, occurrence) pair exists.
	Create(ctx context.Context, invoice *entity.Invoice) error
	GetByID(ctx context.Context, id int64) (*entity.Invoice, error)
	GetByShareID(ctx context.Context, shareID string) (*entity.Invoice, error)
	GetByScheduleOccurrence(ctx context.Context, scheduleID int64, occurrence int) (*entity.Invoice, error)
	List(ctx context.Context, filter entity.InvoiceFilter) ([]*entity.Invoice, error)
	// Update writes header, derived money fields, status and timestamps
	Update(ctx context.Context, invoice *entity.Invoice) error
	ReplaceItems(ctx context.Context, invoiceID int64, items []entity.InvoiceItem) error
	SetNumber(ctx context.Context, id int64, number string) error
	Delete(ctx context.Context, id int64) error
}

// PaymentRepository persists payments and reversal rows
type PaymentRepository interface {
	// Create returns entity.ErrDuplicatePayment when (method, reference) exists.
	// Reversal rows take part in the check when they carry a reference.
	Create(ctx context.Context, payment *entity.Payment) error
	GetByID(ctx context.Context, id int64) (*entity.Payment, error)
	GetByReference(ctx context.Context, method entity.PaymentMethod, reference string) (*entity.Payment, error)
	GetReversalByReference(ctx context.Context, method entity.PaymentMethod, reference string) (*entity.Payment, error)
	ListByInvoice(ctx context.Context, invoiceID int64) ([]*entity.Payment, error)
	UpdateStatus(ctx context.Context, id int64, status entity.PaymentStatus, processedAt *time.Time) error
	UpdateRefund(ctx context.Context, id int64, refunded decimal.Decimal, status entity.PaymentStatus) error
	CountByInvoice(ctx context.Context, invoiceID int64) (int, error)
}

// ScheduleRepository persists recurring schedules and their run claims
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *entity.RecurringSchedule) error
	GetByID(ctx context.Context, id int64) (*entity.RecurringSchedule, error)
	List(ctx context.Context, filter entity.ScheduleFilter) ([]*entity.RecurringSchedule, error)
	// Update writes the template and status fields. Claim columns are untouched.
	Update(ctx context.Context, schedule *entity.RecurringSchedule) error

	// ClaimDue leases up to limit due ACTIVE schedules to owner and returns them
	ClaimDue(ctx context.Context, owner string, now, leaseUntil time.Time, limit int) ([]*entity.RecurringSchedule, error)
	// Claim leases one schedule regardless of due time. It reports false when
	// another owner holds a live lease.
	Claim(ctx context.Context, id int64, owner string, now, leaseUntil time.Time) (bool, error)
	// Advance records a run and releases the claim. It returns
	// entity.ErrConflict when owner no longer holds the claim.
	Advance(ctx context.Context, schedule *entity.RecurringSchedule, owner string) error
	Release(ctx context.Context, id int64, owner string) error
}

// HistoryRepository appends invoice audit rows
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.InvoiceHistory) error
	ListByInvoice(ctx context.Context, invoiceID int64) ([]*entity.InvoiceHistory, error)
}

// ClientRepository persists the client records invoices refer to
type ClientRepository interface {
	Create(ctx context.Context, client *entity.Client) error
	GetByID(ctx context.Context, id int64) (*entity.Client, error)
	Update(ctx context.Context, client *entity.Client) error
}

// DeliveryRepository is the outbound send queue
type DeliveryRepository interface {
	Enqueue(ctx context.Context, invoiceID int64, at time.Time) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.InvoiceDelivery, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkRetry(ctx context.Context, id int64, attempts int, lastErr string, next time.Time) error
	MarkFailed(ctx context.Context, id int64, attempts int, lastErr string) error
}
