package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const invoiceColumns = `
	id, number, client_id, tax_rate, discount, discount_type, currency,
	issue_date, due_date, subtotal, tax_amount, discount_amount, total_amount,
	paid_amount, balance_due, total_clamped, status, share_id, share_enabled,
	generated_from_schedule_id, occurrence, notes,
	sent_at, viewed_at, paid_at, cancelled_at, created_at, updated_at`

// InvoiceRepository implements port.InvoiceRepository
type InvoiceRepository struct {
	base
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) port.InvoiceRepository {
	return &InvoiceRepository{
		base:   base{db: db},
		logger: logger,
	}
}

// Create inserts the invoice header and its items. Callers wrap it in a
// transaction so a failed item insert leaves nothing behind.
func (r *InvoiceRepository) Create(ctx context.Context, invoice *entity.Invoice) error {
	query := `
		INSERT INTO invoices (
			number, client_id, tax_rate, discount, discount_type, currency,
			issue_date, due_date, subtotal, tax_amount, discount_amount, total_amount,
			paid_amount, balance_due, total_clamped, status, share_id, share_enabled,
			generated_from_schedule_id, occurrence, notes,
			sent_at, viewed_at, paid_at, cancelled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = now

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		nullString(invoice.Number),
		invoice.ClientID,
		invoice.TaxRate,
		invoice.Discount,
		invoice.DiscountType,
		invoice.Currency,
		utc(invoice.IssueDate),
		dueDateValue(invoice.DueDate),
		invoice.Subtotal,
		invoice.TaxAmount,
		invoice.DiscountAmount,
		invoice.TotalAmount,
		invoice.PaidAmount,
		invoice.BalanceDue,
		invoice.TotalClamped,
		invoice.Status,
		nullString(invoice.ShareID),
		invoice.ShareEnabled,
		nullInt64(invoice.GeneratedFromScheduleID),
		nullInt(invoice.Occurrence),
		invoice.Notes,
		nullTime(invoice.SentAt),
		nullTime(invoice.ViewedAt),
		nullTime(invoice.PaidAt),
		nullTime(invoice.CancelledAt),
		utc(invoice.CreatedAt),
		utc(invoice.UpdatedAt),
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) && invoice.FromSchedule() {
			return entity.ErrDuplicateOccurrence
		}
		r.logger.Error("Failed to create invoice",
			zap.Int64("client_id", invoice.ClientID),
			zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	invoice.ID = id

	return r.insertItems(ctx, id, invoice.Items)
}

// GetByID retrieves an invoice with its items
func (r *InvoiceRepository) GetByID(ctx context.Context, id int64) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`
	return r.getOne(ctx, query, id)
}

// GetByShareID retrieves an invoice by its public share token
func (r *InvoiceRepository) GetByShareID(ctx context.Context, shareID string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE share_id = ?`
	return r.getOne(ctx, query, shareID)
}

// GetByScheduleOccurrence retrieves the invoice a schedule generated for one occurrence
func (r *InvoiceRepository) GetByScheduleOccurrence(ctx context.Context, scheduleID int64, occurrence int) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE generated_from_schedule_id = ? AND occurrence = ?`
	return r.getOne(ctx, query, scheduleID, occurrence)
}

// List returns invoices newest first
func (r *InvoiceRepository) List(ctx context.Context, filter entity.InvoiceFilter) ([]*entity.Invoice, error) {
	var (
		where []string
		args  []interface{}
	)
	switch {
	case filter.Status == entity.InvoiceStatusOverdue:
		where = append(where, overdueClause)
		args = append(args, utc(filter.EffectiveAt))
	case filter.Status != "":
		where = append(where, "status = ?")
		args = append(args, filter.Status)
		if !filter.EffectiveAt.IsZero() {
			where = append(where, "NOT "+overdueClause)
			args = append(args, utc(filter.EffectiveAt))
		}
	}
	if filter.ClientID > 0 {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*entity.Invoice
	for rows.Next() {
		invoice, err := r.scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invoices: %w", err)
	}
	rows.Close()

	for _, invoice := range invoices {
		if invoice.Items, err = r.loadItems(ctx, invoice.ID); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

// Update writes everything except items, number and the schedule link
func (r *InvoiceRepository) Update(ctx context.Context, invoice *entity.Invoice) error {
	query := `
		UPDATE invoices SET
			client_id = ?, tax_rate = ?, discount = ?, discount_type = ?, currency = ?,
			issue_date = ?, due_date = ?, subtotal = ?, tax_amount = ?, discount_amount = ?,
			total_amount = ?, paid_amount = ?, balance_due = ?, total_clamped = ?, status = ?,
			share_id = ?, share_enabled = ?, notes = ?,
			sent_at = ?, viewed_at = ?, paid_at = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ?
	`

	invoice.UpdatedAt = time.Now().UTC()

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		invoice.ClientID,
		invoice.TaxRate,
		invoice.Discount,
		invoice.DiscountType,
		invoice.Currency,
		utc(invoice.IssueDate),
		dueDateValue(invoice.DueDate),
		invoice.Subtotal,
		invoice.TaxAmount,
		invoice.DiscountAmount,
		invoice.TotalAmount,
		invoice.PaidAmount,
		invoice.BalanceDue,
		invoice.TotalClamped,
		invoice.Status,
		nullString(invoice.ShareID),
		invoice.ShareEnabled,
		invoice.Notes,
		nullTime(invoice.SentAt),
		nullTime(invoice.ViewedAt),
		nullTime(invoice.PaidAt),
		nullTime(invoice.CancelledAt),
		invoice.UpdatedAt,
		invoice.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update invoice", zap.Int64("id", invoice.ID), zap.Error(err))
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	return checkAffected(result, entity.ErrInvoiceNotFound)
}

// ReplaceItems swaps the invoice's line items. IDs are written back into items.
func (r *InvoiceRepository) ReplaceItems(ctx context.Context, invoiceID int64, items []entity.InvoiceItem) error {
	if _, err := r.getExecutor(ctx).ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = ?`, invoiceID); err != nil {
		r.logger.Error("Failed to delete invoice items", zap.Int64("invoice_id", invoiceID), zap.Error(err))
		return fmt.Errorf("failed to delete invoice items: %w", err)
	}
	return r.insertItems(ctx, invoiceID, items)
}

// SetNumber assigns the human-readable invoice number
func (r *InvoiceRepository) SetNumber(ctx context.Context, id int64, number string) error {
	result, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE invoices SET number = ? WHERE id = ?`, number, id)
	if err != nil {
		return fmt.Errorf("failed to set invoice number: %w", err)
	}
	return checkAffected(result, entity.ErrInvoiceNotFound)
}

// Delete removes an invoice. Items, history and deliveries cascade.
func (r *InvoiceRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.getExecutor(ctx).ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete invoice", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	return checkAffected(result, entity.ErrInvoiceNotFound)
}

func (r *InvoiceRepository) getOne(ctx context.Context, query string, args ...interface{}) (*entity.Invoice, error) {
	invoice, err := r.scanInvoice(r.getExecutor(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrInvoiceNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get invoice", zap.Any("args", args), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	if invoice.Items, err = r.loadItems(ctx, invoice.ID); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (r *InvoiceRepository) insertItems(ctx context.Context, invoiceID int64, items []entity.InvoiceItem) error {
	query := `
		INSERT INTO invoice_items (invoice_id, position, description, quantity, rate)
		VALUES (?, ?, ?, ?, ?)
	`

	exec := r.getExecutor(ctx)
	for i := range items {
		items[i].Position = i + 1
		result, err := exec.ExecContext(ctx, query,
			invoiceID,
			items[i].Position,
			items[i].Description,
			items[i].Quantity,
			items[i].Rate,
		)
		if err != nil {
			r.logger.Error("Failed to insert invoice item",
				zap.Int64("invoice_id", invoiceID),
				zap.Int("position", i+1),
				zap.Error(err))
			return fmt.Errorf("failed to insert invoice item: %w", err)
		}
		if items[i].ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}
	return nil
}

func (r *InvoiceRepository) loadItems(ctx context.Context, invoiceID int64) ([]entity.InvoiceItem, error) {
	query := `
		SELECT id, position, description, quantity, rate
		FROM invoice_items
		WHERE invoice_id = ?
		ORDER BY position ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice items: %w", err)
	}
	defer rows.Close()

	items := []entity.InvoiceItem{}
	for rows.Next() {
		var item entity.InvoiceItem
		if err := rows.Scan(&item.ID, &item.Position, &item.Description, &item.Quantity, &item.Rate); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *InvoiceRepository) scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var (
		invoice                                        entity.Invoice
		number, shareID                                sql.NullString
		dueDate, sentAt, viewedAt, paidAt, cancelledAt sql.NullTime
		scheduleID, occurrence                         sql.NullInt64
	)

	err := row.Scan(
		&invoice.ID,
		&number,
		&invoice.ClientID,
		&invoice.TaxRate,
		&invoice.Discount,
		&invoice.DiscountType,
		&invoice.Currency,
		&invoice.IssueDate,
		&dueDate,
		&invoice.Subtotal,
		&invoice.TaxAmount,
		&invoice.DiscountAmount,
		&invoice.TotalAmount,
		&invoice.PaidAmount,
		&invoice.BalanceDue,
		&invoice.TotalClamped,
		&invoice.Status,
		&shareID,
		&invoice.ShareEnabled,
		&scheduleID,
		&occurrence,
		&invoice.Notes,
		&sentAt,
		&viewedAt,
		&paidAt,
		&cancelledAt,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	invoice.Number = number.String
	invoice.ShareID = shareID.String
	invoice.IssueDate = invoice.IssueDate.UTC()
	if dueDate.Valid {
		invoice.DueDate = dueDate.Time.UTC()
	}
	invoice.GeneratedFromScheduleID = int64Ptr(scheduleID)
	invoice.Occurrence = intPtr(occurrence)
	invoice.SentAt = timePtr(sentAt)
	invoice.ViewedAt = timePtr(viewedAt)
	invoice.PaidAt = timePtr(paidAt)
	invoice.CancelledAt = timePtr(cancelledAt)
	invoice.CreatedAt = invoice.CreatedAt.UTC()
	invoice.UpdatedAt = invoice.UpdatedAt.UTC()
	return &invoice, nil
}

// overdueClause matches rows whose derived status is OVERDUE at the bound time
const overdueClause = `(status IN ('SENT', 'VIEWED', 'PARTIALLY_PAID')
	AND due_date IS NOT NULL AND due_date < ?
	AND CAST(balance_due AS REAL) > 0)`

func dueDateValue(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// Verify interface compliance
var _ port.InvoiceRepository = (*InvoiceRepository)(nil)
