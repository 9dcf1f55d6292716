package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/infrastructure/persistence/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const paymentColumns = `
	id, invoice_id, amount, refunded_amount, method, status, reference,
	reversal_of, note, processed_at, created_at`

// PaymentRepository implements port.PaymentRepository
type PaymentRepository struct {
	base
	logger *zap.Logger
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *sql.DB, logger *zap.Logger) port.PaymentRepository {
	return &PaymentRepository{
		base:   base{db: db},
		logger: logger,
	}
}

// Create inserts a payment or reversal row
func (r *PaymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	query := `
		INSERT INTO payments (
			invoice_id, amount, refunded_amount, method, status, reference,
			reversal_of, note, processed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		payment.InvoiceID,
		payment.Amount,
		payment.RefundedAmount,
		payment.Method,
		payment.Status,
		nullString(payment.Reference),
		nullInt64(payment.ReversalOf),
		payment.Note,
		nullTime(payment.ProcessedAt),
		utc(payment.CreatedAt),
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return entity.ErrDuplicatePayment
		}
		r.logger.Error("Failed to create payment",
			zap.Int64("invoice_id", payment.InvoiceID),
			zap.Error(err))
		return fmt.Errorf("failed to create payment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	payment.ID = id
	return nil
}

// GetByID retrieves a payment by its ID
func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`

	payment, err := r.scanPayment(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrPaymentNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get payment by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

// GetByReference finds the original (non-reversal) payment for a method and reference
func (r *PaymentRepository) GetByReference(ctx context.Context, method entity.PaymentMethod, reference string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE method = ? AND reference = ? AND reversal_of IS NULL`

	payment, err := r.scanPayment(r.getExecutor(ctx).QueryRowContext(ctx, query, method, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrPaymentNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get payment by reference",
			zap.String("method", string(method)),
			zap.String("reference", reference),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

// GetReversalByReference finds the refund row recorded under a method and reference
func (r *PaymentRepository) GetReversalByReference(ctx context.Context, method entity.PaymentMethod, reference string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE method = ? AND reference = ? AND reversal_of IS NOT NULL`

	payment, err := r.scanPayment(r.getExecutor(ctx).QueryRowContext(ctx, query, method, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrPaymentNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get refund by reference",
			zap.String("method", string(method)),
			zap.String("reference", reference),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}
	return payment, nil
}

// ListByInvoice returns all payment and reversal rows of an invoice in insertion order
func (r *PaymentRepository) ListByInvoice(ctx context.Context, invoiceID int64) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE invoice_id = ? ORDER BY id ASC`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, invoiceID)
	if err != nil {
		r.logger.Error("Failed to list payments", zap.Int64("invoice_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*entity.Payment
	for rows.Next() {
		payment, err := r.scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

// UpdateStatus moves a payment to a new processing status
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id int64, status entity.PaymentStatus, processedAt *time.Time) error {
	result, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE payments SET status = ?, processed_at = COALESCE(?, processed_at) WHERE id = ?`,
		status, nullTime(processedAt), id)
	if err != nil {
		r.logger.Error("Failed to update payment status", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return checkAffected(result, entity.ErrPaymentNotFound)
}

// UpdateRefund records the running refunded total of an original payment
func (r *PaymentRepository) UpdateRefund(ctx context.Context, id int64, refunded decimal.Decimal, status entity.PaymentStatus) error {
	result, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE payments SET refunded_amount = ?, status = ? WHERE id = ? AND reversal_of IS NULL`,
		refunded, status, id)
	if err != nil {
		r.logger.Error("Failed to update payment refund", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update payment refund: %w", err)
	}
	return checkAffected(result, entity.ErrPaymentNotFound)
}

// CountByInvoice counts payment rows of any status, reversals included
func (r *PaymentRepository) CountByInvoice(ctx context.Context, invoiceID int64) (int, error) {
	var count int
	err := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payments WHERE invoice_id = ?`, invoiceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return count, nil
}

func (r *PaymentRepository) scanPayment(row rowScanner) (*entity.Payment, error) {
	var (
		payment     entity.Payment
		reference   sql.NullString
		reversalOf  sql.NullInt64
		processedAt sql.NullTime
	)

	err := row.Scan(
		&payment.ID,
		&payment.InvoiceID,
		&payment.Amount,
		&payment.RefundedAmount,
		&payment.Method,
		&payment.Status,
		&reference,
		&reversalOf,
		&payment.Note,
		&processedAt,
		&payment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	payment.Reference = reference.String
	payment.ReversalOf = int64Ptr(reversalOf)
	payment.ProcessedAt = timePtr(processedAt)
	payment.CreatedAt = payment.CreatedAt.UTC()
	return &payment, nil
}

// Verify interface compliance
var _ port.PaymentRepository = (*PaymentRepository)(nil)
