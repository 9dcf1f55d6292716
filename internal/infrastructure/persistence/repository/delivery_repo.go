package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"go.uber.org/zap"
)

// DeliveryRepository implements port.DeliveryRepository on invoice_deliveries
type DeliveryRepository struct {
	base
	logger *zap.Logger
}

// NewDeliveryRepository creates a new delivery repository
func NewDeliveryRepository(db *sql.DB, logger *zap.Logger) port.DeliveryRepository {
	return &DeliveryRepository{
		base:   base{db: db},
		logger: logger,
	}
}

// Enqueue queues a send of the invoice, first attempt at at
func (r *DeliveryRepository) Enqueue(ctx context.Context, invoiceID int64, at time.Time) error {
	now := time.Now().UTC()
	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO invoice_deliveries (invoice_id, status, attempts, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)
	`, invoiceID, entity.DeliveryStatusPending, utc(at), now, now)
	if err != nil {
		r.logger.Error("Failed to enqueue delivery", zap.Int64("invoice_id", invoiceID), zap.Error(err))
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}
	return nil
}

// ListDue returns pending deliveries whose next attempt is at or before now
func (r *DeliveryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.InvoiceDelivery, error) {
	query := `
		SELECT id, invoice_id, status, attempts, last_error, next_attempt_at, sent_at, created_at, updated_at
		FROM invoice_deliveries
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC, id ASC
		LIMIT ?
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, entity.DeliveryStatusPending, utc(now), limit)
	if err != nil {
		r.logger.Error("Failed to list due deliveries", zap.Error(err))
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*entity.InvoiceDelivery
	for rows.Next() {
		var (
			d      entity.InvoiceDelivery
			sentAt sql.NullTime
		)
		err := rows.Scan(&d.ID, &d.InvoiceID, &d.Status, &d.Attempts, &d.LastError,
			&d.NextAttemptAt, &sentAt, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		d.SentAt = timePtr(sentAt)
		d.NextAttemptAt = d.NextAttemptAt.UTC()
		deliveries = append(deliveries, &d)
	}
	return deliveries, rows.Err()
}

// MarkSent closes a delivery successfully
func (r *DeliveryRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return r.update(ctx, `
		UPDATE invoice_deliveries
		SET status = ?, attempts = attempts + 1, last_error = '', sent_at = ?, updated_at = ?
		WHERE id = ?
	`, entity.DeliveryStatusSent, utc(at), time.Now().UTC(), id)
}

// MarkRetry records a failed attempt and schedules the next one
func (r *DeliveryRepository) MarkRetry(ctx context.Context, id int64, attempts int, lastErr string, next time.Time) error {
	return r.update(ctx, `
		UPDATE invoice_deliveries
		SET attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?
	`, attempts, lastErr, utc(next), time.Now().UTC(), id)
}

// MarkFailed gives up on a delivery
func (r *DeliveryRepository) MarkFailed(ctx context.Context, id int64, attempts int, lastErr string) error {
	return r.update(ctx, `
		UPDATE invoice_deliveries
		SET status = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, entity.DeliveryStatusFailed, attempts, lastErr, time.Now().UTC(), id)
}

func (r *DeliveryRepository) update(ctx context.Context, query string, args ...interface{}) error {
	if _, err := r.getExecutor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("Failed to update delivery", zap.Error(err))
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.DeliveryRepository = (*DeliveryRepository)(nil)
