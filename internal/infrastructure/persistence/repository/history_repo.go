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

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	base
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		base:   base{db: db},
		logger: logger,
	}
}

// Create creates a new history record
func (r *HistoryRepository) Create(ctx context.Context, history *entity.InvoiceHistory) error {
	query := `
		INSERT INTO invoice_history (
			invoice_id, action, from_status, to_status, actor, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now().UTC()
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		history.InvoiceID,
		history.Action,
		history.FromStatus,
		history.ToStatus,
		history.Actor,
		history.Detail,
		utc(history.CreatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	history.ID = id
	return nil
}

// ListByInvoice retrieves all history records for an invoice, oldest first
func (r *HistoryRepository) ListByInvoice(ctx context.Context, invoiceID int64) ([]*entity.InvoiceHistory, error) {
	query := `
		SELECT id, invoice_id, action, from_status, to_status, actor, detail, created_at
		FROM invoice_history
		WHERE invoice_id = ?
		ORDER BY id ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, invoiceID)
	if err != nil {
		r.logger.Error("Failed to get history by invoice ID", zap.Int64("invoice_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.InvoiceHistory
	for rows.Next() {
		var record entity.InvoiceHistory
		err := rows.Scan(
			&record.ID,
			&record.InvoiceID,
			&record.Action,
			&record.FromStatus,
			&record.ToStatus,
			&record.Actor,
			&record.Detail,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		record.CreatedAt = record.CreatedAt.UTC()
		records = append(records, &record)
	}
	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
