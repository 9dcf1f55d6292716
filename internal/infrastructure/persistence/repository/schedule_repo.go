package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"go.uber.org/zap"
)

const scheduleColumns = `
	id, client_id, name, items, tax_rate, discount, discount_type, currency,
	due_in_days, notes, frequency, interval_count, start_date, end_date,
	max_occurrences, auto_send, status, next_run_at, last_run_at,
	occurrences_generated, exhausted, claimed_by, claimed_until,
	created_at, updated_at`

// ScheduleRepository implements port.ScheduleRepository
type ScheduleRepository struct {
	base
	logger *zap.Logger
}

// NewScheduleRepository creates a new schedule repository
func NewScheduleRepository(db *sql.DB, logger *zap.Logger) port.ScheduleRepository {
	return &ScheduleRepository{
		base:   base{db: db},
		logger: logger,
	}
}

// Create inserts a new schedule
func (r *ScheduleRepository) Create(ctx context.Context, schedule *entity.RecurringSchedule) error {
	query := `
		INSERT INTO recurring_schedules (
			client_id, name, items, tax_rate, discount, discount_type, currency,
			due_in_days, notes, frequency, interval_count, start_date, end_date,
			max_occurrences, auto_send, status, next_run_at, last_run_at,
			occurrences_generated, exhausted, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	items, err := json.Marshal(schedule.Items)
	if err != nil {
		return fmt.Errorf("failed to encode schedule items: %w", err)
	}

	now := time.Now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		schedule.ClientID,
		schedule.Name,
		string(items),
		schedule.TaxRate,
		schedule.Discount,
		schedule.DiscountType,
		schedule.Currency,
		schedule.DueInDays,
		schedule.Notes,
		schedule.Frequency,
		schedule.Interval,
		utc(schedule.StartDate),
		nullTime(schedule.EndDate),
		nullInt(schedule.MaxOccurrences),
		schedule.AutoSend,
		schedule.Status,
		nullTime(schedule.NextRunAt),
		nullTime(schedule.LastRunAt),
		schedule.OccurrencesGenerated,
		schedule.Exhausted,
		now,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to create schedule",
			zap.Int64("client_id", schedule.ClientID),
			zap.Error(err))
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	schedule.ID = id
	return nil
}

// GetByID retrieves a schedule by its ID
func (r *ScheduleRepository) GetByID(ctx context.Context, id int64) (*entity.RecurringSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM recurring_schedules WHERE id = ?`

	schedule, err := r.scanSchedule(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrScheduleNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get schedule by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return schedule, nil
}

// List returns schedules ordered by ID
func (r *ScheduleRepository) List(ctx context.Context, filter entity.ScheduleFilter) ([]*entity.RecurringSchedule, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ClientID > 0 {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}

	query := `SELECT ` + scheduleColumns + ` FROM recurring_schedules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	return r.query(ctx, query, args...)
}

// Update writes template, cadence and status fields. Run counters and claim
// columns belong to the runner and are left alone.
func (r *ScheduleRepository) Update(ctx context.Context, schedule *entity.RecurringSchedule) error {
	query := `
		UPDATE recurring_schedules SET
			name = ?, items = ?, tax_rate = ?, discount = ?, discount_type = ?, currency = ?,
			due_in_days = ?, notes = ?, frequency = ?, interval_count = ?, start_date = ?,
			end_date = ?, max_occurrences = ?, auto_send = ?, status = ?, next_run_at = ?,
			exhausted = ?, updated_at = ?
		WHERE id = ?
	`

	items, err := json.Marshal(schedule.Items)
	if err != nil {
		return fmt.Errorf("failed to encode schedule items: %w", err)
	}
	schedule.UpdatedAt = time.Now().UTC()

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		schedule.Name,
		string(items),
		schedule.TaxRate,
		schedule.Discount,
		schedule.DiscountType,
		schedule.Currency,
		schedule.DueInDays,
		schedule.Notes,
		schedule.Frequency,
		schedule.Interval,
		utc(schedule.StartDate),
		nullTime(schedule.EndDate),
		nullInt(schedule.MaxOccurrences),
		schedule.AutoSend,
		schedule.Status,
		nullTime(schedule.NextRunAt),
		schedule.Exhausted,
		schedule.UpdatedAt,
		schedule.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update schedule", zap.Int64("id", schedule.ID), zap.Error(err))
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return checkAffected(result, entity.ErrScheduleNotFound)
}

// ClaimDue leases due schedules to owner, earliest first, then reads back the
// rows carrying this lease
func (r *ScheduleRepository) ClaimDue(ctx context.Context, owner string, now, leaseUntil time.Time, limit int) ([]*entity.RecurringSchedule, error) {
	claim := `
		UPDATE recurring_schedules
		SET claimed_by = ?, claimed_until = ?
		WHERE id IN (
			SELECT id FROM recurring_schedules
			WHERE status = 'ACTIVE'
				AND exhausted = 0
				AND next_run_at IS NOT NULL
				AND next_run_at <= ?
				AND (claimed_until IS NULL OR claimed_until < ?)
			ORDER BY next_run_at ASC, id ASC
			LIMIT ?
		)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, claim, owner, utc(leaseUntil), utc(now), utc(now), limit)
	if err != nil {
		r.logger.Error("Failed to claim due schedules", zap.String("owner", owner), zap.Error(err))
		return nil, fmt.Errorf("failed to claim due schedules: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 {
		return nil, err
	}

	query := `SELECT ` + scheduleColumns + `
		FROM recurring_schedules
		WHERE claimed_by = ? AND claimed_until = ?
		ORDER BY next_run_at ASC, id ASC`

	return r.query(ctx, query, owner, utc(leaseUntil))
}

// Claim leases one schedule to owner unless another owner holds a live lease
func (r *ScheduleRepository) Claim(ctx context.Context, id int64, owner string, now, leaseUntil time.Time) (bool, error) {
	query := `
		UPDATE recurring_schedules
		SET claimed_by = ?, claimed_until = ?
		WHERE id = ?
			AND (claimed_until IS NULL OR claimed_until < ? OR claimed_by = ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query, owner, utc(leaseUntil), id, utc(now), owner)
	if err != nil {
		r.logger.Error("Failed to claim schedule", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to claim schedule: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	// distinguish "held elsewhere" from "missing"
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Advance records a completed run and releases the claim in one statement.
// The row must still be ACTIVE and claimed by owner.
func (r *ScheduleRepository) Advance(ctx context.Context, schedule *entity.RecurringSchedule, owner string) error {
	query := `
		UPDATE recurring_schedules SET
			next_run_at = ?, last_run_at = ?, occurrences_generated = ?, exhausted = ?,
			claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND claimed_by = ? AND status = 'ACTIVE'
	`

	schedule.UpdatedAt = time.Now().UTC()

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		nullTime(schedule.NextRunAt),
		nullTime(schedule.LastRunAt),
		schedule.OccurrencesGenerated,
		schedule.Exhausted,
		schedule.UpdatedAt,
		schedule.ID,
		owner,
	)
	if err != nil {
		r.logger.Error("Failed to advance schedule", zap.Int64("id", schedule.ID), zap.Error(err))
		return fmt.Errorf("failed to advance schedule: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule %d claim lost by %s: %w", schedule.ID, owner, entity.ErrConflict)
	}

	schedule.ClaimedBy = ""
	schedule.ClaimedUntil = nil
	return nil
}

// Release drops owner's claim without recording a run
func (r *ScheduleRepository) Release(ctx context.Context, id int64, owner string) error {
	_, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE recurring_schedules SET claimed_by = NULL, claimed_until = NULL WHERE id = ? AND claimed_by = ?`,
		id, owner)
	if err != nil {
		r.logger.Error("Failed to release schedule", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to release schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.RecurringSchedule, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*entity.RecurringSchedule
	for rows.Next() {
		schedule, err := r.scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

func (r *ScheduleRepository) scanSchedule(row rowScanner) (*entity.RecurringSchedule, error) {
	var (
		schedule                                    entity.RecurringSchedule
		items                                       string
		claimedBy                                   sql.NullString
		endDate, nextRunAt, lastRunAt, claimedUntil sql.NullTime
		maxOccurrences                              sql.NullInt64
	)

	err := row.Scan(
		&schedule.ID,
		&schedule.ClientID,
		&schedule.Name,
		&items,
		&schedule.TaxRate,
		&schedule.Discount,
		&schedule.DiscountType,
		&schedule.Currency,
		&schedule.DueInDays,
		&schedule.Notes,
		&schedule.Frequency,
		&schedule.Interval,
		&schedule.StartDate,
		&endDate,
		&maxOccurrences,
		&schedule.AutoSend,
		&schedule.Status,
		&nextRunAt,
		&lastRunAt,
		&schedule.OccurrencesGenerated,
		&schedule.Exhausted,
		&claimedBy,
		&claimedUntil,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(items), &schedule.Items); err != nil {
		return nil, fmt.Errorf("failed to decode schedule items: %w", err)
	}

	schedule.StartDate = schedule.StartDate.UTC()
	schedule.EndDate = timePtr(endDate)
	schedule.MaxOccurrences = intPtr(maxOccurrences)
	schedule.NextRunAt = timePtr(nextRunAt)
	schedule.LastRunAt = timePtr(lastRunAt)
	schedule.ClaimedBy = claimedBy.String
	schedule.ClaimedUntil = timePtr(claimedUntil)
	schedule.CreatedAt = schedule.CreatedAt.UTC()
	schedule.UpdatedAt = schedule.UpdatedAt.UTC()
	return &schedule, nil
}

// Verify interface compliance
var _ port.ScheduleRepository = (*ScheduleRepository)(nil)
