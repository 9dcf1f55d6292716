package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"go.uber.org/zap"
)

// ClientRepository implements port.ClientRepository
type ClientRepository struct {
	base
	logger *zap.Logger
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *sql.DB, logger *zap.Logger) port.ClientRepository {
	return &ClientRepository{
		base:   base{db: db},
		logger: logger,
	}
}

// Create inserts a client
func (r *ClientRepository) Create(ctx context.Context, client *entity.Client) error {
	now := time.Now().UTC()
	client.CreatedAt = now
	client.UpdatedAt = now

	result, err := r.getExecutor(ctx).ExecContext(ctx,
		`INSERT INTO clients (name, email, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		client.Name, client.Email, now, now)
	if err != nil {
		r.logger.Error("Failed to create client", zap.Error(err))
		return fmt.Errorf("failed to create client: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	client.ID = id
	return nil
}

// GetByID retrieves a client by its ID
func (r *ClientRepository) GetByID(ctx context.Context, id int64) (*entity.Client, error) {
	var client entity.Client
	err := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT id, name, email, created_at, updated_at FROM clients WHERE id = ?`, id,
	).Scan(&client.ID, &client.Name, &client.Email, &client.CreatedAt, &client.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrClientNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get client by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	client.CreatedAt = client.CreatedAt.UTC()
	client.UpdatedAt = client.UpdatedAt.UTC()
	return &client, nil
}

// Update writes name and email
func (r *ClientRepository) Update(ctx context.Context, client *entity.Client) error {
	client.UpdatedAt = time.Now().UTC()

	result, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE clients SET name = ?, email = ?, updated_at = ? WHERE id = ?`,
		client.Name, client.Email, client.UpdatedAt, client.ID)
	if err != nil {
		r.logger.Error("Failed to update client", zap.Int64("id", client.ID), zap.Error(err))
		return fmt.Errorf("failed to update client: %w", err)
	}
	return checkAffected(result, entity.ErrClientNotFound)
}

// Verify interface compliance
var _ port.ClientRepository = (*ClientRepository)(nil)
