package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/invoice-engine/internal/application/dispatcher"
	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/domain/event"
	"github.com/garyjia/invoice-engine/pkg/utils"
)

// ClientService keeps the minimal client records invoices point at
type ClientService interface {
	Create(ctx context.Context, name, email string) (*entity.Client, error)
	Get(ctx context.Context, id int64) (*entity.Client, error)
	Update(ctx context.Context, id int64, name, email string) (*entity.Client, error)
}

type clientServiceImpl struct {
	clientRepo port.ClientRepository
	publisher  dispatcher.Publisher
	clock      Clock
	logger     Logger
}

// NewClientService creates a new ClientService
func NewClientService(clientRepo port.ClientRepository, publisher dispatcher.Publisher, clock Clock, logger Logger) ClientService {
	return &clientServiceImpl{
		clientRepo: clientRepo,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
	}
}

func (s *clientServiceImpl) Create(ctx context.Context, name, email string) (*entity.Client, error) {
	client := &entity.Client{CreatedAt: s.clock.now()}
	client.UpdatedAt = client.CreatedAt
	if err := setClientFields(client, name, email); err != nil {
		return nil, err
	}

	if err := s.clientRepo.Create(ctx, client); err != nil {
		s.logger.Error("Failed to create client", "error", err)
		return nil, fmt.Errorf("create client: %w", err)
	}
	s.logger.Info("Client created", "id", client.ID)
	return client, nil
}

func (s *clientServiceImpl) Get(ctx context.Context, id int64) (*entity.Client, error) {
	return s.clientRepo.GetByID(ctx, id)
}

func (s *clientServiceImpl) Update(ctx context.Context, id int64, name, email string) (*entity.Client, error) {
	client, err := s.clientRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := setClientFields(client, name, email); err != nil {
		return nil, err
	}
	client.UpdatedAt = s.clock.now()

	if err := s.clientRepo.Update(ctx, client); err != nil {
		return nil, fmt.Errorf("update client: %w", err)
	}
	publishAll(ctx, s.publisher, event.NewEvent(event.TypeClientUpdated, id))
	return client, nil
}

func setClientFields(client *entity.Client, name, email string) error {
	name = utils.SanitizeString(name)
	if name == "" {
		return entity.ErrInvalidName
	}
	email = strings.TrimSpace(email)
	if email != "" {
		if err := utils.ValidateEmail(email); err != nil {
			return fmt.Errorf("%w: %v", entity.ErrInvalidEmail, err)
		}
	}
	client.Name = name
	client.Email = email
	return nil
}
