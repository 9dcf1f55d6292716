package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/dispatcher"
	"github.com/garyjia/invoice-engine/internal/application/locker"
	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/application/workflow"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/domain/event"
	"github.com/garyjia/invoice-engine/internal/domain/money"
	"github.com/garyjia/invoice-engine/pkg/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceInput carries the editable parts of an invoice
type InvoiceInput struct {
	ClientID     int64
	Items        []entity.InvoiceItem
	TaxRate      decimal.Decimal
	Discount     decimal.Decimal
	DiscountType entity.DiscountType
	Currency     string
	IssueDate    time.Time
	DueDate      time.Time
	Notes        string
}

// InvoiceService manages invoices outside the payment path
type InvoiceService interface {
	Create(ctx context.Context, input InvoiceInput, actor string) (*entity.Invoice, error)
	Get(ctx context.Context, id int64) (*entity.Invoice, error)
	List(ctx context.Context, filter entity.InvoiceFilter) ([]*entity.Invoice, error)
	// Update replaces the items and terms of a DRAFT invoice
	Update(ctx context.Context, id int64, input InvoiceInput, actor string) (*entity.Invoice, error)
	Send(ctx context.Context, id int64, actor string) (*entity.Invoice, error)
	Reopen(ctx context.Context, id int64, actor, reason string) (*entity.Invoice, error)
	Cancel(ctx context.Context, id int64, actor, reason string) (*entity.Invoice, error)
	// Delete removes a DRAFT invoice and cancels any other one. Invoices with
	// recorded payments are kept. It reports whether the row was removed.
	Delete(ctx context.Context, id int64, actor string) (bool, error)
	EnableShare(ctx context.Context, id int64, actor string) (*entity.Invoice, error)
	DisableShare(ctx context.Context, id int64, actor string) (*entity.Invoice, error)
	// GetPublic resolves a share token. A SENT invoice becomes VIEWED.
	GetPublic(ctx context.Context, shareID string) (*entity.Invoice, error)
	History(ctx context.Context, id int64) ([]*entity.InvoiceHistory, error)
}

// InvoiceConfig holds invoice defaults
type InvoiceConfig struct {
	NumberPrefix    string
	DefaultCurrency string
	DefaultDueDays  int
	Clock           Clock
}

type invoiceServiceImpl struct {
	invoiceRepo  port.InvoiceRepository
	paymentRepo  port.PaymentRepository
	historyRepo  port.HistoryRepository
	clientRepo   port.ClientRepository
	deliveryRepo port.DeliveryRepository
	txManager    port.TransactionManager
	engine       workflow.Engine
	locks        *locker.KeyedMutex[int64]
	publisher    dispatcher.Publisher
	cfg          InvoiceConfig
	logger       Logger
}

// NewInvoiceService creates a new InvoiceService. locks must be shared with
// the payment service so both serialize on the same invoice.
func NewInvoiceService(
	invoiceRepo port.InvoiceRepository,
	paymentRepo port.PaymentRepository,
	historyRepo port.HistoryRepository,
	clientRepo port.ClientRepository,
	deliveryRepo port.DeliveryRepository,
	txManager port.TransactionManager,
	engine workflow.Engine,
	locks *locker.KeyedMutex[int64],
	publisher dispatcher.Publisher,
	cfg InvoiceConfig,
	logger Logger,
) InvoiceService {
	if cfg.NumberPrefix == "" {
		cfg.NumberPrefix = "INV-"
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if cfg.DefaultDueDays <= 0 {
		cfg.DefaultDueDays = 30
	}
	return &invoiceServiceImpl{
		invoiceRepo:  invoiceRepo,
		paymentRepo:  paymentRepo,
		historyRepo:  historyRepo,
		clientRepo:   clientRepo,
		deliveryRepo: deliveryRepo,
		txManager:    txManager,
		engine:       engine,
		locks:        locks,
		publisher:    publisher,
		cfg:          cfg,
		logger:       logger,
	}
}

// Create stores a new DRAFT invoice with computed totals and a number
func (s *invoiceServiceImpl) Create(ctx context.Context, input InvoiceInput, actor string) (*entity.Invoice, error) {
	now := s.cfg.Clock.now()

	inv := &entity.Invoice{
		ClientID:   input.ClientID,
		Status:     entity.InvoiceStatusDraft,
		PaidAmount: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.applyInput(ctx, inv, input, now); err != nil {
		return nil, err
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.invoiceRepo.Create(txCtx, inv); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}

		inv.Number = entity.FormatInvoiceNumber(s.cfg.NumberPrefix, inv.ID)
		if err := s.invoiceRepo.SetNumber(txCtx, inv.ID, inv.Number); err != nil {
			return fmt.Errorf("assign invoice number: %w", err)
		}

		return s.historyRepo.Create(txCtx, &entity.InvoiceHistory{
			InvoiceID: inv.ID,
			Action:    entity.HistoryActionCreated,
			ToStatus:  entity.InvoiceStatusDraft,
			Actor:     actorOr(actor),
			CreatedAt: now,
		})
	})
	if err != nil {
		s.logger.Error("Failed to create invoice", "error", err, "client_id", input.ClientID)
		return nil, err
	}

	s.logger.Info("Invoice created", "id", inv.ID, "number", inv.Number, "total", inv.TotalAmount.String())
	publishAll(ctx, s.publisher, event.NewEvent(event.TypeInvoiceCreated, inv.ID).
		WithInvoice(inv.ID).
		WithStatus(inv.Status.String()))
	return inv, nil
}

// applyInput validates input and writes it, with recomputed totals, onto inv
func (s *invoiceServiceImpl) applyInput(ctx context.Context, inv *entity.Invoice, input InvoiceInput, now time.Time) error {
	if input.ClientID <= 0 {
		return entity.ErrMissingClient
	}
	if _, err := s.clientRepo.GetByID(ctx, input.ClientID); err != nil {
		if errors.Is(err, entity.ErrClientNotFound) {
			return fmt.Errorf("client %d: %w", input.ClientID, entity.ErrMissingClient)
		}
		return err
	}

	items, err := sanitizeItems(input.Items)
	if err != nil {
		return err
	}

	currency := input.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	currency, err = money.NormalizeCurrency(currency)
	if err != nil {
		return err
	}

	discountType := input.DiscountType
	if discountType == "" {
		discountType = entity.DiscountTypeFixed
	}

	issue := input.IssueDate
	if issue.IsZero() {
		issue = now
	}
	due := input.DueDate
	if due.IsZero() {
		due = issue.AddDate(0, 0, s.cfg.DefaultDueDays)
	}
	if due.Before(issue) {
		return entity.ErrDueBeforeIssue
	}

	inv.ClientID = input.ClientID
	inv.Items = items
	inv.TaxRate = input.TaxRate
	inv.Discount = input.Discount
	inv.DiscountType = discountType
	inv.Currency = currency
	inv.IssueDate = issue.UTC()
	inv.DueDate = due.UTC()
	inv.Notes = utils.SanitizeString(input.Notes)

	return money.Recalculate(inv)
}

// sanitizeItems cleans descriptions, numbers positions and validates each line
func sanitizeItems(items []entity.InvoiceItem) ([]entity.InvoiceItem, error) {
	if len(items) == 0 {
		return nil, entity.ErrNoItems
	}
	out := make([]entity.InvoiceItem, len(items))
	for i, item := range items {
		item.ID = 0
		item.Position = i + 1
		item.Description = utils.SanitizeString(item.Description)
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		out[i] = item
	}
	return out, nil
}

func (s *invoiceServiceImpl) Get(ctx context.Context, id int64) (*entity.Invoice, error) {
	return s.invoiceRepo.GetByID(ctx, id)
}

func (s *invoiceServiceImpl) List(ctx context.Context, filter entity.InvoiceFilter) ([]*entity.Invoice, error) {
	if filter.Status != "" {
		if !filter.Status.IsValid() {
			return nil, fmt.Errorf("unknown status %q: %w", filter.Status, entity.ErrValidation)
		}
		if filter.EffectiveAt.IsZero() {
			filter.EffectiveAt = s.cfg.Clock.now()
		}
	}
	return s.invoiceRepo.List(ctx, filter)
}

func (s *invoiceServiceImpl) Update(ctx context.Context, id int64, input InvoiceInput, actor string) (*entity.Invoice, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.cfg.Clock.now()
	var inv *entity.Invoice

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		inv, err = s.invoiceRepo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if !inv.IsEditable() {
			return fmt.Errorf("invoice %d is %s: %w", id, inv.Status, entity.ErrInvoiceNotEditable)
		}

		if input.IssueDate.IsZero() {
			input.IssueDate = inv.IssueDate
		}
		if input.DueDate.IsZero() {
			input.DueDate = inv.DueDate
		}
		if err := s.applyInput(txCtx, inv, input, now); err != nil {
			return err
		}
		inv.UpdatedAt = now

		if err := s.invoiceRepo.ReplaceItems(txCtx, id, inv.Items); err != nil {
			return fmt.Errorf("replace items: %w", err)
		}
		if err := s.invoiceRepo.Update(txCtx, inv); err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}
		return s.historyRepo.Create(txCtx, &entity.InvoiceHistory{
			InvoiceID: id,
			Action:    entity.HistoryActionItemsUpdated,
			Actor:     actorOr(actor),
			Detail:    fmt.Sprintf("total %s", inv.TotalAmount.String()),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	// items were rewritten; reload to pick up their row IDs
	if fresh, err := s.invoiceRepo.GetByID(ctx, id); err == nil {
		inv = fresh
	}

	publishAll(ctx, s.publisher, event.NewEvent(event.TypeInvoiceUpdated, id).WithInvoice(id))
	return inv, nil
}

// Send moves a DRAFT invoice to SENT and queues its delivery
func (s *invoiceServiceImpl) Send(ctx context.Context, id int64, actor string) (*entity.Invoice, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.cfg.Clock.now()
	var inv *entity.Invoice

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		inv, err = s.invoiceRepo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if _, err := s.engine.Apply(txCtx, inv, workflow.TriggerSend, actor, ""); err != nil {
			return err
		}
		if err := s.deliveryRepo.Enqueue(txCtx, id, now); err != nil {
			return fmt.Errorf("queue delivery: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to send invoice", "error", err, "id", id)
		return nil, err
	}

	s.logger.Info("Invoice sent", "id", id, "actor", actorOr(actor))
	publishAll(ctx, s.publisher, workflow.StatusChangedEvent(inv))
	return inv, nil
}

func (s *invoiceServiceImpl) Reopen(ctx context.Context, id int64, actor, reason string) (*entity.Invoice, error) {
	return s.transition(ctx, id, workflow.TriggerReopen, actor, reason)
}

func (s *invoiceServiceImpl) Cancel(ctx context.Context, id int64, actor, reason string) (*entity.Invoice, error) {
	return s.transition(ctx, id, workflow.TriggerCancel, actor, reason)
}

func (s *invoiceServiceImpl) transition(ctx context.Context, id int64, trigger workflow.InvoiceTrigger, actor, detail string) (*entity.Invoice, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inv, err := s.engine.Transition(ctx, id, trigger, actor, detail)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Invoice transitioned", "id", id, "trigger", trigger.String(), "status", inv.Status.String())
	return inv, nil
}

func (s *invoiceServiceImpl) Delete(ctx context.Context, id int64, actor string) (bool, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	var (
		inv     *entity.Invoice
		removed bool
		tr      workflow.Transition
	)
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		inv, err = s.invoiceRepo.GetByID(txCtx, id)
		if err != nil {
			return err
		}

		count, err := s.paymentRepo.CountByInvoice(txCtx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("invoice %d has %d payments: %w", id, count, entity.ErrInvoiceHasPayments)
		}

		if inv.Status == entity.InvoiceStatusDraft {
			removed = true
			return s.invoiceRepo.Delete(txCtx, id)
		}
		tr, err = s.engine.Apply(txCtx, inv, workflow.TriggerCancel, actor, "deleted")
		return err
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.logger.Info("Invoice deleted", "id", id)
		publishAll(ctx, s.publisher, event.NewEvent(event.TypeInvoiceDeleted, id).WithInvoice(id))
		return true, nil
	}
	if tr.Changed() {
		publishAll(ctx, s.publisher, workflow.StatusChangedEvent(inv))
	}
	return false, nil
}

func (s *invoiceServiceImpl) EnableShare(ctx context.Context, id int64, actor string) (*entity.Invoice, error) {
	return s.setShare(ctx, id, true, actor)
}

func (s *invoiceServiceImpl) DisableShare(ctx context.Context, id int64, actor string) (*entity.Invoice, error) {
	return s.setShare(ctx, id, false, actor)
}

// setShare toggles the public link. The token survives a disable, so
// re-enabling restores the same URL.
func (s *invoiceServiceImpl) setShare(ctx context.Context, id int64, enabled bool, actor string) (*entity.Invoice, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.cfg.Clock.now()
	var inv *entity.Invoice

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		inv, err = s.invoiceRepo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if inv.ShareEnabled == enabled && (!enabled || inv.ShareID != "") {
			return nil
		}

		action := entity.HistoryActionShareDisabled
		if enabled {
			action = entity.HistoryActionShareEnabled
			if inv.ShareID == "" {
				inv.ShareID = uuid.NewString()
			}
		}
		inv.ShareEnabled = enabled
		inv.UpdatedAt = now

		if err := s.invoiceRepo.Update(txCtx, inv); err != nil {
			return fmt.Errorf("update share: %w", err)
		}
		return s.historyRepo.Create(txCtx, &entity.InvoiceHistory{
			InvoiceID: id,
			Action:    action,
			Actor:     actorOr(actor),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	publishAll(ctx, s.publisher, event.NewEvent(event.TypeInvoiceUpdated, id).WithInvoice(id))
	return inv, nil
}

func (s *invoiceServiceImpl) GetPublic(ctx context.Context, shareID string) (*entity.Invoice, error) {
	if _, err := uuid.Parse(shareID); err != nil {
		return nil, entity.ErrInvoiceNotFound
	}

	inv, err := s.invoiceRepo.GetByShareID(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if !inv.IsPubliclyShared() {
		return nil, entity.ErrInvoiceNotFound
	}
	if inv.Status != entity.InvoiceStatusSent {
		return inv, nil
	}

	viewed, err := s.transition(ctx, inv.ID, workflow.TriggerView, entity.ActorPublic, "viewed via share link")
	switch {
	case err == nil:
		return viewed, nil
	case errors.Is(err, entity.ErrInvalidTransition):
		// moved on while we waited for the lock
		return s.invoiceRepo.GetByID(ctx, inv.ID)
	default:
		return nil, err
	}
}

func (s *invoiceServiceImpl) History(ctx context.Context, id int64) ([]*entity.InvoiceHistory, error) {
	if _, err := s.invoiceRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.historyRepo.ListByInvoice(ctx, id)
}

func actorOr(actor string) string {
	if actor == "" {
		return entity.ActorSystem
	}
	return actor
}
