package service

import (
	"context"
	"sync"
	"time"

	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/domain/event"
	"github.com/shopspring/decimal"
)

// memStore backs the mock repositories so services see their own writes
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	invoices   map[int64]*entity.Invoice
	payments   map[int64]*entity.Payment
	schedules  map[int64]*entity.RecurringSchedule
	clients    map[int64]*entity.Client
	history    []*entity.InvoiceHistory
	deliveries []int64
}

func newMemStore() *memStore {
	return &memStore{
		invoices:  make(map[int64]*entity.Invoice),
		payments:  make(map[int64]*entity.Payment),
		schedules: make(map[int64]*entity.RecurringSchedule),
		clients:   map[int64]*entity.Client{1: {ID: 1, Name: "Acme", Email: "billing@acme.test"}},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func cloneInvoice(inv *entity.Invoice) *entity.Invoice {
	c := *inv
	c.Items = append([]entity.InvoiceItem(nil), inv.Items...)
	return &c
}

func (s *memStore) historyFor(invoiceID int64) []*entity.InvoiceHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.InvoiceHistory
	for _, h := range s.history {
		if h.InvoiceID == invoiceID {
			out = append(out, h)
		}
	}
	return out
}

// Mock repositories
type mockInvoiceRepo struct {
	store      *memStore
	createFunc func(ctx context.Context, invoice *entity.Invoice) error
	listFunc   func(ctx context.Context, filter entity.InvoiceFilter) ([]*entity.Invoice, error)
}

func (m *mockInvoiceRepo) Create(ctx context.Context, invoice *entity.Invoice) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, invoice)
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	invoice.ID = m.store.id()
	for i := range invoice.Items {
		invoice.Items[i].ID = m.store.id()
	}
	m.store.invoices[invoice.ID] = cloneInvoice(invoice)
	return nil
}

func (m *mockInvoiceRepo) GetByID(ctx context.Context, id int64) (*entity.Invoice, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	inv, ok := m.store.invoices[id]
	if !ok {
		return nil, entity.ErrInvoiceNotFound
	}
	return cloneInvoice(inv), nil
}

func (m *mockInvoiceRepo) GetByShareID(ctx context.Context, shareID string) (*entity.Invoice, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, inv := range m.store.invoices {
		if inv.ShareID == shareID {
			return cloneInvoice(inv), nil
		}
	}
	return nil, entity.ErrInvoiceNotFound
}

func (m *mockInvoiceRepo) GetByScheduleOccurrence(ctx context.Context, scheduleID int64, occurrence int) (*entity.Invoice, error) {
	return nil, entity.ErrInvoiceNotFound
}

func (m *mockInvoiceRepo) List(ctx context.Context, filter entity.InvoiceFilter) ([]*entity.Invoice, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, filter)
	}
	return []*entity.Invoice{}, nil
}

func (m *mockInvoiceRepo) Update(ctx context.Context, invoice *entity.Invoice) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	stored, ok := m.store.invoices[invoice.ID]
	if !ok {
		return entity.ErrInvoiceNotFound
	}
	c := cloneInvoice(invoice)
	c.Items = stored.Items
	c.Number = stored.Number
	m.store.invoices[invoice.ID] = c
	return nil
}

func (m *mockInvoiceRepo) ReplaceItems(ctx context.Context, invoiceID int64, items []entity.InvoiceItem) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	stored, ok := m.store.invoices[invoiceID]
	if !ok {
		return entity.ErrInvoiceNotFound
	}
	stored.Items = append([]entity.InvoiceItem(nil), items...)
	return nil
}

func (m *mockInvoiceRepo) SetNumber(ctx context.Context, id int64, number string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.invoices[id].Number = number
	return nil
}

func (m *mockInvoiceRepo) Delete(ctx context.Context, id int64) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	delete(m.store.invoices, id)
	return nil
}

type mockPaymentRepo struct {
	store *memStore
}

func (m *mockPaymentRepo) Create(ctx context.Context, payment *entity.Payment) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if payment.Reference != "" {
		for _, p := range m.store.payments {
			if p.Method == payment.Method && p.Reference == payment.Reference {
				return entity.ErrDuplicatePayment
			}
		}
	}
	payment.ID = m.store.id()
	c := *payment
	m.store.payments[payment.ID] = &c
	return nil
}

func (m *mockPaymentRepo) GetByID(ctx context.Context, id int64) (*entity.Payment, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	p, ok := m.store.payments[id]
	if !ok {
		return nil, entity.ErrPaymentNotFound
	}
	c := *p
	return &c, nil
}

func (m *mockPaymentRepo) GetByReference(ctx context.Context, method entity.PaymentMethod, reference string) (*entity.Payment, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, p := range m.store.payments {
		if p.Method == method && p.Reference == reference && !p.IsReversal() {
			c := *p
			return &c, nil
		}
	}
	return nil, entity.ErrPaymentNotFound
}

func (m *mockPaymentRepo) GetReversalByReference(ctx context.Context, method entity.PaymentMethod, reference string) (*entity.Payment, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, p := range m.store.payments {
		if p.Method == method && p.Reference == reference && p.IsReversal() {
			c := *p
			return &c, nil
		}
	}
	return nil, entity.ErrPaymentNotFound
}

func (m *mockPaymentRepo) ListByInvoice(ctx context.Context, invoiceID int64) ([]*entity.Payment, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var out []*entity.Payment
	for id := int64(1); id <= m.store.nextID; id++ {
		if p, ok := m.store.payments[id]; ok && p.InvoiceID == invoiceID {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *mockPaymentRepo) UpdateStatus(ctx context.Context, id int64, status entity.PaymentStatus, processedAt *time.Time) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	p, ok := m.store.payments[id]
	if !ok {
		return entity.ErrPaymentNotFound
	}
	p.Status = status
	if processedAt != nil {
		p.ProcessedAt = processedAt
	}
	return nil
}

func (m *mockPaymentRepo) UpdateRefund(ctx context.Context, id int64, refunded decimal.Decimal, status entity.PaymentStatus) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	p, ok := m.store.payments[id]
	if !ok {
		return entity.ErrPaymentNotFound
	}
	p.RefundedAmount = refunded
	p.Status = status
	return nil
}

func (m *mockPaymentRepo) CountByInvoice(ctx context.Context, invoiceID int64) (int, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	n := 0
	for _, p := range m.store.payments {
		if p.InvoiceID == invoiceID {
			n++
		}
	}
	return n, nil
}

type mockHistoryRepo struct {
	store *memStore
}

func (m *mockHistoryRepo) Create(ctx context.Context, history *entity.InvoiceHistory) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	history.ID = m.store.id()
	m.store.history = append(m.store.history, history)
	return nil
}

func (m *mockHistoryRepo) ListByInvoice(ctx context.Context, invoiceID int64) ([]*entity.InvoiceHistory, error) {
	return m.store.historyFor(invoiceID), nil
}

type mockClientRepo struct {
	store *memStore
}

func (m *mockClientRepo) Create(ctx context.Context, client *entity.Client) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	client.ID = m.store.id() + 100
	c := *client
	m.store.clients[client.ID] = &c
	return nil
}

func (m *mockClientRepo) GetByID(ctx context.Context, id int64) (*entity.Client, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	c, ok := m.store.clients[id]
	if !ok {
		return nil, entity.ErrClientNotFound
	}
	cc := *c
	return &cc, nil
}

func (m *mockClientRepo) Update(ctx context.Context, client *entity.Client) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if _, ok := m.store.clients[client.ID]; !ok {
		return entity.ErrClientNotFound
	}
	c := *client
	m.store.clients[client.ID] = &c
	return nil
}

type mockDeliveryRepo struct {
	store *memStore
}

func (m *mockDeliveryRepo) Enqueue(ctx context.Context, invoiceID int64, at time.Time) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.deliveries = append(m.store.deliveries, invoiceID)
	return nil
}

func (m *mockDeliveryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.InvoiceDelivery, error) {
	return nil, nil
}

func (m *mockDeliveryRepo) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return nil
}

func (m *mockDeliveryRepo) MarkRetry(ctx context.Context, id int64, attempts int, lastErr string, next time.Time) error {
	return nil
}

func (m *mockDeliveryRepo) MarkFailed(ctx context.Context, id int64, attempts int, lastErr string) error {
	return nil
}

type mockScheduleRepo struct {
	store *memStore
}

func cloneSchedule(s *entity.RecurringSchedule) *entity.RecurringSchedule {
	c := *s
	c.Items = append([]entity.InvoiceItem(nil), s.Items...)
	return &c
}

func (m *mockScheduleRepo) Create(ctx context.Context, schedule *entity.RecurringSchedule) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	schedule.ID = m.store.id()
	m.store.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

func (m *mockScheduleRepo) GetByID(ctx context.Context, id int64) (*entity.RecurringSchedule, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	s, ok := m.store.schedules[id]
	if !ok {
		return nil, entity.ErrScheduleNotFound
	}
	return cloneSchedule(s), nil
}

func (m *mockScheduleRepo) List(ctx context.Context, filter entity.ScheduleFilter) ([]*entity.RecurringSchedule, error) {
	return []*entity.RecurringSchedule{}, nil
}

func (m *mockScheduleRepo) Update(ctx context.Context, schedule *entity.RecurringSchedule) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	stored, ok := m.store.schedules[schedule.ID]
	if !ok {
		return entity.ErrScheduleNotFound
	}
	c := cloneSchedule(schedule)
	c.OccurrencesGenerated = stored.OccurrencesGenerated
	c.LastRunAt = stored.LastRunAt
	m.store.schedules[schedule.ID] = c
	return nil
}

func (m *mockScheduleRepo) ClaimDue(ctx context.Context, owner string, now, leaseUntil time.Time, limit int) ([]*entity.RecurringSchedule, error) {
	return nil, nil
}

func (m *mockScheduleRepo) Claim(ctx context.Context, id int64, owner string, now, leaseUntil time.Time) (bool, error) {
	return true, nil
}

func (m *mockScheduleRepo) Advance(ctx context.Context, schedule *entity.RecurringSchedule, owner string) error {
	return nil
}

func (m *mockScheduleRepo) Release(ctx context.Context, id int64, owner string) error {
	return nil
}

type mockTxManager struct {
	withTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.withTransactionFunc != nil {
		return m.withTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

type mockPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockPublisher) Publish(ctx context.Context, evt *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockPublisher) types() []event.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.Type, len(m.events))
	for i, evt := range m.events {
		out[i] = evt.Type
	}
	return out
}

func (m *mockPublisher) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}
