package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/domain/recurrence"
	"github.com/garyjia/invoice-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/invoice-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-engine/pkg/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type mockSender struct {
	mu       sync.Mutex
	sent     []int64
	sendFunc func(ctx context.Context, invoiceID int64, actor string) (*entity.Invoice, error)
}

func (m *mockSender) Send(ctx context.Context, invoiceID int64, actor string) (*entity.Invoice, error) {
	m.mu.Lock()
	m.sent = append(m.sent, invoiceID)
	m.mu.Unlock()
	if m.sendFunc != nil {
		return m.sendFunc(ctx, invoiceID, actor)
	}
	return &entity.Invoice{ID: invoiceID, Status: entity.InvoiceStatusSent}, nil
}

type countingMetrics struct {
	mu        sync.Mutex
	runs      map[string]int
	generated int
}

func (m *countingMetrics) ScheduleRun(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]int)
	}
	m.runs[result]++
}

func (m *countingMetrics) InvoiceGenerated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generated++
}

type fixture struct {
	db        *sql.DB
	schedules port.ScheduleRepository
	invoices  port.InvoiceRepository
	history   port.HistoryRepository
	tx        port.TransactionManager
	clientID  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	client := &entity.Client{Name: "Acme", Email: "ap@acme.test"}
	require.NoError(t, repository.NewClientRepository(db.DB, logger).Create(context.Background(), client))

	return &fixture{
		db:        db.DB,
		schedules: repository.NewScheduleRepository(db.DB, logger),
		invoices:  repository.NewInvoiceRepository(db.DB, logger),
		history:   repository.NewHistoryRepository(db.DB, logger),
		tx:        sqlite.NewDB(db.DB, logger),
		clientID:  client.ID,
	}
}

func (f *fixture) runner(cfg Config, opts ...Option) *Runner {
	if cfg.RunnerID == "" {
		cfg.RunnerID = "runner-a"
	}
	return NewRunner(f.schedules, f.invoices, f.history, f.tx, cfg, nopLogger{}, opts...)
}

func (f *fixture) schedule(t *testing.T, mutate func(s *entity.RecurringSchedule)) *entity.RecurringSchedule {
	t.Helper()
	s := &entity.RecurringSchedule{
		ClientID: f.clientID,
		Name:     "Retainer",
		Items: []entity.InvoiceItem{
			{Position: 1, Description: "Monthly retainer", Quantity: decimal.NewFromInt(1), Rate: decimal.RequireFromString("500.00")},
		},
		TaxRate:      decimal.NewFromInt(10),
		Discount:     decimal.Zero,
		DiscountType: entity.DiscountTypeFixed,
		Currency:     "USD",
		DueInDays:    30,
		Frequency:    entity.FrequencyMonthly,
		Interval:     1,
		StartDate:    start,
		Status:       entity.ScheduleStatusActive,
	}
	if mutate != nil {
		mutate(s)
	}
	if s.Status == entity.ScheduleStatusActive && s.NextRunAt == nil {
		s.NextRunAt = recurrence.First(s)
	}
	require.NoError(t, f.schedules.Create(context.Background(), s))
	return s
}

func TestRunner_RunNowSingleOccurrence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := start.Add(2 * time.Hour)

	one := 1
	sched := f.schedule(t, func(s *entity.RecurringSchedule) { s.MaxOccurrences = &one })
	r := f.runner(Config{Clock: func() time.Time { return now }})

	inv, err := r.RunNow(ctx, sched.ID)
	require.NoError(t, err)
	require.NotNil(t, inv)

	assert.Equal(t, entity.InvoiceStatusDraft, inv.Status)
	assert.Equal(t, "INV-000001", inv.Number)
	assert.True(t, inv.DueDate.Equal(now.AddDate(0, 0, 30)), inv.DueDate.String())
	assert.True(t, inv.TotalAmount.Equal(decimal.RequireFromString("550")), inv.TotalAmount.String())
	require.NotNil(t, inv.Occurrence)
	assert.Equal(t, 1, *inv.Occurrence)
	require.NotNil(t, inv.GeneratedFromScheduleID)
	assert.Equal(t, sched.ID, *inv.GeneratedFromScheduleID)

	got, err := f.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ScheduleStatusActive, got.Status)
	assert.True(t, got.Exhausted)
	assert.Nil(t, got.NextRunAt)
	assert.Equal(t, 1, got.OccurrencesGenerated)
	assert.Empty(t, got.ClaimedBy)

	history, err := f.history.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.HistoryActionGenerated, history[0].Action)
	assert.Equal(t, entity.ActorScheduler, history[0].Actor)

	_, err = r.RunNow(ctx, sched.ID)
	assert.ErrorIs(t, err, entity.ErrScheduleExhausted)
	assert.ErrorIs(t, err, entity.ErrConflict)
}

func TestRunner_RunNowRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.runner(Config{Clock: func() time.Time { return start }})

	paused := f.schedule(t, func(s *entity.RecurringSchedule) { s.Status = entity.ScheduleStatusPaused })
	_, err := r.RunNow(ctx, paused.ID)
	assert.ErrorIs(t, err, entity.ErrScheduleNotActive)

	_, err = r.RunNow(ctx, 404)
	assert.ErrorIs(t, err, entity.ErrScheduleNotFound)

	held := f.schedule(t, nil)
	ok, err := f.schedules.Claim(ctx, held.ID, "runner-b", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = r.RunNow(ctx, held.ID)
	assert.ErrorIs(t, err, entity.ErrConflict)
}

func TestRunner_RunDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := start.Add(time.Minute)

	due1 := f.schedule(t, nil)
	due2 := f.schedule(t, func(s *entity.RecurringSchedule) { s.Frequency = entity.FrequencyWeekly })
	later := f.schedule(t, func(s *entity.RecurringSchedule) { s.StartDate = start.AddDate(0, 0, 3) })
	paused := f.schedule(t, func(s *entity.RecurringSchedule) { s.Status = entity.ScheduleStatusPaused })

	metrics := &countingMetrics{}
	summary, err := f.runner(Config{}, WithMetrics(metrics)).RunDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Summary{Claimed: 2, Generated: 2}, summary)
	assert.Equal(t, 2, metrics.generated)
	assert.Equal(t, 2, metrics.runs[ResultGenerated])

	monthly, err := f.schedules.GetByID(ctx, due1.ID)
	require.NoError(t, err)
	require.NotNil(t, monthly.NextRunAt)
	assert.True(t, monthly.NextRunAt.Equal(start.AddDate(0, 1, 0)), monthly.NextRunAt.String())

	weekly, err := f.schedules.GetByID(ctx, due2.ID)
	require.NoError(t, err)
	require.NotNil(t, weekly.NextRunAt)
	assert.True(t, weekly.NextRunAt.Equal(start.AddDate(0, 0, 7)), weekly.NextRunAt.String())

	for _, id := range []int64{later.ID, paused.ID} {
		s, err := f.schedules.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, s.OccurrencesGenerated, "schedule %d", id)
	}

	// nothing left to do at the same instant
	summary, err = f.runner(Config{}).RunDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, summary.Claimed)
}

func TestRunner_ExhaustsAfterMaxOccurrences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	three := 3
	sched := f.schedule(t, func(s *entity.RecurringSchedule) {
		s.Frequency = entity.FrequencyDaily
		s.MaxOccurrences = &three
	})
	r := f.runner(Config{})

	generated := 0
	for day := 0; day < 5; day++ {
		summary, err := r.RunDue(ctx, start.AddDate(0, 0, day).Add(time.Minute))
		require.NoError(t, err)
		generated += summary.Generated
	}
	assert.Equal(t, 3, generated)

	got, err := f.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.OccurrencesGenerated)
	assert.True(t, got.Exhausted)
	assert.Nil(t, got.NextRunAt)

	for occ := 1; occ <= 3; occ++ {
		_, err := f.invoices.GetByScheduleOccurrence(ctx, sched.ID, occ)
		assert.NoError(t, err, "occurrence %d", occ)
	}
	_, err = f.invoices.GetByScheduleOccurrence(ctx, sched.ID, 4)
	assert.ErrorIs(t, err, entity.ErrInvoiceNotFound)
}

func TestRunner_ReplayedOccurrenceAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sched := f.schedule(t, nil)

	// an earlier run inserted the invoice but never advanced the schedule
	existing, err := buildInvoice(sched, 1, start)
	require.NoError(t, err)
	require.NoError(t, f.invoices.Create(ctx, existing))

	metrics := &countingMetrics{}
	summary, err := f.runner(Config{}, WithMetrics(metrics)).RunDue(ctx, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Replayed)
	assert.Zero(t, summary.Generated)
	assert.Zero(t, metrics.generated)

	got, err := f.schedules.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.OccurrencesGenerated)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(start))

	inv, err := f.invoices.GetByScheduleOccurrence(ctx, sched.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, inv.ID)
}

func TestRunner_AutoSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sched := f.schedule(t, func(s *entity.RecurringSchedule) { s.AutoSend = true })
	manual := f.schedule(t, nil)

	sender := &mockSender{}
	summary, err := f.runner(Config{}, WithSender(sender)).RunDue(ctx, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Generated)

	inv, err := f.invoices.GetByScheduleOccurrence(ctx, sched.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{inv.ID}, sender.sent)

	_, err = f.invoices.GetByScheduleOccurrence(ctx, manual.ID, 1)
	require.NoError(t, err)
}

func TestRunner_AutoSendFailureKeepsInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sched := f.schedule(t, func(s *entity.RecurringSchedule) { s.AutoSend = true })

	sender := &mockSender{sendFunc: func(ctx context.Context, id int64, actor string) (*entity.Invoice, error) {
		return nil, errors.New("smtp down")
	}}
	summary, err := f.runner(Config{}, WithSender(sender)).RunDue(ctx, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Generated)

	inv, err := f.invoices.GetByScheduleOccurrence(ctx, sched.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceStatusDraft, inv.Status)
}
