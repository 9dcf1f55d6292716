package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-engine/internal/application/dispatcher"
	"github.com/garyjia/invoice-engine/internal/application/locker"
	"github.com/garyjia/invoice-engine/internal/application/scheduler"
	"github.com/garyjia/invoice-engine/internal/application/service"
	"github.com/garyjia/invoice-engine/internal/application/workflow"
	"github.com/garyjia/invoice-engine/internal/domain/event"
	"github.com/garyjia/invoice-engine/internal/infrastructure/fanout"
	"github.com/garyjia/invoice-engine/internal/infrastructure/metrics"
	"github.com/garyjia/invoice-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/invoice-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-engine/internal/webhook"
	"github.com/garyjia/invoice-engine/pkg/database"
)

var testNow = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

const testSecret = "whsec_test"

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type testServer struct {
	server   *Server
	hub      *fanout.Hub
	verifier *webhook.Verifier
}

func newTestServer(t *testing.T, tokens map[string]string) *testServer {
	t.Helper()

	db, err := database.OpenMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	clock := func() time.Time { return testNow }

	invoiceRepo := repository.NewInvoiceRepository(db.DB, logger)
	paymentRepo := repository.NewPaymentRepository(db.DB, logger)
	historyRepo := repository.NewHistoryRepository(db.DB, logger)
	clientRepo := repository.NewClientRepository(db.DB, logger)
	deliveryRepo := repository.NewDeliveryRepository(db.DB, logger)
	scheduleRepo := repository.NewScheduleRepository(db.DB, logger)
	tx := sqlite.NewDB(db.DB, logger)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, metrics.Config{})

	bus := dispatcher.NewDispatcher()
	hub := fanout.NewHub(fanout.Config{}, m, logger)
	hub.Attach(bus)

	engine := workflow.NewEngine(invoiceRepo, historyRepo, tx,
		workflow.WithPublisher(bus), workflow.WithClock(clock))
	locks := locker.New[int64]()

	invoices := service.NewInvoiceService(invoiceRepo, paymentRepo, historyRepo, clientRepo, deliveryRepo,
		tx, engine, locks, bus, service.InvoiceConfig{Clock: clock}, nopLogger{})
	payments := service.NewPaymentService(invoiceRepo, paymentRepo, historyRepo, tx, engine, locks, bus, clock, nopLogger{})
	runner := scheduler.NewRunner(scheduleRepo, invoiceRepo, historyRepo, tx,
		scheduler.Config{RunnerID: "test-runner", Clock: clock}, nopLogger{},
		scheduler.WithSender(invoices), scheduler.WithPublisher(bus), scheduler.WithMetrics(m))
	schedules := service.NewScheduleService(scheduleRepo, clientRepo, tx, runner, bus, "USD", clock, nopLogger{})
	clients := service.NewClientService(clientRepo, bus, clock, nopLogger{})

	verifier := webhook.NewVerifier(testSecret, logger)
	srv := NewServer(ServerConfig{Tokens: tokens}, Dependencies{
		Invoices:       invoices,
		Payments:       payments,
		Schedules:      schedules,
		Clients:        clients,
		Hub:            hub,
		Verifier:       verifier,
		WebhookMetrics: m,
		Gatherer:       reg,
		Clock:          clock,
	}, nopLogger{})

	return &testServer{server: srv, hub: hub, verifier: verifier}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, header ...string) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v), string(env.Data))
	return v
}

type invoiceJSON struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	Status       string          `json:"status"`
	StoredStatus string          `json:"stored_status"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	BalanceDue   decimal.Decimal `json:"balance_due"`
	ShareID      string          `json:"share_id"`
}

func (ts *testServer) client(t *testing.T) int64 {
	t.Helper()
	code, env := ts.do(t, http.MethodPost, "/api/v1/clients", obj{"name": "Acme", "email": "ap@acme.test"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	return decode[struct {
		ID int64 `json:"id"`
	}](t, env).ID
}

// scenarioInvoice creates a 100.00 invoice with 10% tax and a fixed 20 discount
func (ts *testServer) scenarioInvoice(t *testing.T, clientID int64) invoiceJSON {
	t.Helper()
	code, env := ts.do(t, http.MethodPost, "/api/v1/invoices", obj{
		"client_id":     clientID,
		"items":         []obj{{"description": "Design", "quantity": "1", "rate": "100.00"}},
		"tax_rate":      "10",
		"discount":      "20",
		"discount_type": "FIXED",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	return decode[invoiceJSON](t, env)
}

type obj = map[string]interface{}

func TestServer_InvoiceLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	clientID := ts.client(t)

	inv := ts.scenarioInvoice(t, clientID)
	assert.Equal(t, "DRAFT", inv.Status)
	assert.Equal(t, "INV-000001", inv.Number)
	assert.True(t, inv.TotalAmount.Equal(decimal.NewFromInt(90)), "total = %s", inv.TotalAmount)

	code, env := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/invoices/%d/send", inv.ID), nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, "SENT", decode[invoiceJSON](t, env).Status)

	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/invoices/%d/payments", inv.ID),
		obj{"amount": "40", "method": "BANK_TRANSFER", "reference": "wire-1"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	paid := decode[struct {
		Payment struct {
			ID int64 `json:"id"`
		} `json:"payment"`
		Invoice   invoiceJSON `json:"invoice"`
		Duplicate bool        `json:"duplicate"`
	}](t, env)
	assert.Equal(t, "PARTIALLY_PAID", paid.Invoice.Status)
	assert.True(t, paid.Invoice.BalanceDue.Equal(decimal.NewFromInt(50)))

	// same reference again is a no-op
	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/invoices/%d/payments", inv.ID),
		obj{"amount": "40", "method": "BANK_TRANSFER", "reference": "wire-1"})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.True(t, decode[struct {
		Duplicate bool `json:"duplicate"`
	}](t, env).Duplicate)

	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/payments/%d/refund", paid.Payment.ID), nil)
	require.Equal(t, http.StatusCreated, code, env.Error)
	assert.Equal(t, "SENT", decode[struct {
		Invoice invoiceJSON `json:"invoice"`
	}](t, env).Invoice.Status)

	code, env = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/invoices/%d/payments", inv.ID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]json.RawMessage](t, env), 2)

	code, env = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/invoices/%d/history", inv.ID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.GreaterOrEqual(t, len(decode[[]json.RawMessage](t, env)), 4)

	code, env = ts.do(t, http.MethodGet, "/api/v1/invoices?status=SENT", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]invoiceJSON](t, env), 1)
}

func TestServer_ErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	clientID := ts.client(t)
	draft := ts.scenarioInvoice(t, clientID)

	tests := []struct {
		name     string
		method   string
		path     string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"missing invoice", http.MethodGet, "/api/v1/invoices/999", nil, http.StatusNotFound, CodeNotFound},
		{"bad id", http.MethodGet, "/api/v1/invoices/abc", nil, http.StatusBadRequest, CodeValidation},
		{"malformed body", http.MethodPost, "/api/v1/invoices", []byte(`{`), http.StatusBadRequest, CodeValidation},
		{"no items", http.MethodPost, "/api/v1/invoices", obj{"client_id": clientID, "items": []obj{}}, http.StatusBadRequest, CodeValidation},
		{"unknown client", http.MethodPost, "/api/v1/invoices", obj{
			"client_id": 777,
			"items":     []obj{{"description": "x", "quantity": "1", "rate": "1"}},
		}, http.StatusBadRequest, CodeValidation},
		{"bad date", http.MethodPost, "/api/v1/invoices", obj{
			"client_id": clientID,
			"items":     []obj{{"description": "x", "quantity": "1", "rate": "1"}},
			"due_date":  "next tuesday",
		}, http.StatusBadRequest, CodeValidation},
		{"pay a draft", http.MethodPost, fmt.Sprintf("/api/v1/invoices/%d/payments", draft.ID),
			obj{"amount": "10", "method": "CASH"}, http.StatusConflict, CodeConflict},
		{"reopen a draft", http.MethodPost, fmt.Sprintf("/api/v1/invoices/%d/reopen", draft.ID), nil,
			http.StatusConflict, CodeConflict},
		{"bad status filter", http.MethodGet, "/api/v1/invoices?status=LOST", nil, http.StatusBadRequest, CodeValidation},
		{"missing schedule", http.MethodPost, "/api/v1/schedules/42/pause", nil, http.StatusNotFound, CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantErr, env.Code)
		})
	}
}

func TestServer_DeleteInvoice(t *testing.T) {
	ts := newTestServer(t, nil)
	clientID := ts.client(t)

	draft := ts.scenarioInvoice(t, clientID)
	code, env := ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/invoices/%d", draft.ID), nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	code, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/invoices/%d", draft.ID), nil)
	assert.Equal(t, http.StatusNotFound, code)

	sent := ts.scenarioInvoice(t, clientID)
	ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/invoices/%d/send", sent.ID), nil)
	code, env = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/invoices/%d", sent.ID), nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, "CANCELLED", decode[invoiceJSON](t, env).Status)
}

func TestServer_Auth(t *testing.T) {
	ts := newTestServer(t, map[string]string{"tok-alice": "alice"})

	code, env := ts.do(t, http.MethodGet, "/api/v1/invoices", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, CodeUnauthorized, env.Code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/invoices", nil, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/invoices", nil, "Authorization", "Bearer tok-alice")
	assert.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/invoices?access_token=tok-alice", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_GatewayWebhook(t *testing.T) {
	ts := newTestServer(t, nil)
	clientID := ts.client(t)
	inv := ts.scenarioInvoice(t, clientID)
	ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/invoices/%d/send", inv.ID), nil)

	body := []byte(fmt.Sprintf(`{"type":"payment.completed","reference":"ch_9","invoice_id":%d,"amount":"90"}`, inv.ID))

	code, env := ts.do(t, http.MethodPost, "/api/v1/webhooks/gateway", body, webhook.SignatureHeader, "00")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, CodeUnauthorized, env.Code)

	sig := ts.verifier.Sign(body)
	code, env = ts.do(t, http.MethodPost, "/api/v1/webhooks/gateway", body, webhook.SignatureHeader, sig)
	require.Equal(t, http.StatusOK, code, env.Error)
	result := decode[struct {
		Invoice   invoiceJSON `json:"invoice"`
		Duplicate bool        `json:"duplicate"`
	}](t, env)
	assert.Equal(t, "PAID", result.Invoice.Status)
	assert.False(t, result.Duplicate)

	code, env = ts.do(t, http.MethodPost, "/api/v1/webhooks/gateway", body, webhook.SignatureHeader, sig)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.True(t, decode[struct {
		Duplicate bool `json:"duplicate"`
	}](t, env).Duplicate)
}

func TestServer_PublicInvoice(t *testing.T) {
	ts := newTestServer(t, nil)
	clientID := ts.client(t)
	inv := ts.scenarioInvoice(t, clientID)
	ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/invoices/%d/send", inv.ID), nil)

	code, env := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/invoices/%d/share", inv.ID), nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	shareID := decode[invoiceJSON](t, env).ShareID
	require.NotEmpty(t, shareID)

	code, env = ts.do(t, http.MethodGet, "/public/invoices/"+shareID, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, "VIEWED", decode[invoiceJSON](t, env).Status)

	code, _ = ts.do(t, http.MethodGet, "/public/invoices/not-a-token", nil)
	assert.Equal(t, http.StatusNotFound, code)

	ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/invoices/%d/share", inv.ID), nil)
	code, _ = ts.do(t, http.MethodGet, "/public/invoices/"+shareID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_ScheduleRunNow(t *testing.T) {
	ts := newTestServer(t, nil)
	clientID := ts.client(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/schedules", obj{
		"client_id":       clientID,
		"name":            "Hosting",
		"items":           []obj{{"description": "Hosting", "quantity": "1", "rate": "25"}},
		"due_in_days":     30,
		"frequency":       "MONTHLY",
		"start_date":      "2026-01-15",
		"max_occurrences": 1,
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	sched := decode[struct {
		ID int64 `json:"id"`
	}](t, env)

	code, env = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/schedules/%d/preview?n=3", sched.ID), nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Len(t, decode[PreviewResponse](t, env).Runs, 1)

	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/schedules/%d/run", sched.ID), nil)
	require.Equal(t, http.StatusCreated, code, env.Error)
	inv := decode[invoiceJSON](t, env)
	assert.Equal(t, "DRAFT", inv.Status)
	assert.True(t, inv.TotalAmount.Equal(decimal.NewFromInt(25)))

	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/schedules/%d/run", sched.ID), nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, CodeConflict, env.Code)

	code, env = ts.do(t, http.MethodPost, "/api/v1/schedules", obj{
		"client_id": clientID,
		"name":      "Broken",
		"items":     []obj{{"description": "x", "quantity": "1", "rate": "1"}},
		"frequency": "MONTHLY",
		"interval":  0,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeValidation, env.Code)
}

func TestServer_EventStreamSSE(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.server.Router())
	defer srv.Close()
	clientID := ts.client(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(prefix string) string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}

	waitFor("event:ready")
	ts.scenarioInvoice(t, clientID)

	assert.Equal(t, "event:invoice.created", waitFor("event:"))
	data := waitFor("data:")
	var evt event.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data:")), &evt))
	assert.Equal(t, event.TypeInvoiceCreated, evt.Type)
}

func TestServer_EventStreamWebSocket(t *testing.T) {
	ts := newTestServer(t, map[string]string{"tok-a": "alice"})
	srv := httptest.NewServer(ts.server.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws?access_token=tok-a"

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/events/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	dial := func(url string) (*websocket.Conn, string) {
		t.Helper()
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var ready readyFrame
		require.NoError(t, conn.ReadJSON(&ready))
		require.Equal(t, "ready", ready.Type)
		require.NotEmpty(t, ready.ConnectionID)
		return conn, ready.ConnectionID
	}

	// two instances of one session both stay connected
	first, firstID := dial(url)
	defer first.Close()
	second, secondID := dial(url)
	defer second.Close()
	assert.NotEqual(t, firstID, secondID)

	require.Eventually(t, func() bool { return ts.hub.Count() == 2 }, 2*time.Second, 10*time.Millisecond)
	ts.hub.Publish(event.NewEvent(event.TypeClientUpdated, 3))

	for _, conn := range []*websocket.Conn{first, second} {
		var evt event.Event
		require.NoError(t, conn.ReadJSON(&evt))
		assert.Equal(t, event.TypeClientUpdated, evt.Type)
		assert.Equal(t, int64(3), evt.EntityID)
	}

	// reconnecting with the first connection's id replaces only that one
	resumed, resumedID := dial(url + "&" + ConnectionParam + "=" + firstID)
	defer resumed.Close()
	assert.Equal(t, firstID, resumedID)

	_, _, err = first.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseReplaced, closeErr.Code)

	require.Eventually(t, func() bool { return ts.hub.Count() == 2 }, 2*time.Second, 10*time.Millisecond)
	ts.hub.Publish(event.NewEvent(event.TypeClientUpdated, 4))
	for _, conn := range []*websocket.Conn{second, resumed} {
		var evt event.Event
		require.NoError(t, conn.ReadJSON(&evt))
		assert.Equal(t, int64(4), evt.EntityID)
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.client(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "billing_fanout_connections")
}
