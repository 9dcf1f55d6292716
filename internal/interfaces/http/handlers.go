package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/invoice-engine/internal/application/service"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/infrastructure/fanout"
	"github.com/garyjia/invoice-engine/internal/webhook"
)

// Version is reported by the health check
var Version = "dev"

// WebhookMetrics counts rejected gateway callbacks
type WebhookMetrics interface {
	WebhookRejected()
}

type noopWebhookMetrics struct{}

func (noopWebhookMetrics) WebhookRejected() {}

// Handlers contains all HTTP request handlers
type Handlers struct {
	invoices  service.InvoiceService
	payments  service.PaymentService
	schedules service.ScheduleService
	clients   service.ClientService
	hub       *fanout.Hub
	verifier  *webhook.Verifier
	metrics   WebhookMetrics
	clock     func() time.Time
	logger    Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	h := &Handlers{
		invoices:  deps.Invoices,
		payments:  deps.Payments,
		schedules: deps.Schedules,
		clients:   deps.Clients,
		hub:       deps.Hub,
		verifier:  deps.Verifier,
		metrics:   deps.WebhookMetrics,
		clock:     deps.Clock,
		logger:    logger,
	}
	if h.metrics == nil {
		h.metrics = noopWebhookMetrics{}
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	return h
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Version     string `json:"version"`
	Connections int    `json:"connections"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
	}
	if h.hub != nil {
		response.Connections = h.hub.Count()
	}
	respond(c, http.StatusOK, response)
}

// ItemRequest is one line item in a create or update body
type ItemRequest struct {
	Description string          `json:"description" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
}

func toItems(reqs []ItemRequest) []entity.InvoiceItem {
	items := make([]entity.InvoiceItem, len(reqs))
	for i, r := range reqs {
		items[i] = entity.InvoiceItem{
			Position:    i + 1,
			Description: r.Description,
			Quantity:    r.Quantity,
			Rate:        r.Rate,
		}
	}
	return items
}

// pathID parses a positive integer path parameter
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// parseTime accepts an RFC 3339 timestamp or a plain date, read as UTC
// midnight. An empty string yields the zero time.
func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, value)
}

// parseTimes parses each named value, writing a 400 on the first failure
func parseTimes(c *gin.Context, values map[string]string) (map[string]time.Time, bool) {
	out := make(map[string]time.Time, len(values))
	for name, value := range values {
		t, err := parseTime(value)
		if err != nil {
			badRequest(c, "invalid "+name+": use YYYY-MM-DD or RFC 3339")
			return nil, false
		}
		out[name] = t
	}
	return out, true
}

// queryInt reads a non-negative integer query parameter
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

// bind decodes the JSON body, writing a 400 on failure
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}
