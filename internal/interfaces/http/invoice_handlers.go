package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/invoice-engine/internal/application/service"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
)

// InvoiceRequest is the body of invoice create and item update calls
type InvoiceRequest struct {
	ClientID     int64           `json:"client_id" binding:"required"`
	Items        []ItemRequest   `json:"items" binding:"required,min=1,dive"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountType string          `json:"discount_type"`
	Currency     string          `json:"currency"`
	IssueDate    string          `json:"issue_date"`
	DueDate      string          `json:"due_date"`
	Notes        string          `json:"notes"`
}

// ReasonRequest carries an optional reason for reopen and cancel
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// InvoiceResponse reports the effective status, which includes OVERDUE,
// alongside the stored one
type InvoiceResponse struct {
	*entity.Invoice
	Status       entity.InvoiceStatus `json:"status"`
	StoredStatus entity.InvoiceStatus `json:"stored_status"`
}

func (h *Handlers) invoiceResponse(inv *entity.Invoice) InvoiceResponse {
	return InvoiceResponse{
		Invoice:      inv,
		Status:       inv.EffectiveStatus(h.clock()),
		StoredStatus: inv.Status,
	}
}

func (h *Handlers) invoiceList(invoices []*entity.Invoice) []InvoiceResponse {
	out := make([]InvoiceResponse, len(invoices))
	for i, inv := range invoices {
		out[i] = h.invoiceResponse(inv)
	}
	return out
}

func (h *Handlers) invoiceInput(c *gin.Context) (service.InvoiceInput, bool) {
	var req InvoiceRequest
	if !bind(c, &req) {
		return service.InvoiceInput{}, false
	}
	dates, ok := parseTimes(c, map[string]string{"issue_date": req.IssueDate, "due_date": req.DueDate})
	if !ok {
		return service.InvoiceInput{}, false
	}
	return service.InvoiceInput{
		ClientID:     req.ClientID,
		Items:        toItems(req.Items),
		TaxRate:      req.TaxRate,
		Discount:     req.Discount,
		DiscountType: entity.DiscountType(req.DiscountType),
		Currency:     req.Currency,
		IssueDate:    dates["issue_date"],
		DueDate:      dates["due_date"],
		Notes:        req.Notes,
	}, true
}

// CreateInvoice handles POST /api/v1/invoices
func (h *Handlers) CreateInvoice(c *gin.Context) {
	input, ok := h.invoiceInput(c)
	if !ok {
		return
	}
	inv, err := h.invoices.Create(c.Request.Context(), input, sessionID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, h.invoiceResponse(inv))
}

// ListInvoices handles GET /api/v1/invoices
func (h *Handlers) ListInvoices(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 20)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	clientID, ok := queryInt(c, "client_id", 0)
	if !ok {
		return
	}
	if limit == 0 || limit > 100 {
		limit = 20
	}

	invoices, err := h.invoices.List(c.Request.Context(), entity.InvoiceFilter{
		Status:   entity.InvoiceStatus(c.Query("status")),
		ClientID: int64(clientID),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, h.invoiceList(invoices))
}

// GetInvoice handles GET /api/v1/invoices/:id
func (h *Handlers) GetInvoice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	inv, err := h.invoices.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, h.invoiceResponse(inv))
}

// UpdateInvoice handles PUT /api/v1/invoices/:id/items
func (h *Handlers) UpdateInvoice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	input, ok := h.invoiceInput(c)
	if !ok {
		return
	}
	inv, err := h.invoices.Update(c.Request.Context(), id, input, sessionID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, h.invoiceResponse(inv))
}

// SendInvoice handles POST /api/v1/invoices/:id/send
func (h *Handlers) SendInvoice(c *gin.Context) {
	h.invoiceAction(c, func(c *gin.Context, id int64) (*entity.Invoice, error) {
		return h.invoices.Send(c.Request.Context(), id, sessionID(c))
	})
}

// ReopenInvoice handles POST /api/v1/invoices/:id/reopen
func (h *Handlers) ReopenInvoice(c *gin.Context) {
	h.invoiceAction(c, func(c *gin.Context, id int64) (*entity.Invoice, error) {
		return h.invoices.Reopen(c.Request.Context(), id, sessionID(c), reason(c))
	})
}

// CancelInvoice handles POST /api/v1/invoices/:id/cancel
func (h *Handlers) CancelInvoice(c *gin.Context) {
	h.invoiceAction(c, func(c *gin.Context, id int64) (*entity.Invoice, error) {
		return h.invoices.Cancel(c.Request.Context(), id, sessionID(c), reason(c))
	})
}

// EnableShare handles POST /api/v1/invoices/:id/share
func (h *Handlers) EnableShare(c *gin.Context) {
	h.invoiceAction(c, func(c *gin.Context, id int64) (*entity.Invoice, error) {
		return h.invoices.EnableShare(c.Request.Context(), id, sessionID(c))
	})
}

// DisableShare handles DELETE /api/v1/invoices/:id/share
func (h *Handlers) DisableShare(c *gin.Context) {
	h.invoiceAction(c, func(c *gin.Context, id int64) (*entity.Invoice, error) {
		return h.invoices.DisableShare(c.Request.Context(), id, sessionID(c))
	})
}

// DeleteInvoice handles DELETE /api/v1/invoices/:id. A DRAFT is removed;
// any other invoice is cancelled and returned.
func (h *Handlers) DeleteInvoice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	removed, err := h.invoices.Delete(ctx, id, sessionID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if removed {
		respond(c, http.StatusOK, gin.H{"id": id, "deleted": true})
		return
	}

	inv, err := h.invoices.Get(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, h.invoiceResponse(inv))
}

// InvoiceHistory handles GET /api/v1/invoices/:id/history
func (h *Handlers) InvoiceHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	history, err := h.invoices.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, history)
}

// PublicInvoice handles GET /public/invoices/:shareId
func (h *Handlers) PublicInvoice(c *gin.Context) {
	inv, err := h.invoices.GetPublic(c.Request.Context(), c.Param("shareId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, h.invoiceResponse(inv))
}

func (h *Handlers) invoiceAction(c *gin.Context, action func(c *gin.Context, id int64) (*entity.Invoice, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	inv, err := action(c, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, h.invoiceResponse(inv))
}

// reason reads an optional JSON reason; an empty or malformed body means none
func reason(c *gin.Context) string {
	var req ReasonRequest
	if c.Request.ContentLength == 0 {
		return ""
	}
	_ = c.ShouldBindJSON(&req)
	return req.Reason
}
