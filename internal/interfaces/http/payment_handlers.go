package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/invoice-engine/internal/application/service"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/internal/webhook"
)

// maxWebhookBody bounds gateway callback bodies
const maxWebhookBody = 1 << 20

// PaymentRequest is the body of POST /api/v1/invoices/:id/payments
type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" binding:"required"`
	Reference string          `json:"reference"`
	Note      string          `json:"note"`
}

// RefundRequest is the body of POST /api/v1/payments/:id/refund. A missing
// amount refunds what is left of the payment.
type RefundRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Reason    string          `json:"reason"`
}

// PaymentResponse pairs a payment with the invoice it changed
type PaymentResponse struct {
	Payment   *entity.Payment  `json:"payment,omitempty"`
	Invoice   *InvoiceResponse `json:"invoice,omitempty"`
	Duplicate bool             `json:"duplicate"`
}

func (h *Handlers) paymentResponse(result *service.PaymentResult) PaymentResponse {
	resp := PaymentResponse{
		Payment:   result.Payment,
		Duplicate: result.Duplicate,
	}
	if result.Invoice != nil {
		inv := h.invoiceResponse(result.Invoice)
		resp.Invoice = &inv
	}
	return resp
}

// RecordPayment handles POST /api/v1/invoices/:id/payments. A replayed
// reference answers 200 with duplicate set instead of 201.
func (h *Handlers) RecordPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req PaymentRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.payments.RecordPayment(c.Request.Context(), id, service.PaymentInput{
		Amount:    req.Amount,
		Method:    entity.PaymentMethod(req.Method),
		Reference: req.Reference,
		Note:      req.Note,
	}, sessionID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respond(c, status, h.paymentResponse(result))
}

// ListPayments handles GET /api/v1/invoices/:id/payments
func (h *Handlers) ListPayments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	payments, err := h.payments.ListPayments(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, payments)
}

// RefundPayment handles POST /api/v1/payments/:id/refund
func (h *Handlers) RefundPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req RefundRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	result, err := h.payments.Refund(c.Request.Context(), id, service.RefundInput{
		Amount:    req.Amount,
		Reference: req.Reference,
		Reason:    req.Reason,
	}, sessionID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respond(c, status, h.paymentResponse(result))
}

// GatewayWebhook handles POST /api/v1/webhooks/gateway. The signature covers
// the raw body, so it is read before any decoding.
func (h *Handlers) GatewayWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("Failed to read request body", "error", err)
		badRequest(c, "failed to read request body")
		return
	}

	evt, err := h.verifier.ParseEvent(c.GetHeader(webhook.SignatureHeader), body)
	if errors.Is(err, webhook.ErrInvalidSignature) {
		h.metrics.WebhookRejected()
		h.logger.Error("Invalid gateway signature", "client_ip", c.ClientIP())
		respondError(c, http.StatusUnauthorized, CodeUnauthorized, "invalid signature")
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.payments.HandleGatewayEvent(c.Request.Context(), evt)
	if err != nil {
		h.logger.Error("Gateway event rejected",
			"type", string(evt.Type),
			"reference", evt.Reference,
			"error", err)
		h.fail(c, err)
		return
	}

	h.logger.Info("Gateway event applied",
		"type", string(evt.Type),
		"reference", evt.Reference,
		"duplicate", result.Duplicate)
	respond(c, http.StatusOK, h.paymentResponse(result))
}
