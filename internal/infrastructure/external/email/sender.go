// Package email renders invoice notices and hands them to an outbound
// transport. The default transport writes the rendered message to the log.
package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/port"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"go.uber.org/zap"
)

// Message is a rendered invoice notice
type Message struct {
	To      string
	Subject string
	Body    string
}

// Transport delivers a rendered message
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// Config holds sender settings
type Config struct {
	From string
	// PublicBaseURL prefixes share links in the message body, if set
	PublicBaseURL string
}

// Sender implements port.InvoiceSender
type Sender struct {
	cfg       Config
	transport Transport
	logger    *zap.Logger
}

// NewSender creates a new invoice sender. A nil transport logs messages.
func NewSender(cfg Config, transport Transport, logger *zap.Logger) *Sender {
	if transport == nil {
		transport = &LogTransport{logger: logger}
	}
	return &Sender{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
	}
}

// Send renders and delivers the invoice notice to the client
func (s *Sender) Send(ctx context.Context, invoice *entity.Invoice, client *entity.Client) error {
	if client == nil || client.Email == "" {
		return fmt.Errorf("client %d has no email address", invoice.ClientID)
	}

	msg := Message{
		To:      client.Email,
		Subject: s.buildSubject(invoice),
		Body:    s.buildBody(invoice, client),
	}

	if err := s.transport.Deliver(ctx, msg); err != nil {
		s.logger.Error("Failed to send invoice email",
			zap.Int64("invoice_id", invoice.ID),
			zap.String("number", invoice.Number),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("Invoice email sent",
		zap.Int64("invoice_id", invoice.ID),
		zap.String("number", invoice.Number),
		zap.String("to", client.Email))
	return nil
}

func (s *Sender) buildSubject(invoice *entity.Invoice) string {
	if s.cfg.From != "" {
		return fmt.Sprintf("Invoice %s from %s", invoice.Number, s.cfg.From)
	}
	return fmt.Sprintf("Invoice %s", invoice.Number)
}

// buildBody renders the plain-text notice
func (s *Sender) buildBody(invoice *entity.Invoice, client *entity.Client) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Hello %s,\n\n", client.Name)
	fmt.Fprintf(&b, "Please find invoice %s below.\n\n", invoice.Number)
	fmt.Fprintf(&b, "Issued:  %s\n", formatDate(invoice.IssueDate))
	fmt.Fprintf(&b, "Due:     %s\n\n", formatDate(invoice.DueDate))

	for _, item := range invoice.Items {
		fmt.Fprintf(&b, "  %s  %s x %s = %s\n",
			item.Description, item.Quantity.String(), item.Rate.StringFixed(2), item.Amount().StringFixed(2))
	}

	fmt.Fprintf(&b, "\nSubtotal: %s %s\n", invoice.Subtotal.String(), invoice.Currency)
	if invoice.TaxAmount.IsPositive() {
		fmt.Fprintf(&b, "Tax:      %s %s\n", invoice.TaxAmount.String(), invoice.Currency)
	}
	if invoice.DiscountAmount.IsPositive() {
		fmt.Fprintf(&b, "Discount: -%s %s\n", invoice.DiscountAmount.String(), invoice.Currency)
	}
	fmt.Fprintf(&b, "Total:    %s %s\n", invoice.TotalAmount.String(), invoice.Currency)
	fmt.Fprintf(&b, "Due now:  %s %s\n", invoice.BalanceDue.String(), invoice.Currency)

	if invoice.IsPubliclyShared() && s.cfg.PublicBaseURL != "" {
		fmt.Fprintf(&b, "\nView online: %s/public/invoices/%s\n",
			strings.TrimRight(s.cfg.PublicBaseURL, "/"), invoice.ShareID)
	}
	if invoice.Notes != "" {
		fmt.Fprintf(&b, "\n%s\n", invoice.Notes)
	}

	return b.String()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format("2006-01-02")
}

// LogTransport writes messages to the log instead of a mail server
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport creates a LogTransport
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Deliver logs msg
func (t *LogTransport) Deliver(ctx context.Context, msg Message) error {
	t.logger.Info("Outbound email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.Body)))
	t.logger.Debug("Outbound email body", zap.String("body", msg.Body))
	return nil
}

// Verify interface compliance
var _ port.InvoiceSender = (*Sender)(nil)
