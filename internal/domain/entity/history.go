package entity

import "time"

// InvoiceHistory is one row of an invoice's audit trail. Rows are append-only
// and written in the same transaction as the change they describe.
type InvoiceHistory struct {
	ID         int64         `json:"id"`
	InvoiceID  int64         `json:"invoice_id"`
	Action     HistoryAction `json:"action"`
	FromStatus InvoiceStatus `json:"from_status,omitempty"`
	ToStatus   InvoiceStatus `json:"to_status,omitempty"`
	Actor      string        `json:"actor"`
	Detail     string        `json:"detail,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Client is the billed party. Client management lives elsewhere; the engine
// keeps enough to validate references and address outbound sends.
type Client struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InvoiceDelivery is a queued outbound send of an invoice
type InvoiceDelivery struct {
	ID            int64          `json:"id"`
	InvoiceID     int64          `json:"invoice_id"`
	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	LastError     string         `json:"last_error,omitempty"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	SentAt        *time.Time     `json:"sent_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
