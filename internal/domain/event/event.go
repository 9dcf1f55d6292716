package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a thin change notification. Consumers treat it as a hint to
// refetch the entity, never as its state.
type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	EntityID      int64     `json:"entity_id"`
	InvoiceID     int64     `json:"invoice_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewEvent creates an event with a generated ID and the current time
func NewEvent(eventType Type, entityID int64) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
	}
}

// WithInvoice returns a copy carrying the owning invoice ID
func (e *Event) WithInvoice(invoiceID int64) *Event {
	c := *e
	c.InvoiceID = invoiceID
	return &c
}

// WithStatus returns a copy carrying a new status
func (e *Event) WithStatus(status string) *Event {
	c := *e
	c.Status = status
	return &c
}

// WithCorrelation returns a copy linked to a correlation chain
func (e *Event) WithCorrelation(correlationID string) *Event {
	c := *e
	c.CorrelationID = correlationID
	return &c
}
