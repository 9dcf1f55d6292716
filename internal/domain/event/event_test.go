package event

import (
	"testing"
	"time"
)

func TestType_String(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      string
	}{
		{name: "invoice created", eventType: TypeInvoiceCreated, want: "invoice.created"},
		{name: "status changed", eventType: TypeInvoiceStatusChanged, want: "invoice.status_changed"},
		{name: "payment recorded", eventType: TypePaymentRecorded, want: "payment.recorded"},
		{name: "payment refunded", eventType: TypePaymentRefunded, want: "payment.refunded"},
		{name: "client updated", eventType: TypeClientUpdated, want: "client.updated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.String(); got != tt.want {
				t.Errorf("Type.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestType_IsValid(t *testing.T) {
	for _, typ := range AllTypes {
		if !typ.IsValid() {
			t.Errorf("%s should be valid", typ)
		}
	}

	invalid := []Type{"", "invoice.exploded", "instance.created"}
	for _, typ := range invalid {
		if typ.IsValid() {
			t.Errorf("%q should be invalid", typ)
		}
	}
}

func TestNewEvent(t *testing.T) {
	before := time.Now().UTC()
	evt := NewEvent(TypeInvoiceCreated, 42)
	after := time.Now().UTC()

	if evt.ID == "" {
		t.Error("ID should be generated")
	}
	if evt.Type != TypeInvoiceCreated || evt.EntityID != 42 {
		t.Errorf("unexpected event %+v", evt)
	}
	if evt.Timestamp.Before(before) || evt.Timestamp.After(after) {
		t.Errorf("Timestamp %v outside [%v, %v]", evt.Timestamp, before, after)
	}

	other := NewEvent(TypeInvoiceCreated, 42)
	if other.ID == evt.ID {
		t.Error("event IDs should be unique")
	}
}

func TestEvent_WithersDoNotMutate(t *testing.T) {
	base := NewEvent(TypePaymentRecorded, 7)

	withInvoice := base.WithInvoice(3)
	withStatus := withInvoice.WithStatus("PAID")
	correlated := withStatus.WithCorrelation("run-1")

	if base.InvoiceID != 0 || base.Status != "" || base.CorrelationID != "" {
		t.Errorf("base event was mutated: %+v", base)
	}
	if withInvoice.Status != "" {
		t.Errorf("intermediate event was mutated: %+v", withInvoice)
	}
	if correlated.ID != base.ID || correlated.InvoiceID != 3 || correlated.Status != "PAID" || correlated.CorrelationID != "run-1" {
		t.Errorf("unexpected event %+v", correlated)
	}
}
