package event

// Type identifies the type of domain event
type Type string

const (
	TypeInvoiceCreated       Type = "invoice.created"
	TypeInvoiceUpdated       Type = "invoice.updated"
	TypeInvoiceStatusChanged Type = "invoice.status_changed"
	TypeInvoiceDeleted       Type = "invoice.deleted"
	TypePaymentRecorded      Type = "payment.recorded"
	TypePaymentRefunded      Type = "payment.refunded"
	TypePaymentFailed        Type = "payment.failed"
	TypeScheduleCreated      Type = "schedule.created"
	TypeScheduleUpdated      Type = "schedule.updated"
	TypeScheduleRun          Type = "schedule.run"
	TypeClientUpdated        Type = "client.updated"
)

// AllTypes lists every event type in a stable order
var AllTypes = []Type{
	TypeInvoiceCreated,
	TypeInvoiceUpdated,
	TypeInvoiceStatusChanged,
	TypeInvoiceDeleted,
	TypePaymentRecorded,
	TypePaymentRefunded,
	TypePaymentFailed,
	TypeScheduleCreated,
	TypeScheduleUpdated,
	TypeScheduleRun,
	TypeClientUpdated,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}
