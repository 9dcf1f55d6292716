package entity

// HistoryAction names what an InvoiceHistory row records
type HistoryAction string

// History actions
const (
	HistoryActionCreated       HistoryAction = "CREATED"
	HistoryActionItemsUpdated  HistoryAction = "ITEMS_UPDATED"
	HistoryActionStatusChanged HistoryAction = "STATUS_CHANGED"
	HistoryActionReopened      HistoryAction = "REOPENED"
	HistoryActionPayment       HistoryAction = "PAYMENT_RECORDED"
	HistoryActionRefund        HistoryAction = "PAYMENT_REFUNDED"
	HistoryActionUnapplied     HistoryAction = "PAYMENT_UNAPPLIED"
	HistoryActionShareEnabled  HistoryAction = "SHARE_ENABLED"
	HistoryActionShareDisabled HistoryAction = "SHARE_DISABLED"
	HistoryActionGenerated     HistoryAction = "GENERATED_FROM_SCHEDULE"
	HistoryActionDelivered     HistoryAction = "DELIVERED"
)

// DeliveryStatus is the state of an outbound send
type DeliveryStatus string

// Delivery statuses
const (
	DeliveryStatusPending DeliveryStatus = "PENDING"
	DeliveryStatusSent    DeliveryStatus = "SENT"
	DeliveryStatusFailed  DeliveryStatus = "FAILED"
)

// Actors recorded on history rows when no user is involved
const (
	ActorSystem    = "system"
	ActorScheduler = "scheduler"
	ActorGateway   = "gateway"
	ActorPublic    = "public"
)
