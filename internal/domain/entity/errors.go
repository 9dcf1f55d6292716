package entity

import "errors"

// Error classes. Every leaf error below unwraps to exactly one of them, so
// callers can branch with errors.Is(err, ErrValidation) and friends.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("state conflict")
	ErrNotFound   = errors.New("not found")
)

// classifiedError is a sentinel that belongs to one error class.
type classifiedError struct {
	msg   string
	class error
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Unwrap() error { return e.class }

func validationError(msg string) error { return &classifiedError{msg: msg, class: ErrValidation} }

func conflictError(msg string) error { return &classifiedError{msg: msg, class: ErrConflict} }

func notFoundError(msg string) error { return &classifiedError{msg: msg, class: ErrNotFound} }

// Validation errors
var (
	ErrInvalidItem           = validationError("invalid line item")
	ErrInvalidTaxRate        = validationError("tax rate must be between 0 and 100")
	ErrInvalidDiscount       = validationError("invalid discount")
	ErrInvalidCurrency       = validationError("invalid currency code")
	ErrMissingClient         = validationError("client is required")
	ErrNoItems               = validationError("at least one line item is required")
	ErrInvalidInterval       = validationError("interval must be at least 1")
	ErrInvalidMaxOccurrences = validationError("max occurrences must be at least 1")
	ErrEndBeforeStart        = validationError("end date is before start date")
	ErrInvalidFrequency      = validationError("invalid frequency")
	ErrInvalidDueInDays      = validationError("due in days must not be negative")
	ErrInvalidAmount         = validationError("amount must be positive")
	ErrInvalidPaymentMethod  = validationError("invalid payment method")
	ErrInvalidEmail          = validationError("invalid email address")
	ErrInvalidName           = validationError("name is required")
	ErrDueBeforeIssue        = validationError("due date is before issue date")
	ErrInvalidReference      = validationError("payment reference is required")
)

// State-conflict errors
var (
	ErrInvoiceNotEditable   = conflictError("invoice is not editable in its current status")
	ErrInvalidTransition    = conflictError("invalid status transition")
	ErrInvoiceNotPayable    = conflictError("invoice does not accept payments in its current status")
	ErrAlreadyPaid          = conflictError("invoice is already paid")
	ErrRefundExceedsPayment = conflictError("refund exceeds the refundable amount")
	ErrPaymentNotRefundable = conflictError("payment cannot be refunded")
	ErrInvoiceHasPayments   = conflictError("invoice has recorded payments")
	ErrScheduleNotActive    = conflictError("schedule is not active")
	ErrScheduleExhausted    = conflictError("schedule has no remaining occurrences")
	ErrScheduleCancelled    = conflictError("schedule is cancelled")
)

// Not-found errors
var (
	ErrInvoiceNotFound  = notFoundError("invoice not found")
	ErrPaymentNotFound  = notFoundError("payment not found")
	ErrScheduleNotFound = notFoundError("schedule not found")
	ErrClientNotFound   = notFoundError("client not found")
)

// Idempotency signals. These mean "already done" and are never surfaced to
// callers as failures.
var (
	ErrDuplicateOccurrence = errors.New("occurrence already generated")
	ErrDuplicatePayment    = errors.New("payment reference already recorded")
)

// ErrLedgerMismatch means the payment rows of an invoice no longer add up to
// its paid amount. It aborts the transaction that caused it.
var ErrLedgerMismatch = errors.New("payment ledger does not match invoice")
