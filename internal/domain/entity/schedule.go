package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is the unit a recurring schedule counts in
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyYearly  Frequency = "YEARLY"
)

// IsValid returns true if the frequency is known
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// ScheduleStatus is the user-controlled status of a schedule
type ScheduleStatus string

const (
	ScheduleStatusActive    ScheduleStatus = "ACTIVE"
	ScheduleStatusPaused    ScheduleStatus = "PAUSED"
	ScheduleStatusCancelled ScheduleStatus = "CANCELLED"
)

// IsValid returns true if the status is known
func (s ScheduleStatus) IsValid() bool {
	switch s {
	case ScheduleStatusActive, ScheduleStatusPaused, ScheduleStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true for CANCELLED
func (s ScheduleStatus) IsTerminal() bool {
	return s == ScheduleStatusCancelled
}

// String returns the string representation of the status
func (s ScheduleStatus) String() string {
	return string(s)
}

// RecurringSchedule turns a billing cadence into generated invoices.
// NextRunAt is nil when the schedule is paused, cancelled or exhausted.
// Exhausted separates a schedule that ran out of occurrences from one a user
// cancelled.
type RecurringSchedule struct {
	ID       int64  `json:"id"`
	ClientID int64  `json:"client_id"`
	Name     string `json:"name"`

	Items        []InvoiceItem   `json:"items"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountType DiscountType    `json:"discount_type"`
	Currency     string          `json:"currency"`
	DueInDays    int             `json:"due_in_days"`
	Notes        string          `json:"notes,omitempty"`

	Frequency      Frequency  `json:"frequency"`
	Interval       int        `json:"interval"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	MaxOccurrences *int       `json:"max_occurrences,omitempty"`
	AutoSend       bool       `json:"auto_send"`

	Status               ScheduleStatus `json:"status"`
	NextRunAt            *time.Time     `json:"next_run_at"`
	LastRunAt            *time.Time     `json:"last_run_at,omitempty"`
	OccurrencesGenerated int            `json:"occurrences_generated"`
	Exhausted            bool           `json:"exhausted"`

	ClaimedBy    string     `json:"-"`
	ClaimedUntil *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the cadence and template fields. Item and tax validation is
// shared with invoices.
func (s *RecurringSchedule) Validate() error {
	if s.ClientID <= 0 {
		return ErrMissingClient
	}
	if len(s.Items) == 0 {
		return ErrNoItems
	}
	for _, item := range s.Items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	if !s.Frequency.IsValid() {
		return ErrInvalidFrequency
	}
	if s.Interval < 1 {
		return ErrInvalidInterval
	}
	if s.MaxOccurrences != nil && *s.MaxOccurrences < 1 {
		return ErrInvalidMaxOccurrences
	}
	if s.EndDate != nil && s.EndDate.Before(s.StartDate) {
		return ErrEndBeforeStart
	}
	if s.DueInDays < 0 {
		return ErrInvalidDueInDays
	}
	return nil
}

// IsDue reports whether the runner should generate an invoice at now
func (s *RecurringSchedule) IsDue(now time.Time) bool {
	return s.Status == ScheduleStatusActive && s.NextRunAt != nil && !s.NextRunAt.After(now)
}

// RemainingOccurrences returns -1 when there is no cap
func (s *RecurringSchedule) RemainingOccurrences() int {
	if s.MaxOccurrences == nil {
		return -1
	}
	if left := *s.MaxOccurrences - s.OccurrencesGenerated; left > 0 {
		return left
	}
	return 0
}

// ScheduleFilter narrows schedule listings
type ScheduleFilter struct {
	Status   ScheduleStatus
	ClientID int64
	Limit    int
	Offset   int
}
