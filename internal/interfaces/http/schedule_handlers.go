package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/invoice-engine/internal/application/service"
	"github.com/garyjia/invoice-engine/internal/domain/entity"
)

// ScheduleRequest is the body of schedule create and update calls
type ScheduleRequest struct {
	ClientID     int64           `json:"client_id" binding:"required"`
	Name         string          `json:"name"`
	Items        []ItemRequest   `json:"items" binding:"required,min=1,dive"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountType string          `json:"discount_type"`
	Currency     string          `json:"currency"`
	DueInDays    int             `json:"due_in_days"`
	Notes        string          `json:"notes"`

	Frequency      string `json:"frequency" binding:"required"`
	Interval       *int   `json:"interval"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	MaxOccurrences *int   `json:"max_occurrences"`
	AutoSend       bool   `json:"auto_send"`
}

// PreviewResponse lists the next run instants of a schedule
type PreviewResponse struct {
	ScheduleID int64       `json:"schedule_id"`
	Runs       []time.Time `json:"runs"`
}

func scheduleInput(c *gin.Context) (service.ScheduleInput, bool) {
	var req ScheduleRequest
	if !bind(c, &req) {
		return service.ScheduleInput{}, false
	}
	dates, ok := parseTimes(c, map[string]string{"start_date": req.StartDate, "end_date": req.EndDate})
	if !ok {
		return service.ScheduleInput{}, false
	}

	interval := 1
	if req.Interval != nil {
		interval = *req.Interval
	}

	input := service.ScheduleInput{
		ClientID:       req.ClientID,
		Name:           req.Name,
		Items:          toItems(req.Items),
		TaxRate:        req.TaxRate,
		Discount:       req.Discount,
		DiscountType:   entity.DiscountType(req.DiscountType),
		Currency:       req.Currency,
		DueInDays:      req.DueInDays,
		Notes:          req.Notes,
		Frequency:      entity.Frequency(req.Frequency),
		Interval:       interval,
		StartDate:      dates["start_date"],
		MaxOccurrences: req.MaxOccurrences,
		AutoSend:       req.AutoSend,
	}
	if end := dates["end_date"]; !end.IsZero() {
		input.EndDate = &end
	}
	return input, true
}

// CreateSchedule handles POST /api/v1/schedules
func (h *Handlers) CreateSchedule(c *gin.Context) {
	input, ok := scheduleInput(c)
	if !ok {
		return
	}
	sched, err := h.schedules.Create(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, sched)
}

// UpdateSchedule handles PUT /api/v1/schedules/:id
func (h *Handlers) UpdateSchedule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	input, ok := scheduleInput(c)
	if !ok {
		return
	}
	sched, err := h.schedules.Update(c.Request.Context(), id, input)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, sched)
}

// ListSchedules handles GET /api/v1/schedules
func (h *Handlers) ListSchedules(c *gin.Context) {
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

	schedules, err := h.schedules.List(c.Request.Context(), entity.ScheduleFilter{
		Status:   entity.ScheduleStatus(c.Query("status")),
		ClientID: int64(clientID),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, schedules)
}

// GetSchedule handles GET /api/v1/schedules/:id
func (h *Handlers) GetSchedule(c *gin.Context) {
	h.scheduleAction(c, h.schedules.Get)
}

// PauseSchedule handles POST /api/v1/schedules/:id/pause
func (h *Handlers) PauseSchedule(c *gin.Context) {
	h.scheduleAction(c, h.schedules.Pause)
}

// ResumeSchedule handles POST /api/v1/schedules/:id/resume
func (h *Handlers) ResumeSchedule(c *gin.Context) {
	h.scheduleAction(c, h.schedules.Resume)
}

// CancelSchedule handles POST /api/v1/schedules/:id/cancel
func (h *Handlers) CancelSchedule(c *gin.Context) {
	h.scheduleAction(c, h.schedules.Cancel)
}

// RunSchedule handles POST /api/v1/schedules/:id/run
func (h *Handlers) RunSchedule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	inv, err := h.schedules.RunNow(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, h.invoiceResponse(inv))
}

// PreviewSchedule handles GET /api/v1/schedules/:id/preview?n=
func (h *Handlers) PreviewSchedule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	n, ok := queryInt(c, "n", 0)
	if !ok {
		return
	}
	runs, err := h.schedules.Preview(c.Request.Context(), id, n)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, PreviewResponse{ScheduleID: id, Runs: runs})
}

func (h *Handlers) scheduleAction(c *gin.Context, action func(ctx context.Context, id int64) (*entity.RecurringSchedule, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sched, err := action(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, sched)
}
