package handlers

import (
	"net/http"
	"time"

	"github.com/timebank/backend/internal/middleware"
	"github.com/timebank/backend/internal/services"
)

type ExchangeHandler struct {
	service   *services.ExchangeService
	validator *services.ValidationHelper
}

func NewExchangeHandler(service *services.ExchangeService) *ExchangeHandler {
	return &ExchangeHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Create opens a new exchange
// @Summary Create exchange
// @Description Request a service exchange from a provider
// @Tags exchanges
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{provider=string,skillName=string,hours=int64,scheduledStart=string,scheduledEnd=string} true "Exchange request"
// @Success 200 {object} models.Exchange
// @Failure 400 {object} services.ErrorResponse
// @Router /exchanges [post]
func (h *ExchangeHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Provider       string    `json:"provider" validate:"required"`
		SkillName      string    `json:"skillName" validate:"required"`
		Hours          int64     `json:"hours" validate:"required,gt=0"`
		ScheduledStart time.Time `json:"scheduledStart" validate:"required"`
		ScheduledEnd   time.Time `json:"scheduledEnd" validate:"required"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	exchange, err := h.service.CreateExchange(r.Context(), principal, req.Provider, req.SkillName, req.Hours, req.ScheduledStart, req.ScheduledEnd)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, exchange)
}

// Accept accepts a pending exchange
// @Summary Accept exchange
// @Description Provider accepts a pending exchange request
// @Tags exchanges
// @Produce json
// @Security BearerAuth
// @Param id path int true "Exchange ID"
// @Success 200 {object} object{success=bool}
// @Failure 409 {object} services.ErrorResponse
// @Router /exchanges/{id}/accept [post]
func (h *ExchangeHandler) Accept(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.AcceptExchange(r.Context(), principal, id); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// Confirm records a completion confirmation
// @Summary Confirm completion
// @Description Record the caller's completion confirmation; completes the exchange when both parties have confirmed
// @Tags exchanges
// @Produce json
// @Security BearerAuth
// @Param id path int true "Exchange ID"
// @Success 200 {object} models.Exchange
// @Failure 409 {object} services.ErrorResponse
// @Router /exchanges/{id}/confirm [post]
func (h *ExchangeHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	exchange, err := h.service.ConfirmCompletion(r.Context(), principal, id)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, exchange)
}

// Cancel cancels an exchange
// @Summary Cancel exchange
// @Description Requester cancels a pending or accepted exchange
// @Tags exchanges
// @Produce json
// @Security BearerAuth
// @Param id path int true "Exchange ID"
// @Success 200 {object} object{success=bool}
// @Failure 409 {object} services.ErrorResponse
// @Router /exchanges/{id}/cancel [post]
func (h *ExchangeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.CancelExchange(r.Context(), principal, id); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// Review submits a post-completion review
// @Summary Submit review
// @Description Rate the counterparty of a completed exchange
// @Tags exchanges
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Exchange ID"
// @Param request body object{rating=int,comment=string} true "Review request"
// @Success 200 {object} object{success=bool}
// @Failure 409 {object} services.ErrorResponse
// @Router /exchanges/{id}/review [post]
func (h *ExchangeHandler) Review(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Rating  int    `json:"rating" validate:"required,gte=1,lte=5"`
		Comment string `json:"comment" validate:"max=500"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.SubmitReview(r.Context(), principal, id, req.Rating, req.Comment); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// Get returns an exchange with its reviews
// @Summary Get exchange
// @Description Fetch one exchange and its reviews
// @Tags exchanges
// @Produce json
// @Security BearerAuth
// @Param id path int true "Exchange ID"
// @Success 200 {object} models.Exchange
// @Failure 404 {object} services.ErrorResponse
// @Router /exchanges/{id} [get]
func (h *ExchangeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	exchange, err := h.service.GetExchange(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, exchange)
}

// GetStatus returns the lifecycle flags of an exchange
// @Summary Get exchange status
// @Description Report whether an exchange is still active and whether it completed
// @Tags exchanges
// @Produce json
// @Security BearerAuth
// @Param id path int true "Exchange ID"
// @Success 200 {object} object{active=bool,completed=bool}
// @Failure 404 {object} services.ErrorResponse
// @Router /exchanges/{id}/status [get]
func (h *ExchangeHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	active, err := h.service.IsExchangeActive(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	completed, err := h.service.IsExchangeCompleted(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"active": active, "completed": completed})
}

// GetStats returns exchange counts by status
// @Summary Get exchange stats
// @Description Fetch exchange counts grouped by status
// @Tags exchanges
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.ExchangeStats
// @Router /exchanges/stats [get]
func (h *ExchangeHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetExchangeStats(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, stats)
}
