package handlers

import (
	"net/http"
	"time"

	"github.com/timebank/backend/internal/middleware"
	"github.com/timebank/backend/internal/services"
)

type EscrowHandler struct {
	service   *services.EscrowService
	validator *services.ValidationHelper
}

func NewEscrowHandler(service *services.EscrowService) *EscrowHandler {
	return &EscrowHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Create locks credits into a new escrow
// @Summary Create escrow
// @Description Debit the caller and lock the amount for a beneficiary until the release time
// @Tags escrows
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{beneficiary=string,amount=int64,releaseAfter=string,exchangeId=int64} true "Escrow request"
// @Success 200 {object} models.Escrow
// @Failure 422 {object} services.ErrorResponse
// @Router /escrows [post]
func (h *EscrowHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Beneficiary  string    `json:"beneficiary" validate:"required"`
		Amount       int64     `json:"amount" validate:"required,gt=0"`
		ReleaseAfter time.Time `json:"releaseAfter" validate:"required"`
		ExchangeID   *int64    `json:"exchangeId,omitempty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	escrow, err := h.service.CreateEscrow(r.Context(), principal, req.Beneficiary, req.Amount, req.ReleaseAfter, req.ExchangeID)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, escrow)
}

// Release pays out an escrow
// @Summary Release escrow
// @Description Release the locked amount to the beneficiary; timelock rules apply
// @Tags escrows
// @Produce json
// @Security BearerAuth
// @Param id path int true "Escrow ID"
// @Success 200 {object} models.Escrow
// @Failure 409 {object} services.ErrorResponse
// @Router /escrows/{id}/release [post]
func (h *EscrowHandler) Release(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	escrow, err := h.service.ReleaseEscrow(r.Context(), principal, id)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, escrow)
}

// Dispute freezes an escrow
// @Summary Raise dispute
// @Description Freeze a locked escrow pending admin resolution
// @Tags escrows
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Escrow ID"
// @Param request body object{reason=string} true "Dispute request"
// @Success 200 {object} object{success=bool}
// @Failure 409 {object} services.ErrorResponse
// @Router /escrows/{id}/dispute [post]
func (h *EscrowHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason" validate:"required,max=500"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.RaiseDispute(r.Context(), principal, id, req.Reason); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// Resolve settles a disputed escrow
// @Summary Resolve dispute
// @Description Admin-only dispute resolution; refund to the depositor or unlock the escrow
// @Tags escrows
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Escrow ID"
// @Param request body object{refund=bool} true "Resolution request"
// @Success 200 {object} object{success=bool}
// @Failure 403 {object} services.ErrorResponse
// @Router /escrows/{id}/resolve [post]
func (h *EscrowHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Refund *bool `json:"refund" validate:"required"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.ResolveDispute(r.Context(), principal, id, *req.Refund); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// Get returns an escrow
// @Summary Get escrow
// @Description Fetch one escrow record
// @Tags escrows
// @Produce json
// @Security BearerAuth
// @Param id path int true "Escrow ID"
// @Success 200 {object} models.Escrow
// @Failure 404 {object} services.ErrorResponse
// @Router /escrows/{id} [get]
func (h *EscrowHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	escrow, err := h.service.GetEscrowDetails(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, escrow)
}

// GetStats returns escrow aggregates
// @Summary Get escrow stats
// @Description Fetch escrow counts and the value still locked
// @Tags escrows
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.EscrowStats
// @Router /escrows/stats [get]
func (h *EscrowHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetEscrowStats(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, stats)
}
