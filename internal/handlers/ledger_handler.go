package handlers

import (
	"net/http"

	"github.com/timebank/backend/internal/middleware"
	"github.com/timebank/backend/internal/services"
)

type LedgerHandler struct {
	service   *services.LedgerService
	validator *services.ValidationHelper
}

func NewLedgerHandler(service *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Register registers the caller on the ledger
// @Summary Register on the ledger
// @Description Create a ledger account for the authenticated principal with the initial credit grant
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Account
// @Failure 409 {object} services.ErrorResponse
// @Router /ledger/register [post]
func (h *LedgerHandler) Register(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := h.service.Register(r.Context(), principal)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, account)
}

// Transfer moves credits between accounts
// @Summary Transfer credits
// @Description Atomically transfer credits from the caller to another principal
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{to=string,amount=int64} true "Transfer request"
// @Success 200 {object} object{referenceId=string}
// @Failure 422 {object} services.ErrorResponse
// @Router /ledger/transfer [post]
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		To     string `json:"to" validate:"required"`
		Amount int64  `json:"amount" validate:"required,gt=0"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	referenceID, err := h.service.TransferCredits(r.Context(), principal, req.To, req.Amount)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"success":     true,
		"referenceId": referenceID,
	})
}

// Mint creates new credits
// @Summary Mint credits
// @Description Admin-only expansion of the circulating supply into one account
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{to=string,amount=int64} true "Mint request"
// @Success 200 {object} object{success=bool}
// @Failure 403 {object} services.ErrorResponse
// @Router /ledger/mint [post]
func (h *LedgerHandler) Mint(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)

	var req struct {
		To     string `json:"to" validate:"required"`
		Amount int64  `json:"amount" validate:"required,gt=0"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.MintCredits(r.Context(), principal, req.To, req.Amount); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// Burn destroys credits
// @Summary Burn credits
// @Description Admin-only contraction of the circulating supply from one account
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{from=string,amount=int64} true "Burn request"
// @Success 200 {object} object{success=bool}
// @Failure 403 {object} services.ErrorResponse
// @Router /ledger/burn [post]
func (h *LedgerHandler) Burn(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)

	var req struct {
		From   string `json:"from" validate:"required"`
		Amount int64  `json:"amount" validate:"required,gt=0"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.BurnCredits(r.Context(), principal, req.From, req.Amount); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// SetActive toggles the caller's activation state
// @Summary Set activation state
// @Description Activate or deactivate the caller's own account
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{active=bool} true "Activation request"
// @Success 200 {object} object{success=bool}
// @Router /ledger/active [post]
func (h *LedgerHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Active *bool `json:"active" validate:"required"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.SetActive(r.Context(), principal, *req.Active); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// TogglePause flips the protocol pause switch
// @Summary Toggle protocol pause
// @Description Admin-only global pause of all mutating operations
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{paused=bool}
// @Failure 403 {object} services.ErrorResponse
// @Router /ledger/pause [post]
func (h *LedgerHandler) TogglePause(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)

	paused, err := h.service.ToggleProtocolPause(r.Context(), principal)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"paused": paused})
}

// GetAccount returns an account
// @Summary Get account
// @Description Fetch the full account record for a principal
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param principal path string true "Principal"
// @Success 200 {object} models.Account
// @Failure 404 {object} services.ErrorResponse
// @Router /ledger/accounts/{principal} [get]
func (h *LedgerHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	principal := pathPrincipal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Invalid principal", http.StatusBadRequest, nil)
		return
	}

	account, err := h.service.GetAccount(r.Context(), principal)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, account)
}

// GetBalance returns a credit balance
// @Summary Get balance
// @Description Fetch the credit balance for a principal
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param principal path string true "Principal"
// @Success 200 {object} object{balance=int64}
// @Failure 404 {object} services.ErrorResponse
// @Router /ledger/accounts/{principal}/balance [get]
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	principal := pathPrincipal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Invalid principal", http.StatusBadRequest, nil)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), principal)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"balance": balance})
}

// GetActive returns the activation state of an account
// @Summary Get activation state
// @Description Report whether a principal is registered and active
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param principal path string true "Principal"
// @Success 200 {object} object{active=bool}
// @Failure 404 {object} services.ErrorResponse
// @Router /ledger/accounts/{principal}/active [get]
func (h *LedgerHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	principal := pathPrincipal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Invalid principal", http.StatusBadRequest, nil)
		return
	}

	active, err := h.service.IsActive(r.Context(), principal)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"active": active})
}

// GetStats returns the global ledger counters
// @Summary Get protocol stats
// @Description Fetch pause state, user count and circulating credits
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.ProtocolStats
// @Router /ledger/stats [get]
func (h *LedgerHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetProtocolStats(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, stats)
}
