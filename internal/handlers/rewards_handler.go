package handlers

import (
	"net/http"

	"github.com/timebank/backend/internal/middleware"
	"github.com/timebank/backend/internal/services"
)

type RewardsHandler struct {
	service   *services.RewardsService
	validator *services.ValidationHelper
}

func NewRewardsHandler(service *services.RewardsService) *RewardsHandler {
	return &RewardsHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// StartPeriod opens a new reward period
// @Summary Start reward period
// @Description Admin-only creation of a new distribution period
// @Tags rewards
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.RewardPeriod
// @Failure 403 {object} services.ErrorResponse
// @Router /rewards/periods [post]
func (h *RewardsHandler) StartPeriod(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)

	period, err := h.service.StartNewPeriod(r.Context(), principal)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, period)
}

// Contribute funds a period's pool
// @Summary Contribute to pool
// @Description Debit the caller and grow the period's reward pool; a zero period targets the open one
// @Tags rewards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{periodId=int64,amount=int64} true "Contribution request"
// @Success 200 {object} object{success=bool}
// @Failure 422 {object} services.ErrorResponse
// @Router /rewards/contribute [post]
func (h *RewardsHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		PeriodID int64 `json:"periodId"`
		Amount   int64 `json:"amount" validate:"required,gt=0"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.ContributeToPool(r.Context(), principal, req.PeriodID, req.Amount); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// RegisterActivity records a user's activity for the period
// @Summary Register activity
// @Description Admin-only registration of a user's activity score and tier for a period
// @Tags rewards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{userPrincipal=string,periodId=int64,activityScore=int64} true "Activity record"
// @Success 200 {object} models.ActivityRecord
// @Failure 422 {object} services.ErrorResponse
// @Router /rewards/activity [post]
func (h *RewardsHandler) RegisterActivity(w http.ResponseWriter, r *http.Request) {
	caller := middleware.Principal(r)

	var req struct {
		UserPrincipal string `json:"userPrincipal" validate:"required"`
		PeriodID      int64  `json:"periodId"`
		ActivityScore int64  `json:"activityScore" validate:"required,gt=0"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	record, err := h.service.RegisterActivity(r.Context(), caller, req.UserPrincipal, req.PeriodID, req.ActivityScore)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, record)
}

// FinalizePeriod freezes a period and computes rewards
// @Summary Finalize period
// @Description Admin-only finalization; splits the pool across participants by tier weight
// @Tags rewards
// @Produce json
// @Security BearerAuth
// @Param id path int true "Period ID"
// @Success 200 {object} models.RewardPeriod
// @Failure 409 {object} services.ErrorResponse
// @Router /rewards/periods/{id}/finalize [post]
func (h *RewardsHandler) FinalizePeriod(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	period, err := h.service.FinalizePeriod(r.Context(), principal, id)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, period)
}

// Claim pays out the caller's reward for a period
// @Summary Claim reward
// @Description Credit the caller with their computed reward; claimable exactly once
// @Tags rewards
// @Produce json
// @Security BearerAuth
// @Param id path int true "Period ID"
// @Success 200 {object} object{amount=int64}
// @Failure 409 {object} services.ErrorResponse
// @Router /rewards/periods/{id}/claim [post]
func (h *RewardsHandler) Claim(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	amount, err := h.service.ClaimReward(r.Context(), principal, id)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"success": true,
		"amount":  amount,
	})
}

// GetCurrentPeriod returns the open period
// @Summary Get current period
// @Description Fetch the open reward period
// @Tags rewards
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.RewardPeriod
// @Failure 404 {object} services.ErrorResponse
// @Router /rewards/periods/current [get]
func (h *RewardsHandler) GetCurrentPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.service.GetCurrentPeriod(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, period)
}

// GetPeriod returns one period
// @Summary Get period
// @Description Fetch a reward period by id
// @Tags rewards
// @Produce json
// @Security BearerAuth
// @Param id path int true "Period ID"
// @Success 200 {object} models.RewardPeriod
// @Failure 404 {object} services.ErrorResponse
// @Router /rewards/periods/{id} [get]
func (h *RewardsHandler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	period, err := h.service.GetPeriod(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, period)
}

// GetReward returns the caller's reward in a period
// @Summary Get reward
// @Description Fetch the caller's computed reward for a period
// @Tags rewards
// @Produce json
// @Security BearerAuth
// @Param id path int true "Period ID"
// @Success 200 {object} models.UserReward
// @Failure 404 {object} services.ErrorResponse
// @Router /rewards/periods/{id}/reward [get]
func (h *RewardsHandler) GetReward(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	reward, err := h.service.GetUserReward(r.Context(), id, principal)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, reward)
}

// GetContribution returns the caller's contribution to a period's pool
// @Summary Get pool contribution
// @Description Fetch the total the caller has contributed to a period's pool
// @Tags rewards
// @Produce json
// @Security BearerAuth
// @Param id path int true "Period ID"
// @Success 200 {object} object{amount=int64}
// @Router /rewards/periods/{id}/contribution [get]
func (h *RewardsHandler) GetContribution(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	amount, err := h.service.GetPoolContribution(r.Context(), id, principal)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"amount": amount})
}

// GetEligibility reports the caller's eligibility in a period
// @Summary Get reward eligibility
// @Description Report whether the caller's activity in a period clears the eligibility floor
// @Tags rewards
// @Produce json
// @Security BearerAuth
// @Param id path int true "Period ID"
// @Success 200 {object} object{eligible=bool}
// @Router /rewards/periods/{id}/eligibility [get]
func (h *RewardsHandler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	eligible, err := h.service.IsEligibleForRewards(r.Context(), id, principal)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"eligible": eligible})
}

// GetLifetime returns a principal's lifetime claimed rewards
// @Summary Get lifetime rewards
// @Description Fetch the total rewards a principal has ever claimed
// @Tags rewards
// @Produce json
// @Security BearerAuth
// @Param principal path string true "Principal"
// @Success 200 {object} object{lifetimeRewards=int64}
// @Failure 404 {object} services.ErrorResponse
// @Router /rewards/lifetime/{principal} [get]
func (h *RewardsHandler) GetLifetime(w http.ResponseWriter, r *http.Request) {
	principal := pathPrincipal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Invalid principal", http.StatusBadRequest, nil)
		return
	}

	total, err := h.service.GetLifetimeRewards(r.Context(), principal)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"lifetimeRewards": total})
}

// GetStats returns reward aggregates
// @Summary Get rewards stats
// @Description Fetch contribution, distribution and claim totals across periods
// @Tags rewards
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.RewardsStats
// @Router /rewards/stats [get]
func (h *RewardsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetRewardsStats(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, stats)
}
