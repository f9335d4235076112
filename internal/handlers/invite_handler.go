package handlers

import (
	"net/http"

	"github.com/timebank/backend/internal/middleware"
	"github.com/timebank/backend/internal/services"
)

type InviteHandler struct {
	service   *services.InviteService
	validator *services.ValidationHelper
}

func NewInviteHandler(service *services.InviteService) *InviteHandler {
	return &InviteHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Generate creates a QR invite for an offered skill
// @Summary Generate invite
// @Description Generate a single-use QR invite encoding the caller's skill offer
// @Tags invites
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{skillName=string,hours=int64} true "Invite request"
// @Success 200 {object} object{code=string,image=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /invites/generate [post]
func (h *InviteHandler) Generate(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		SkillName string `json:"skillName" validate:"required"`
		Hours     int64  `json:"hours" validate:"required,gt=0"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	code, image, err := h.service.GenerateInvite(r.Context(), principal, req.SkillName, req.Hours)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"success": true,
		"code":    code,
		"image":   image,
	})
}

// Redeem consumes a scanned invite
// @Summary Redeem invite
// @Description Consume an invite code and return the encoded exchange parameters
// @Tags invites
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{code=string} true "Redeem request"
// @Success 200 {object} object{data=object}
// @Failure 400 {object} services.ErrorResponse
// @Router /invites/redeem [post]
func (h *InviteHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code" validate:"required"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.RedeemInvite(r.Context(), req.Code)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	writeJSON(w, map[string]any{
		"success": true,
		"data":    result,
	})
}
