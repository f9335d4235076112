package handlers

import (
	"net/http"

	"github.com/timebank/backend/internal/middleware"
	"github.com/timebank/backend/internal/services"
)

type GovernanceHandler struct {
	service   *services.GovernanceService
	validator *services.ValidationHelper
}

func NewGovernanceHandler(service *services.GovernanceService) *GovernanceHandler {
	return &GovernanceHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// SetPower assigns voting power
// @Summary Set voting power
// @Description Admin-only assignment of voting power to a principal
// @Tags governance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{principal=string,power=int64} true "Power assignment"
// @Success 200 {object} object{success=bool}
// @Failure 403 {object} services.ErrorResponse
// @Router /governance/power [post]
func (h *GovernanceHandler) SetPower(w http.ResponseWriter, r *http.Request) {
	caller := middleware.Principal(r)

	var req struct {
		Principal string `json:"principal" validate:"required"`
		Power     *int64 `json:"power" validate:"required"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.SetVotingPower(r.Context(), caller, req.Principal, *req.Power); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// Propose opens a new proposal
// @Summary Create proposal
// @Description Open a weighted-vote proposal; requires the minimum proposal power
// @Tags governance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{title=string,description=string,proposalType=string} true "Proposal request"
// @Success 200 {object} models.Proposal
// @Failure 422 {object} services.ErrorResponse
// @Router /governance/proposals [post]
func (h *GovernanceHandler) Propose(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Title        string `json:"title" validate:"required,max=200"`
		Description  string `json:"description" validate:"required,max=5000"`
		ProposalType string `json:"proposalType" validate:"required,max=50"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	proposal, err := h.service.CreateProposal(r.Context(), principal, req.Title, req.Description, req.ProposalType)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, proposal)
}

// Vote casts a vote
// @Summary Cast vote
// @Description Cast one weighted vote on an active proposal
// @Tags governance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Proposal ID"
// @Param request body object{inFavor=bool} true "Vote request"
// @Success 200 {object} object{success=bool}
// @Failure 409 {object} services.ErrorResponse
// @Router /governance/proposals/{id}/vote [post]
func (h *GovernanceHandler) Vote(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		InFavor *bool `json:"inFavor" validate:"required"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.CastVote(r.Context(), principal, id, *req.InFavor); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// Finalize settles a proposal after its deadline
// @Summary Finalize proposal
// @Description Settle an active proposal once its voting deadline has passed
// @Tags governance
// @Produce json
// @Security BearerAuth
// @Param id path int true "Proposal ID"
// @Success 200 {object} models.Proposal
// @Failure 409 {object} services.ErrorResponse
// @Router /governance/proposals/{id}/finalize [post]
func (h *GovernanceHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	proposal, err := h.service.FinalizeProposal(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, proposal)
}

// Execute executes a passed proposal
// @Summary Execute proposal
// @Description Execute a passed proposal after its timelock elapses
// @Tags governance
// @Produce json
// @Security BearerAuth
// @Param id path int true "Proposal ID"
// @Success 200 {object} object{success=bool}
// @Failure 409 {object} services.ErrorResponse
// @Router /governance/proposals/{id}/execute [post]
func (h *GovernanceHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.ExecuteProposal(r.Context(), id); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// Cancel withdraws a proposal
// @Summary Cancel proposal
// @Description Proposer withdraws an active proposal
// @Tags governance
// @Produce json
// @Security BearerAuth
// @Param id path int true "Proposal ID"
// @Success 200 {object} object{success=bool}
// @Failure 409 {object} services.ErrorResponse
// @Router /governance/proposals/{id}/cancel [post]
func (h *GovernanceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	principal := middleware.Principal(r)
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.CancelProposal(r.Context(), principal, id); err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true})
}

// Get returns a proposal
// @Summary Get proposal
// @Description Fetch one proposal with its running tally
// @Tags governance
// @Produce json
// @Security BearerAuth
// @Param id path int true "Proposal ID"
// @Success 200 {object} models.Proposal
// @Failure 404 {object} services.ErrorResponse
// @Router /governance/proposals/{id} [get]
func (h *GovernanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	proposal, err := h.service.GetProposal(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, proposal)
}

// GetPower returns a principal's voting power
// @Summary Get voting power
// @Description Fetch the current voting power of a principal
// @Tags governance
// @Produce json
// @Security BearerAuth
// @Param principal path string true "Principal"
// @Success 200 {object} object{power=int64}
// @Router /governance/power/{principal} [get]
func (h *GovernanceHandler) GetPower(w http.ResponseWriter, r *http.Request) {
	principal := pathPrincipal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Invalid principal", http.StatusBadRequest, nil)
		return
	}

	power, err := h.service.GetVotingPower(r.Context(), principal)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, map[string]any{"power": power})
}

// GetVote returns one voter's vote on a proposal
// @Summary Get vote
// @Description Fetch the vote a principal cast on a proposal, if any
// @Tags governance
// @Produce json
// @Security BearerAuth
// @Param id path int true "Proposal ID"
// @Param principal path string true "Voter principal"
// @Success 200 {object} models.Vote
// @Failure 404 {object} services.ErrorResponse
// @Router /governance/proposals/{id}/votes/{principal} [get]
func (h *GovernanceHandler) GetVote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	principal := pathPrincipal(r)
	if principal == "" {
		services.SendErrorResponse(w, "Invalid principal", http.StatusBadRequest, nil)
		return
	}

	vote, err := h.service.GetVote(r.Context(), id, principal)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, vote)
}

// GetStats returns proposal aggregates
// @Summary Get governance stats
// @Description Fetch proposal counts grouped by status
// @Tags governance
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.GovernanceStats
// @Router /governance/stats [get]
func (h *GovernanceHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetGovernanceStats(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, stats)
}
