package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/timebank/backend/internal/models"
	"github.com/timebank/backend/internal/services"
)

// decodeJSON reads a single JSON object into dst with the usual body limits.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return err
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return errors.New("multiple JSON objects")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// pathID parses the {id} route parameter.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		services.SendErrorResponse(w, "Invalid id", http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

// pathPrincipal reads the {principal} route parameter.
func pathPrincipal(r *http.Request) string {
	return chi.URLParam(r, "principal")
}

// sendServiceError maps domain sentinels onto HTTP status codes. Unknown
// errors become 500 without leaking internals.
func sendServiceError(w http.ResponseWriter, err error) {
	services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidParams),
		errors.Is(err, models.ErrSelfTransfer),
		errors.Is(err, models.ErrSelfReferential):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrProtocolPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrAlreadyRegistered),
		errors.Is(err, models.ErrAlreadyAccepted),
		errors.Is(err, models.ErrAlreadyCompleted),
		errors.Is(err, models.ErrAlreadyCancelled),
		errors.Is(err, models.ErrAlreadyConfirmed),
		errors.Is(err, models.ErrAlreadyReviewed),
		errors.Is(err, models.ErrAlreadyReleased),
		errors.Is(err, models.ErrAlreadyVoted),
		errors.Is(err, models.ErrAlreadyExecuted),
		errors.Is(err, models.ErrAlreadyClaimed),
		errors.Is(err, models.ErrEscrowDisputed),
		errors.Is(err, models.ErrProposalFinalized),
		errors.Is(err, models.ErrPeriodFinalized):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientCredits),
		errors.Is(err, models.ErrInsufficientVotingPower),
		errors.Is(err, models.ErrUserInactive),
		errors.Is(err, models.ErrNotCompleted),
		errors.Is(err, models.ErrTimelockNotElapsed),
		errors.Is(err, models.ErrVotingOpen),
		errors.Is(err, models.ErrVotingClosed),
		errors.Is(err, models.ErrNotEligible),
		errors.Is(err, models.ErrPeriodNotFinalized):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
