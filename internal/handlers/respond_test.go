package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/timebank/backend/internal/middleware"
	"github.com/timebank/backend/internal/models"
	"github.com/timebank/backend/internal/services"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{models.ErrUnauthorized, http.StatusForbidden},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrInvalidParams, http.StatusBadRequest},
		{models.ErrSelfTransfer, http.StatusBadRequest},
		{models.ErrProtocolPaused, http.StatusServiceUnavailable},
		{models.ErrAlreadyRegistered, http.StatusConflict},
		{models.ErrAlreadyClaimed, http.StatusConflict},
		{models.ErrProposalFinalized, http.StatusConflict},
		{models.ErrInsufficientCredits, http.StatusUnprocessableEntity},
		{models.ErrTimelockNotElapsed, http.StatusUnprocessableEntity},
		{models.ErrVotingClosed, http.StatusUnprocessableEntity},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.status, statusForError(tc.err), tc.err.Error())
	}
}

func authedRequest(method, target string, body []byte, principal string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), middleware.PrincipalKey, principal)
	return req.WithContext(ctx)
}

func TestLedgerHandler_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	handler := NewLedgerHandler(services.NewLedgerService(db, services.NewEventPublisher(nil)))

	t.Run("missing principal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/transfer", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()

		handler.Transfer(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		body := []byte(`{"to":"bob","amount":25,"memo":"hi"}`)
		w := httptest.NewRecorder()

		handler.Transfer(w, authedRequest(http.MethodPost, "/api/v1/ledger/transfer", body, "alice"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation failure reported per field", func(t *testing.T) {
		body := []byte(`{"to":"bob","amount":-5}`)
		w := httptest.NewRecorder()

		handler.Transfer(w, authedRequest(http.MethodPost, "/api/v1/ledger/transfer", body, "alice"))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp services.ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Details, "Amount")
	})

	t.Run("self transfer maps to bad request", func(t *testing.T) {
		body := []byte(`{"to":"alice","amount":25}`)
		w := httptest.NewRecorder()

		handler.Transfer(w, authedRequest(http.MethodPost, "/api/v1/ledger/transfer", body, "alice"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("insufficient credits maps to unprocessable entity", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT paused FROM protocol_state WHERE id = 1").
			WillReturnRows(sqlmock.NewRows([]string{"paused"}).AddRow(false))
		mock.ExpectQuery("SELECT principal, credit_balance, is_active, version FROM accounts WHERE principal = \\$1 FOR UPDATE").
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"principal", "credit_balance", "is_active", "version"}).
				AddRow("alice", 5, true, 1))
		mock.ExpectQuery("SELECT principal, credit_balance, is_active, version FROM accounts WHERE principal = \\$1 FOR UPDATE").
			WithArgs("bob").
			WillReturnRows(sqlmock.NewRows([]string{"principal", "credit_balance", "is_active", "version"}).
				AddRow("bob", 40, true, 1))
		mock.ExpectRollback()

		body := []byte(`{"to":"bob","amount":25}`)
		w := httptest.NewRecorder()

		handler.Transfer(w, authedRequest(http.MethodPost, "/api/v1/ledger/transfer", body, "alice"))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
