package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/timebank/backend/internal/models"
)

func expectLockProposal(mock sqlmock.Sqlmock, p *models.Proposal) {
	mock.ExpectQuery("SELECT id, proposer, title, description, proposal_type, created_at, voting_deadline, execute_after, yes_weight, no_weight, status\\s+FROM proposals WHERE id = \\$1 FOR UPDATE").
		WithArgs(p.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "proposer", "title", "description", "proposal_type", "created_at", "voting_deadline", "execute_after", "yes_weight", "no_weight", "status"}).
			AddRow(p.ID, p.Proposer, p.Title, p.Description, p.ProposalType, p.CreatedAt, p.VotingDeadline, p.ExecuteAfter, p.YesWeight, p.NoWeight, p.Status))
}

func expectVotingPower(mock sqlmock.Sqlmock, principal string, power int64) {
	mock.ExpectQuery("SELECT power FROM voting_power WHERE principal = \\$1").
		WithArgs(principal).
		WillReturnRows(sqlmock.NewRows([]string{"power"}).AddRow(power))
}

func activeProposal(deadline time.Time) *models.Proposal {
	now := time.Now().UTC()
	return &models.Proposal{
		ID:             5,
		Proposer:       "alice",
		Title:          "Raise initial grant",
		Description:    "Grant 15 credits at registration",
		ProposalType:   "POLICY",
		CreatedAt:      now.Add(-8 * 24 * time.Hour),
		VotingDeadline: deadline,
		ExecuteAfter:   deadline.Add(2 * 24 * time.Hour),
		Status:         models.ProposalStatusActive,
	}
}

func TestGovernanceService_CreateProposal(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewGovernanceService(db, NewEventPublisher(nil))
	ctx := context.Background()

	t.Run("successful proposal", func(t *testing.T) {
		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectVotingPower(mock, "alice", 150)

		mock.ExpectQuery("UPDATE counters SET value = value \\+ 1 WHERE name = \\$1 RETURNING value").
			WithArgs("proposals").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(5))

		mock.ExpectExec("INSERT INTO proposals").
			WithArgs(int64(5), "alice", "Raise initial grant", "Grant 15 credits at registration", "POLICY",
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "ACTIVE").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		proposal, err := service.CreateProposal(ctx, "alice", "Raise initial grant", "Grant 15 credits at registration", "POLICY")
		assert.NoError(t, err)
		assert.Equal(t, int64(5), proposal.ID)
		assert.Equal(t, models.ProposalStatusActive, proposal.Status)
		assert.True(t, proposal.ExecuteAfter.After(proposal.VotingDeadline))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient power", func(t *testing.T) {
		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectVotingPower(mock, "bob", 50)
		mock.ExpectRollback()

		_, err := service.CreateProposal(ctx, "bob", "Title", "Description", "POLICY")
		assert.ErrorIs(t, err, models.ErrInsufficientVotingPower)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGovernanceService_CastVote(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewGovernanceService(db, NewEventPublisher(nil))
	ctx := context.Background()

	t.Run("successful yes vote", func(t *testing.T) {
		p := activeProposal(time.Now().UTC().Add(24 * time.Hour))

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockProposal(mock, p)
		expectVotingPower(mock, "bob", 80)

		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM votes WHERE proposal_id = \\$1 AND voter = \\$2\\)").
			WithArgs(p.ID, "bob").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectExec("INSERT INTO votes").
			WithArgs(p.ID, "bob", true, int64(80), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE proposals SET yes_weight = yes_weight \\+ \\$1 WHERE id = \\$2").
			WithArgs(int64(80), p.ID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		err := service.CastVote(ctx, "bob", p.ID, true)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("double vote rejected", func(t *testing.T) {
		p := activeProposal(time.Now().UTC().Add(24 * time.Hour))

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockProposal(mock, p)
		expectVotingPower(mock, "bob", 80)

		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM votes WHERE proposal_id = \\$1 AND voter = \\$2\\)").
			WithArgs(p.ID, "bob").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectRollback()

		err := service.CastVote(ctx, "bob", p.ID, false)
		assert.ErrorIs(t, err, models.ErrAlreadyVoted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("vote after deadline", func(t *testing.T) {
		p := activeProposal(time.Now().UTC().Add(-time.Hour))

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockProposal(mock, p)
		mock.ExpectRollback()

		err := service.CastVote(ctx, "bob", p.ID, true)
		assert.ErrorIs(t, err, models.ErrVotingClosed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero power cannot vote", func(t *testing.T) {
		p := activeProposal(time.Now().UTC().Add(24 * time.Hour))

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockProposal(mock, p)

		mock.ExpectQuery("SELECT power FROM voting_power WHERE principal = \\$1").
			WithArgs("mallory").
			WillReturnRows(sqlmock.NewRows([]string{"power"}))

		mock.ExpectRollback()

		err := service.CastVote(ctx, "mallory", p.ID, true)
		assert.ErrorIs(t, err, models.ErrInsufficientVotingPower)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGovernanceService_FinalizeProposal(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewGovernanceService(db, NewEventPublisher(nil))
	ctx := context.Background()

	t.Run("passes with majority and quorum", func(t *testing.T) {
		p := activeProposal(time.Now().UTC().Add(-time.Hour))
		p.YesWeight = 800
		p.NoWeight = 300

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockProposal(mock, p)

		mock.ExpectExec("UPDATE proposals SET status = \\$1 WHERE id = \\$2").
			WithArgs("PASSED", p.ID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		result, err := service.FinalizeProposal(ctx, p.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.ProposalStatusPassed, result.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails below quorum despite majority", func(t *testing.T) {
		p := activeProposal(time.Now().UTC().Add(-time.Hour))
		p.YesWeight = 600
		p.NoWeight = 100

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockProposal(mock, p)

		mock.ExpectExec("UPDATE proposals SET status = \\$1 WHERE id = \\$2").
			WithArgs("FAILED", p.ID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		result, err := service.FinalizeProposal(ctx, p.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.ProposalStatusFailed, result.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("finalize before deadline", func(t *testing.T) {
		p := activeProposal(time.Now().UTC().Add(24 * time.Hour))

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockProposal(mock, p)
		mock.ExpectRollback()

		_, err := service.FinalizeProposal(ctx, p.ID)
		assert.ErrorIs(t, err, models.ErrVotingOpen)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second finalize rejected", func(t *testing.T) {
		p := activeProposal(time.Now().UTC().Add(-time.Hour))
		p.Status = models.ProposalStatusPassed

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockProposal(mock, p)
		mock.ExpectRollback()

		_, err := service.FinalizeProposal(ctx, p.ID)
		assert.ErrorIs(t, err, models.ErrProposalFinalized)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGovernanceService_ExecuteProposal(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewGovernanceService(db, NewEventPublisher(nil))
	ctx := context.Background()

	t.Run("execute after timelock", func(t *testing.T) {
		p := activeProposal(time.Now().UTC().Add(-72 * time.Hour))
		p.Status = models.ProposalStatusPassed

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockProposal(mock, p)

		mock.ExpectExec("UPDATE proposals SET status = \\$1 WHERE id = \\$2").
			WithArgs("EXECUTED", p.ID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		err := service.ExecuteProposal(ctx, p.ID)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("timelock not elapsed", func(t *testing.T) {
		p := activeProposal(time.Now().UTC().Add(-time.Hour))
		p.Status = models.ProposalStatusPassed

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockProposal(mock, p)
		mock.ExpectRollback()

		err := service.ExecuteProposal(ctx, p.ID)
		assert.ErrorIs(t, err, models.ErrTimelockNotElapsed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("double execution rejected", func(t *testing.T) {
		p := activeProposal(time.Now().UTC().Add(-72 * time.Hour))
		p.Status = models.ProposalStatusExecuted

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockProposal(mock, p)
		mock.ExpectRollback()

		err := service.ExecuteProposal(ctx, p.ID)
		assert.ErrorIs(t, err, models.ErrAlreadyExecuted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGovernanceService_SetVotingPower(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewGovernanceService(db, NewEventPublisher(nil))
	ctx := context.Background()

	t.Run("requires admin", func(t *testing.T) {
		err := service.SetVotingPower(ctx, "alice", "bob", 100)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("admin upsert", func(t *testing.T) {
		mock.ExpectBegin()
		expectPausedCheck(mock, false)

		mock.ExpectExec("INSERT INTO voting_power").
			WithArgs("bob", int64(100), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		err := service.SetVotingPower(ctx, "timebank-admin", "bob", 100)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
