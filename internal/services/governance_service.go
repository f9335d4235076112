package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/timebank/backend/internal/config"
	"github.com/timebank/backend/internal/metrics"
	"github.com/timebank/backend/internal/models"
)

// GovernanceService runs weighted-vote proposals with timelocked execution.
// Voting power is assigned by the administrator and read live at vote time,
// so later power changes never rewrite votes already cast.
type GovernanceService struct {
	db     *sql.DB
	events *EventPublisher
	policy *config.PolicyConfig
}

func NewGovernanceService(db *sql.DB, events *EventPublisher) *GovernanceService {
	return &GovernanceService{
		db:     db,
		events: events,
		policy: config.LoadPolicyConfig(),
	}
}

// SetVotingPower assigns power to a principal. Admin only.
func (s *GovernanceService) SetVotingPower(ctx context.Context, caller, principal string, power int64) error {
	if caller != s.policy.AdminPrincipal {
		return models.ErrUnauthorized
	}
	if power < 0 {
		return models.ErrInvalidParams
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO voting_power (principal, power, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (principal) DO UPDATE SET power = $2, updated_at = $3`,
		principal, power, now)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("[GOVERNANCE] Voting power of %s set to %d", principal, power)
	metrics.OperationsTotal.WithLabelValues("governance", "set_power").Inc()
	return nil
}

// CreateProposal opens an Active proposal. The proposer needs at least the
// minimum proposal power; the voting deadline and execution timelock are
// derived from the creation instant.
func (s *GovernanceService) CreateProposal(ctx context.Context, proposer, title, description, proposalType string) (*models.Proposal, error) {
	if title == "" || description == "" {
		return nil, models.ErrInvalidParams
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return nil, err
	}

	power, err := votingPower(tx, proposer)
	if err != nil {
		return nil, err
	}
	if power < s.policy.MinProposalPower {
		return nil, models.ErrInsufficientVotingPower
	}

	id, err := nextID(tx, "proposals")
	if err != nil {
		return nil, err
	}

	votingDeadline := now.Add(s.policy.VotingPeriod)
	executeAfter := votingDeadline.Add(s.policy.ExecutionDelay)

	_, err = tx.Exec(`
		INSERT INTO proposals (id, proposer, title, description, proposal_type, created_at, voting_deadline, execute_after, yes_weight, no_weight, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, $9)`,
		id, proposer, title, description, proposalType, now, votingDeadline, executeAfter, models.ProposalStatusActive)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[GOVERNANCE] Proposal %d created by %s: %s", id, proposer, title)
	metrics.OperationsTotal.WithLabelValues("governance", "propose").Inc()
	s.events.Publish(ctx, "governance", "proposal", fmt.Sprintf("%d", id), models.ProposalStatusActive, proposer)

	return &models.Proposal{
		ID:             id,
		Proposer:       proposer,
		Title:          title,
		Description:    description,
		ProposalType:   proposalType,
		CreatedAt:      now,
		VotingDeadline: votingDeadline,
		ExecuteAfter:   executeAfter,
		Status:         models.ProposalStatusActive,
	}, nil
}

// CastVote records one vote per (proposal, voter) pair. The weight is the
// voter's power at vote time and is added to the running tally immediately.
func (s *GovernanceService) CastVote(ctx context.Context, voter string, proposalID int64, inFavor bool) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return err
	}

	proposal, err := lockProposal(tx, proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != models.ProposalStatusActive {
		return models.ErrVotingClosed
	}
	if !now.Before(proposal.VotingDeadline) {
		return models.ErrVotingClosed
	}

	power, err := votingPower(tx, voter)
	if err != nil {
		return err
	}
	if power <= 0 {
		return models.ErrInsufficientVotingPower
	}

	var voted bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM votes WHERE proposal_id = $1 AND voter = $2)`, proposalID, voter).Scan(&voted); err != nil {
		return err
	}
	if voted {
		return models.ErrAlreadyVoted
	}

	_, err = tx.Exec(`INSERT INTO votes (proposal_id, voter, in_favor, weight, created_at) VALUES ($1, $2, $3, $4, $5)`,
		proposalID, voter, inFavor, power, now)
	if err != nil {
		return err
	}

	if inFavor {
		_, err = tx.Exec(`UPDATE proposals SET yes_weight = yes_weight + $1 WHERE id = $2`, power, proposalID)
	} else {
		_, err = tx.Exec(`UPDATE proposals SET no_weight = no_weight + $1 WHERE id = $2`, power, proposalID)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.OperationsTotal.WithLabelValues("governance", "vote").Inc()
	s.events.Publish(ctx, "governance", "vote", fmt.Sprintf("%d", proposalID), "CAST", voter)
	return nil
}

// FinalizeProposal settles an Active proposal after its voting deadline.
// Passing requires a strict yes majority and total turnout at quorum.
func (s *GovernanceService) FinalizeProposal(ctx context.Context, proposalID int64) (*models.Proposal, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return nil, err
	}

	proposal, err := lockProposal(tx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != models.ProposalStatusActive {
		return nil, models.ErrProposalFinalized
	}
	if now.Before(proposal.VotingDeadline) {
		return nil, models.ErrVotingOpen
	}

	status := models.ProposalStatusFailed
	if proposal.YesWeight > proposal.NoWeight && proposal.YesWeight+proposal.NoWeight >= s.policy.Quorum {
		status = models.ProposalStatusPassed
	}

	if _, err := tx.Exec(`UPDATE proposals SET status = $1 WHERE id = $2`, status, proposalID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	proposal.Status = status
	log.Printf("[GOVERNANCE] Proposal %d finalized: %s (yes=%d no=%d)", proposalID, status, proposal.YesWeight, proposal.NoWeight)
	metrics.OperationsTotal.WithLabelValues("governance", "finalize").Inc()
	s.events.Publish(ctx, "governance", "proposal", fmt.Sprintf("%d", proposalID), status, proposal.Proposer)
	return proposal, nil
}

// ExecuteProposal marks a Passed proposal Executed once its timelock elapses.
func (s *GovernanceService) ExecuteProposal(ctx context.Context, proposalID int64) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return err
	}

	proposal, err := lockProposal(tx, proposalID)
	if err != nil {
		return err
	}
	switch proposal.Status {
	case models.ProposalStatusExecuted:
		return models.ErrAlreadyExecuted
	case models.ProposalStatusPassed:
	default:
		return models.ErrInvalidParams
	}
	if now.Before(proposal.ExecuteAfter) {
		return models.ErrTimelockNotElapsed
	}

	if _, err := tx.Exec(`UPDATE proposals SET status = $1 WHERE id = $2`, models.ProposalStatusExecuted, proposalID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("[GOVERNANCE] Proposal %d executed", proposalID)
	metrics.OperationsTotal.WithLabelValues("governance", "execute").Inc()
	s.events.Publish(ctx, "governance", "proposal", fmt.Sprintf("%d", proposalID), models.ProposalStatusExecuted, proposal.Proposer)
	return nil
}

// CancelProposal withdraws an Active proposal. Proposer only.
func (s *GovernanceService) CancelProposal(ctx context.Context, caller string, proposalID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return err
	}

	proposal, err := lockProposal(tx, proposalID)
	if err != nil {
		return err
	}
	if caller != proposal.Proposer {
		return models.ErrUnauthorized
	}
	if proposal.Status != models.ProposalStatusActive {
		return models.ErrProposalFinalized
	}

	if _, err := tx.Exec(`UPDATE proposals SET status = $1 WHERE id = $2`, models.ProposalStatusCancelled, proposalID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.OperationsTotal.WithLabelValues("governance", "cancel").Inc()
	s.events.Publish(ctx, "governance", "proposal", fmt.Sprintf("%d", proposalID), models.ProposalStatusCancelled, proposal.Proposer)
	return nil
}

// GetProposal returns a proposal by id.
func (s *GovernanceService) GetProposal(ctx context.Context, proposalID int64) (*models.Proposal, error) {
	proposal := &models.Proposal{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, proposer, title, description, proposal_type, created_at, voting_deadline, execute_after, yes_weight, no_weight, status
		FROM proposals WHERE id = $1`, proposalID).Scan(
		&proposal.ID, &proposal.Proposer, &proposal.Title, &proposal.Description,
		&proposal.ProposalType, &proposal.CreatedAt, &proposal.VotingDeadline,
		&proposal.ExecuteAfter, &proposal.YesWeight, &proposal.NoWeight, &proposal.Status,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return proposal, nil
}

// GetVote returns the vote one voter cast on a proposal, if any.
func (s *GovernanceService) GetVote(ctx context.Context, proposalID int64, voter string) (*models.Vote, error) {
	vote := &models.Vote{}
	err := s.db.QueryRowContext(ctx, `
		SELECT proposal_id, voter, in_favor, weight, created_at FROM votes WHERE proposal_id = $1 AND voter = $2`,
		proposalID, voter).Scan(&vote.ProposalID, &vote.Voter, &vote.InFavor, &vote.Weight, &vote.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return vote, nil
}

// GetVotingPower returns the current power of a principal. Unassigned
// principals hold zero power.
func (s *GovernanceService) GetVotingPower(ctx context.Context, principal string) (int64, error) {
	var power int64
	err := s.db.QueryRowContext(ctx, `SELECT power FROM voting_power WHERE principal = $1`, principal).Scan(&power)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return power, nil
}

// GetGovernanceStats returns proposal counts by status.
func (s *GovernanceService) GetGovernanceStats(ctx context.Context) (*models.GovernanceStats, error) {
	stats := &models.GovernanceStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'ACTIVE'),
		       COUNT(*) FILTER (WHERE status = 'PASSED'),
		       COUNT(*) FILTER (WHERE status = 'FAILED'),
		       COUNT(*) FILTER (WHERE status = 'EXECUTED')
		FROM proposals`).Scan(&stats.Total, &stats.Active, &stats.Passed, &stats.Failed, &stats.Executed)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func votingPower(tx *sql.Tx, principal string) (int64, error) {
	var power int64
	err := tx.QueryRow(`SELECT power FROM voting_power WHERE principal = $1`, principal).Scan(&power)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return power, nil
}

func lockProposal(tx *sql.Tx, id int64) (*models.Proposal, error) {
	proposal := &models.Proposal{}
	err := tx.QueryRow(`
		SELECT id, proposer, title, description, proposal_type, created_at, voting_deadline, execute_after, yes_weight, no_weight, status
		FROM proposals WHERE id = $1 FOR UPDATE`, id).Scan(
		&proposal.ID, &proposal.Proposer, &proposal.Title, &proposal.Description,
		&proposal.ProposalType, &proposal.CreatedAt, &proposal.VotingDeadline,
		&proposal.ExecuteAfter, &proposal.YesWeight, &proposal.NoWeight, &proposal.Status,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return proposal, nil
}
