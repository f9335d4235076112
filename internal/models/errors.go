package models

import "errors"

// Sentinel domain errors. Every mutating entry point validates all of its
// preconditions before touching state and returns the first violated one;
// callers can treat any error as "no state change occurred".

var (
	// Shared
	ErrUnauthorized   = errors.New("caller is not authorized for this operation")
	ErrNotFound       = errors.New("record not found")
	ErrInvalidParams  = errors.New("invalid parameters")
	ErrProtocolPaused = errors.New("protocol is paused")

	// Ledger
	ErrAlreadyRegistered   = errors.New("principal already registered")
	ErrInsufficientCredits = errors.New("insufficient credit balance")
	ErrSelfTransfer        = errors.New("cannot transfer credits to self")
	ErrSelfReferential     = errors.New("counterparty must be a different principal")
	ErrUserInactive        = errors.New("account is deactivated")

	// Exchanges
	ErrAlreadyAccepted  = errors.New("exchange already accepted")
	ErrAlreadyCompleted = errors.New("exchange already completed")
	ErrAlreadyCancelled = errors.New("exchange already cancelled")
	ErrAlreadyConfirmed = errors.New("completion already confirmed by this party")
	ErrNotCompleted     = errors.New("exchange is not completed")
	ErrAlreadyReviewed  = errors.New("review already submitted for this exchange")

	// Escrows
	ErrAlreadyReleased    = errors.New("escrow already released")
	ErrEscrowDisputed     = errors.New("escrow is under dispute")
	ErrTimelockNotElapsed = errors.New("timelock has not elapsed")

	// Governance
	ErrInsufficientVotingPower = errors.New("insufficient voting power")
	ErrAlreadyVoted            = errors.New("vote already cast on this proposal")
	ErrVotingOpen              = errors.New("voting period still open")
	ErrVotingClosed            = errors.New("voting period has closed")
	ErrProposalFinalized       = errors.New("proposal already finalized")
	ErrAlreadyExecuted         = errors.New("proposal already executed")

	// Rewards
	ErrNotEligible        = errors.New("activity score below eligibility threshold")
	ErrPeriodFinalized    = errors.New("reward period already finalized")
	ErrPeriodNotFinalized = errors.New("reward period not finalized")
	ErrAlreadyClaimed     = errors.New("reward already claimed")
)
