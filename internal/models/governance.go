package models

import (
	"time"
)

// Proposal status. Active proposals accept votes until the voting deadline;
// finalization decides Passed/Failed; execution is gated by the timelock.
const (
	ProposalStatusActive    = "ACTIVE"
	ProposalStatusPassed    = "PASSED"
	ProposalStatusFailed    = "FAILED"
	ProposalStatusExecuted  = "EXECUTED"
	ProposalStatusCancelled = "CANCELLED"
)

// Proposal is a weighted-vote governance proposal with timelocked execution.
type Proposal struct {
	ID             int64     `json:"id" db:"id"`
	Proposer       string    `json:"proposer" db:"proposer"`
	Title          string    `json:"title" db:"title"`
	Description    string    `json:"description" db:"description"`
	ProposalType   string    `json:"proposal_type" db:"proposal_type"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	VotingDeadline time.Time `json:"voting_deadline" db:"voting_deadline"`
	ExecuteAfter   time.Time `json:"execute_after" db:"execute_after"`
	YesWeight      int64     `json:"yes_weight" db:"yes_weight"`
	NoWeight       int64     `json:"no_weight" db:"no_weight"`
	Status         string    `json:"status" db:"status"`
}

// Vote records one (proposal, voter) pair; its weight is the voter's power
// read at the time the vote landed, not a snapshot from proposal creation.
type Vote struct {
	ProposalID int64     `json:"proposal_id" db:"proposal_id"`
	Voter      string    `json:"voter" db:"voter"`
	InFavor    bool      `json:"in_favor" db:"in_favor"`
	Weight     int64     `json:"weight" db:"weight"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// GovernanceStats aggregates proposal counts by status.
type GovernanceStats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Passed   int64 `json:"passed"`
	Failed   int64 `json:"failed"`
	Executed int64 `json:"executed"`
}
