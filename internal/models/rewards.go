package models

import (
	"time"
)

// Reward tiers by activity score band. The tier determines the participant's
// weight when the period pool is distributed.
const (
	TierBronze   = "BRONZE"
	TierSilver   = "SILVER"
	TierGold     = "GOLD"
	TierPlatinum = "PLATINUM"
)

// RewardPeriod is one distribution cycle. Contributions and activity
// registrations land on the open period; finalization computes per-user
// rewards and freezes the period.
type RewardPeriod struct {
	ID               int64     `json:"id" db:"id"`
	StartedAt        time.Time `json:"started_at" db:"started_at"`
	PoolAmount       int64     `json:"pool_amount" db:"pool_amount"`
	ParticipantCount int64     `json:"participant_count" db:"participant_count"`
	Finalized        bool      `json:"finalized" db:"finalized"`
}

// ActivityRecord holds a user's score and derived tier for one period.
type ActivityRecord struct {
	PeriodID      int64  `json:"period_id" db:"period_id"`
	UserPrincipal string `json:"user_principal" db:"user_principal"`
	ActivityScore int64  `json:"activity_score" db:"activity_score"`
	Tier          string `json:"tier" db:"tier"`
}

// UserReward is computed at period finalization and payable exactly once.
type UserReward struct {
	PeriodID      int64  `json:"period_id" db:"period_id"`
	UserPrincipal string `json:"user_principal" db:"user_principal"`
	Amount        int64  `json:"amount" db:"amount"`
	Claimed       bool   `json:"claimed" db:"claimed"`
}

// PoolContribution accumulates a contributor's total funding of one period.
type PoolContribution struct {
	PeriodID    int64  `json:"period_id" db:"period_id"`
	Contributor string `json:"contributor" db:"contributor"`
	Amount      int64  `json:"amount" db:"amount"`
}

// RewardsStats aggregates reward activity across all periods.
type RewardsStats struct {
	Periods          int64 `json:"periods"`
	TotalContributed int64 `json:"total_contributed"`
	TotalDistributed int64 `json:"total_distributed"`
	TotalClaimed     int64 `json:"total_claimed"`
}
