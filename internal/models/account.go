package models

import (
	"time"
)

// Account status of a registered principal. Accounts are never deleted, only
// deactivated.
const (
	AccountStatusActive      = "ACTIVE"
	AccountStatusDeactivated = "DEACTIVATED"
)

// InitialCreditBalance is granted to every account at registration.
// 1 credit ~= 1 hour of rendered service.
const InitialCreditBalance int64 = 10

// Account is the ledger record for a registered principal.
type Account struct {
	Principal       string    `json:"principal" db:"principal"`
	JoinedAt        time.Time `json:"joined_at" db:"joined_at"`
	HoursGiven      int64     `json:"hours_given" db:"hours_given"`
	HoursReceived   int64     `json:"hours_received" db:"hours_received"`
	ReputationScore int64     `json:"reputation_score" db:"reputation_score"`
	IsActive        bool      `json:"is_active" db:"is_active"`
	CreditBalance   int64     `json:"credit_balance" db:"credit_balance"`
	LifetimeRewards int64     `json:"lifetime_rewards" db:"lifetime_rewards"`
	Version         int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is one side of a double-entry credit movement.
type LedgerEntry struct {
	ID          int       `json:"id" db:"id"`
	ReferenceID string    `json:"reference_id" db:"reference_id"`
	Principal   string    `json:"principal" db:"principal"`
	Amount      int64     `json:"amount" db:"amount"`
	EntryType   string    `json:"entry_type" db:"entry_type"` // DEBIT or CREDIT
	Balance     int64     `json:"balance" db:"balance"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

const (
	EntryTypeDebit  = "DEBIT"
	EntryTypeCredit = "CREDIT"
)

// ProtocolStats is the single-row global state of the ledger.
type ProtocolStats struct {
	Paused             bool  `json:"paused" db:"paused"`
	RegisteredUsers    int64 `json:"registered_users" db:"registered_users"`
	CirculatingCredits int64 `json:"circulating_credits" db:"circulating_credits"`
}
