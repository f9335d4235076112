package models

import (
	"time"
)

// Escrow status. Released is terminal; Disputed freezes release until an
// administrator resolves the dispute.
const (
	EscrowStatusLocked   = "LOCKED"
	EscrowStatusReleased = "RELEASED"
	EscrowStatusDisputed = "DISPUTED"
)

// Escrow holds credits debited from the depositor until the timelock elapses
// or the dispute path resolves. Optionally tied to an exchange.
type Escrow struct {
	ID            int64      `json:"id" db:"id"`
	Depositor     string     `json:"depositor" db:"depositor"`
	Beneficiary   string     `json:"beneficiary" db:"beneficiary"`
	Amount        int64      `json:"amount" db:"amount"`
	ExchangeID    *int64     `json:"exchange_id,omitempty" db:"exchange_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	ReleaseAfter  time.Time  `json:"release_after" db:"release_after"`
	Status        string     `json:"status" db:"status"`
	DisputeReason string     `json:"dispute_reason,omitempty" db:"dispute_reason"`
	DisputedBy    string     `json:"disputed_by,omitempty" db:"disputed_by"`
	ReleasedTo    string     `json:"released_to,omitempty" db:"released_to"`
	ReleasedAt    *time.Time `json:"released_at,omitempty" db:"released_at"`
}

// EscrowStats aggregates escrow counts and the total value still held.
type EscrowStats struct {
	Total     int64 `json:"total"`
	Locked    int64 `json:"locked"`
	Released  int64 `json:"released"`
	Disputed  int64 `json:"disputed"`
	ValueHeld int64 `json:"value_held"`
}
