package models

import (
	"time"
)

// Exchange lifecycle. Status only advances Pending -> Accepted -> Completed,
// or {Pending,Accepted} -> Cancelled. Cancelled and Completed are terminal.
const (
	ExchangeStatusPending   = "PENDING"
	ExchangeStatusAccepted  = "ACCEPTED"
	ExchangeStatusCompleted = "COMPLETED"
	ExchangeStatusCancelled = "CANCELLED"
)

// Exchange is a bilateral service exchange between a requester and a provider.
// Completion requires independent confirmation from both parties.
type Exchange struct {
	ID                   int64      `json:"id" db:"id"`
	Requester            string     `json:"requester" db:"requester"`
	Provider             string     `json:"provider" db:"provider"`
	SkillName            string     `json:"skill_name" db:"skill_name"`
	HoursRequested       int64      `json:"hours_requested" db:"hours_requested"`
	ScheduledStart       time.Time  `json:"scheduled_start" db:"scheduled_start"`
	ScheduledEnd         time.Time  `json:"scheduled_end" db:"scheduled_end"`
	Status               string     `json:"status" db:"status"`
	ConfirmedByRequester bool       `json:"confirmed_by_requester" db:"confirmed_by_requester"`
	ConfirmedByProvider  bool       `json:"confirmed_by_provider" db:"confirmed_by_provider"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Reviews              []Review   `json:"reviews,omitempty"`
}

// Review is submitted by one exchange party about the other, at most once per
// party, and only after the exchange is completed.
type Review struct {
	ExchangeID int64     `json:"exchange_id" db:"exchange_id"`
	Reviewer   string    `json:"reviewer" db:"reviewer"`
	Rating     int       `json:"rating" db:"rating"` // 1..5
	Comment    string    `json:"comment" db:"comment"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ExchangeStats aggregates exchange counts by status.
type ExchangeStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Accepted  int64 `json:"accepted"`
	Completed int64 `json:"completed"`
	Cancelled int64 `json:"cancelled"`
}
