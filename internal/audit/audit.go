package audit

import (
	"encoding/json"
	"log"
	"time"
)

// Event is an append-only audit record emitted for every credit movement and
// for rejected operations.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	ReferenceID string    `json:"reference_id"`
	Principal   string    `json:"principal"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	Details     any       `json:"details"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogTransfer(referenceID, from, to string, amount int64, status string) {
	event := Event{
		Timestamp:   time.Now(),
		EventType:   "TRANSFER",
		ReferenceID: referenceID,
		Amount:      amount,
		Status:      status,
		Details: map[string]string{
			"from_principal": from,
			"to_principal":   to,
		},
	}
	a.log(event)
}

func (a *Logger) LogError(referenceID, principal string, err error) {
	event := Event{
		Timestamp:   time.Now(),
		EventType:   "ERROR",
		ReferenceID: referenceID,
		Principal:   principal,
		Status:      "FAILED",
		Details:     map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) LogOperation(referenceID, principal, operation, details string) {
	event := Event{
		Timestamp:   time.Now(),
		EventType:   operation,
		ReferenceID: referenceID,
		Principal:   principal,
		Status:      "SUCCESS",
		Details:     map[string]string{"details": details},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
