package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const eventChannel = "timebank:events"

// Event is published after each successful commit so the notification layer
// can fan out to subscribers. Publishing is best-effort; ledger state is
// already committed when an event is emitted.
type Event struct {
	ID         string    `json:"id"`
	Module     string    `json:"module"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Status     string    `json:"status"`
	Principals []string  `json:"principals"`
	Timestamp  time.Time `json:"timestamp"`
}

type EventPublisher struct {
	redis *redis.Client
}

func NewEventPublisher(redisClient *redis.Client) *EventPublisher {
	return &EventPublisher{redis: redisClient}
}

func (p *EventPublisher) Publish(ctx context.Context, module, entityType, entityID, status string, principals ...string) {
	event := Event{
		ID:         uuid.NewString(),
		Module:     module,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     status,
		Principals: principals,
		Timestamp:  time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[EVENTS] Failed to marshal event: %v", err)
		return
	}

	if p == nil || p.redis == nil {
		log.Printf("[EVENTS] %s", string(data))
		return
	}

	if err := p.redis.Publish(ctx, eventChannel, data).Err(); err != nil {
		log.Printf("[EVENTS] Failed to publish event %s: %v", event.ID, err)
	}
}
