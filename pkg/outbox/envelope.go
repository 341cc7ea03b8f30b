package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef records who triggered the event, when an actor is known. System
// paths (TTL expiry, webhook callbacks) emit without one.
type ActorRef struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is the versioned wire shape stored in outbox_events and
// published to Pub/Sub. EventID is the consumer-side dedupe key; Data carries
// the event-specific payload in the same snake_case convention.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
