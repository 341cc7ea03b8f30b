package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/agrimandi-backend/pkg/enums"
)

// TimelineEntry is one append-only row in an order or payment timeline.
type TimelineEntry struct {
	Status      string          `json:"status"`
	Description string          `json:"description"`
	ActorID     uuid.UUID       `json:"actorId"`
	ActorRole   enums.ActorRole `json:"actorRole"`
	At          time.Time       `json:"at"`
}

// Timeline is the jsonb-serialized list of entries.
type Timeline []TimelineEntry

// Append returns the timeline extended with a new entry.
func (t Timeline) Append(entry TimelineEntry) Timeline {
	return append(t, entry)
}

// Dispute is the per-order dispute sub-record. At most one per order.
type Dispute struct {
	RaisedBy   uuid.UUID           `json:"raisedBy"`
	RaisedRole enums.ActorRole     `json:"raisedRole"`
	Reason     string              `json:"reason"`
	Status     enums.DisputeStatus `json:"status"`
	Resolution string              `json:"resolution,omitempty"`
	ResolvedBy *uuid.UUID          `json:"resolvedBy,omitempty"`
	RaisedAt   time.Time           `json:"raisedAt"`
	ResolvedAt *time.Time          `json:"resolvedAt,omitempty"`
}

// Return is the post-delivery return sub-record.
type Return struct {
	RequestedBy uuid.UUID          `json:"requestedBy"`
	Reason      string             `json:"reason"`
	Status      enums.ReturnStatus `json:"status"`
	RequestedAt time.Time          `json:"requestedAt"`
}
