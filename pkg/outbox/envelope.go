package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies who triggered the event: an admin, the scheduler, or a
// provider webhook.
type ActorRef struct {
	ActorID string `json:"actorId,omitempty"`
	Role    string `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events and
// carried as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
