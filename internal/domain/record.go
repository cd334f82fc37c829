package domain

import (
	"encoding/json"
	"time"
)

// Turn is the persisted audit summary of one processed turn.
type Turn struct {
	TurnID         string          `json:"turn_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	RequesterID    string          `json:"requester_id,omitempty"`
	Utterance      string          `json:"utterance"`
	Action         TurnAction      `json:"action,omitempty"`
	Outcome        TurnOutcome     `json:"outcome"`
	ErrorCode      string          `json:"error_code,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        time.Time       `json:"ended_at"`
	Summary        json.RawMessage `json:"summary,omitempty"`
}

// Event is one audit trace entry for a turn.
type Event struct {
	EventID string          `json:"event_id"`
	TurnID  string          `json:"turn_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StoredMessage is a conversation message kept by the conversation store.
type StoredMessage struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	TurnID         string    `json:"turn_id,omitempty"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
