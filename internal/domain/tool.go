package domain

import (
	"encoding/json"
	"time"
)

// ToolInvocation is one named tool action produced for a turn.
type ToolInvocation struct {
	Tool           string         `json:"tool"`
	Args           map[string]any `json:"args"`
	Note           string         `json:"note,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// AllowedQuery is an intent cleared for action, optionally bound to a target user.
type AllowedQuery struct {
	Text         string  `json:"text"`
	TargetUserID *string `json:"target_user_id"`
}

// ToolCall is an outbox record of a dispatched invocation.
type ToolCall struct {
	ToolCallID     string          `json:"tool_call_id"`
	TurnID         string          `json:"turn_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	RequesterID    string          `json:"requester_id,omitempty"`
	ToolName       string          `json:"tool_name"`
	Status         ToolCallStatus  `json:"status"`
	Args           json.RawMessage `json:"args"`
	Note           string          `json:"note,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}
