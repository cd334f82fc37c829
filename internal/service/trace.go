package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/turngate/internal/domain"
)

// trace buffers the audit events of one turn until it is flushed.
type trace struct {
	turnID string
	events []domain.Event
}

func newTrace(turnID string) *trace {
	return &trace{turnID: turnID}
}

// record appends an event. Payloads that fail to marshal are kept as an
// error note so the trace stays complete.
func (t *trace) record(eventType domain.EventType, payload any) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		payloadBytes, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	t.events = append(t.events, domain.Event{
		EventID: "evt_" + uuid.New().String()[:8],
		TurnID:  t.turnID,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	})
}
