package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/domain"
)

// OutboxStore persists tool calls keyed by idempotency key.
type OutboxStore interface {
	// CreateToolCall stores call unless its idempotency key exists. It
	// returns the stored record and whether it was newly created.
	CreateToolCall(ctx context.Context, call *domain.ToolCall) (*domain.ToolCall, bool, error)
}

// Outbox is the default handler set: every call is queued for the backend
// that owns the tool.
type Outbox struct {
	store  OutboxStore
	logger *zap.Logger
}

// NewOutbox creates an outbox handler over a store.
func NewOutbox(store OutboxStore, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{store: store, logger: logger}
}

// RegisterAll registers the outbox as the handler of every catalog tool
// that has no handler yet.
func (o *Outbox) RegisterAll(reg *Registry, catalog *Catalog) error {
	for _, name := range catalog.Names() {
		if reg.Has(name) {
			continue
		}
		if err := reg.Register(name, o.Handle); err != nil {
			return err
		}
	}
	return nil
}

type outboxReceipt struct {
	ToolCallID   string                `json:"tool_call_id"`
	Status       domain.ToolCallStatus `json:"status"`
	Deduplicated bool                  `json:"deduplicated"`
}

// Handle queues the call. A repeated idempotency key returns the existing record.
func (o *Outbox) Handle(ctx context.Context, call Call) (json.RawMessage, error) {
	args, err := json.Marshal(call.Args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}
	record := &domain.ToolCall{
		ToolCallID:     "tc_" + uuid.New().String()[:8],
		TurnID:         call.TurnID,
		ConversationID: call.ConversationID,
		RequesterID:    call.RequesterID,
		ToolName:       call.ToolName,
		Status:         domain.ToolCallStatusQueued,
		Args:           args,
		Note:           call.Note,
		IdempotencyKey: call.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	stored, created, err := o.store.CreateToolCall(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("queue tool call: %w", err)
	}
	if !created {
		o.logger.Info("duplicate tool call", zap.String("tool", call.ToolName), zap.String("tool_call_id", stored.ToolCallID))
	}
	return json.Marshal(outboxReceipt{ToolCallID: stored.ToolCallID, Status: stored.Status, Deduplicated: !created})
}
