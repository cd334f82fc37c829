package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/turngate/internal/domain"
)

var errNoStore = errors.New("no store configured")

// GetTurn returns a stored turn summary.
func (s *Service) GetTurn(ctx context.Context, turnID string) (*domain.Turn, error) {
	if s.store == nil {
		return nil, errNoStore
	}
	turn, err := s.store.GetTurn(ctx, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	if turn == nil {
		return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
	}
	return turn, nil
}

// GetTurnEvents returns the audit trace of a turn.
func (s *Service) GetTurnEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	if _, err := s.GetTurn(ctx, turnID); err != nil {
		return nil, err
	}
	events, err := s.store.GetEvents(ctx, turnID, afterTs, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}

// GetMessages returns the last limit messages of a conversation.
func (s *Service) GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.StoredMessage, error) {
	if s.store == nil {
		return nil, errNoStore
	}
	messages, err := s.store.GetMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	if messages == nil {
		messages = []domain.StoredMessage{}
	}
	return messages, nil
}

// GetToolCall returns an outbox record.
func (s *Service) GetToolCall(ctx context.Context, toolCallID string) (*domain.ToolCall, error) {
	if s.store == nil {
		return nil, errNoStore
	}
	call, err := s.store.GetToolCall(ctx, toolCallID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tool call: %w", err)
	}
	if call == nil {
		return nil, fmt.Errorf("tool call %s: %w", toolCallID, domain.ErrNotFound)
	}
	return call, nil
}
