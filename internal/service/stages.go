package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/stage"
	"github.com/xiaot623/gogo/turngate/internal/tools"
)

// Decide runs the turn decision stage alone.
func (s *Service) Decide(ctx context.Context, in stage.TurnInput) (domain.TurnDecision, error) {
	return s.stages.Decider.Decide(ctx, in)
}

// Recognize runs the recognizer alone.
func (s *Service) Recognize(ctx context.Context, req domain.DialogueRequest) ([]domain.RecognizedIntent, error) {
	return s.stages.Recognizer.Recognize(ctx, stage.RecognizeInput{Request: req})
}

// Classify runs the security gate alone.
func (s *Service) Classify(ctx context.Context, in stage.GateInput) (domain.SecurityBucketing, error) {
	return s.stages.Gate.Classify(ctx, in)
}

// ResolveAccess runs the access resolver alone. When users is nil the
// requester's access links are used.
func (s *Service) ResolveAccess(ctx context.Context, requesterID string, intents []domain.RecognizedIntent, users domain.AvailableUsers, opts stage.Options) (domain.AccessResolution, error) {
	users, err := s.availableUsers(ctx, TurnRequest{RequesterID: requesterID, AvailableUsers: users})
	if err != nil {
		return domain.AccessResolution{}, err
	}
	return s.stages.Resolver.Resolve(ctx, stage.AccessInput{Intents: intents, AvailableUsers: users, Options: opts})
}

// DispatchToolRequest is a direct dispatch outside a turn.
type DispatchToolRequest struct {
	RequesterID    string         `json:"requester_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	TurnID         string         `json:"turn_id,omitempty"`
	Args           map[string]any `json:"args"`
	Note           string         `json:"note,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// DispatchTool validates and dispatches one invocation. The requester's
// access links bound which users it may target.
func (s *Service) DispatchTool(ctx context.Context, toolName string, req DispatchToolRequest) (*tools.DispatchResult, error) {
	if strings.TrimSpace(req.RequesterID) == "" {
		return nil, fmt.Errorf("%w: requester_id is required", domain.ErrInvalidMessage)
	}
	users, err := s.availableUsers(ctx, TurnRequest{RequesterID: req.RequesterID})
	if err != nil {
		return nil, err
	}
	authorized := make([]string, 0, len(users))
	for id := range users {
		authorized = append(authorized, id)
	}
	args := req.Args
	if args == nil {
		args = map[string]any{}
	}
	return s.dispatcher.Dispatch(ctx, tools.DispatchRequest{
		Invocation: domain.ToolInvocation{
			Tool:           toolName,
			Args:           args,
			Note:           req.Note,
			IdempotencyKey: req.IdempotencyKey,
		},
		RequesterID:       req.RequesterID,
		ConversationID:    req.ConversationID,
		TurnID:            req.TurnID,
		AuthorizedUserIDs: authorized,
	})
}
