package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/stage"
	"github.com/xiaot623/gogo/turngate/internal/tools"
)

// TurnRequest is one user turn. The embedded dialogue request supplies the
// utterance, history and oracle knobs.
type TurnRequest struct {
	domain.DialogueRequest
	TurnID         string                `json:"turn_id,omitempty"`
	ConversationID string                `json:"conversation_id,omitempty"`
	RequesterID    string                `json:"requester_id"`
	Profile        map[string]any        `json:"profile,omitempty"`
	AvailableUsers domain.AvailableUsers `json:"available_users,omitempty"`
}

// DispatchOutcome is the fate of one routed invocation.
type DispatchOutcome struct {
	Tool      string                `json:"tool"`
	Result    *tools.DispatchResult `json:"result,omitempty"`
	ErrorCode string                `json:"error_code,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// TurnResult reports what a turn decided and did.
type TurnResult struct {
	TurnID         string                    `json:"turn_id"`
	ConversationID string                    `json:"conversation_id,omitempty"`
	Outcome        domain.TurnOutcome        `json:"outcome"`
	Decision       *domain.TurnDecision      `json:"decision,omitempty"`
	Reply          string                    `json:"reply,omitempty"`
	Intents        []domain.RecognizedIntent `json:"intents,omitempty"`
	Buckets        *domain.SecurityBucketing `json:"buckets,omitempty"`
	Access         *domain.AccessResolution  `json:"access,omitempty"`
	Allowed        []domain.AllowedQuery     `json:"allowed,omitempty"`
	Rejected       []domain.RecognizedIntent `json:"rejected,omitempty"`
	Invocations    []domain.ToolInvocation   `json:"invocations,omitempty"`
	Dispatches     []DispatchOutcome         `json:"dispatches,omitempty"`
	ErrorCode      string                    `json:"error_code,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

// RunTurn runs one turn end to end. Failures before dispatch degrade the
// turn to a generic reply with no tool executed; request errors and
// cancellation are returned and nothing is persisted.
func (s *Service) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.RequesterID) == "" {
		return nil, fmt.Errorf("%w: requester_id is required", domain.ErrInvalidMessage)
	}
	dreq, err := s.withStoredHistory(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := dreq.Validate(); err != nil {
		return nil, err
	}

	turnID := req.TurnID
	if turnID == "" {
		turnID = "turn_" + uuid.New().String()[:8]
	}
	started := time.Now().UTC()
	tr := newTrace(turnID)
	tr.record(domain.EventTypeTurnStarted, map[string]any{
		"conversation_id": req.ConversationID,
		"requester_id":    req.RequesterID,
		"pipeline":        dreq.PipelineKey(),
	})

	result := &TurnResult{TurnID: turnID, ConversationID: req.ConversationID}
	logger := s.logger.With(zap.String("turn_id", turnID))

	invocations, err := s.plan(ctx, req, dreq, result, tr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Info("turn cancelled", zap.Error(ctxErr))
			return nil, ctxErr
		}
		logger.Error("turn degraded", zap.String("error_code", domain.ErrorCode(err)), zap.Error(err))
		result.Outcome = domain.OutcomeDegraded
		result.Reply = DegradedReply
		result.ErrorCode = domain.ErrorCode(err)
		result.Error = err.Error()
		result.Invocations = nil
		tr.record(domain.EventTypeTurnDegraded, map[string]string{"error_code": result.ErrorCode, "error": result.Error})
		s.persist(ctx, req, dreq, result, tr, started)
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Invocations = invocations
	authorized := authorizedIDs(result.Access)
	for _, inv := range invocations {
		result.Dispatches = append(result.Dispatches, s.dispatch(ctx, req, turnID, inv, authorized, tr, logger))
	}

	result.Outcome = domain.OutcomeCompleted
	tr.record(domain.EventTypeTurnDone, map[string]any{"action": result.Decision.Action, "dispatched": len(result.Dispatches)})
	s.persist(context.WithoutCancel(ctx), req, dreq, result, tr, started)
	logger.Info("turn completed",
		zap.String("action", string(result.Decision.Action)),
		zap.Int("invocations", len(invocations)))
	return result, nil
}

// withStoredHistory loads conversation history when the request carries none.
func (s *Service) withStoredHistory(ctx context.Context, req TurnRequest) (domain.DialogueRequest, error) {
	dreq := req.DialogueRequest
	if req.ConversationID == "" || len(dreq.History) > 0 || s.store == nil {
		return dreq, nil
	}
	stored, err := s.store.GetMessages(ctx, req.ConversationID, s.cfg.HistoryWindow)
	if err != nil {
		return dreq, fmt.Errorf("load history: %w", err)
	}
	for _, m := range stored {
		dreq.History = append(dreq.History, domain.Message{Role: m.Role, Content: m.Content})
	}
	return dreq, nil
}

// plan runs every stage up to routing and returns the invocations to dispatch.
func (s *Service) plan(ctx context.Context, req TurnRequest, dreq domain.DialogueRequest, result *TurnResult, tr *trace) ([]domain.ToolInvocation, error) {
	decision, err := s.stages.Decider.Decide(ctx, stage.TurnInput{Request: dreq, Profile: req.Profile})
	if err != nil {
		return nil, err
	}
	result.Decision = &decision
	tr.record(domain.EventTypeTurnDecided, decision)

	switch decision.Action {
	case domain.ActionWait, domain.ActionRunReplyFlow:
		return nil, nil
	case domain.ActionMicroReply:
		result.Reply = decision.MicroReplyText
		return []domain.ToolInvocation{respond(req.ConversationID, decision.MicroReplyText, "micro reply")}, nil
	case domain.ActionRespondSafety:
		result.Reply = decision.MicroReplyText
		return []domain.ToolInvocation{
			respond(req.ConversationID, decision.MicroReplyText, "safety override"),
			{
				Tool: tools.CreateAttentionFlag,
				Args: map[string]any{
					"conversation_id": req.ConversationID,
					"user_id":         req.RequesterID,
					"reason":          "safety override: " + decision.Reason,
					"severity":        "high",
				},
				Note: "safety override",
			},
		}, nil
	case domain.ActionRunMainFlow:
		return s.mainFlow(ctx, req, dreq, result, tr)
	}
	return nil, fmt.Errorf("%w: unhandled action %q", domain.ErrSchemaValidation, decision.Action)
}

func (s *Service) mainFlow(ctx context.Context, req TurnRequest, dreq domain.DialogueRequest, result *TurnResult, tr *trace) ([]domain.ToolInvocation, error) {
	opts := stage.OptionsFrom(dreq)

	intents, err := s.stages.Recognizer.Recognize(ctx, stage.RecognizeInput{Request: dreq})
	if err != nil {
		return nil, err
	}
	result.Intents = intents
	tr.record(domain.EventTypeIntentsRecognized, intents)

	buckets, err := s.stages.Gate.Classify(ctx, stage.GateInput{Intents: intents, Options: opts})
	if err != nil {
		return nil, err
	}
	result.Buckets = &buckets
	result.Rejected = buckets.Dangerous
	tr.record(domain.EventTypeSecurityClassified, buckets)

	access := domain.AccessResolution{Resolved: []domain.ResolvedTarget{}, Unresolved: []domain.UnresolvedTarget{}}
	if len(buckets.NeedsAccessCheck) > 0 {
		users, err := s.availableUsers(ctx, req)
		if err != nil {
			return nil, err
		}
		access, err = s.stages.Resolver.Resolve(ctx, stage.AccessInput{
			Intents:        buckets.NeedsAccessCheck,
			AvailableUsers: users,
			Options:        opts,
		})
		if err != nil {
			return nil, err
		}
		tr.record(domain.EventTypeAccessResolved, access)
	}
	result.Access = &access

	allowed := make([]domain.AllowedQuery, 0, len(buckets.Valid)+len(access.Resolved))
	for _, in := range buckets.Valid {
		requester := req.RequesterID
		allowed = append(allowed, domain.AllowedQuery{Text: in.OriginalFragment, TargetUserID: &requester})
	}
	for _, r := range access.Resolved {
		target := r.TargetUserID
		allowed = append(allowed, domain.AllowedQuery{Text: r.Text, TargetUserID: &target})
	}
	result.Allowed = allowed

	if len(allowed) == 0 && len(access.Unresolved) == 0 {
		result.Reply = DeclineReply
		return []domain.ToolInvocation{respond(req.ConversationID, DeclineReply, "nothing allowed")}, nil
	}

	var invocations []domain.ToolInvocation
	if len(allowed) > 0 {
		routed, err := s.stages.Router.Route(ctx, stage.RouteInput{
			ConversationID: req.ConversationID,
			RequesterID:    req.RequesterID,
			RawMessage:     dreq.Utterance(),
			Allowed:        allowed,
			Options:        opts,
		})
		if err != nil {
			return nil, err
		}
		tr.record(domain.EventTypeActionsRouted, routed)
		invocations = append(invocations, routed...)
	}
	if len(access.Unresolved) > 0 {
		first := access.Unresolved[0]
		invocations = append(invocations, domain.ToolInvocation{
			Tool: tools.AskClarifyingQuestion,
			Args: map[string]any{
				"conversation_id": req.ConversationID,
				"question":        first.ClarifyQuestion,
				"about":           first.Text,
			},
			Note: "unresolved target",
		})
	}
	result.Reply = replyOf(invocations)
	return invocations, nil
}

func (s *Service) availableUsers(ctx context.Context, req TurnRequest) (domain.AvailableUsers, error) {
	if req.AvailableUsers != nil || s.users == nil {
		return req.AvailableUsers, nil
	}
	users, err := s.users.ListAvailableUsers(ctx, req.RequesterID)
	if err != nil {
		return nil, fmt.Errorf("list available users: %w", err)
	}
	return users, nil
}

func (s *Service) dispatch(ctx context.Context, req TurnRequest, turnID string, inv domain.ToolInvocation, authorized []string, tr *trace, logger *zap.Logger) DispatchOutcome {
	res, err := s.dispatcher.Dispatch(ctx, tools.DispatchRequest{
		Invocation:        inv,
		RequesterID:       req.RequesterID,
		ConversationID:    req.ConversationID,
		TurnID:            turnID,
		AuthorizedUserIDs: authorized,
	})
	out := DispatchOutcome{Tool: inv.Tool, Result: res}
	if err != nil {
		out.ErrorCode = domain.ErrorCode(err)
		out.Error = err.Error()
		logger.Warn("tool rejected", zap.String("tool", inv.Tool), zap.String("error_code", out.ErrorCode), zap.Error(err))
		tr.record(domain.EventTypeToolRejected, out)
		return out
	}
	tr.record(domain.EventTypeToolDispatched, out)
	return out
}

// persist flushes the trace and the conversation messages. Store failures
// are logged; the turn result stands.
func (s *Service) persist(ctx context.Context, req TurnRequest, dreq domain.DialogueRequest, result *TurnResult, tr *trace, started time.Time) {
	if s.store == nil {
		return
	}
	ended := time.Now().UTC()
	summary, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to marshal turn summary", zap.String("turn_id", result.TurnID), zap.Error(err))
		summary = nil
	}
	turn := &domain.Turn{
		TurnID:         result.TurnID,
		ConversationID: req.ConversationID,
		RequesterID:    req.RequesterID,
		Utterance:      dreq.Utterance(),
		Outcome:        result.Outcome,
		ErrorCode:      result.ErrorCode,
		StartedAt:      started,
		EndedAt:        ended,
		Summary:        summary,
	}
	if result.Decision != nil {
		turn.Action = result.Decision.Action
	}

	var messages []domain.StoredMessage
	if req.ConversationID != "" {
		if u := strings.TrimSpace(req.NewUtterance); u != "" {
			messages = append(messages, storedMessage(req.ConversationID, result.TurnID, domain.RoleUser, u, started))
		}
		if result.Reply != "" {
			messages = append(messages, storedMessage(req.ConversationID, result.TurnID, domain.RoleAssistant, result.Reply, ended))
		}
	}

	if err := s.store.SaveTurn(ctx, turn, tr.events, messages); err != nil {
		s.logger.Error("failed to save turn", zap.String("turn_id", result.TurnID), zap.Error(err))
	}
}

func storedMessage(conversationID, turnID string, role domain.Role, content string, at time.Time) domain.StoredMessage {
	return domain.StoredMessage{
		MessageID:      "msg_" + uuid.New().String()[:8],
		ConversationID: conversationID,
		TurnID:         turnID,
		Role:           role,
		Content:        content,
		CreatedAt:      at,
	}
}

func respond(conversationID, text, note string) domain.ToolInvocation {
	return domain.ToolInvocation{
		Tool: tools.RespondToUser,
		Args: map[string]any{"conversation_id": conversationID, "text": text},
		Note: note,
	}
}

// replyOf returns the user-visible text among the invocations, if any.
func replyOf(invocations []domain.ToolInvocation) string {
	for _, inv := range invocations {
		switch inv.Tool {
		case tools.RespondToUser:
			if text, ok := inv.Args["text"].(string); ok {
				return text
			}
		case tools.AskClarifyingQuestion:
			if q, ok := inv.Args["question"].(string); ok {
				return q
			}
		}
	}
	return ""
}

// authorizedIDs lists the users resolved in this turn, sorted.
func authorizedIDs(access *domain.AccessResolution) []string {
	if access == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var ids []string
	for _, r := range access.Resolved {
		if _, ok := seen[r.TargetUserID]; ok {
			continue
		}
		seen[r.TargetUserID] = struct{}{}
		ids = append(ids, r.TargetUserID)
	}
	sort.Strings(ids)
	return ids
}
