package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/turngate/internal/adapter/llm"
	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/oracle"
	"github.com/xiaot623/gogo/turngate/internal/prompts"
	"github.com/xiaot623/gogo/turngate/internal/repository"
	"github.com/xiaot623/gogo/turngate/internal/stage"
	"github.com/xiaot623/gogo/turngate/internal/tools"
	"github.com/xiaot623/gogo/turngate/policy"
	"github.com/xiaot623/gogo/turngate/tests/helpers"
)

type harness struct {
	svc   *Service
	store *repository.SQLiteStore
}

func newHarness(t *testing.T, client llm.LLMClient, resolverMode string) *harness {
	t.Helper()
	ctx := context.Background()
	store := helpers.NewTestSQLiteStore(t)

	registry, err := prompts.LoadRegistry("", prompts.NewLoader(""))
	require.NoError(t, err)
	engine, err := policy.NewEngine(ctx, policy.DefaultSources())
	require.NoError(t, err)

	o := oracle.NewInvoker(client, oracle.Config{Model: "test-model", Timeout: 2 * time.Second}, nil)
	catalog := tools.DefaultCatalog()
	handlers := tools.NewRegistry()
	require.NoError(t, tools.NewOutbox(store, nil).RegisterAll(handlers, catalog))

	stages := Stages{
		Decider:    stage.NewTurnDecider(o, registry.Stage(prompts.StageTurnDecision), 0, nil),
		Recognizer: stage.NewQueryRecognizer(o, registry.Stage(prompts.StageQueryRecognition), nil),
		Gate:       stage.NewSecurityGate(o, registry.Stage(prompts.StageSecurityGate), engine, nil),
		Resolver:   stage.NewAccessResolver(o, registry.Stage(prompts.StageAccessResolution), resolverMode, nil),
		Router:     stage.NewActionRouter(o, registry.Stage(prompts.StageActionRouter), catalog, nil),
	}
	dispatcher := tools.NewDispatcher(catalog, handlers, engine, nil)
	svc := New(stages, dispatcher, store, store, Config{Concurrency: 3, OutboxTTL: time.Hour}, nil)
	return &harness{svc: svc, store: store}
}

func decision(action, text string) string {
	b, _ := json.Marshal(map[string]any{"action": action, "micro_reply_text": text, "reason": "test", "confidence": 0.9})
	return string(b)
}

func intentJSON(fragment string) map[string]any {
	return map[string]any{"type": "user_explicit", "summary": fragment, "original_fragment": fragment}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func eventTypes(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestRunTurnMicroReply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, llm.NewMockClient(), stage.ResolverModeLocal)

	res, err := h.svc.RunTurn(ctx, TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: "Slept 7 hours. Mood is a bit low."},
		ConversationID:  "c1",
		RequesterID:     "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, res.Outcome)
	require.NotNil(t, res.Decision)
	assert.Equal(t, domain.ActionMicroReply, res.Decision.Action)
	assert.Equal(t, "Noted, thanks", res.Reply)
	require.Len(t, res.Dispatches, 1)
	assert.Equal(t, tools.RespondToUser, res.Dispatches[0].Tool)
	require.NotNil(t, res.Dispatches[0].Result)
	assert.Equal(t, tools.StatusExecuted, res.Dispatches[0].Result.Status)

	calls, err := h.store.ListToolCallsByTurn(ctx, res.TurnID)
	require.NoError(t, err)
	assert.Len(t, calls, 1)

	turn, err := h.svc.GetTurn(ctx, res.TurnID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionMicroReply, turn.Action)
	assert.Equal(t, "u1", turn.RequesterID)

	events, err := h.svc.GetTurnEvents(ctx, res.TurnID, 0, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.EventType{
		domain.EventTypeTurnStarted,
		domain.EventTypeTurnDecided,
		domain.EventTypeToolDispatched,
		domain.EventTypeTurnDone,
	}, eventTypes(events))

	msgs, err := h.svc.GetMessages(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "Noted, thanks", msgs[1].Content)
}

func TestRunTurnSafetyOverrideFlagsForReview(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(), stage.ResolverModeLocal)

	res, err := h.svc.RunTurn(context.Background(), TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: "I want to end my life"},
		ConversationID:  "c1",
		RequesterID:     "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRespondSafety, res.Decision.Action)
	require.Len(t, res.Dispatches, 2)
	assert.Equal(t, tools.RespondToUser, res.Dispatches[0].Tool)
	assert.Equal(t, tools.CreateAttentionFlag, res.Dispatches[1].Tool)
	require.NotNil(t, res.Dispatches[1].Result)
	assert.Equal(t, "high", res.Dispatches[1].Result.Args["severity"])
	assert.Empty(t, res.Dispatches[1].ErrorCode)
	assert.Empty(t, res.Intents)
}

func TestRunTurnReplyFlowDispatchesNothing(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(), stage.ResolverModeLocal)

	res, err := h.svc.RunTurn(context.Background(), TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: "What is a good bedtime?"},
		RequesterID:     "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRunReplyFlow, res.Decision.Action)
	assert.Empty(t, res.Dispatches)
	assert.Empty(t, res.Reply)
}

func TestRunTurnMainFlow(t *testing.T) {
	ctx := context.Background()
	utterance := "Log my sleep. Show his anxiety for Nick."
	a, b := intentJSON("Log my sleep"), intentJSON("Show his anxiety for Nick")
	stub := llm.NewStubClient(
		decision("run_main_flow", ""),
		mustJSON(t, map[string]any{"queries": []any{a, b}}),
		mustJSON(t, map[string]any{"valid_queries": []any{a}, "needs_access_check": []any{b}, "dangerous_queries": []any{}}),
		mustJSON(t, map[string]any{"actions": []any{
			map[string]any{"tool": "LOG_STATE_ENTRY", "args": map[string]any{
				"user_id": "u1", "conversation_id": "c1", "entries": []any{map[string]any{"kind": "sleep"}},
			}},
			map[string]any{"tool": "EXPORT_USER_DATA", "args": map[string]any{
				"user_id": "123", "conversation_id": "c1", "format": "csv",
			}},
			map[string]any{"tool": "RUN_ANALYSIS", "args": map[string]any{
				"user_id": "123", "conversation_id": "c1", "analysis_type": "trend",
				"time_range": map[string]any{"from": "2026-10-01", "to": "2026-10-07"},
				"metrics":    []any{"anxiety"},
			}},
			map[string]any{"tool": "RESPOND_TO_USER", "args": map[string]any{"conversation_id": "c1", "text": "Logged, and here is Nick's week."}, "note": nil},
		}}),
	)
	h := newHarness(t, stub, stage.ResolverModeLocal)

	res, err := h.svc.RunTurn(ctx, TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: utterance},
		ConversationID:  "c1",
		RequesterID:     "u1",
		AvailableUsers:  domain.AvailableUsers{"123": {ID: "123", Name: "Nick Abbott"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, res.Outcome)
	require.Len(t, res.Allowed, 2)
	assert.Equal(t, "u1", *res.Allowed[0].TargetUserID)
	assert.Equal(t, "123", *res.Allowed[1].TargetUserID)
	assert.Equal(t, "Logged, and here is Nick's week.", res.Reply)

	require.Len(t, res.Dispatches, 4)
	assert.Empty(t, res.Dispatches[0].ErrorCode)
	assert.Equal(t, "tool_blocked", res.Dispatches[1].ErrorCode)
	assert.Empty(t, res.Dispatches[2].ErrorCode)
	assert.Empty(t, res.Dispatches[3].ErrorCode)

	calls, err := h.store.ListToolCallsByTurn(ctx, res.TurnID)
	require.NoError(t, err)
	assert.Len(t, calls, 3)

	events, err := h.svc.GetTurnEvents(ctx, res.TurnID, 0, []string{string(domain.EventTypeToolRejected)}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Len(t, stub.Requests(), 4)
}

func TestRunTurnBarePipelineReachesEveryStage(t *testing.T) {
	a := intentJSON("Log my sleep")
	stub := llm.NewStubClient(
		decision("run_main_flow", ""),
		mustJSON(t, map[string]any{"queries": []any{a}}),
		mustJSON(t, map[string]any{"valid_queries": []any{a}, "needs_access_check": []any{}, "dangerous_queries": []any{}}),
		mustJSON(t, map[string]any{"actions": []any{
			map[string]any{"tool": "RESPOND_TO_USER", "args": map[string]any{"conversation_id": "c1", "text": "Logged."}},
		}}),
	)
	h := newHarness(t, stub, stage.ResolverModeLocal)

	res, err := h.svc.RunTurn(context.Background(), TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: "Log my sleep", Pipeline: "bare"},
		ConversationID:  "c1",
		RequesterID:     "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, res.Outcome)
	assert.Empty(t, res.ErrorCode)
	assert.Equal(t, "Logged.", res.Reply)
	assert.Len(t, stub.Requests(), 4)
}

func TestRunTurnAsksAboutUnresolvedTarget(t *testing.T) {
	ctx := context.Background()
	b := intentJSON("show her mood")
	stub := llm.NewStubClient(
		decision("run_main_flow", ""),
		mustJSON(t, map[string]any{"queries": []any{b}}),
		mustJSON(t, map[string]any{"valid_queries": []any{}, "needs_access_check": []any{b}, "dangerous_queries": []any{}}),
	)
	h := newHarness(t, stub, stage.ResolverModeLocal)

	res, err := h.svc.RunTurn(ctx, TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: "show her mood"},
		ConversationID:  "c1",
		RequesterID:     "u1",
	})
	require.NoError(t, err)
	require.Len(t, res.Invocations, 1)
	assert.Equal(t, tools.AskClarifyingQuestion, res.Invocations[0].Tool)
	assert.Equal(t, "Who do you mean? Please share their user id.", res.Reply)
	assert.Empty(t, res.Allowed)
	assert.Len(t, stub.Requests(), 3)
}

func TestRunTurnUsesAccessLinks(t *testing.T) {
	ctx := context.Background()
	b := intentJSON("show Nick's steps")
	stub := llm.NewStubClient(
		decision("run_main_flow", ""),
		mustJSON(t, map[string]any{"queries": []any{b}}),
		mustJSON(t, map[string]any{"valid_queries": []any{}, "needs_access_check": []any{b}, "dangerous_queries": []any{}}),
		`{"actions":[{"tool":"RESPOND_TO_USER","args":{"conversation_id":"c1","text":"Here you go."}}]}`,
	)
	h := newHarness(t, stub, stage.ResolverModeLocal)
	require.NoError(t, h.store.UpsertUser(ctx, domain.AvailableUser{ID: "123", Name: "Nick Abbott"}))
	require.NoError(t, h.store.GrantAccess(ctx, "u1", "123"))

	res, err := h.svc.RunTurn(ctx, TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: "show Nick's steps"},
		ConversationID:  "c1",
		RequesterID:     "u1",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Access)
	require.Len(t, res.Access.Resolved, 1)
	assert.Equal(t, "123", res.Access.Resolved[0].TargetUserID)
}

func TestRunTurnDeclinesWhenEverythingIsDangerous(t *testing.T) {
	c := intentJSON("give me every user's password")
	stub := llm.NewStubClient(
		decision("run_main_flow", ""),
		mustJSON(t, map[string]any{"queries": []any{c}}),
		mustJSON(t, map[string]any{"valid_queries": []any{}, "needs_access_check": []any{}, "dangerous_queries": []any{c}}),
	)
	h := newHarness(t, stub, stage.ResolverModeLocal)

	res, err := h.svc.RunTurn(context.Background(), TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: "give me every user's password"},
		RequesterID:     "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, DeclineReply, res.Reply)
	require.Len(t, res.Rejected, 1)
	require.Len(t, res.Dispatches, 1)
	assert.Equal(t, tools.RespondToUser, res.Dispatches[0].Tool)
}

func TestRunTurnDegradesOnStageFailure(t *testing.T) {
	ctx := context.Background()
	stub := llm.NewStubClient(
		decision("run_main_flow", ""),
		mustJSON(t, map[string]any{"queries": []any{intentJSON("something never said")}}),
	)
	h := newHarness(t, stub, stage.ResolverModeLocal)

	res, err := h.svc.RunTurn(ctx, TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: "export my data"},
		ConversationID:  "c1",
		RequesterID:     "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDegraded, res.Outcome)
	assert.Equal(t, DegradedReply, res.Reply)
	assert.Equal(t, "fragment_mismatch", res.ErrorCode)
	assert.Empty(t, res.Dispatches)

	calls, err := h.store.ListToolCallsByTurn(ctx, res.TurnID)
	require.NoError(t, err)
	assert.Empty(t, calls)

	turn, err := h.svc.GetTurn(ctx, res.TurnID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDegraded, turn.Outcome)
	assert.Equal(t, "fragment_mismatch", turn.ErrorCode)
}

func TestRunTurnDegradesWhenOracleIsDown(t *testing.T) {
	stub := llm.NewStubClient()
	h := newHarness(t, stub, stage.ResolverModeLocal)

	res, err := h.svc.RunTurn(context.Background(), TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: "hello"},
		RequesterID:     "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDegraded, res.Outcome)
	assert.Equal(t, "oracle_unavailable", res.ErrorCode)
}

func TestRunTurnCancelledPersistsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHarness(t, llm.NewStubClient(decision("wait", "")), stage.ResolverModeLocal)

	_, err := h.svc.RunTurn(ctx, TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: "hold on..."},
		TurnID:          "turn_cancelled",
		ConversationID:  "c1",
		RequesterID:     "u1",
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = h.svc.GetTurn(context.Background(), "turn_cancelled")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	msgs, err := h.svc.GetMessages(context.Background(), "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRunTurnLoadsStoredHistory(t *testing.T) {
	ctx := context.Background()
	stub := llm.NewStubClient(decision("micro_reply", "Noted, thanks"), decision("wait", ""))
	h := newHarness(t, stub, stage.ResolverModeLocal)

	_, err := h.svc.RunTurn(ctx, TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: "slept 6h"},
		ConversationID:  "c7",
		RequesterID:     "u1",
	})
	require.NoError(t, err)

	_, err = h.svc.RunTurn(ctx, TurnRequest{
		DialogueRequest: domain.DialogueRequest{NewUtterance: "and also..."},
		ConversationID:  "c7",
		RequesterID:     "u1",
	})
	require.NoError(t, err)

	msgs := stub.LastRequest().Messages
	require.GreaterOrEqual(t, len(msgs), 3)
	tail := msgs[len(msgs)-3:]
	assert.Equal(t, "slept 6h", tail[0].Content)
	assert.Equal(t, "Noted, thanks", tail[1].Content)
	assert.Equal(t, "and also...", tail[2].Content)
}

func TestRunTurnRequiresRequester(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(), stage.ResolverModeLocal)

	_, err := h.svc.RunTurn(context.Background(), TurnRequest{DialogueRequest: domain.DialogueRequest{NewUtterance: "hi"}})
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	_, err = h.svc.RunTurn(context.Background(), TurnRequest{RequesterID: "u1"})
	assert.ErrorIs(t, err, domain.ErrEmptyDialogue)
}

func TestRunTurnsKeepsOrderAndIsolatesFailures(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(), stage.ResolverModeLocal)

	reqs := []TurnRequest{
		{DialogueRequest: domain.DialogueRequest{NewUtterance: "Slept 7 hours."}, RequesterID: "u1"},
		{DialogueRequest: domain.DialogueRequest{NewUtterance: "hi"}},
		{DialogueRequest: domain.DialogueRequest{NewUtterance: "What should I eat?"}, RequesterID: "u2"},
		{DialogueRequest: domain.DialogueRequest{NewUtterance: "I want to end my life"}, RequesterID: "u3"},
		{DialogueRequest: domain.DialogueRequest{NewUtterance: "wait..."}, RequesterID: "u4"},
	}
	items := h.svc.RunTurns(context.Background(), reqs)
	require.Len(t, items, len(reqs))

	assert.Equal(t, domain.ActionMicroReply, items[0].Result.Decision.Action)
	assert.Nil(t, items[1].Result)
	assert.Equal(t, "invalid_message", items[1].ErrorCode)
	assert.Equal(t, domain.ActionRunReplyFlow, items[2].Result.Decision.Action)
	assert.Equal(t, domain.ActionRespondSafety, items[3].Result.Decision.Action)
	assert.Equal(t, domain.ActionWait, items[4].Result.Decision.Action)
}

func TestDispatchTool(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, llm.NewMockClient(), stage.ResolverModeLocal)
	require.NoError(t, h.store.UpsertUser(ctx, domain.AvailableUser{ID: "c9", Name: "Casey Client"}))
	require.NoError(t, h.store.GrantAccess(ctx, "u1", "c9"))

	res, err := h.svc.DispatchTool(ctx, tools.DeleteMyData, DispatchToolRequest{
		RequesterID: "u1",
		Args:        map[string]any{"user_id": "u1", "conversation_id": "c1"},
	})
	require.NoError(t, err)
	assert.Equal(t, tools.StatusPendingConfirmation, res.Status)
	assert.Equal(t, "all", res.Args["scope"])

	_, err = h.svc.DispatchTool(ctx, tools.ExportUserData, DispatchToolRequest{
		RequesterID: "u1",
		Args:        map[string]any{"user_id": "c9", "conversation_id": "c1", "format": "pdf"},
	})
	assert.ErrorIs(t, err, domain.ErrToolBlocked)

	res, err = h.svc.DispatchTool(ctx, tools.CreateTask, DispatchToolRequest{
		RequesterID: "u1",
		Args: map[string]any{
			"owner_user_id": "c9", "conversation_id": "c1", "task_type": "reminder", "title": "Check in",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, tools.StatusExecuted, res.Status)

	_, err = h.svc.DispatchTool(ctx, tools.CreateTask, DispatchToolRequest{
		RequesterID: "u1",
		Args: map[string]any{
			"owner_user_id": "stranger", "conversation_id": "c1", "task_type": "reminder", "title": "Check in",
		},
	})
	assert.ErrorIs(t, err, domain.ErrToolBlocked)

	_, err = h.svc.DispatchTool(ctx, "LAUNCH_ROCKET", DispatchToolRequest{RequesterID: "u1"})
	assert.ErrorIs(t, err, domain.ErrUnknownTool)

	_, err = h.svc.DispatchTool(ctx, tools.RespondToUser, DispatchToolRequest{RequesterID: "u1", Args: map[string]any{"text": 3}})
	assert.ErrorIs(t, err, domain.ErrInvalidArguments)
}

func TestGetMissingRecords(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(), stage.ResolverModeLocal)

	_, err := h.svc.GetTurn(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.svc.GetTurnEvents(context.Background(), "nope", 0, nil, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.svc.GetToolCall(context.Background(), "tc_nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweepExpiresStaleToolCalls(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, llm.NewMockClient(), stage.ResolverModeLocal)

	old := &domain.ToolCall{
		ToolCallID:     "tc_old",
		ToolName:       tools.CreateTask,
		Status:         domain.ToolCallStatusQueued,
		Args:           json.RawMessage(`{}`),
		IdempotencyKey: "k-old",
		CreatedAt:      time.Now().UTC().Add(-2 * time.Hour),
	}
	_, _, err := h.store.CreateToolCall(ctx, old)
	require.NoError(t, err)

	assert.Equal(t, 1, h.svc.sweepStaleToolCalls(ctx, h.store))
	assert.Equal(t, 0, h.svc.sweepStaleToolCalls(ctx, h.store))

	got, err := h.svc.GetToolCall(ctx, "tc_old")
	require.NoError(t, err)
	assert.Equal(t, domain.ToolCallStatusExpired, got.Status)
}
