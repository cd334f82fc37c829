package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xiaot623/gogo/turngate/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestSQLiteStoreTurnTrace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	now := time.Now().UTC()
	turn := &domain.Turn{
		TurnID:         "turn_1",
		ConversationID: "c1",
		RequesterID:    "u1",
		Utterance:      "Slept 7 hours.",
		Action:         domain.ActionMicroReply,
		Outcome:        domain.OutcomeCompleted,
		StartedAt:      now,
		EndedAt:        now.Add(time.Second),
		Summary:        json.RawMessage(`{"reply":"Noted, thanks"}`),
	}
	events := []domain.Event{
		{EventID: "evt_1", Ts: 1, Type: domain.EventTypeTurnStarted},
		{EventID: "evt_2", Ts: 2, Type: domain.EventTypeTurnDecided, Payload: json.RawMessage(`{"action":"micro_reply"}`)},
		{EventID: "evt_3", Ts: 3, Type: domain.EventTypeTurnDone},
	}
	messages := []domain.StoredMessage{
		{MessageID: "m1", ConversationID: "c1", TurnID: "turn_1", Role: domain.RoleUser, Content: "Slept 7 hours.", CreatedAt: now},
		{MessageID: "m2", ConversationID: "c1", TurnID: "turn_1", Role: domain.RoleAssistant, Content: "Noted, thanks", CreatedAt: now.Add(time.Millisecond)},
	}
	if err := store.SaveTurn(ctx, turn, events, messages); err != nil {
		t.Fatalf("SaveTurn failed: %v", err)
	}

	got, err := store.GetTurn(ctx, "turn_1")
	if err != nil {
		t.Fatalf("GetTurn failed: %v", err)
	}
	if got == nil || got.Action != domain.ActionMicroReply || got.Outcome != domain.OutcomeCompleted {
		t.Fatalf("unexpected turn: %+v", got)
	}
	if string(got.Summary) != `{"reply":"Noted, thanks"}` {
		t.Fatalf("unexpected summary: %s", got.Summary)
	}

	missing, err := store.GetTurn(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil turn, got %+v, %v", missing, err)
	}

	all, err := store.GetEvents(ctx, "turn_1", 0, nil, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(all) != 3 || all[1].Type != domain.EventTypeTurnDecided {
		t.Fatalf("unexpected events: %+v", all)
	}

	filtered, err := store.GetEvents(ctx, "turn_1", 1, []string{string(domain.EventTypeTurnDone)}, 10)
	if err != nil {
		t.Fatalf("GetEvents filtered failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].EventID != "evt_3" {
		t.Fatalf("unexpected filtered events: %+v", filtered)
	}

	history, err := store.GetMessages(ctx, "c1", 1)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(history) != 1 || history[0].Content != "Noted, thanks" {
		t.Fatalf("expected only the latest message, got %+v", history)
	}
	history, err = store.GetMessages(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(history) != 2 || history[0].Role != domain.RoleUser {
		t.Fatalf("expected chronological order, got %+v", history)
	}
}

func TestSQLiteStoreToolCallIdempotency(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	call := &domain.ToolCall{
		ToolCallID:     "tc_1",
		TurnID:         "turn_1",
		ToolName:       "RESPOND_TO_USER",
		Status:         domain.ToolCallStatusQueued,
		Args:           json.RawMessage(`{"conversation_id":"c1","text":"hi"}`),
		IdempotencyKey: "key-1",
		CreatedAt:      time.Now().UTC(),
	}
	stored, created, err := store.CreateToolCall(ctx, call)
	if err != nil {
		t.Fatalf("CreateToolCall failed: %v", err)
	}
	if !created || stored.ToolCallID != "tc_1" {
		t.Fatalf("expected a new record, got %+v created=%v", stored, created)
	}

	dup := *call
	dup.ToolCallID = "tc_2"
	stored, created, err = store.CreateToolCall(ctx, &dup)
	if err != nil {
		t.Fatalf("CreateToolCall duplicate failed: %v", err)
	}
	if created || stored.ToolCallID != "tc_1" {
		t.Fatalf("expected the existing record, got %+v created=%v", stored, created)
	}

	got, err := store.GetToolCall(ctx, "tc_1")
	if err != nil || got == nil {
		t.Fatalf("GetToolCall failed: %+v %v", got, err)
	}
	if string(got.Args) != `{"conversation_id":"c1","text":"hi"}` {
		t.Fatalf("unexpected args: %s", got.Args)
	}

	calls, err := store.ListToolCallsByTurn(ctx, "turn_1")
	if err != nil {
		t.Fatalf("ListToolCallsByTurn failed: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
}

func TestSQLiteStoreAvailableUsers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	for _, u := range []domain.AvailableUser{
		{ID: "s1", Name: "Dr. Smith"},
		{ID: "123", Name: "Nick Abbott", Extra: map[string]any{"email": "nick@example.com"}},
		{ID: "777", Name: "Nick Romero"},
	} {
		if err := store.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser failed: %v", err)
		}
	}
	if err := store.GrantAccess(ctx, "s1", "123"); err != nil {
		t.Fatalf("GrantAccess failed: %v", err)
	}
	if err := store.GrantAccess(ctx, "s1", "777"); err != nil {
		t.Fatalf("GrantAccess failed: %v", err)
	}
	if err := store.RevokeAccess(ctx, "s1", "777"); err != nil {
		t.Fatalf("RevokeAccess failed: %v", err)
	}

	users, err := store.ListAvailableUsers(ctx, "s1")
	if err != nil {
		t.Fatalf("ListAvailableUsers failed: %v", err)
	}
	if len(users) != 1 || users["123"].Name != "Nick Abbott" || users["123"].Extra["email"] != "nick@example.com" {
		t.Fatalf("unexpected users: %+v", users)
	}

	if err := store.GrantAccess(ctx, "s1", "777"); err != nil {
		t.Fatalf("GrantAccess again failed: %v", err)
	}
	users, err = store.ListAvailableUsers(ctx, "s1")
	if err != nil {
		t.Fatalf("ListAvailableUsers failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected re-granted link to count, got %+v", users)
	}

	none, err := store.ListAvailableUsers(ctx, "123")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no users, got %+v %v", none, err)
	}
}

func TestSQLiteStoreStaleToolCalls(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	now := time.Now().UTC()
	for i, age := range []time.Duration{2 * time.Hour, time.Minute} {
		call := &domain.ToolCall{
			ToolCallID:     []string{"tc_old", "tc_new"}[i],
			ToolName:       "CREATE_TASK",
			Status:         domain.ToolCallStatusQueued,
			Args:           json.RawMessage(`{}`),
			IdempotencyKey: []string{"k-old", "k-new"}[i],
			CreatedAt:      now.Add(-age),
		}
		if _, _, err := store.CreateToolCall(ctx, call); err != nil {
			t.Fatalf("CreateToolCall failed: %v", err)
		}
	}

	stale, err := store.ListStaleToolCalls(ctx, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStaleToolCalls failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ToolCallID != "tc_old" {
		t.Fatalf("expected only tc_old, got %+v", stale)
	}

	updated, err := store.UpdateToolCallStatus(ctx, "tc_old", domain.ToolCallStatusQueued, domain.ToolCallStatusFailed)
	if err != nil || !updated {
		t.Fatalf("UpdateToolCallStatus failed: %v updated=%v", err, updated)
	}
	updated, err = store.UpdateToolCallStatus(ctx, "tc_old", domain.ToolCallStatusQueued, domain.ToolCallStatusFailed)
	if err != nil || updated {
		t.Fatalf("second update should be a no-op: %v updated=%v", err, updated)
	}

	stale, err = store.ListStaleToolCalls(ctx, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStaleToolCalls failed: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no stale calls, got %d", len(stale))
	}
}

func TestSQLiteStoreGrantAccessExternalRequester(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	if err := store.UpsertUser(ctx, domain.AvailableUser{ID: "123", Name: "Nick Abbott"}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if err := store.GrantAccess(ctx, "ext-requester", "123"); err != nil {
		t.Fatalf("GrantAccess for a requester without a users row failed: %v", err)
	}
	users, err := store.ListAvailableUsers(ctx, "ext-requester")
	if err != nil {
		t.Fatalf("ListAvailableUsers failed: %v", err)
	}
	if len(users) != 1 || users["123"].Name != "Nick Abbott" {
		t.Fatalf("unexpected users: %+v", users)
	}

	if err := store.GrantAccess(ctx, "ext-requester", "missing"); err == nil {
		t.Fatal("expected an unknown client to be rejected")
	}
}
