package servicetest

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/gogo/turngate/internal/adapter/llm"
	"github.com/xiaot623/gogo/turngate/internal/oracle"
	"github.com/xiaot623/gogo/turngate/internal/prompts"
	"github.com/xiaot623/gogo/turngate/internal/repository"
	"github.com/xiaot623/gogo/turngate/internal/service"
	"github.com/xiaot623/gogo/turngate/internal/stage"
	"github.com/xiaot623/gogo/turngate/internal/tools"
	"github.com/xiaot623/gogo/turngate/policy"
	"github.com/xiaot623/gogo/turngate/tests/helpers"
)

// NewService wires a service over an in-memory store, the embedded
// prompts and policy, and the given oracle client. Access is resolved
// locally.
func NewService(t *testing.T, client llm.LLMClient) (*service.Service, *repository.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	store := helpers.NewTestSQLiteStore(t)

	registry, err := prompts.LoadRegistry("", prompts.NewLoader(""))
	if err != nil {
		t.Fatalf("failed to load prompts: %v", err)
	}
	engine, err := policy.NewEngine(ctx, policy.DefaultSources())
	if err != nil {
		t.Fatalf("failed to build policy engine: %v", err)
	}

	o := oracle.NewInvoker(client, oracle.Config{Model: "test-model", Timeout: 2 * time.Second}, nil)
	catalog := tools.DefaultCatalog()
	handlers := tools.NewRegistry()
	if err := tools.NewOutbox(store, nil).RegisterAll(handlers, catalog); err != nil {
		t.Fatalf("failed to register outbox: %v", err)
	}

	svc := service.New(service.Stages{
		Decider:    stage.NewTurnDecider(o, registry.Stage(prompts.StageTurnDecision), 0, nil),
		Recognizer: stage.NewQueryRecognizer(o, registry.Stage(prompts.StageQueryRecognition), nil),
		Gate:       stage.NewSecurityGate(o, registry.Stage(prompts.StageSecurityGate), engine, nil),
		Resolver:   stage.NewAccessResolver(o, registry.Stage(prompts.StageAccessResolution), stage.ResolverModeLocal, nil),
		Router:     stage.NewActionRouter(o, registry.Stage(prompts.StageActionRouter), catalog, nil),
	}, tools.NewDispatcher(catalog, handlers, engine, nil), store, store, service.Config{}, nil)
	return svc, store
}
