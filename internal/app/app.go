// Package app wires the store, oracle, prompts, policy, stages and
// dispatcher into a ready service.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/adapter/llm"
	"github.com/xiaot623/gogo/turngate/internal/config"
	"github.com/xiaot623/gogo/turngate/internal/oracle"
	"github.com/xiaot623/gogo/turngate/internal/prompts"
	"github.com/xiaot623/gogo/turngate/internal/repository"
	"github.com/xiaot623/gogo/turngate/internal/service"
	"github.com/xiaot623/gogo/turngate/internal/stage"
	"github.com/xiaot623/gogo/turngate/internal/tools"
	"github.com/xiaot623/gogo/turngate/policy"
)

// App holds the wired components.
type App struct {
	Service *service.Service
	Store   *repository.SQLiteStore
	Oracle  *oracle.Invoker
	Policy  *policy.Engine
	Catalog *tools.Catalog
}

// New builds every component from cfg. The caller must Close the app.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	a, err := build(ctx, cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, store *repository.SQLiteStore, logger *zap.Logger) (*App, error) {
	client := llm.NewLLMClient(llm.Options{
		Provider: cfg.OracleProvider,
		BaseURL:  cfg.OracleURL,
		APIKey:   cfg.OracleAPIKey,
		Timeout:  cfg.OracleTimeout,
		Mock:     cfg.Mock,
	}, logger)
	invoker := oracle.NewInvoker(client, oracle.Config{Model: cfg.OracleModel, Timeout: cfg.OracleTimeout}, logger.Named("oracle"))

	registry, err := prompts.LoadRegistry(cfg.PipelinesFile, prompts.NewLoader(cfg.PromptDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load pipelines: %w", err)
	}

	sources := policy.DefaultSources()
	if cfg.PolicyDir != "" {
		if sources, err = policy.LoadSources(cfg.PolicyDir, cfg.PolicySourceID); err != nil {
			return nil, err
		}
	} else if cfg.PolicySourceID != "" {
		sources.ID = cfg.PolicySourceID
	}
	engine, err := policy.NewEngine(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	catalog := tools.DefaultCatalog()
	handlers := tools.NewRegistry()
	if err := tools.NewOutbox(store, logger.Named("outbox")).RegisterAll(handlers, catalog); err != nil {
		return nil, fmt.Errorf("failed to register tool handlers: %w", err)
	}

	stages := service.Stages{
		Decider:    stage.NewTurnDecider(invoker, registry.Stage(prompts.StageTurnDecision), cfg.HistoryWindow, logger.Named(prompts.StageTurnDecision)),
		Recognizer: stage.NewQueryRecognizer(invoker, registry.Stage(prompts.StageQueryRecognition), logger.Named(prompts.StageQueryRecognition)),
		Gate:       stage.NewSecurityGate(invoker, registry.Stage(prompts.StageSecurityGate), engine, logger.Named(prompts.StageSecurityGate)),
		Resolver:   stage.NewAccessResolver(invoker, registry.Stage(prompts.StageAccessResolution), cfg.AccessResolverMode, logger.Named(prompts.StageAccessResolution)),
		Router:     stage.NewActionRouter(invoker, registry.Stage(prompts.StageActionRouter), catalog, logger.Named(prompts.StageActionRouter)),
	}
	dispatcher := tools.NewDispatcher(catalog, handlers, engine, logger.Named("dispatcher"))
	svc := service.New(stages, dispatcher, store, store, service.Config{
		HistoryWindow: cfg.HistoryWindow,
		Concurrency:   cfg.TurnConcurrency,
		OutboxTTL:     cfg.OutboxTTL,
	}, logger.Named("service"))

	return &App{
		Service: svc,
		Store:   store,
		Oracle:  invoker,
		Policy:  engine,
		Catalog: catalog,
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
