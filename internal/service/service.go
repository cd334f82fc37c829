// Package service runs turns through the stage pipeline and keeps their
// audit trail.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/stage"
	"github.com/xiaot623/gogo/turngate/internal/tools"
)

// DegradedReply is sent when a turn fails before dispatch.
const DegradedReply = "Sorry, I couldn't process that. Could you rephrase or try again?"

// DeclineReply answers a turn whose every intent was judged dangerous.
const DeclineReply = "Sorry, I can't help with that request."

// AvailableUserSupplier lists the users a requester may reference.
type AvailableUserSupplier interface {
	ListAvailableUsers(ctx context.Context, requesterID string) (domain.AvailableUsers, error)
}

// Store persists finished turns and serves the audit reads.
type Store interface {
	SaveTurn(ctx context.Context, turn *domain.Turn, events []domain.Event, messages []domain.StoredMessage) error
	GetTurn(ctx context.Context, turnID string) (*domain.Turn, error)
	GetEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.Event, error)
	GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.StoredMessage, error)
	GetToolCall(ctx context.Context, toolCallID string) (*domain.ToolCall, error)
}

// OutboxMaintainer expires queued tool calls nobody picked up.
type OutboxMaintainer interface {
	ListStaleToolCalls(ctx context.Context, before time.Time, limit int) ([]domain.ToolCall, error)
	UpdateToolCallStatus(ctx context.Context, toolCallID string, from, to domain.ToolCallStatus) (bool, error)
}

// Stages groups the pipeline stage instances.
type Stages struct {
	Decider    *stage.TurnDecider
	Recognizer *stage.QueryRecognizer
	Gate       *stage.SecurityGate
	Resolver   *stage.AccessResolver
	Router     *stage.ActionRouter
}

// Config holds the turn runner settings.
type Config struct {
	HistoryWindow int
	Concurrency   int
	OutboxTTL     time.Duration
}

// Service runs turns. It is safe for concurrent use.
type Service struct {
	stages     Stages
	dispatcher *tools.Dispatcher
	store      Store
	users      AvailableUserSupplier
	cfg        Config
	logger     *zap.Logger
}

// New creates a service. store and users may be nil; turns are then not
// persisted and available users must come with each request.
func New(stages Stages, dispatcher *tools.Dispatcher, store Store, users AvailableUserSupplier, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = stage.DefaultHistoryWindow
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Service{
		stages:     stages,
		dispatcher: dispatcher,
		store:      store,
		users:      users,
		cfg:        cfg,
		logger:     logger,
	}
}

// Catalog returns the tool catalog the dispatcher enforces.
func (s *Service) Catalog() *tools.Catalog {
	return s.dispatcher.Catalog()
}
