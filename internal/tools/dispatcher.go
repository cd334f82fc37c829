// Package tools holds the versioned tool catalog, the handler registry and
// the dispatcher that validates invocations before any handler runs.
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/policy"
)

// Guard authorizes a validated invocation. policy.Engine implements it.
type Guard interface {
	Evaluate(ctx context.Context, in policy.ToolInput) (policy.Decision, string, error)
}

// DispatchStatus is the outcome of a successful dispatch.
type DispatchStatus string

const (
	StatusExecuted            DispatchStatus = "executed"
	StatusPendingConfirmation DispatchStatus = "pending_confirmation"
)

// DispatchRequest is one invocation plus the turn it belongs to.
type DispatchRequest struct {
	Invocation        domain.ToolInvocation
	RequesterID       string
	ConversationID    string
	TurnID            string
	AuthorizedUserIDs []string
}

// DispatchResult reports what happened to an invocation.
type DispatchResult struct {
	Tool           string          `json:"tool"`
	Status         DispatchStatus  `json:"status"`
	Args           map[string]any  `json:"args"`
	IdempotencyKey string          `json:"idempotency_key"`
	Output         json.RawMessage `json:"output,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

// Dispatcher maps invocations onto registered handlers.
type Dispatcher struct {
	catalog  *Catalog
	registry *Registry
	guard    Guard
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil guard skips the policy check.
func NewDispatcher(catalog *Catalog, registry *Registry, guard Guard, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{catalog: catalog, registry: registry, guard: guard, logger: logger}
}

// Catalog returns the dispatcher's catalog.
func (d *Dispatcher) Catalog() *Catalog {
	return d.catalog
}

// Dispatch validates the invocation, applies defaults, consults the guard
// and runs the handler.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	inv := req.Invocation
	spec, ok := d.catalog.Lookup(inv.Tool)
	if !ok {
		d.logger.Warn("unknown tool", zap.String("tool", inv.Tool), zap.String("turn_id", req.TurnID))
		return nil, &domain.UnknownToolError{Tool: inv.Tool}
	}

	args, err := spec.Validate(inv.Args)
	if err != nil {
		d.logger.Warn("invalid tool arguments", zap.String("tool", inv.Tool), zap.Error(err))
		return nil, err
	}

	key := inv.IdempotencyKey
	if key == "" {
		key, err = IdempotencyKey(req.TurnID, inv.Tool, args)
		if err != nil {
			return nil, err
		}
	}
	result := &DispatchResult{Tool: inv.Tool, Args: args, IdempotencyKey: key}

	if d.guard != nil {
		decision, reason, err := d.guard.Evaluate(ctx, policy.ToolInput{
			ToolName:          inv.Tool,
			Args:              args,
			RequesterID:       req.RequesterID,
			AuthorizedUserIDs: req.AuthorizedUserIDs,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: tool guard: %w", domain.ErrPolicyUnavailable, err)
		}
		switch decision {
		case policy.DecisionAllow:
		case policy.DecisionRequireConfirmation:
			d.logger.Info("tool call awaits confirmation", zap.String("tool", inv.Tool), zap.String("reason", reason))
			result.Status = StatusPendingConfirmation
			result.Reason = reason
			return result, nil
		default:
			d.logger.Warn("tool call blocked", zap.String("tool", inv.Tool), zap.String("reason", reason))
			return nil, fmt.Errorf("%w: %s: %s", domain.ErrToolBlocked, inv.Tool, reason)
		}
	}

	out, err := d.registry.Execute(ctx, Call{
		ToolName:       inv.Tool,
		Args:           args,
		Note:           inv.Note,
		IdempotencyKey: key,
		TurnID:         req.TurnID,
		ConversationID: req.ConversationID,
		RequesterID:    req.RequesterID,
	})
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", inv.Tool, err)
	}
	result.Status = StatusExecuted
	result.Output = out
	return result, nil
}

// IdempotencyKey derives a stable key from the turn, tool and canonical args.
func IdempotencyKey(turnID, tool string, args map[string]any) (string, error) {
	// encoding/json sorts map keys, which makes the encoding canonical.
	canonical, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("canonicalize args: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(turnID))
	h.Write([]byte{0})
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))[:32], nil
}
