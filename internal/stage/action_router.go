package stage

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/oracle"
	"github.com/xiaot623/gogo/turngate/internal/prompts"
	"github.com/xiaot623/gogo/turngate/internal/tools"
)

// RouteInput is the router input.
type RouteInput struct {
	ConversationID string
	RequesterID    string
	RawMessage     string
	Allowed        []domain.AllowedQuery
	Options        Options
}

// ActionRouter maps allowed queries onto catalog tool invocations.
type ActionRouter struct {
	base
	schema         *oracle.Schema
	catalogContext string
}

var _ Stage[RouteInput, []domain.ToolInvocation] = (*ActionRouter)(nil)

// NewActionRouter creates the router for catalog.
func NewActionRouter(o Oracle, pipelines prompts.Set, catalog *tools.Catalog, logger *zap.Logger) *ActionRouter {
	return &ActionRouter{
		base:           newBase(ActionRouterName, o, pipelines, logger),
		schema:         ActionRouterSchema(catalog.Names()),
		catalogContext: "TOOLS_CATALOG: " + catalog.PromptJSON(),
	}
}

// Run implements Stage.
func (r *ActionRouter) Run(ctx context.Context, in RouteInput) ([]domain.ToolInvocation, error) {
	return r.Route(ctx, in)
}

type routedActions struct {
	Actions []struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args"`
		Note *string        `json:"note"`
	} `json:"actions"`
}

// Route returns the invocations in the order the oracle listed them. It
// makes no call when nothing is allowed.
func (r *ActionRouter) Route(ctx context.Context, in RouteInput) ([]domain.ToolInvocation, error) {
	if len(in.Allowed) == 0 {
		return []domain.ToolInvocation{}, nil
	}
	dialogue, err := userPayload(map[string]any{
		"conversation_id":   in.ConversationID,
		"requester_user_id": in.RequesterID,
		"raw_user_message":  in.RawMessage,
		"allowed_queries":   in.Allowed,
	})
	if err != nil {
		return nil, err
	}

	var out routedActions
	if err := r.invoke(ctx, in.Options, r.catalogContext, dialogue, r.schema, &out); err != nil {
		return nil, err
	}

	invocations := make([]domain.ToolInvocation, 0, len(out.Actions))
	for _, a := range out.Actions {
		inv := domain.ToolInvocation{Tool: a.Tool, Args: a.Args}
		if a.Note != nil {
			inv.Note = *a.Note
		}
		if inv.Args == nil {
			inv.Args = map[string]any{}
		}
		invocations = append(invocations, inv)
	}
	r.logger.Debug("actions routed", zap.Int("count", len(invocations)))
	return invocations, nil
}
