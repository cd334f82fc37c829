package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Call is a validated invocation handed to a handler.
type Call struct {
	ToolName       string
	Args           map[string]any
	Note           string
	IdempotencyKey string
	TurnID         string
	ConversationID string
	RequesterID    string
}

// HandlerFunc executes one tool call. Handlers must be idempotent on
// Call.IdempotencyKey.
type HandlerFunc func(ctx context.Context, call Call) (json.RawMessage, error)

// Registry stores tool handlers keyed by tool name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty tool handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a new handler for a tool name.
func (r *Registry) Register(toolName string, h HandlerFunc) error {
	if toolName == "" {
		return fmt.Errorf("tool name is required")
	}
	if h == nil {
		return fmt.Errorf("handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[toolName]; exists {
		return fmt.Errorf("handler already registered for %s", toolName)
	}
	r.handlers[toolName] = h
	return nil
}

// MustRegister adds a handler or panics.
func (r *Registry) MustRegister(toolName string, h HandlerFunc) {
	if err := r.Register(toolName, h); err != nil {
		panic(err)
	}
}

// Has reports whether a handler is registered for the tool.
func (r *Registry) Has(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[toolName]
	return ok
}

// Execute runs the handler for the call's tool.
func (r *Registry) Execute(ctx context.Context, call Call) (json.RawMessage, error) {
	if call.ToolName == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	r.mu.RLock()
	h := r.handlers[call.ToolName]
	r.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("no handler registered for %s", call.ToolName)
	}
	return h(ctx, call)
}
