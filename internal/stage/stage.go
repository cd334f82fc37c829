// Package stage implements the turn pipeline stages. Every stage is built
// once with its pipeline set and serves concurrent turns without per-request
// state.
package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/oracle"
	"github.com/xiaot623/gogo/turngate/internal/prompts"
)

// Stage is the capability shared by all pipeline stages.
type Stage[In, Out any] interface {
	Name() string
	Run(ctx context.Context, in In) (Out, error)
}

// Oracle runs one schema-constrained call. *oracle.Invoker implements it.
type Oracle interface {
	Invoke(ctx context.Context, call oracle.Call, out any) error
}

// Options are the per-request knobs every oracle-backed stage accepts.
type Options struct {
	Pipeline        string   `json:"pipeline,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
}

// OptionsFrom copies the knobs of a dialogue request.
func OptionsFrom(req domain.DialogueRequest) Options {
	return Options{Pipeline: req.Pipeline, Temperature: req.Temperature, MaxOutputTokens: req.MaxOutputTokens}
}

func (o Options) pipelineKey() string {
	return domain.DialogueRequest{Pipeline: o.Pipeline}.PipelineKey()
}

// base carries the immutable configuration shared by oracle-backed stages.
type base struct {
	name      string
	oracle    Oracle
	pipelines prompts.Set
	logger    *zap.Logger
}

func newBase(name string, o Oracle, pipelines prompts.Set, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{name: name, oracle: o, pipelines: pipelines, logger: logger.With(zap.String("stage", name))}
}

// Name returns the stage name.
func (b base) Name() string {
	return b.name
}

func (b base) invoke(ctx context.Context, opts Options, injected string, dialogue []domain.Message, schema *oracle.Schema, out any) error {
	instructions, err := b.pipelines.Instructions(opts.pipelineKey())
	if err != nil {
		return err
	}
	return b.oracle.Invoke(ctx, oracle.Call{
		Name:            b.name,
		Instructions:    instructions,
		Context:         injected,
		Dialogue:        dialogue,
		Schema:          schema,
		Temperature:     opts.Temperature,
		MaxOutputTokens: opts.MaxOutputTokens,
	}, out)
}

// userPayload renders v as the single user message of a stage call.
func userPayload(v any) ([]domain.Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return []domain.Message{{Role: domain.RoleUser, Content: string(b)}}, nil
}

// injectJSON renders "LABEL: <json>" for the first system slot.
func injectJSON(label string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", label, err)
	}
	return label + ": " + string(b), nil
}
