package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/adapter/llm"
	"github.com/xiaot623/gogo/turngate/internal/domain"
)

// Call is one structured oracle request.
type Call struct {
	// Name identifies the calling stage in logs.
	Name         string
	Instructions []string
	// Context is spliced into the first system slot and never logged.
	Context         string
	Dialogue        []domain.Message
	Schema          *Schema
	Temperature     *float64
	MaxOutputTokens *int
}

// Config holds invoker settings.
type Config struct {
	Model   string
	Timeout time.Duration
}

// Invoker sends schema-constrained calls and validates the answers.
// It never retries.
type Invoker struct {
	client llm.LLMClient
	cfg    Config
	logger *zap.Logger
}

// NewInvoker creates an invoker over an LLM client.
func NewInvoker(client llm.LLMClient, cfg Config, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{client: client, cfg: cfg, logger: logger}
}

// Model returns the configured model name.
func (i *Invoker) Model() string {
	return i.cfg.Model
}

// Models lists the models the transport exposes.
func (i *Invoker) Models(ctx context.Context) ([]llm.Model, error) {
	models, err := i.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list models: %w", domain.ErrOracleUnavailable, err)
	}
	return models, nil
}

// Invoke runs one call and decodes the validated document into out.
func (i *Invoker) Invoke(ctx context.Context, call Call, out any) error {
	if call.Schema == nil {
		return fmt.Errorf("oracle call %s: missing schema", call.Name)
	}
	if i.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.Timeout)
		defer cancel()
	}

	req := &llm.ChatCompletionRequest{
		Model:       i.cfg.Model,
		Messages:    BuildMessages(call.Instructions, call.Context, call.Dialogue),
		Temperature: call.Temperature,
		MaxTokens:   call.MaxOutputTokens,
		ResponseFormat: &llm.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &llm.JSONSchemaFormat{
				Name:   call.Schema.Name,
				Strict: call.Schema.Strict,
				Schema: call.Schema.JSON(),
			},
		},
	}

	start := time.Now()
	resp, err := i.client.CreateChatCompletion(ctx, req)
	fields := []zap.Field{
		zap.String("stage", call.Name),
		zap.String("model", i.cfg.Model),
		zap.Duration("latency", time.Since(start)),
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		i.logger.Warn("oracle call failed", append(fields, zap.String("outcome", "unavailable"), zap.Error(err))...)
		return fmt.Errorf("%w: %s: %w", domain.ErrOracleUnavailable, call.Name, err)
	}
	if resp.Usage != nil {
		fields = append(fields, zap.Int("total_tokens", resp.Usage.TotalTokens))
	}

	content, ok := resp.Content()
	if !ok {
		err := &domain.SchemaValidationError{Stage: call.Schema.Name, Path: "$", Reason: "empty completion"}
		i.logger.Error("oracle returned no choices", append(fields, zap.String("outcome", "invalid"))...)
		return err
	}
	if err := call.Schema.Decode([]byte(content), out); err != nil {
		var sve *domain.SchemaValidationError
		if errors.As(err, &sve) {
			fields = append(fields, zap.String("path", sve.Path), zap.String("reason", sve.Reason))
		}
		i.logger.Error("oracle output rejected", append(fields, zap.String("outcome", "invalid"))...)
		return err
	}

	i.logger.Info("oracle call", append(fields, zap.String("outcome", "ok"))...)
	return nil
}

// BuildMessages makes non-blank instructions leading system messages,
// splices context into the first system slot and appends the dialogue.
func BuildMessages(instructions []string, context string, dialogue []domain.Message) []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, 0, len(instructions)+len(dialogue)+1)
	for _, text := range instructions {
		if t := strings.TrimSpace(text); t != "" {
			msgs = append(msgs, llm.ChatMessage{Role: string(domain.RoleSystem), Content: t})
		}
	}
	if c := strings.TrimSpace(context); c != "" {
		if len(msgs) > 0 {
			msgs[0].Content = msgs[0].Content + "\n\n" + c
		} else {
			msgs = append(msgs, llm.ChatMessage{Role: string(domain.RoleSystem), Content: c})
		}
	}
	for _, m := range dialogue {
		msgs = append(msgs, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}
