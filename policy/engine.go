// Package policy is the OPA-backed policy source: the security corpus handed
// to the gate, the per-intent bucket floor and the tool dispatch guard.
package policy

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xiaot623/gogo/turngate/internal/domain"
)

// Decision is the tool guard verdict.
type Decision string

const (
	DecisionAllow               Decision = "allow"
	DecisionBlock               Decision = "block"
	DecisionRequireConfirmation Decision = "require_confirmation"
)

// File names looked up in a policy directory.
const (
	DocumentFile     = "security_policy.md"
	IntentPolicyFile = "intent_policy.rego"
	ToolPolicyFile   = "tool_policy.rego"
)

// DefaultSourceID names the embedded policy set.
const DefaultSourceID = "turngate-security-policy-v1"

var (
	//go:embed security_policy.md
	defaultDocument string
	//go:embed intent_policy.rego
	defaultIntentPolicy string
	//go:embed tool_policy.rego
	defaultToolPolicy string
)

// Sources is the raw policy material an Engine is built from.
type Sources struct {
	ID           string
	Document     string
	IntentPolicy string
	ToolPolicy   string
}

// DefaultSources returns the embedded policy set.
func DefaultSources() Sources {
	return Sources{
		ID:           DefaultSourceID,
		Document:     defaultDocument,
		IntentPolicy: defaultIntentPolicy,
		ToolPolicy:   defaultToolPolicy,
	}
}

// LoadSources reads all three policy files from dir. Every file must exist.
func LoadSources(dir, id string) (Sources, error) {
	read := func(name string) (string, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrPolicyUnavailable, err)
		}
		return string(b), nil
	}
	src := Sources{ID: id}
	var err error
	if src.Document, err = read(DocumentFile); err != nil {
		return Sources{}, err
	}
	if src.IntentPolicy, err = read(IntentPolicyFile); err != nil {
		return Sources{}, err
	}
	if src.ToolPolicy, err = read(ToolPolicyFile); err != nil {
		return Sources{}, err
	}
	return src, nil
}

// Engine is the OPA policy engine.
type Engine struct {
	id          string
	document    string
	intentQuery rego.PreparedEvalQuery
	toolQuery   rego.PreparedEvalQuery
}

// NewEngine prepares both rego queries.
func NewEngine(ctx context.Context, src Sources) (*Engine, error) {
	intentQuery, err := rego.New(
		rego.Query("data.intent_policy.bucket"),
		rego.Module(IntentPolicyFile, src.IntentPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare intent policy: %w", err)
	}

	toolQuery, err := rego.New(
		rego.Query("data.tool_policy"),
		rego.Module(ToolPolicyFile, src.ToolPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare tool policy: %w", err)
	}

	return &Engine{
		id:          strings.TrimSpace(src.ID),
		document:    strings.TrimSpace(src.Document),
		intentQuery: intentQuery,
		toolQuery:   toolQuery,
	}, nil
}

// ID returns the policy source identifier.
func (e *Engine) ID() string {
	return e.id
}

// Document returns the policy corpus text.
func (e *Engine) Document(ctx context.Context) (string, error) {
	if e.document == "" {
		return "", fmt.Errorf("%w: policy %q has an empty document", domain.ErrPolicyUnavailable, e.id)
	}
	return e.document, nil
}

// Floor evaluates the minimum bucket for an intent.
func (e *Engine) Floor(ctx context.Context, intent domain.RecognizedIntent) (domain.Bucket, error) {
	input := map[string]any{
		"type":              string(intent.Kind),
		"summary":           intent.Summary,
		"original_fragment": intent.OriginalFragment,
	}
	results, err := e.intentQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate intent policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", errors.New("intent policy produced no bucket")
	}
	s, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("intent policy returned %T", results[0].Expressions[0].Value)
	}
	switch b := domain.Bucket(s); b {
	case domain.BucketValid, domain.BucketNeedsAccessCheck, domain.BucketDangerous:
		return b, nil
	}
	return "", fmt.Errorf("intent policy returned unknown bucket %q", s)
}

// ToolInput is the tool guard input document.
type ToolInput struct {
	ToolName          string         `json:"tool_name"`
	Args              map[string]any `json:"args"`
	RequesterID       string         `json:"requester_id"`
	AuthorizedUserIDs []string       `json:"authorized_user_ids"`
}

// Evaluate checks the tool policy and returns the decision with its reason.
func (e *Engine) Evaluate(ctx context.Context, in ToolInput) (Decision, string, error) {
	args := in.Args
	if args == nil {
		args = map[string]any{}
	}
	ids := make([]any, 0, len(in.AuthorizedUserIDs))
	for _, id := range in.AuthorizedUserIDs {
		ids = append(ids, id)
	}
	input := map[string]any{
		"tool_name":           in.ToolName,
		"args":                args,
		"requester_id":        in.RequesterID,
		"authorized_user_ids": ids,
	}

	results, err := e.toolQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionBlock, "policy produced no decision", nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return DecisionBlock, "unexpected policy result", nil
	}
	reason, _ := doc["reason"].(string)
	switch d := Decision(fmt.Sprint(doc["decision"])); d {
	case DecisionAllow, DecisionBlock, DecisionRequireConfirmation:
		return d, reason, nil
	}
	return DecisionBlock, "unknown policy decision", nil
}
