package stage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/prompts"
)

// PolicySource supplies the security policy the gate classifies against.
// *policy.Engine implements it.
type PolicySource interface {
	ID() string
	Document(ctx context.Context) (string, error)
	Floor(ctx context.Context, intent domain.RecognizedIntent) (domain.Bucket, error)
}

// GateInput is the security gate input.
type GateInput struct {
	Intents []domain.RecognizedIntent
	Options Options
}

// SecurityGate partitions intents into valid, needs_access_check and
// dangerous buckets.
type SecurityGate struct {
	base
	policy PolicySource
}

var _ Stage[GateInput, domain.SecurityBucketing] = (*SecurityGate)(nil)

// NewSecurityGate creates the gate.
func NewSecurityGate(o Oracle, pipelines prompts.Set, policy PolicySource, logger *zap.Logger) *SecurityGate {
	return &SecurityGate{base: newBase(SecurityGateName, o, pipelines, logger), policy: policy}
}

// Run implements Stage.
func (g *SecurityGate) Run(ctx context.Context, in GateInput) (domain.SecurityBucketing, error) {
	return g.Classify(ctx, in)
}

// Classify buckets every intent exactly once. The result lists intents in
// input order within each bucket.
func (g *SecurityGate) Classify(ctx context.Context, in GateInput) (domain.SecurityBucketing, error) {
	if g.policy == nil || g.policy.ID() == "" {
		return domain.SecurityBucketing{}, fmt.Errorf("%w: no policy source configured", domain.ErrPolicyUnavailable)
	}
	doc, err := g.policy.Document(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return domain.SecurityBucketing{}, ctx.Err()
		}
		return domain.SecurityBucketing{}, fmt.Errorf("%w: %s: %w", domain.ErrPolicyUnavailable, g.policy.ID(), err)
	}
	if len(in.Intents) == 0 {
		return emptyBucketing(), nil
	}

	dialogue, err := userPayload(map[string]any{"queries": in.Intents})
	if err != nil {
		return domain.SecurityBucketing{}, err
	}
	injected := "SECURITY_POLICY_ID: " + g.policy.ID() + "\nSECURITY_POLICY:\n" + doc

	var out domain.SecurityBucketing
	if err := g.invoke(ctx, in.Options, injected, dialogue, SecurityGateSchema, &out); err != nil {
		return domain.SecurityBucketing{}, err
	}

	assigned, err := g.partition(in.Intents, out)
	if err != nil {
		return domain.SecurityBucketing{}, err
	}

	result := emptyBucketing()
	for i, intent := range in.Intents {
		bucket := assigned[i]
		floor, err := g.policy.Floor(ctx, intent)
		if err != nil {
			if ctx.Err() != nil {
				return domain.SecurityBucketing{}, ctx.Err()
			}
			return domain.SecurityBucketing{}, fmt.Errorf("%w: floor: %w", domain.ErrPolicyUnavailable, err)
		}
		if floor.Severity() > bucket.Severity() {
			g.logger.Warn("intent escalated by policy floor",
				zap.String("fragment", intent.OriginalFragment),
				zap.String("from", string(bucket)),
				zap.String("to", string(floor)))
			bucket = floor
		}
		result.Add(bucket, intent)
	}
	return result, nil
}

// partition matches the oracle buckets against the input as multisets and
// returns the bucket of every input position.
func (g *SecurityGate) partition(input []domain.RecognizedIntent, out domain.SecurityBucketing) ([]domain.Bucket, error) {
	pending := make(map[domain.RecognizedIntent][]int, len(input))
	for i, intent := range input {
		pending[intent] = append(pending[intent], i)
	}

	assigned := make([]domain.Bucket, len(input))
	var extra []domain.RecognizedIntent
	take := func(bucket domain.Bucket, intents []domain.RecognizedIntent) {
		for _, intent := range intents {
			idx := pending[intent]
			if len(idx) == 0 {
				extra = append(extra, intent)
				continue
			}
			assigned[idx[0]] = bucket
			pending[intent] = idx[1:]
		}
	}
	take(domain.BucketValid, out.Valid)
	take(domain.BucketNeedsAccessCheck, out.NeedsAccessCheck)
	take(domain.BucketDangerous, out.Dangerous)

	var missing []domain.RecognizedIntent
	for i, intent := range input {
		if assigned[i] == "" {
			missing = append(missing, intent)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		g.logger.Error("security partition violated", zap.Int("missing", len(missing)), zap.Int("extra", len(extra)))
		return nil, &domain.PartitionViolationError{Missing: missing, Extra: extra}
	}
	return assigned, nil
}

func emptyBucketing() domain.SecurityBucketing {
	return domain.SecurityBucketing{
		Valid:            []domain.RecognizedIntent{},
		NeedsAccessCheck: []domain.RecognizedIntent{},
		Dangerous:        []domain.RecognizedIntent{},
	}
}
