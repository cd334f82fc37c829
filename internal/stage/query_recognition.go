package stage

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/prompts"
)

// RecognizeInput is the recognizer input.
type RecognizeInput struct {
	Request domain.DialogueRequest
}

// QueryRecognizer splits an utterance into atomic intents.
type QueryRecognizer struct {
	base
}

var _ Stage[RecognizeInput, []domain.RecognizedIntent] = (*QueryRecognizer)(nil)

// NewQueryRecognizer creates the recognizer.
func NewQueryRecognizer(o Oracle, pipelines prompts.Set, logger *zap.Logger) *QueryRecognizer {
	return &QueryRecognizer{base: newBase(QueryRecognitionName, o, pipelines, logger)}
}

// Run implements Stage.
func (r *QueryRecognizer) Run(ctx context.Context, in RecognizeInput) ([]domain.RecognizedIntent, error) {
	return r.Recognize(ctx, in)
}

type recognizedQueries struct {
	Queries []domain.RecognizedIntent `json:"queries"`
}

// Recognize extracts intents from the newest utterance. Every fragment must
// be a literal substring of it.
func (r *QueryRecognizer) Recognize(ctx context.Context, in RecognizeInput) ([]domain.RecognizedIntent, error) {
	if err := in.Request.Validate(); err != nil {
		return nil, err
	}
	utterance := in.Request.Utterance()
	if strings.TrimSpace(utterance) == "" {
		return nil, domain.ErrEmptyDialogue
	}

	var out recognizedQueries
	dialogue := []domain.Message{{Role: domain.RoleUser, Content: utterance}}
	if err := r.invoke(ctx, OptionsFrom(in.Request), "", dialogue, QueryRecognitionSchema, &out); err != nil {
		return nil, err
	}

	var bad []string
	for _, q := range out.Queries {
		if !strings.Contains(utterance, q.OriginalFragment) {
			bad = append(bad, q.OriginalFragment)
		}
	}
	if len(bad) > 0 {
		r.logger.Error("recognized fragment not found in utterance", zap.Strings("fragments", bad))
		return nil, &domain.FragmentMismatchError{Fragments: bad}
	}

	if out.Queries == nil {
		out.Queries = []domain.RecognizedIntent{}
	}
	return out.Queries, nil
}
