package stage

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/prompts"
)

// DefaultHistoryWindow is how many prior messages the decider sees.
const DefaultHistoryWindow = 10

// MaxSafetyReplyRunes bounds a safety reply.
const MaxSafetyReplyRunes = 280

// SafetyFallbackReply replaces safety text that fails the checks.
const SafetyFallbackReply = "I'm really sorry you're feeling this way. You don't have to go through this alone. " +
	"Please reach out to someone you trust, or contact your local emergency number or a crisis line right now."

var unsafeMarkers = regexp.MustCompile(`(?i)\b(step[- ]by[- ]step|step \d+|steps to|how to|method|instructions?|dosage|overdose|lethal|pills?|\d+\s*mg)\b|(?m)^\s*\d+[.)]\s`)

// TurnInput is the decider input.
type TurnInput struct {
	Request domain.DialogueRequest
	Profile map[string]any
}

// TurnDecider picks the terminal action for a turn.
type TurnDecider struct {
	base
	window int
}

var _ Stage[TurnInput, domain.TurnDecision] = (*TurnDecider)(nil)

// NewTurnDecider creates the decider. window <= 0 uses DefaultHistoryWindow.
func NewTurnDecider(o Oracle, pipelines prompts.Set, window int, logger *zap.Logger) *TurnDecider {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &TurnDecider{base: newBase(TurnDecisionName, o, pipelines, logger), window: window}
}

// Run implements Stage.
func (d *TurnDecider) Run(ctx context.Context, in TurnInput) (domain.TurnDecision, error) {
	return d.Decide(ctx, in)
}

// Decide asks the oracle for a decision and enforces the reply contract.
func (d *TurnDecider) Decide(ctx context.Context, in TurnInput) (domain.TurnDecision, error) {
	if err := in.Request.Validate(); err != nil {
		return domain.TurnDecision{}, err
	}
	dialogue, err := domain.Normalize(domain.LastN(in.Request.History, d.window), in.Request.NewUtterance)
	if err != nil {
		return domain.TurnDecision{}, err
	}

	profile := in.Profile
	if profile == nil {
		profile = map[string]any{}
	}
	injected, err := injectJSON("USER_PROFILE_JSON", profile)
	if err != nil {
		return domain.TurnDecision{}, err
	}

	var decision domain.TurnDecision
	if err := d.invoke(ctx, OptionsFrom(in.Request), injected, dialogue, TurnDecisionSchema, &decision); err != nil {
		return domain.TurnDecision{}, err
	}
	return d.enforce(decision)
}

func (d *TurnDecider) enforce(dec domain.TurnDecision) (domain.TurnDecision, error) {
	switch dec.Action {
	case domain.ActionWait:
		if dec.MicroReplyText != "" {
			return domain.TurnDecision{}, d.reject("$.micro_reply_text", "must be empty when action is wait")
		}
	case domain.ActionMicroReply:
		if reason := checkMicroReply(dec.MicroReplyText); reason != "" {
			return domain.TurnDecision{}, d.reject("$.micro_reply_text", reason)
		}
	case domain.ActionRespondSafety:
		if reason := checkSafetyReply(dec.MicroReplyText); reason != "" {
			d.logger.Warn("safety reply replaced", zap.String("reason", reason))
			dec.MicroReplyText = SafetyFallbackReply
		}
	}
	return dec, nil
}

func (d *TurnDecider) reject(path, reason string) error {
	d.logger.Error("turn decision contract violated", zap.String("path", path), zap.String("reason", reason))
	return &domain.SchemaValidationError{Stage: d.name, Path: path, Reason: reason}
}

// checkMicroReply returns why text is not a valid micro reply, or "".
func checkMicroReply(text string) string {
	words := strings.Fields(text)
	if len(words) < 2 || len(words) > 3 {
		return "micro reply must be 2 to 3 words"
	}
	punct := 0
	for _, r := range text {
		switch {
		case r == '?':
			return "micro reply must not ask a question"
		case isEmoji(r):
			return "micro reply must not contain emoji"
		case unicode.IsPunct(r):
			punct++
		}
	}
	if punct > len(words) {
		return "micro reply is punctuation heavy"
	}
	return ""
}

// checkSafetyReply returns why text is not an acceptable safety reply, or "".
func checkSafetyReply(text string) string {
	t := strings.TrimSpace(text)
	switch {
	case t == "":
		return "empty safety reply"
	case utf8.RuneCountInString(t) > MaxSafetyReplyRunes:
		return "safety reply too long"
	case unsafeMarkers.MatchString(t):
		return "safety reply contains instruction markers"
	}
	return ""
}

func isEmoji(r rune) bool {
	return unicode.Is(unicode.So, r) ||
		(r >= 0x1F000 && r <= 0x1FAFF) ||
		(r >= 0x2600 && r <= 0x27BF) ||
		r == 0xFE0F || r == 0x200D
}
