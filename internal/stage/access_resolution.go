package stage

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/turngate/internal/domain"
	"github.com/xiaot623/gogo/turngate/internal/prompts"
)

// Resolver strategies.
const (
	ResolverModeOracle = "oracle"
	ResolverModeLocal  = "local"
)

// AccessInput is the resolver input. Intents are the needs_access_check bucket.
type AccessInput struct {
	Intents        []domain.RecognizedIntent
	AvailableUsers domain.AvailableUsers
	Options        Options
}

// AccessResolver binds third-party references to authorized users.
type AccessResolver struct {
	base
	mode string
}

var _ Stage[AccessInput, domain.AccessResolution] = (*AccessResolver)(nil)

// NewAccessResolver creates the resolver. Unknown modes fall back to oracle.
func NewAccessResolver(o Oracle, pipelines prompts.Set, mode string, logger *zap.Logger) *AccessResolver {
	if mode != ResolverModeLocal {
		mode = ResolverModeOracle
	}
	return &AccessResolver{base: newBase(AccessResolutionName, o, pipelines, logger), mode: mode}
}

// Mode returns the active strategy.
func (r *AccessResolver) Mode() string {
	return r.mode
}

// Run implements Stage.
func (r *AccessResolver) Run(ctx context.Context, in AccessInput) (domain.AccessResolution, error) {
	return r.Resolve(ctx, in)
}

// Resolve returns one entry per input fragment, resolved or unresolved.
func (r *AccessResolver) Resolve(ctx context.Context, in AccessInput) (domain.AccessResolution, error) {
	if len(in.Intents) == 0 {
		return domain.AccessResolution{Resolved: []domain.ResolvedTarget{}, Unresolved: []domain.UnresolvedTarget{}}, nil
	}
	users := in.AvailableUsers
	if users == nil {
		users = domain.AvailableUsers{}
	}

	var res domain.AccessResolution
	if r.mode == ResolverModeLocal {
		if err := ctx.Err(); err != nil {
			return domain.AccessResolution{}, err
		}
		res = MatchTargets(in.Intents, users)
	} else {
		injected, err := injectJSON("AVAILABLE_USERS", users)
		if err != nil {
			return domain.AccessResolution{}, err
		}
		dialogue, err := userPayload(map[string]any{"needs_access_check": in.Intents})
		if err != nil {
			return domain.AccessResolution{}, err
		}
		if err := r.invoke(ctx, in.Options, injected, dialogue, AccessResolutionSchema, &res); err != nil {
			return domain.AccessResolution{}, err
		}
		res = r.downgradeAmbiguous(in.Intents, users, res)
	}

	if err := CheckResolution(in.Intents, users, res); err != nil {
		r.logger.Error("access resolution violated", zap.Error(err), zap.String("mode", r.mode))
		return domain.AccessResolution{}, err
	}
	if res.Resolved == nil {
		res.Resolved = []domain.ResolvedTarget{}
	}
	if res.Unresolved == nil {
		res.Unresolved = []domain.UnresolvedTarget{}
	}
	return res, nil
}

// downgradeAmbiguous moves name_token results whose hints match several
// users back to unresolved, with every matching user as a candidate.
func (r *AccessResolver) downgradeAmbiguous(intents []domain.RecognizedIntent, users domain.AvailableUsers, res domain.AccessResolution) domain.AccessResolution {
	byText := intentsByText(intents)
	kept := make([]domain.ResolvedTarget, 0, len(res.Resolved))
	for _, t := range res.Resolved {
		in, ok := byText[t.Text]
		if !ok || t.MatchType != domain.MatchTypeNameToken || len(literalIDs(t.Text, users)) > 0 {
			kept = append(kept, t)
			continue
		}
		matches := nameMatches(in[0], users)
		if len(matches) < 2 {
			kept = append(kept, t)
			continue
		}
		r.logger.Warn("ambiguous name match downgraded",
			zap.String("fragment", t.Text), zap.String("target", t.TargetUserID), zap.Strings("candidates", matches))
		res.Unresolved = append(res.Unresolved, ambiguous(t.Text, matches, users))
	}
	res.Resolved = kept
	return res
}

func intentsByText(intents []domain.RecognizedIntent) map[string][]domain.RecognizedIntent {
	out := make(map[string][]domain.RecognizedIntent, len(intents))
	for _, in := range intents {
		out[in.OriginalFragment] = append(out[in.OriginalFragment], in)
	}
	return out
}

// CheckResolution verifies a resolution against its input, the authorized
// user set and the matching order: a single literal id wins, several ids
// never resolve, and a name match must be unique.
func CheckResolution(intents []domain.RecognizedIntent, users domain.AvailableUsers, res domain.AccessResolution) error {
	var problems []string

	byText := intentsByText(intents)
	want := map[string]int{}
	for _, in := range intents {
		want[in.OriginalFragment]++
	}
	got := map[string]int{}
	for _, t := range res.Resolved {
		got[t.Text]++
	}
	for _, t := range res.Unresolved {
		got[t.Text]++
	}
	for text, n := range want {
		if got[text] != n {
			problems = append(problems, fmt.Sprintf("fragment %q appears %d times, want %d", text, got[text], n))
		}
	}
	for text := range got {
		if _, ok := want[text]; !ok {
			problems = append(problems, fmt.Sprintf("unexpected fragment %q", text))
		}
	}

	for _, t := range res.Resolved {
		u, ok := users[t.TargetUserID]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("resolved id %q is not available", t.TargetUserID))
			continue
		case u.Name != t.TargetUserName:
			problems = append(problems, fmt.Sprintf("resolved name %q does not match %q", t.TargetUserName, u.Name))
		}
		if t.MatchType == domain.MatchTypeID && !containsIDToken(t.Text, t.TargetUserID) {
			problems = append(problems, fmt.Sprintf("id match for %q without literal id %q", t.Text, t.TargetUserID))
		}
		switch ids := literalIDs(t.Text, users); {
		case len(ids) > 1:
			problems = append(problems, fmt.Sprintf("fragment %q names several ids and cannot resolve", t.Text))
		case len(ids) == 1 && (ids[0] != t.TargetUserID || t.MatchType != domain.MatchTypeID):
			problems = append(problems, fmt.Sprintf("fragment %q names id %q but resolved to %q by %s", t.Text, ids[0], t.TargetUserID, t.MatchType))
		case len(ids) == 0 && t.MatchType == domain.MatchTypeNameToken && !uniqueNameMatch(byText[t.Text], users, t.TargetUserID):
			problems = append(problems, fmt.Sprintf("name match for %q is not unique to %q", t.Text, t.TargetUserID))
		}
	}
	for _, t := range res.Unresolved {
		for _, c := range t.Candidates {
			if _, ok := users[c.ID]; !ok {
				problems = append(problems, fmt.Sprintf("candidate %q is not available", c.ID))
			}
		}
		if t.ClarifyQuestion == "" {
			problems = append(problems, fmt.Sprintf("no clarify question for %q", t.Text))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return &domain.ResolutionViolationError{Problems: problems}
	}
	return nil
}

// uniqueNameMatch reports whether some intent with the fragment name-matches
// exactly the target.
func uniqueNameMatch(intents []domain.RecognizedIntent, users domain.AvailableUsers, target string) bool {
	for _, in := range intents {
		if m := nameMatches(in, users); len(m) == 1 && m[0] == target {
			return true
		}
	}
	return false
}
