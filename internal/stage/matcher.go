package stage

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xiaot623/gogo/turngate/internal/domain"
)

// MatchTargets resolves each intent against the available users without an
// oracle. Every fragment lands in exactly one of the two lists.
func MatchTargets(intents []domain.RecognizedIntent, users domain.AvailableUsers) domain.AccessResolution {
	res := domain.AccessResolution{Resolved: []domain.ResolvedTarget{}, Unresolved: []domain.UnresolvedTarget{}}
	for _, intent := range intents {
		matchOne(&res, intent, users)
	}
	return res
}

func matchOne(res *domain.AccessResolution, intent domain.RecognizedIntent, users domain.AvailableUsers) {
	if t, ok := matchIntent(intent, users); ok {
		res.Resolved = append(res.Resolved, t)
		return
	}
	res.Unresolved = append(res.Unresolved, unresolvedFor(intent, users))
}

// matchIntent applies the id check, then the name check. It reports false
// when the intent stays unresolved.
func matchIntent(intent domain.RecognizedIntent, users domain.AvailableUsers) (domain.ResolvedTarget, bool) {
	text := intent.OriginalFragment
	ids := literalIDs(text, users)
	if len(ids) == 1 {
		u := users[ids[0]]
		return domain.ResolvedTarget{Text: text, TargetUserID: u.ID, TargetUserName: u.Name, MatchType: domain.MatchTypeID}, true
	}
	if len(ids) > 1 {
		return domain.ResolvedTarget{}, false
	}
	matches := nameMatches(intent, users)
	if len(matches) != 1 {
		return domain.ResolvedTarget{}, false
	}
	u := users[matches[0]]
	return domain.ResolvedTarget{Text: text, TargetUserID: u.ID, TargetUserName: u.Name, MatchType: domain.MatchTypeNameToken}, true
}

func unresolvedFor(intent domain.RecognizedIntent, users domain.AvailableUsers) domain.UnresolvedTarget {
	text := intent.OriginalFragment
	if ids := literalIDs(text, users); len(ids) > 1 {
		return ambiguous(text, ids, users)
	}
	if matches := nameMatches(intent, users); len(matches) > 1 {
		return ambiguous(text, matches, users)
	}
	return domain.UnresolvedTarget{
		Text:            text,
		Candidates:      []domain.Candidate{},
		ClarifyQuestion: "Who do you mean? Please share their user id.",
	}
}

// nameMatches returns the ids, sorted, of users sharing a name token with
// the fragment or the summary.
func nameMatches(intent domain.RecognizedIntent, users domain.AvailableUsers) []string {
	hints := nameTokens(intent.OriginalFragment + " " + intent.Summary)
	var matches []string
	for id, u := range users {
		for tok := range nameTokens(u.Name) {
			if _, ok := hints[tok]; ok {
				matches = append(matches, id)
				break
			}
		}
	}
	sort.Strings(matches)
	return matches
}

func ambiguous(text string, ids []string, users domain.AvailableUsers) domain.UnresolvedTarget {
	candidates := make([]domain.Candidate, 0, len(ids))
	options := make([]string, 0, len(ids))
	for _, id := range ids {
		u := users[id]
		candidates = append(candidates, domain.Candidate{ID: u.ID, Name: u.Name})
		options = append(options, fmt.Sprintf("%s (id %s)", u.Name, u.ID))
	}
	return domain.UnresolvedTarget{
		Text:            text,
		Candidates:      candidates,
		ClarifyQuestion: "Which person do you mean: " + joinOr(options) + "?",
	}
}

func joinOr(items []string) string {
	if len(items) <= 2 {
		return strings.Join(items, " or ")
	}
	return strings.Join(items[:len(items)-1], ", ") + " or " + items[len(items)-1]
}

// literalIDs returns the distinct available ids written in text, sorted.
func literalIDs(text string, users domain.AvailableUsers) []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, field := range strings.Fields(text) {
		tok := strings.TrimFunc(field, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
		if _, ok := users[tok]; !ok {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		ids = append(ids, tok)
	}
	sort.Strings(ids)
	return ids
}

func containsIDToken(text, id string) bool {
	ids := literalIDs(text, domain.AvailableUsers{id: {ID: id}})
	return len(ids) == 1
}

// nameTokens case-folds s, splits on anything that is not a letter or digit
// and drops single-rune tokens.
func nameTokens(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if utf8.RuneCountInString(tok) > 1 {
			out[tok] = struct{}{}
		}
	}
	return out
}
