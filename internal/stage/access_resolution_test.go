package stage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/turngate/internal/adapter/llm"
	"github.com/xiaot623/gogo/turngate/internal/domain"
)

func users(pairs ...string) domain.AvailableUsers {
	out := domain.AvailableUsers{}
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i]] = domain.AvailableUser{ID: pairs[i], Name: pairs[i+1]}
	}
	return out
}

func TestMatchTargetsSingleNameMatch(t *testing.T) {
	in := domain.RecognizedIntent{
		Kind:             domain.IntentUserExplicit,
		Summary:          "show Nick's anxiety spikes last week",
		OriginalFragment: "show his anxiety spikes last week",
	}
	res := MatchTargets([]domain.RecognizedIntent{in}, users("123", "Nick Abbott"))

	assert.Equal(t, []domain.ResolvedTarget{{
		Text:           "show his anxiety spikes last week",
		TargetUserID:   "123",
		TargetUserName: "Nick Abbott",
		MatchType:      domain.MatchTypeNameToken,
	}}, res.Resolved)
	assert.Empty(t, res.Unresolved)
}

func TestMatchTargetsAmbiguousName(t *testing.T) {
	in := intent("compare Nick's sleep with mine")
	res := MatchTargets([]domain.RecognizedIntent{in}, users("777", "Nick Romero", "123", "Nick Abbott", "5", "Ann Lee"))

	assert.Empty(t, res.Resolved)
	require.Len(t, res.Unresolved, 1)
	u := res.Unresolved[0]
	assert.Equal(t, in.OriginalFragment, u.Text)
	assert.Equal(t, []domain.Candidate{{ID: "123", Name: "Nick Abbott"}, {ID: "777", Name: "Nick Romero"}}, u.Candidates)
	assert.Equal(t, "Which person do you mean: Nick Abbott (id 123) or Nick Romero (id 777)?", u.ClarifyQuestion)
}

func TestMatchTargetsNoUsers(t *testing.T) {
	res := MatchTargets([]domain.RecognizedIntent{intent("show her mood")}, domain.AvailableUsers{})

	assert.Empty(t, res.Resolved)
	require.Len(t, res.Unresolved, 1)
	assert.NotNil(t, res.Unresolved[0].Candidates)
	assert.Empty(t, res.Unresolved[0].Candidates)
	assert.NotEmpty(t, res.Unresolved[0].ClarifyQuestion)
}

func TestMatchTargetsLiteralID(t *testing.T) {
	us := users("123", "Nick Abbott", "777", "Nick Romero")

	res := MatchTargets([]domain.RecognizedIntent{intent("show sleep for 777, please")}, us)
	require.Len(t, res.Resolved, 1)
	assert.Equal(t, "777", res.Resolved[0].TargetUserID)
	assert.Equal(t, domain.MatchTypeID, res.Resolved[0].MatchType)

	res = MatchTargets([]domain.RecognizedIntent{intent("compare 123 and 777 and 123")}, us)
	require.Len(t, res.Unresolved, 1)
	assert.Len(t, res.Unresolved[0].Candidates, 2)

	res = MatchTargets([]domain.RecognizedIntent{intent("show 1234 steps")}, us)
	require.Len(t, res.Unresolved, 1)
	assert.Empty(t, res.Resolved)
}

func TestMatchTargetsSkipsSingleLetterTokens(t *testing.T) {
	res := MatchTargets([]domain.RecognizedIntent{intent("show J data")}, users("1", "J Smith"))
	assert.Empty(t, res.Resolved)
	assert.Len(t, res.Unresolved, 1)
}

func TestResolverLocalModeMakesNoCall(t *testing.T) {
	stub := llm.NewStubClient()
	r := NewAccessResolver(newOracle(stub), testSet(AccessResolutionName), ResolverModeLocal, nil)

	res, err := r.Resolve(context.Background(), AccessInput{
		Intents:        []domain.RecognizedIntent{intent("show Nick's mood"), intent("and Ann's sleep")},
		AvailableUsers: users("123", "Nick Abbott"),
	})
	require.NoError(t, err)
	assert.Len(t, res.Resolved, 1)
	assert.Len(t, res.Unresolved, 1)
	assert.Empty(t, stub.Requests())
	assert.Equal(t, ResolverModeLocal, r.Mode())
}

func TestResolverOracleModeInjectsUsers(t *testing.T) {
	stub := llm.NewStubClient(`{"resolved":[{"text":"show his anxiety spikes last week","target_user_id":"123","target_user_name":"Nick Abbott","match_type":"name_token"}],"unresolved":[]}`)
	r := NewAccessResolver(newOracle(stub), testSet(AccessResolutionName), "", nil)

	res, err := r.Resolve(context.Background(), AccessInput{
		Intents: []domain.RecognizedIntent{{
			Kind:             domain.IntentUserExplicit,
			Summary:          "show Nick's anxiety spikes last week",
			OriginalFragment: "show his anxiety spikes last week",
		}},
		AvailableUsers: domain.AvailableUsers{"123": {ID: "123", Name: "Nick Abbott", Extra: map[string]any{"team": "blue"}}},
	})
	require.NoError(t, err)
	require.Len(t, res.Resolved, 1)
	assert.Equal(t, "123", res.Resolved[0].TargetUserID)
	assert.NotNil(t, res.Unresolved)

	req := stub.LastRequest()
	assert.Contains(t, req.Messages[0].Content, `AVAILABLE_USERS: {"123":{"id":"123","name":"Nick Abbott","team":"blue"}}`)
	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(req.Messages[len(req.Messages)-1].Content), &payload))
	assert.Contains(t, payload, "needs_access_check")
	assert.Len(t, payload, 1)
}

func TestResolverRejectsOracleViolations(t *testing.T) {
	us := users("123", "Nick Abbott", "777", "Nick Romero")
	fragment := "show his mood"
	cases := map[string]string{
		"unknown id":        `{"resolved":[{"text":"show his mood","target_user_id":"999","target_user_name":"Eve","match_type":"name_token"}],"unresolved":[]}`,
		"wrong name":        `{"resolved":[{"text":"show his mood","target_user_id":"123","target_user_name":"Nick Romero","match_type":"name_token"}],"unresolved":[]}`,
		"id without token":  `{"resolved":[{"text":"show his mood","target_user_id":"123","target_user_name":"Nick Abbott","match_type":"id"}],"unresolved":[]}`,
		"dropped":           `{"resolved":[],"unresolved":[]}`,
		"duplicated":        `{"resolved":[{"text":"show his mood","target_user_id":"123","target_user_name":"Nick Abbott","match_type":"name_token"}],"unresolved":[{"text":"show his mood","candidates":[],"clarify_question":"Who?"}]}`,
		"invented":          `{"resolved":[],"unresolved":[{"text":"show his mood","candidates":[],"clarify_question":"Who?"},{"text":"other","candidates":[],"clarify_question":"Who?"}]}`,
		"foreign candidate": `{"resolved":[],"unresolved":[{"text":"show his mood","candidates":[{"id":"42","name":"Zed"}],"clarify_question":"Who?"}]}`,
		"name without hint": `{"resolved":[{"text":"show his mood","target_user_id":"123","target_user_name":"Nick Abbott","match_type":"name_token"}],"unresolved":[]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewAccessResolver(newOracle(llm.NewStubClient(doc)), testSet(AccessResolutionName), ResolverModeOracle, nil)
			_, err := r.Resolve(context.Background(), AccessInput{Intents: []domain.RecognizedIntent{intent(fragment)}, AvailableUsers: us})
			assert.ErrorIs(t, err, domain.ErrResolutionViolation)
		})
	}
}

func TestResolverOracleModeDowngradesAmbiguousName(t *testing.T) {
	stub := llm.NewStubClient(`{"resolved":[{"text":"show Nick's mood","target_user_id":"123","target_user_name":"Nick Abbott","match_type":"name_token"}],"unresolved":[]}`)
	r := NewAccessResolver(newOracle(stub), testSet(AccessResolutionName), ResolverModeOracle, nil)

	res, err := r.Resolve(context.Background(), AccessInput{
		Intents:        []domain.RecognizedIntent{intent("show Nick's mood")},
		AvailableUsers: users("123", "Nick Abbott", "777", "Nick Romero"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Resolved)
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, "show Nick's mood", res.Unresolved[0].Text)
	assert.Equal(t, []domain.Candidate{{ID: "123", Name: "Nick Abbott"}, {ID: "777", Name: "Nick Romero"}}, res.Unresolved[0].Candidates)
	assert.NotEmpty(t, res.Unresolved[0].ClarifyQuestion)
}

func TestResolverOracleModeHonorsLiteralIDs(t *testing.T) {
	us := users("123", "Nick Abbott", "777", "Nick Romero")
	cases := map[string]struct {
		fragment string
		doc      string
	}{
		"other user by name": {
			fragment: "show mood for 777",
			doc:      `{"resolved":[{"text":"show mood for 777","target_user_id":"123","target_user_name":"Nick Abbott","match_type":"name_token"}],"unresolved":[]}`,
		},
		"right user by name": {
			fragment: "show Nick's mood for 777",
			doc:      `{"resolved":[{"text":"show Nick's mood for 777","target_user_id":"777","target_user_name":"Nick Romero","match_type":"name_token"}],"unresolved":[]}`,
		},
		"several ids": {
			fragment: "compare 123 and 777",
			doc:      `{"resolved":[{"text":"compare 123 and 777","target_user_id":"123","target_user_name":"Nick Abbott","match_type":"id"}],"unresolved":[]}`,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := NewAccessResolver(newOracle(llm.NewStubClient(tc.doc)), testSet(AccessResolutionName), ResolverModeOracle, nil)
			_, err := r.Resolve(context.Background(), AccessInput{Intents: []domain.RecognizedIntent{intent(tc.fragment)}, AvailableUsers: us})
			assert.ErrorIs(t, err, domain.ErrResolutionViolation)
		})
	}

	r := NewAccessResolver(newOracle(llm.NewStubClient(
		`{"resolved":[{"text":"show mood for 777","target_user_id":"777","target_user_name":"Nick Romero","match_type":"id"}],"unresolved":[]}`,
	)), testSet(AccessResolutionName), ResolverModeOracle, nil)
	res, err := r.Resolve(context.Background(), AccessInput{Intents: []domain.RecognizedIntent{intent("show mood for 777")}, AvailableUsers: us})
	require.NoError(t, err)
	require.Len(t, res.Resolved, 1)
	assert.Equal(t, "777", res.Resolved[0].TargetUserID)
}

func TestResolverWithMockOracleLeavesEverythingUnresolved(t *testing.T) {
	r := NewAccessResolver(newOracle(llm.NewMockClient()), testSet(AccessResolutionName), ResolverModeOracle, nil)

	res, err := r.Resolve(context.Background(), AccessInput{
		Intents:        []domain.RecognizedIntent{intent("show her mood")},
		AvailableUsers: users("123", "Nick Abbott"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Resolved)
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, "show her mood", res.Unresolved[0].Text)
}

func TestResolverEmptyInput(t *testing.T) {
	stub := llm.NewStubClient()
	r := NewAccessResolver(newOracle(stub), testSet(AccessResolutionName), ResolverModeOracle, nil)

	res, err := r.Run(context.Background(), AccessInput{})
	require.NoError(t, err)
	assert.NotNil(t, res.Resolved)
	assert.NotNil(t, res.Unresolved)
	assert.Empty(t, stub.Requests())
}

func TestCheckResolutionAcceptsMatcherOutput(t *testing.T) {
	us := users("123", "Nick Abbott", "777", "Nick Romero")
	intents := []domain.RecognizedIntent{
		intent("show 123 sleep"), intent("Nick's mood"), intent("her steps"), intent("Abbott's steps"), intent("compare 123 and 777"),
	}
	res := MatchTargets(intents, us)
	assert.Len(t, res.Resolved, 2)
	assert.NoError(t, CheckResolution(intents, us, res))
}
