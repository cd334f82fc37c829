package stage

import (
	"github.com/xiaot623/gogo/turngate/internal/oracle"
)

// Stage names. They double as schema names in the response format.
const (
	TurnDecisionName     = "turn_decision"
	QueryRecognitionName = "query_recognition"
	SecurityGateName     = "security_gate"
	AccessResolutionName = "access_resolution"
	ActionRouterName     = "action_router"
)

func intentNode() *oracle.Node {
	return oracle.Object(
		oracle.Prop("type", oracle.Enum("user_explicit", "user_implicit", "system_implicit")),
		oracle.Prop("summary", oracle.NonEmptyString()),
		oracle.Prop("original_fragment", oracle.NonEmptyString()),
	)
}

// TurnDecisionSchema is the output contract of the turn decision stage.
var TurnDecisionSchema = oracle.NewSchema(TurnDecisionName, true, oracle.Object(
	oracle.Prop("action", oracle.Enum("wait", "micro_reply", "run_reply_flow", "run_main_flow", "respond_safety")),
	oracle.Prop("micro_reply_text", oracle.String()),
	oracle.Prop("reason", oracle.NonEmptyString()),
	oracle.Prop("confidence", oracle.Number(0, 1)),
))

// QueryRecognitionSchema is the output contract of the recognizer.
var QueryRecognitionSchema = oracle.NewSchema(QueryRecognitionName, true, oracle.Object(
	oracle.Prop("queries", oracle.Array(intentNode())),
))

// SecurityGateSchema is the output contract of the security gate.
var SecurityGateSchema = oracle.NewSchema(SecurityGateName, true, oracle.Object(
	oracle.Prop("valid_queries", oracle.Array(intentNode())),
	oracle.Prop("needs_access_check", oracle.Array(intentNode())),
	oracle.Prop("dangerous_queries", oracle.Array(intentNode())),
))

// AccessResolutionSchema is the output contract of the access resolver.
var AccessResolutionSchema = oracle.NewSchema(AccessResolutionName, true, oracle.Object(
	oracle.Prop("resolved", oracle.Array(oracle.Object(
		oracle.Prop("text", oracle.NonEmptyString()),
		oracle.Prop("target_user_id", oracle.NonEmptyString()),
		oracle.Prop("target_user_name", oracle.NonEmptyString()),
		oracle.Prop("match_type", oracle.Enum("id", "name_token")),
	))),
	oracle.Prop("unresolved", oracle.Array(oracle.Object(
		oracle.Prop("text", oracle.NonEmptyString()),
		oracle.Prop("candidates", oracle.Array(oracle.Object(
			oracle.Prop("id", oracle.NonEmptyString()),
			oracle.Prop("name", oracle.NonEmptyString()),
		))),
		oracle.Prop("clarify_question", oracle.NonEmptyString()),
	))),
))

// ActionRouterSchema builds the router contract for a tool name set. args
// is an open object, so the schema cannot be strict.
func ActionRouterSchema(toolNames []string) *oracle.Schema {
	return oracle.NewSchema(ActionRouterName, false, oracle.Object(
		oracle.Prop("actions", oracle.Array(oracle.Object(
			oracle.Prop("tool", oracle.Enum(toolNames...)),
			oracle.Prop("args", oracle.OpenObject()),
			oracle.OptionalProp("note", oracle.String().OrNull()),
		))),
	))
}
