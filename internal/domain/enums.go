// Package domain defines the core domain models for the turn pipeline.
package domain

// Role tags the author of a dialogue message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// IntentKind classifies where a recognized intent came from.
type IntentKind string

const (
	IntentUserExplicit   IntentKind = "user_explicit"
	IntentUserImplicit   IntentKind = "user_implicit"
	IntentSystemImplicit IntentKind = "system_implicit"
)

// Bucket is a security classification for an intent.
type Bucket string

const (
	BucketValid            Bucket = "valid"
	BucketNeedsAccessCheck Bucket = "needs_access_check"
	BucketDangerous        Bucket = "dangerous"
)

// Severity orders buckets: valid < needs_access_check < dangerous.
// Unknown buckets rank as dangerous.
func (b Bucket) Severity() int {
	switch b {
	case BucketValid:
		return 0
	case BucketNeedsAccessCheck:
		return 1
	}
	return 2
}

// MatchType records how an access target was resolved.
type MatchType string

const (
	MatchTypeID        MatchType = "id"
	MatchTypeNameToken MatchType = "name_token"
)

// TurnAction is the terminal action chosen for a turn.
type TurnAction string

const (
	ActionWait          TurnAction = "wait"
	ActionMicroReply    TurnAction = "micro_reply"
	ActionRunReplyFlow  TurnAction = "run_reply_flow"
	ActionRunMainFlow   TurnAction = "run_main_flow"
	ActionRespondSafety TurnAction = "respond_safety"
)

// TurnOutcome summarizes how a turn ended.
type TurnOutcome string

const (
	OutcomeCompleted TurnOutcome = "completed"
	OutcomeDegraded  TurnOutcome = "degraded"
)

// EventType represents the type of a turn audit event.
type EventType string

const (
	EventTypeTurnStarted        EventType = "turn_started"
	EventTypeTurnDecided        EventType = "turn_decided"
	EventTypeIntentsRecognized  EventType = "intents_recognized"
	EventTypeSecurityClassified EventType = "security_classified"
	EventTypeAccessResolved     EventType = "access_resolved"
	EventTypeActionsRouted      EventType = "actions_routed"
	EventTypeToolDispatched     EventType = "tool_dispatched"
	EventTypeToolRejected       EventType = "tool_rejected"
	EventTypeTurnDone           EventType = "turn_done"
	EventTypeTurnDegraded       EventType = "turn_degraded"
)

// ToolCallStatus represents the status of an outbox tool call.
type ToolCallStatus string

const (
	ToolCallStatusQueued              ToolCallStatus = "QUEUED"
	ToolCallStatusPendingConfirmation ToolCallStatus = "PENDING_CONFIRMATION"
	ToolCallStatusSucceeded           ToolCallStatus = "SUCCEEDED"
	ToolCallStatusFailed              ToolCallStatus = "FAILED"
	ToolCallStatusExpired             ToolCallStatus = "EXPIRED"
)
