package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyDialogue       = errors.New("empty dialogue")
	ErrInvalidMessage      = errors.New("invalid message")
	ErrSchemaValidation    = errors.New("oracle output failed schema validation")
	ErrFragmentMismatch    = errors.New("intent fragment is not a substring of the utterance")
	ErrPartitionViolation  = errors.New("security partition violated")
	ErrResolutionViolation = errors.New("access resolution violated")
	ErrPolicyUnavailable   = errors.New("policy source unavailable")
	ErrUnknownPipeline     = errors.New("unknown pipeline")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrInvalidArguments    = errors.New("invalid tool arguments")
	ErrToolBlocked         = errors.New("tool invocation blocked by policy")
	ErrOracleUnavailable   = errors.New("oracle unavailable")
	ErrNotFound            = errors.New("not found")
)

// SchemaValidationError reports the first violation found in an oracle document.
type SchemaValidationError struct {
	Stage  string
	Path   string
	Reason string
}

func (e *SchemaValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %s", e.Stage, ErrSchemaValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s at %s: %s", e.Stage, ErrSchemaValidation, e.Path, e.Reason)
}

func (e *SchemaValidationError) Unwrap() error { return ErrSchemaValidation }

// FragmentMismatchError lists fragments that could not be located in the utterance.
type FragmentMismatchError struct {
	Fragments []string
}

func (e *FragmentMismatchError) Error() string {
	return fmt.Sprintf("%s: %q", ErrFragmentMismatch, e.Fragments)
}

func (e *FragmentMismatchError) Unwrap() error { return ErrFragmentMismatch }

// PartitionViolationError describes intents lost, duplicated or invented by the gate.
type PartitionViolationError struct {
	Missing []RecognizedIntent
	Extra   []RecognizedIntent
}

func (e *PartitionViolationError) Error() string {
	return fmt.Sprintf("%s: %d missing, %d unexpected", ErrPartitionViolation, len(e.Missing), len(e.Extra))
}

func (e *PartitionViolationError) Unwrap() error { return ErrPartitionViolation }

// ResolutionViolationError collects broken resolver postconditions.
type ResolutionViolationError struct {
	Problems []string
}

func (e *ResolutionViolationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrResolutionViolation, strings.Join(e.Problems, "; "))
}

func (e *ResolutionViolationError) Unwrap() error { return ErrResolutionViolation }

// UnknownPipelineError names the missing pipeline and what is available.
type UnknownPipelineError struct {
	Stage     string
	Key       string
	Available []string
}

func (e *UnknownPipelineError) Error() string {
	return fmt.Sprintf("%s: %s %q (available: %s)", e.Stage, ErrUnknownPipeline, e.Key, strings.Join(e.Available, ", "))
}

func (e *UnknownPipelineError) Unwrap() error { return ErrUnknownPipeline }

// UnknownToolError is returned for tool names outside the catalog.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownTool, e.Tool)
}

func (e *UnknownToolError) Unwrap() error { return ErrUnknownTool }

// InvalidArgumentsError lists every argument problem for one invocation.
type InvalidArgumentsError struct {
	Tool     string
	Problems []string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("%s for %s: %s", ErrInvalidArguments, e.Tool, strings.Join(e.Problems, "; "))
}

func (e *InvalidArgumentsError) Unwrap() error { return ErrInvalidArguments }

// ErrorCode maps an error to a stable short code for results and audit rows.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyDialogue):
		return "empty_dialogue"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, ErrSchemaValidation):
		return "schema_validation"
	case errors.Is(err, ErrFragmentMismatch):
		return "fragment_mismatch"
	case errors.Is(err, ErrPartitionViolation):
		return "partition_violation"
	case errors.Is(err, ErrResolutionViolation):
		return "resolution_violation"
	case errors.Is(err, ErrPolicyUnavailable):
		return "policy_unavailable"
	case errors.Is(err, ErrUnknownPipeline):
		return "unknown_pipeline"
	case errors.Is(err, ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, ErrInvalidArguments):
		return "invalid_arguments"
	case errors.Is(err, ErrToolBlocked):
		return "tool_blocked"
	case errors.Is(err, ErrOracleUnavailable):
		return "oracle_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "internal"
}
