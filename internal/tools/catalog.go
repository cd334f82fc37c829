package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/xiaot623/gogo/turngate/internal/domain"
)

// CatalogVersion identifies the tool set and argument shapes below.
const CatalogVersion = "2025-06"

// Tool names
const (
	RespondToUser                 = "RESPOND_TO_USER"
	AskClarifyingQuestion         = "ASK_CLARIFYING_QUESTION"
	LogStateEntry                 = "LOG_STATE_ENTRY"
	ExtractParametersFromDialogue = "EXTRACT_PARAMETERS_FROM_DIALOGUE"
	CreateTask                    = "CREATE_TASK"
	RunAnalysis                   = "RUN_ANALYSIS"
	ExportUserData                = "EXPORT_USER_DATA"
	DeleteMyData                  = "DELETE_MY_DATA"
	CreateAttentionFlag           = "CREATE_ATTENTION_FLAG"
)

// ArgType is a declared argument type.
type ArgType string

const (
	ArgString     ArgType = "string"
	ArgInt        ArgType = "int"
	ArgObject     ArgType = "object"
	ArgStringList ArgType = "[]string"
	ArgObjectList ArgType = "[]object"
	ArgEnum       ArgType = "enum"
)

// ArgSpec declares one tool argument.
type ArgSpec struct {
	Name     string   `json:"name"`
	Type     ArgType  `json:"type"`
	Required bool     `json:"required"`
	Nullable bool     `json:"nullable,omitempty"`
	Enum     []string `json:"enum,omitempty"`
	// Keys are string members an object argument must carry.
	Keys    []string `json:"keys,omitempty"`
	Default any      `json:"default,omitempty"`
}

// ToolSpec declares one catalog tool.
type ToolSpec struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Args        []ArgSpec `json:"args"`
}

// Catalog is the fixed, versioned set of dispatchable tools.
type Catalog struct {
	version string
	tools   []ToolSpec
	byName  map[string]ToolSpec
}

// NewCatalog builds a catalog. Names must be unique.
func NewCatalog(version string, specs ...ToolSpec) (*Catalog, error) {
	c := &Catalog{version: version, byName: make(map[string]ToolSpec, len(specs))}
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("tool name is required")
		}
		if _, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %s", s.Name)
		}
		c.byName[s.Name] = s
		c.tools = append(c.tools, s)
	}
	return c, nil
}

func str(name string) ArgSpec { return ArgSpec{Name: name, Type: ArgString, Required: true} }

func optional(a ArgSpec) ArgSpec {
	a.Required = false
	a.Nullable = true
	return a
}

var timeRangeKeys = []string{"from", "to"}

// DefaultCatalog returns the wellness tracker tool set.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(CatalogVersion,
		ToolSpec{
			Name:        RespondToUser,
			Description: "Send a final user-visible reply for this turn.",
			Args:        []ArgSpec{str("conversation_id"), str("text")},
		},
		ToolSpec{
			Name:        AskClarifyingQuestion,
			Description: "Ask one concise question when execution is blocked by missing info.",
			Args:        []ArgSpec{str("conversation_id"), str("question"), optional(str("about"))},
		},
		ToolSpec{
			Name:        LogStateEntry,
			Description: "Write structured wellness entries (mood, sleep, anxiety) extracted from the chat.",
			Args: []ArgSpec{
				str("user_id"), str("conversation_id"),
				{Name: "entries", Type: ArgObjectList, Required: true},
				optional(ArgSpec{Name: "evidence_message_ids", Type: ArgStringList}),
			},
		},
		ToolSpec{
			Name:        ExtractParametersFromDialogue,
			Description: "Extract structured parameters and user-info hints from the recent dialogue window.",
			Args: []ArgSpec{
				str("conversation_id"),
				{Name: "message_window", Type: ArgInt, Default: 12},
			},
		},
		ToolSpec{
			Name:        CreateTask,
			Description: "Create reminders, follow-ups or shadow tasks such as delayed extraction when the user stops replying.",
			Args: []ArgSpec{
				str("owner_user_id"), str("conversation_id"),
				{Name: "task_type", Type: ArgEnum, Required: true, Enum: []string{"reminder", "follow_up", "shadow_extraction", "notify", "other"}},
				str("title"),
				optional(ArgSpec{Name: "schedule", Type: ArgObject}),
				optional(ArgSpec{Name: "payload", Type: ArgObject}),
			},
		},
		ToolSpec{
			Name:        RunAnalysis,
			Description: "Run the analytics or chart pipeline for a user and return computed results for the response.",
			Args: []ArgSpec{
				str("user_id"), str("conversation_id"), str("analysis_type"),
				{Name: "time_range", Type: ArgObject, Required: true, Keys: timeRangeKeys},
				{Name: "metrics", Type: ArgStringList, Required: true},
				optional(ArgSpec{Name: "chart", Type: ArgObject}),
			},
		},
		ToolSpec{
			Name:        ExportUserData,
			Description: "Export the user's own data as CSV, PDF or JSON.",
			Args: []ArgSpec{
				str("user_id"), str("conversation_id"),
				{Name: "format", Type: ArgEnum, Required: true, Enum: []string{"csv", "pdf", "json"}},
				optional(ArgSpec{Name: "time_range", Type: ArgObject, Keys: timeRangeKeys}),
			},
		},
		ToolSpec{
			Name:        DeleteMyData,
			Description: "Request deletion of the user's own data. May require confirmation.",
			Args: []ArgSpec{
				str("user_id"), str("conversation_id"),
				{Name: "scope", Type: ArgEnum, Enum: []string{"all", "time_range", "category"}, Default: "all"},
				optional(str("confirm_token")),
			},
		},
		ToolSpec{
			Name:        CreateAttentionFlag,
			Description: "Create an internal flag for clinician or support review. Not visible to the user.",
			Args: []ArgSpec{
				str("conversation_id"), str("user_id"), str("reason"),
				{Name: "severity", Type: ArgEnum, Enum: []string{"low", "medium", "high"}, Default: "low"},
				optional(ArgSpec{Name: "related_message_ids", Type: ArgStringList}),
			},
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Version returns the catalog version.
func (c *Catalog) Version() string { return c.version }

// Names lists tool names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tools))
	for _, t := range c.tools {
		names = append(names, t.Name)
	}
	return names
}

// Tools returns the tool specs in catalog order.
func (c *Catalog) Tools() []ToolSpec {
	return slices.Clone(c.tools)
}

// Lookup finds a tool by name.
func (c *Catalog) Lookup(name string) (ToolSpec, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// PromptJSON renders the catalog for injection into the router prompt:
// tool name -> description and input shapes.
func (c *Catalog) PromptJSON() string {
	type inputDoc struct {
		Description string            `json:"description"`
		Inputs      map[string]string `json:"inputs"`
	}
	doc := make(map[string]inputDoc, len(c.tools))
	for _, t := range c.tools {
		inputs := make(map[string]string, len(t.Args))
		for _, a := range t.Args {
			inputs[a.Name] = a.shape()
		}
		doc[t.Name] = inputDoc{Description: t.Description, Inputs: inputs}
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

func (a ArgSpec) shape() string {
	s := string(a.Type)
	switch {
	case a.Type == ArgEnum:
		s = "string ("
		for i, v := range a.Enum {
			if i > 0 {
				s += "|"
			}
			s += v
		}
		s += ")"
	case len(a.Keys) > 0:
		s = "object{"
		for i, k := range a.Keys {
			if i > 0 {
				s += ","
			}
			s += k + ":string"
		}
		s += "}"
	}
	if a.Default != nil {
		s += fmt.Sprintf(" (default %v)", a.Default)
	}
	if a.Nullable {
		s += " | null"
	}
	return s
}

// Validate checks args against the declared shape and returns a copy with
// defaults filled in. Integers are normalized to int64.
func (s ToolSpec) Validate(args map[string]any) (map[string]any, error) {
	var problems []string
	declared := make(map[string]ArgSpec, len(s.Args))
	for _, a := range s.Args {
		declared[a.Name] = a
	}

	unknown := make([]string, 0)
	for k := range args {
		if _, ok := declared[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		problems = append(problems, fmt.Sprintf("unknown argument %q", k))
	}

	out := make(map[string]any, len(s.Args))
	for _, a := range s.Args {
		v, present := args[a.Name]
		if !present || v == nil {
			switch {
			case present && a.Nullable:
				out[a.Name] = nil
			case a.Default != nil:
				out[a.Name] = a.Default
				if a.Type == ArgInt {
					out[a.Name] = toInt64(a.Default)
				}
			case a.Required && !present:
				problems = append(problems, fmt.Sprintf("missing required argument %q", a.Name))
			case present:
				problems = append(problems, fmt.Sprintf("argument %q may not be null", a.Name))
			}
			continue
		}
		norm, problem := a.check(v)
		if problem != "" {
			problems = append(problems, fmt.Sprintf("argument %q %s", a.Name, problem))
			continue
		}
		out[a.Name] = norm
	}

	if len(problems) > 0 {
		return nil, &domain.InvalidArgumentsError{Tool: s.Name, Problems: problems}
	}
	return out, nil
}

func (a ArgSpec) check(v any) (any, string) {
	switch a.Type {
	case ArgString:
		if _, ok := v.(string); !ok {
			return nil, fmt.Sprintf("must be a string, got %T", v)
		}
	case ArgEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Sprintf("must be a string, got %T", v)
		}
		if !slices.Contains(a.Enum, s) {
			return nil, fmt.Sprintf("must be one of %v", a.Enum)
		}
	case ArgInt:
		n, ok := asInt(v)
		if !ok {
			return nil, fmt.Sprintf("must be an integer, got %v", v)
		}
		return n, ""
	case ArgObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Sprintf("must be an object, got %T", v)
		}
		for _, k := range a.Keys {
			if _, ok := m[k].(string); !ok {
				return nil, fmt.Sprintf("must carry string member %q", k)
			}
		}
	case ArgStringList:
		switch list := v.(type) {
		case []string:
			return list, ""
		case []any:
			for i, item := range list {
				if _, ok := item.(string); !ok {
					return nil, fmt.Sprintf("item %d must be a string", i)
				}
			}
		default:
			return nil, fmt.Sprintf("must be a list of strings, got %T", v)
		}
	case ArgObjectList:
		switch list := v.(type) {
		case []map[string]any:
			return list, ""
		case []any:
			for i, item := range list {
				if _, ok := item.(map[string]any); !ok {
					return nil, fmt.Sprintf("item %d must be an object", i)
				}
			}
		default:
			return nil, fmt.Sprintf("must be a list of objects, got %T", v)
		}
	}
	return v, ""
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toInt64(v any) int64 {
	n, _ := asInt(v)
	return n
}
