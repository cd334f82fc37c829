package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Schema names the mock knows how to answer.
const (
	mockTurnDecision     = "turn_decision"
	mockQueryRecognition = "query_recognition"
	mockSecurityGate     = "security_gate"
	mockAccessResolution = "access_resolution"
	mockActionRouter     = "action_router"
)

// MockSafetyReply is the text the mock returns for crisis utterances.
const MockSafetyReply = "I'm really sorry you're going through this. You deserve support right now. Please reach out to someone you trust or a local crisis line."

var (
	mockCrisisWords = []string{
		"kill myself", "suicide", "suicidal", "end my life", "hurt myself",
		"self-harm", "self harm", "want to die", "hurt someone", "kill someone",
	}
	mockContinuation = []string{"one more thing", "there's more", "to be continued"}
	mockTaskWords    = []string{
		"export", "delete", "remind", "create", "schedule", "analy", "chart",
		"show", "compare", "send", "log ", "track", "notify",
	}
	mockStateWords = []string{
		"slept", "sleep", "mood", "weight", "feel", "tired", "energy",
		"anxiety", "stress", "ate ", "steps", "hours",
	}
	mockDangerWords = []string{
		"password", "hack", "bypass", "steal", "everyone's", "all users",
		"admin", "without them knowing", "impersonate",
	}
	mockThirdPerson = []string{
		" his ", " her ", " their ", " him ", " them ", "'s ", " user ",
	}
	mockSentenceSplit = regexp.MustCompile(`[.;!?\n]+`)
	mockDigits        = regexp.MustCompile(`[0-9]`)
)

// MockClient answers structured-output requests with deterministic
// keyword heuristics. It keys off the response format schema name.
type MockClient struct{}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// CreateChatCompletion returns a mock response.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	responseContent, err := m.generateMockResponse(req)
	if err != nil {
		return nil, err
	}

	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{
				Index: 0,
				Message: &ChatMessage{
					Role:    "assistant",
					Content: responseContent,
				},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{
			PromptTokens:     m.estimateTokens(req),
			CompletionTokens: len(responseContent) / 4,
			TotalTokens:      m.estimateTokens(req) + len(responseContent)/4,
		},
		SystemFingerprint: "mock-fp",
	}, nil
}

// ListModels returns a list of mock models.
func (m *MockClient) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{
		{
			ID:      "mock-gpt-4o-mini",
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "mock",
		},
	}, nil
}

func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) (string, error) {
	if req.ResponseFormat == nil || req.ResponseFormat.JSONSchema == nil {
		return `{}`, nil
	}
	last := lastUserContent(req.Messages)

	var doc any
	switch req.ResponseFormat.JSONSchema.Name {
	case mockTurnDecision:
		doc = mockDecide(last)
	case mockQueryRecognition:
		doc = mockRecognize(last)
	case mockSecurityGate:
		var payload struct {
			Queries []map[string]any `json:"queries"`
		}
		if err := json.Unmarshal([]byte(last), &payload); err != nil {
			return "", fmt.Errorf("mock security gate payload: %w", err)
		}
		doc = mockClassify(payload.Queries)
	case mockAccessResolution:
		var payload struct {
			NeedsAccessCheck []map[string]any `json:"needs_access_check"`
		}
		if err := json.Unmarshal([]byte(last), &payload); err != nil {
			return "", fmt.Errorf("mock access payload: %w", err)
		}
		unresolved := make([]map[string]any, 0, len(payload.NeedsAccessCheck))
		for _, q := range payload.NeedsAccessCheck {
			unresolved = append(unresolved, map[string]any{
				"text":             q["original_fragment"],
				"candidates":       []any{},
				"clarify_question": "Who do you mean? Please share their user id.",
			})
		}
		doc = map[string]any{"resolved": []any{}, "unresolved": unresolved}
	case mockActionRouter:
		var payload struct {
			ConversationID string           `json:"conversation_id"`
			Allowed        []map[string]any `json:"allowed_queries"`
		}
		if err := json.Unmarshal([]byte(last), &payload); err != nil {
			return "", fmt.Errorf("mock router payload: %w", err)
		}
		texts := make([]string, 0, len(payload.Allowed))
		for _, q := range payload.Allowed {
			if s, ok := q["text"].(string); ok {
				texts = append(texts, s)
			}
		}
		doc = map[string]any{"actions": []any{map[string]any{
			"tool": "RESPOND_TO_USER",
			"args": map[string]any{
				"conversation_id": payload.ConversationID,
				"text":            "On it: " + strings.Join(texts, "; "),
			},
			"note": "mock route",
		}}}
	default:
		return `{}`, nil
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func mockDecide(utterance string) map[string]any {
	lower := strings.ToLower(strings.TrimSpace(utterance))
	decision := func(action, text, reason string, confidence float64) map[string]any {
		return map[string]any{
			"action":           action,
			"micro_reply_text": text,
			"reason":           reason,
			"confidence":       confidence,
		}
	}

	if containsAny(lower, mockCrisisWords) {
		return decision("respond_safety", MockSafetyReply, "crisis language detected", 0.95)
	}
	if strings.HasSuffix(lower, "...") || strings.HasSuffix(lower, "…") || strings.HasSuffix(lower, ":") ||
		containsAny(lower, mockContinuation) {
		return decision("wait", "", "message appears to continue", 0.8)
	}
	task := containsAny(lower, mockTaskWords)
	question := strings.Contains(lower, "?")
	switch {
	case task:
		return decision("run_main_flow", "", "request needs planning or tools", 0.7)
	case question:
		return decision("run_reply_flow", "", "direct question", 0.75)
	case mockDigits.MatchString(lower) || containsAny(lower, mockStateWords):
		return decision("micro_reply", "Noted, thanks", "bare state log", 0.85)
	}
	return decision("run_reply_flow", "", "conversational message", 0.6)
}

func mockRecognize(utterance string) map[string]any {
	intents := make([]map[string]any, 0)
	for _, loc := range splitKeepingOffsets(utterance) {
		fragment := utterance[loc[0]:loc[1]]
		intents = append(intents, map[string]any{
			"type":              "user_explicit",
			"summary":           fragment,
			"original_fragment": fragment,
		})
	}
	return map[string]any{"queries": intents}
}

func mockClassify(queries []map[string]any) map[string]any {
	valid := make([]map[string]any, 0)
	access := make([]map[string]any, 0)
	danger := make([]map[string]any, 0)
	for _, q := range queries {
		text := " " + strings.ToLower(fmt.Sprint(q["original_fragment"], " ", q["summary"])) + " "
		switch {
		case containsAny(text, mockDangerWords):
			danger = append(danger, q)
		case containsAny(text, mockThirdPerson):
			access = append(access, q)
		default:
			valid = append(valid, q)
		}
	}
	return map[string]any{
		"valid_queries":      valid,
		"needs_access_check": access,
		"dangerous_queries":  danger,
	}
}

// splitKeepingOffsets returns trimmed sentence spans as byte offsets so the
// fragments stay exact substrings.
func splitKeepingOffsets(s string) [][2]int {
	var spans [][2]int
	start := 0
	add := func(from, to int) {
		seg := s[from:to]
		trimmedLeft := strings.TrimLeft(seg, " \t")
		from += len(seg) - len(trimmedLeft)
		trimmed := strings.TrimRight(trimmedLeft, " \t")
		if trimmed != "" {
			spans = append(spans, [2]int{from, from + len(trimmed)})
		}
	}
	for _, loc := range mockSentenceSplit.FindAllStringIndex(s, -1) {
		add(start, loc[0])
		start = loc[1]
	}
	add(start, len(s))
	return spans
}

func lastUserContent(msgs []ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// estimateTokens provides a rough token count estimate.
func (m *MockClient) estimateTokens(req *ChatCompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}
