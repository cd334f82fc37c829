package domain

import (
	"fmt"
	"strings"
)

// DefaultPipeline is used when a request does not name one.
const DefaultPipeline = "default"

// Message is a single role-tagged dialogue message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// DialogueRequest is the standard conversation input shared by every stage.
type DialogueRequest struct {
	History         []Message `json:"history,omitempty"`
	NewUtterance    string    `json:"new_utterance,omitempty"`
	Pipeline        string    `json:"pipeline,omitempty"`
	Temperature     *float64  `json:"temperature,omitempty"`
	MaxOutputTokens *int      `json:"max_output_tokens,omitempty"`
}

// PipelineKey returns the requested pipeline or the default one.
func (r DialogueRequest) PipelineKey() string {
	if strings.TrimSpace(r.Pipeline) == "" {
		return DefaultPipeline
	}
	return r.Pipeline
}

// Validate checks the request invariants without building the dialogue.
func (r DialogueRequest) Validate() error {
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature %.2f outside [0,2]", ErrInvalidMessage, *r.Temperature)
	}
	if r.MaxOutputTokens != nil && *r.MaxOutputTokens < 1 {
		return fmt.Errorf("%w: max_output_tokens must be >= 1", ErrInvalidMessage)
	}
	_, err := Normalize(r.History, r.NewUtterance)
	return err
}

// Dialogue returns the canonical ordered message sequence for the request.
func (r DialogueRequest) Dialogue() ([]Message, error) {
	return Normalize(r.History, r.NewUtterance)
}

// Utterance returns the newest user text: the new utterance when present,
// otherwise the last user message in the history.
func (r DialogueRequest) Utterance() string {
	if u := strings.TrimSpace(r.NewUtterance); u != "" {
		return u
	}
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Role == RoleUser {
			return r.History[i].Content
		}
	}
	return ""
}

// Normalize merges ordered history with an optional new utterance. A
// non-blank utterance is trimmed and appended as a final user message.
func Normalize(history []Message, utterance string) ([]Message, error) {
	msgs := make([]Message, 0, len(history)+1)
	for i, m := range history {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("%w: history[%d] has role %q", ErrInvalidMessage, i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return nil, fmt.Errorf("%w: history[%d] has empty content", ErrInvalidMessage, i)
		}
		msgs = append(msgs, m)
	}
	if u := strings.TrimSpace(utterance); u != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: u})
	}
	if len(msgs) == 0 {
		return nil, ErrEmptyDialogue
	}
	return msgs, nil
}

// LastN returns at most n trailing messages. n <= 0 returns all of them.
func LastN(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
