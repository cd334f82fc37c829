package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrStubExhausted is returned when a StubClient has no scripted reply left.
var ErrStubExhausted = errors.New("stub client: no scripted response left")

// StubReply is one scripted answer: raw content or an error.
type StubReply struct {
	Content string
	Err     error
}

// StubClient replays scripted replies in order and records every request.
type StubClient struct {
	mu       sync.Mutex
	replies  []StubReply
	requests []ChatCompletionRequest
	models   []Model
}

// NewStubClient creates a stub that answers with the given contents in order.
func NewStubClient(contents ...string) *StubClient {
	s := &StubClient{}
	for _, c := range contents {
		s.replies = append(s.replies, StubReply{Content: c})
	}
	return s
}

// Push appends scripted replies.
func (s *StubClient) Push(replies ...StubReply) *StubClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
	return s
}

// WithModels sets the models returned by ListModels.
func (s *StubClient) WithModels(models ...Model) *StubClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = models
	return s
}

// CreateChatCompletion records the request and returns the next scripted reply.
// A blocked context wins over the script.
func (s *StubClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	s.mu.Lock()
	cp := *req
	cp.Messages = append([]ChatMessage(nil), req.Messages...)
	s.requests = append(s.requests, cp)
	if len(s.replies) == 0 {
		s.mu.Unlock()
		return nil, ErrStubExhausted
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &ChatCompletionResponse{
		ID:     "stub",
		Object: "chat.completion",
		Model:  req.Model,
		Choices: []Choice{{
			Message:      &ChatMessage{Role: "assistant", Content: reply.Content},
			FinishReason: "stop",
		}},
		Usage: &Usage{},
	}, nil
}

// ListModels returns the configured models.
func (s *StubClient) ListModels(ctx context.Context) ([]Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Model(nil), s.models...), nil
}

// Requests returns a copy of every recorded request.
func (s *StubClient) Requests() []ChatCompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatCompletionRequest(nil), s.requests...)
}

// LastRequest returns the most recent request, or nil.
func (s *StubClient) LastRequest() *ChatCompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	r := s.requests[len(s.requests)-1]
	return &r
}
