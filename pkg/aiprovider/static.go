package aiprovider

import (
	"context"
	"sync"
)

// Static is a canned-response Provider used by tests and dry runs. It
// returns queued responses in order, then repeats the last one. A queued
// error is returned instead of a response.
type Static struct {
	mu        sync.Mutex
	model     string
	responses []*GenerateResponse
	errs      []error
	calls     int
	requests  []GenerateRequest
}

// NewStatic creates a Static provider for the given model identifier.
func NewStatic(model string) *Static {
	return &Static{model: model}
}

// Respond queues a successful response with the given content and usage.
func (s *Static) Respond(content string, inputTokens, outputTokens int64) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, &GenerateResponse{
		Content: content,
		Model:   s.model,
		Usage:   Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
	})
	s.errs = append(s.errs, nil)
	return s
}

// Fail queues an error response.
func (s *Static) Fail(err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, nil)
	s.errs = append(s.errs, err)
	return s
}

func (s *Static) Model() string {
	return s.model
}

// Calls returns how many Generate calls were made.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastRequest returns the most recent request, or a zero value.
func (s *Static) LastRequest() GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return GenerateRequest{}
	}
	return s.requests[len(s.requests)-1]
}

func (s *Static) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++

	if idx < 0 {
		return &GenerateResponse{Model: s.model}, nil
	}
	if s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	resp := *s.responses[idx]
	return &resp, nil
}
