// Package aiprovider abstracts the language-model provider behind a
// prompt-in, structured-content-plus-usage-out interface so the engine
// never couples to a concrete vendor SDK.
package aiprovider

import "context"

// Usage is the token count charged for one generation call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// GenerateRequest is a single bounded generation call.
type GenerateRequest struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
	// ResponseFormat is a hint for structured output; "json" instructs the
	// provider to emit a bare JSON document.
	ResponseFormat string
}

// GenerateResponse carries the generated content and its token usage.
type GenerateResponse struct {
	Content string
	Model   string
	Usage   Usage
}

// Provider is the swappable AI provider contract. Implementations must
// honor ctx cancellation and should classify throttling and server
// errors as resilience.TransientError.
type Provider interface {
	// Generate produces one completion for the request.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	// Model returns the identifier of the model this provider targets,
	// used for cost attribution.
	Model() string
}
