package aiprovider

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/tablestack/posmigrate/internal/resilience"
)

// anthropicProvider implements Provider using the official anthropic-sdk-go.
type anthropicProvider struct {
	client sdk.Client
	model  string
}

// NewAnthropic creates a Provider backed by the Anthropic Messages API.
func NewAnthropic(apiKey, model string) Provider {
	return &anthropicProvider{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		model: model,
	}
}

func (p *anthropicProvider) Model() string {
	return p.model
}

func (p *anthropicProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: req.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
		Temperature: sdk.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var content string
	for _, b := range msg.Content {
		if b.Type == "" || b.Type == "text" {
			content += b.Text
		}
	}

	return &GenerateResponse{
		Content: content,
		Model:   string(msg.Model),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

// classify wraps SDK errors, tagging throttling and server-side failures
// as transient so callers retry or fall back instead of aborting.
func classify(err error) error {
	var apiErr *sdk.Error
	if eris.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(
			eris.Wrap(err, "anthropic: generate"),
			apiErr.StatusCode,
		)
	}
	return eris.Wrap(err, "anthropic: generate")
}
