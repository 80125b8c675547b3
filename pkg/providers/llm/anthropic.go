// Package llm adapts external text-generation APIs to the
// providers.TextProvider interface, one vendor client per adapter.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/providers"
)

// AnthropicProvider is the reference providers.TextProvider backed by
// Claude.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider builds a provider for model using apiKey.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *AnthropicProvider) Generate(ctx context.Context, system, user string, maxTokens int) (providers.TextResult, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return providers.TextResult{}, classifyAnthropicError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return providers.TextResult{}, orcherr.Classify(orcherr.Policy, fmt.Errorf("llm: anthropic returned no text content (stop_reason=%s)", resp.StopReason))
	}

	return providers.TextResult{
		Text:         text,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}

// classifyAnthropicError maps SDK errors to the orchestrator's error
// taxonomy. Authentication failures (401, 403) are Capacity (fatal,
// surfaced to the operator); everything else from the SDK (network,
// 5xx, 429 rate limiting) is Transient and retriable. Quota exhaustion
// is not recognized separately: it is classified by its status code
// like any other response.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return orcherr.Classify(orcherr.Capacity, err)
		case 429:
			return orcherr.ClassifyRetryAfter(err, 0)
		}
	}
	return orcherr.Classify(orcherr.Transient, err)
}
