package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/inkforge/orchestrator/pkg/providers"
)

// AnthropicVisionProvider is the reference providers.VisionProvider,
// reusing Claude's multimodal input the same way AnthropicProvider uses
// its text-only input: one Messages.New call, this time with an image
// block alongside the instruction asking the model to report back as
// structured JSON.
type AnthropicVisionProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicVisionProvider builds a vision provider for model using
// apiKey. A distinct constructor from NewAnthropicProvider keeps the
// text and vision call sites independently configurable (different
// model, different rate limit) even though both wrap the same SDK
// client type.
func NewAnthropicVisionProvider(apiKey, model string) *AnthropicVisionProvider {
	return &AnthropicVisionProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

type visionVerdict struct {
	HasText      bool     `json:"has_text"`
	SlopPatterns []string `json:"slop_patterns"`
}

func (p *AnthropicVisionProvider) Inspect(ctx context.Context, image []byte, slopPatterns []string) (providers.VisionResult, error) {
	instruction := fmt.Sprintf(
		"Inspect this book cover image. Report whether it contains any rendered text, letters, or numbers anywhere in the frame, and which (if any) of these known generic-AI-art patterns it matches: %s. Respond with only a JSON object: {\"has_text\": bool, \"slop_patterns\": [string]}.",
		strings.Join(slopPatterns, "; "),
	)

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(image)),
				anthropic.NewTextBlock(instruction),
			),
		},
	})
	if err != nil {
		return providers.VisionResult{}, classifyAnthropicError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	var verdict visionVerdict
	if err := json.Unmarshal([]byte(extractJSON(text)), &verdict); err != nil {
		return providers.VisionResult{}, fmt.Errorf("llm: vision verdict is not valid JSON: %w", err)
	}
	return providers.VisionResult{HasText: verdict.HasText, SlopPatterns: verdict.SlopPatterns}, nil
}

// extractJSON trims any leading/trailing prose a model adds around the
// JSON object despite being asked not to, taking the outermost {...}.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
