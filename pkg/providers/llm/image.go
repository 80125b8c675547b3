package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inkforge/orchestrator/pkg/httpclient"
	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/providers"
)

// HTTPImageProvider is a generic REST image-generation adapter for the
// cover subsystem's generate step, built on a retrying httpclient.Client
// rather than a single vendor SDK since no image provider here ships a
// dedicated Go client.
type HTTPImageProvider struct {
	endpoint string
	apiKey   string
	model    string
	client   *httpclient.Client
}

func NewHTTPImageProvider(endpoint, apiKey, model string) *HTTPImageProvider {
	return &HTTPImageProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 90 * time.Second}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type imageResponse struct {
	ImageBase64 string `json:"image_base64"`
	ContentType string `json:"content_type"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *HTTPImageProvider) Generate(ctx context.Context, prompt string, width, height int) (providers.ImageResult, error) {
	body, err := json.Marshal(imageRequest{Model: p.model, Prompt: prompt, Width: width, Height: height})
	if err != nil {
		return providers.ImageResult{}, fmt.Errorf("llm: marshal image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return providers.ImageResult{}, fmt.Errorf("llm: build image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return providers.ImageResult{}, orcherr.Classify(orcherr.Transient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.ImageResult{}, orcherr.Classify(orcherr.Transient, fmt.Errorf("llm: read image response: %w", err))
	}

	var out imageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return providers.ImageResult{}, orcherr.Classify(orcherr.Transient, fmt.Errorf("llm: decode image response: %w", err))
	}
	if out.Error != nil {
		return providers.ImageResult{}, orcherr.Classify(orcherr.Policy, fmt.Errorf("llm: image provider refused: %s", out.Error.Message))
	}

	data, err := base64.StdEncoding.DecodeString(out.ImageBase64)
	if err != nil {
		return providers.ImageResult{}, orcherr.Classify(orcherr.Transient, fmt.Errorf("llm: decode image payload: %w", err))
	}
	contentType := out.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	return providers.ImageResult{Data: data, ContentType: contentType}, nil
}
