package llmclient

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// geminiProvider is bound to a single API key, mirroring the one-client-
// per-key-per-model shape GeminiAPIManager used in the original Python
// implementation (one genai.Client per key, rotated round-robin by the
// Key Pool rather than by the provider itself).
type geminiProvider struct {
	client *genai.Client
}

func newGeminiProvider(ctx context.Context, apiKey string) (*geminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llmclient: create genai client: %w", err)
	}
	return &geminiProvider{client: client}, nil
}

func (p *geminiProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("llmclient: empty response from model %s", model)
	}
	return text, nil
}
