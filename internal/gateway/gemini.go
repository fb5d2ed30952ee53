package gateway

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient implements Client against the Google Gemini API. It is a
// drop-in alternative to the local Ollama backend for the activation and
// extraction calls.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Complete sends a prompt and returns the full completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), c.generateConfig(systemPrompt))
	if err != nil {
		return "", classify(err)
	}
	return strings.TrimSpace(result.Text()), nil
}

// Stream delivers the response incrementally through fn.
func (c *GeminiClient) Stream(ctx context.Context, prompt string, fn func(chunk string) error) error {
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, genai.Text(prompt), c.generateConfig("")) {
		if err != nil {
			return classify(err)
		}
		if text := resp.Text(); text != "" {
			if err := fn(text); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *GeminiClient) generateConfig(systemPrompt string) *genai.GenerateContentConfig {
	if systemPrompt == "" {
		return nil
	}
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
}

// SetModel changes the model used for completions.
func (c *GeminiClient) SetModel(model string) {
	c.model = model
}

// Model returns the current model.
func (c *GeminiClient) Model() string {
	return c.model
}
