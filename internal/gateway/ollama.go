package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// OllamaClient implements Client against a local Ollama server.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int

	mu           sync.Mutex
	contextSizes map[string]int
}

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultOllamaConfig returns sensible defaults for a local Ollama.
func DefaultOllamaConfig(model string) OllamaConfig {
	return OllamaConfig{
		BaseURL:    "http://localhost:11434",
		Model:      model,
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// NewOllamaClient creates an Ollama client with default config.
func NewOllamaClient(model string) *OllamaClient {
	return NewOllamaClientWithConfig(DefaultOllamaConfig(model))
}

// NewOllamaClientWithConfig creates an Ollama client with custom config.
func NewOllamaClientWithConfig(config OllamaConfig) *OllamaClient {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		maxRetries:   config.MaxRetries,
		contextSizes: make(map[string]int),
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Complete sends a prompt and returns the full completion.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *OllamaClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.Generate(ctx, c.model, systemPrompt, userPrompt)
}

// Generate sends a prompt to a named model instead of the client
// default. Proxied requests carry their own model choice.
func (c *OllamaClient) Generate(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	reqBody := generateRequest{
		Model:  model,
		Prompt: userPrompt,
		System: systemPrompt,
		Stream: false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return "", classify(ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = classify(err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("generate failed with status %d: %s", resp.StatusCode, string(body))
		}

		var genResp generateResponse
		if err := json.Unmarshal(body, &genResp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if genResp.Error != "" {
			return "", fmt.Errorf("ollama error: %s", genResp.Error)
		}

		return strings.TrimSpace(genResp.Response), nil
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Stream sends a prompt through the chat endpoint and delivers response
// chunks through fn until the model reports done.
func (c *OllamaClient) Stream(ctx context.Context, prompt string, fn func(chunk string) error) error {
	return c.StreamChat(ctx, []ChatTurn{{Role: "user", Content: prompt}}, fn)
}

// ChatTurn is one message in a chat conversation.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChat streams a full conversation through /api/chat.
func (c *OllamaClient) StreamChat(ctx context.Context, turns []ChatTurn, fn func(chunk string) error) error {
	messages := make([]chatMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, chatMessage{Role: t.Role, Content: t.Content})
	}

	reqBody := chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat failed with status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue // Skip malformed chunks, the stream may recover
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := fn(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return classify(err)
	}
	return nil
}

// IsAvailable reports whether the Ollama server is reachable.
func (c *OllamaClient) IsAvailable(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the names of all locally available models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tags failed with status %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to parse tags: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

var numCtxPattern = regexp.MustCompile(`num_ctx["\s]+(\d+)`)

// ContextSize returns the model's context window size in tokens.
// Falls back to 4096 when the model metadata does not declare one.
// Results are cached per model.
func (c *OllamaClient) ContextSize(ctx context.Context, model string) int {
	const defaultSize = 4096

	c.mu.Lock()
	if size, ok := c.contextSizes[model]; ok {
		c.mu.Unlock()
		return size
	}
	c.mu.Unlock()

	jsonData, err := json.Marshal(map[string]string{"name": model})
	if err != nil {
		return defaultSize
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/show", bytes.NewReader(jsonData))
	if err != nil {
		return defaultSize
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return defaultSize
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return defaultSize
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return defaultSize
	}

	size := defaultSize
	if m := numCtxPattern.FindSubmatch(body); m != nil {
		if parsed, err := strconv.Atoi(string(m[1])); err == nil && parsed > 0 {
			size = parsed
		}
	}

	c.mu.Lock()
	c.contextSizes[model] = size
	c.mu.Unlock()
	return size
}

type pullChunk struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Pull downloads a model, reporting progress status lines through fn.
func (c *OllamaClient) Pull(ctx context.Context, model string, fn func(status string)) error {
	jsonData, err := json.Marshal(map[string]string{"name": model})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/pull", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull failed with status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk pullChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return fmt.Errorf("pull error: %s", chunk.Error)
		}
		if chunk.Status != "" && fn != nil {
			fn(chunk.Status)
		}
	}
	return scanner.Err()
}

// EnsureModel pulls model unless the server already has it. fn receives
// pull progress; nil is fine.
func (c *OllamaClient) EnsureModel(ctx context.Context, model string, fn func(status string)) error {
	models, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m == model {
			return nil
		}
	}
	return c.Pull(ctx, model, fn)
}

// SetModel changes the model used for completions.
func (c *OllamaClient) SetModel(model string) {
	c.model = model
}

// Model returns the current model.
func (c *OllamaClient) Model() string {
	return c.model
}

// BaseURL returns the server base URL.
func (c *OllamaClient) BaseURL() string {
	return c.baseURL
}
