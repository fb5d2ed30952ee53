package engine

import (
	"context"
	"sync"
)

// --- mockGateway ---

// mockGateway scripts gateway responses per prompt. Safe for concurrent
// dispatch; every prompt is recorded for assertions.
type mockGateway struct {
	CompleteFunc func(ctx context.Context, prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (m *mockGateway) record(prompt string) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
}

func (m *mockGateway) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

func (m *mockGateway) Complete(ctx context.Context, prompt string) (string, error) {
	m.record(prompt)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return "no", nil
}

func (m *mockGateway) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.record(userPrompt)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, userPrompt)
	}
	return "no", nil
}

func (m *mockGateway) Stream(ctx context.Context, prompt string, fn func(chunk string) error) error {
	response, err := m.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	return fn(response)
}
