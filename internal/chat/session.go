// Package chat drives an interactive conversation with a chat model.
// Each user message runs through the skill dispatch engine first, and
// any skill output is folded into the model's context for that one
// exchange.
package chat

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/engine"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/gateway"
)

// DefaultSystemPrompt seeds sessions that don't configure their own.
const DefaultSystemPrompt = "You are a helpful assistant."

// Session holds one conversation. History carries only user and
// assistant turns; the system prompt and any skill context are attached
// per request, never stored.
type Session struct {
	mu      sync.Mutex
	client  *gateway.OllamaClient
	engine  *engine.Engine
	system  string
	history []gateway.ChatTurn
	logger  *zap.Logger
}

// NewSession opens a conversation over client. eng may be nil to chat
// without skill dispatch. An empty system prompt falls back to
// DefaultSystemPrompt.
func NewSession(client *gateway.OllamaClient, eng *engine.Engine, system string, logger *zap.Logger) *Session {
	if system == "" {
		system = DefaultSystemPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		client: client,
		engine: eng,
		system: system,
		logger: logger,
	}
}

// Reply is the outcome of one exchange.
type Reply struct {
	// Text is the assistant's complete response.
	Text string

	// Dispatch is the skill cycle that preceded the response. Nil when
	// the session runs without an engine.
	Dispatch *engine.Result
}

// Send runs one exchange: dispatch skills against input, stream the
// model's answer, and record both turns. onChunk, when non-nil, sees
// each response fragment as it arrives. On error the user turn is
// rolled back so a retry starts clean.
func (s *Session) Send(ctx context.Context, input string, onChunk func(string)) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply := &Reply{}
	if s.engine != nil {
		result, err := s.engine.Dispatch(ctx, input)
		if err != nil {
			return nil, err
		}
		reply.Dispatch = result
	}

	s.history = append(s.history, gateway.ChatTurn{Role: "user", Content: input})

	turns := make([]gateway.ChatTurn, 0, len(s.history)+2)
	turns = append(turns, gateway.ChatTurn{Role: "system", Content: s.system})
	turns = append(turns, s.history...)
	if reply.Dispatch != nil {
		if block := reply.Dispatch.ContextBlock(); block != "" {
			turns = append(turns, gateway.ChatTurn{Role: "system", Content: block})
			s.logger.Debug("folding skill context",
				zap.Strings("skills", reply.Dispatch.Activated()))
		}
	}

	var b strings.Builder
	err := s.client.StreamChat(ctx, turns, func(chunk string) error {
		b.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
		return nil
	})
	if err != nil {
		s.history = s.history[:len(s.history)-1]
		return nil, err
	}

	reply.Text = b.String()
	s.history = append(s.history, gateway.ChatTurn{Role: "assistant", Content: reply.Text})
	return reply, nil
}

// Clear drops the conversation history.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// History returns a copy of the recorded turns.
func (s *Session) History() []gateway.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.ChatTurn, len(s.history))
	copy(out, s.history)
	return out
}

// System reports the session's system prompt.
func (s *Session) System() string {
	return s.system
}
