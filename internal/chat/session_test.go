package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/engine"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/gateway"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/sandbox"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

type chatTurnWire struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequestWire struct {
	Model    string         `json:"model"`
	Messages []chatTurnWire `json:"messages"`
}

// fakeOllama answers /api/chat by streaming the reply word by word, and
// records every request it saw.
type fakeOllama struct {
	mu       sync.Mutex
	reply    string
	fail     bool
	requests []chatRequestWire
}

func (f *fakeOllama) Requests() []chatRequestWire {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chatRequestWire, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/chat" {
		http.NotFound(w, r)
		return
	}
	var req chatRequestWire
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fail := f.fail
	f.mu.Unlock()

	if fail {
		http.Error(w, "model exploded", http.StatusInternalServerError)
		return
	}
	for _, word := range strings.Fields(f.reply) {
		fmt.Fprintf(w, `{"message":{"role":"assistant","content":"%s "},"done":false}`+"\n", word)
	}
	fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
}

func newTestSession(t *testing.T, fake *fakeOllama, eng *engine.Engine) *Session {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client := gateway.NewOllamaClientWithConfig(gateway.OllamaConfig{
		BaseURL: srv.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})
	return NewSession(client, eng, "", nil)
}

func TestSendStreamsAndRecordsHistory(t *testing.T) {
	fake := &fakeOllama{reply: "hello there friend"}
	session := newTestSession(t, fake, nil)

	var chunks []string
	reply, err := session.Send(context.Background(), "hi", func(chunk string) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there friend ", reply.Text)
	assert.Nil(t, reply.Dispatch)
	assert.Len(t, chunks, 3)

	history := session.History()
	require.Len(t, history, 2)
	assert.Equal(t, gateway.ChatTurn{Role: "user", Content: "hi"}, history[0])
	assert.Equal(t, "assistant", history[1].Role)

	// The wire request leads with the default system prompt.
	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	require.NotEmpty(t, reqs[0].Messages)
	assert.Equal(t, "system", reqs[0].Messages[0].Role)
	assert.Equal(t, DefaultSystemPrompt, reqs[0].Messages[0].Content)
}

func TestSendKeepsHistoryAcrossExchanges(t *testing.T) {
	fake := &fakeOllama{reply: "ok"}
	session := newTestSession(t, fake, nil)

	_, err := session.Send(context.Background(), "first", nil)
	require.NoError(t, err)
	_, err = session.Send(context.Background(), "second", nil)
	require.NoError(t, err)

	reqs := fake.Requests()
	require.Len(t, reqs, 2)
	// Second request carries system + first exchange + new user turn.
	require.Len(t, reqs[1].Messages, 4)
	assert.Equal(t, "first", reqs[1].Messages[1].Content)
	assert.Equal(t, "second", reqs[1].Messages[3].Content)
}

func TestSendErrorRollsBackUserTurn(t *testing.T) {
	fake := &fakeOllama{fail: true}
	session := newTestSession(t, fake, nil)

	_, err := session.Send(context.Background(), "doomed", nil)
	require.Error(t, err)
	assert.Empty(t, session.History(), "failed exchange must not pollute history")

	// A retry after recovery starts clean.
	fake.mu.Lock()
	fake.fail = false
	fake.reply = "recovered"
	fake.mu.Unlock()

	reply, err := session.Send(context.Background(), "doomed", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered ", reply.Text)
	assert.Len(t, session.History(), 2)
}

// yesGateway affirms every activation vote.
type yesGateway struct{}

func (yesGateway) Complete(ctx context.Context, prompt string) (string, error) {
	return "yes", nil
}

func (yesGateway) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "yes", nil
}

func (yesGateway) Stream(ctx context.Context, prompt string, fn func(chunk string) error) error {
	return fn("yes")
}

const observationSource = `package main

func Execute(args map[string]interface{}, log func(string)) error {
	log("the sky is green today")
	return nil
}`

func TestSendFoldsSkillContext(t *testing.T) {
	x := sandbox.New(10*time.Second, nil)
	reg := skills.NewRegistry(x.Check, nil)
	require.NoError(t, reg.Register(&skills.Skill{
		Name:        "skyReport",
		Description: "Reports current sky conditions",
		Role:        "information",
		Source:      observationSource,
	}))
	eng := engine.New(yesGateway{}, reg, x, engine.Options{}, nil)

	fake := &fakeOllama{reply: "noted"}
	session := newTestSession(t, fake, eng)

	reply, err := session.Send(context.Background(), "how is the sky?", nil)
	require.NoError(t, err)
	require.NotNil(t, reply.Dispatch)
	assert.Equal(t, []string{"skyReport"}, reply.Dispatch.Activated())

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	assert.Equal(t, "system", last.Role)
	assert.Contains(t, last.Content, "skyReport")
	assert.Contains(t, last.Content, "the sky is green today")

	// Skill context is per-exchange; the stored history holds only the
	// user and assistant turns.
	history := session.History()
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
}

func TestClearResetsHistory(t *testing.T) {
	fake := &fakeOllama{reply: "ok"}
	session := newTestSession(t, fake, nil)

	_, err := session.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.NotEmpty(t, session.History())

	session.Clear()
	assert.Empty(t, session.History())
}
