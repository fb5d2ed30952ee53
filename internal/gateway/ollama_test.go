package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaTestClient(t *testing.T, handler http.Handler) (*OllamaClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewOllamaClientWithConfig(OllamaConfig{
		BaseURL:    srv.URL,
		Model:      "test-model",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	})
	return client, srv
}

func TestCompleteSendsPromptAndSystem(t *testing.T) {
	var got generateRequest
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(generateResponse{Response: "  the answer  ", Done: true})
	}))

	out, err := client.CompleteWithSystem(context.Background(), "be terse", "what is up")
	require.NoError(t, err)
	assert.Equal(t, "the answer", out, "responses are trimmed")
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, "what is up", got.Prompt)
	assert.Equal(t, "be terse", got.System)
	assert.False(t, got.Stream)
}

func TestCompleteRetriesOnServerError(t *testing.T) {
	var calls int32
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "recovered", Done: true})
	}))

	out, err := client.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))

	_, err := client.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCompleteSurfacesOllamaError(t *testing.T) {
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Error: "model not found"})
	}))

	_, err := client.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestCompleteUnavailableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewOllamaClientWithConfig(OllamaConfig{BaseURL: url, Model: "m", Timeout: time.Second, MaxRetries: 0})
	_, err := client.Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStreamChatDeliversChunksUntilDone(t *testing.T) {
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Len(t, req.Messages, 2)

		flusher := w.(http.Flusher)
		for _, word := range []string{"hello ", "there"} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", word)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
		// Nothing after done may reach the caller.
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"late"},"done":false}`)
	}))

	var chunks []string
	err := client.StreamChat(context.Background(), []ChatTurn{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "hi"},
	}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello ", "there"}, chunks)
}

func TestStreamChatSkipsMalformedLines(t *testing.T) {
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `not json at all`)
		fmt.Fprintln(w, `{"message":{"content":"ok"},"done":false}`)
		fmt.Fprintln(w, `{"done":true}`)
	}))

	var chunks []string
	err := client.Stream(context.Background(), "hi", func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, chunks)
}

func TestStreamChatStopsWhenCallbackErrors(t *testing.T) {
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			fmt.Fprintf(w, `{"message":{"content":"w%d "},"done":false}`+"\n", i)
		}
		fmt.Fprintln(w, `{"done":true}`)
	}))

	stop := fmt.Errorf("enough")
	count := 0
	err := client.Stream(context.Background(), "hi", func(chunk string) error {
		count++
		if count == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, count)
}

func TestIsAvailable(t *testing.T) {
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	assert.True(t, client.IsAvailable(context.Background()))

	down := NewOllamaClientWithConfig(OllamaConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	assert.False(t, down.IsAvailable(context.Background()))
}

func TestListModels(t *testing.T) {
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"models":[{"name":"gemma3:4b"},{"name":"llama3.2:3b"}]}`)
	}))

	names, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemma3:4b", "llama3.2:3b"}, names)
}

func TestContextSizeParsesAndCaches(t *testing.T) {
	var calls int32
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprintln(w, `{"parameters":"num_ctx 8192\nstop \"<end>\""}`)
	}))

	assert.Equal(t, 8192, client.ContextSize(context.Background(), "test-model"))
	assert.Equal(t, 8192, client.ContextSize(context.Background(), "test-model"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second lookup served from cache")
}

func TestContextSizeDefault(t *testing.T) {
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"parameters":"temperature 0.7"}`)
	}))
	assert.Equal(t, 4096, client.ContextSize(context.Background(), "test-model"))
}

func TestPullReportsStatus(t *testing.T) {
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pull", r.URL.Path)
		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		fmt.Fprintln(w, `{"status":"success"}`)
	}))

	var statuses []string
	err := client.Pull(context.Background(), "gemma3:4b", func(status string) {
		statuses = append(statuses, status)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pulling manifest", "success"}, statuses)
}

func TestEnsureModelPullsOnlyWhenMissing(t *testing.T) {
	var pulls int32
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			fmt.Fprintln(w, `{"models":[{"name":"gemma3:4b"}]}`)
		case "/api/pull":
			atomic.AddInt32(&pulls, 1)
			fmt.Fprintln(w, `{"status":"success"}`)
		}
	}))

	require.NoError(t, client.EnsureModel(context.Background(), "gemma3:4b", nil))
	assert.Equal(t, int32(0), atomic.LoadInt32(&pulls), "present model is not pulled")

	require.NoError(t, client.EnsureModel(context.Background(), "llama3.2:3b", nil))
	assert.Equal(t, int32(1), atomic.LoadInt32(&pulls))
}

func TestPullSurfacesError(t *testing.T) {
	client, _ := newOllamaTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"no such model"}`)
	}))
	err := client.Pull(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such model")
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(context.DeadlineExceeded), ErrTimeout)
	assert.ErrorIs(t, classify(fmt.Errorf("dial tcp: connection refused")), ErrUnavailable)
}

func TestSetModel(t *testing.T) {
	client := NewOllamaClient("first")
	assert.Equal(t, "first", client.Model())
	client.SetModel("second")
	assert.Equal(t, "second", client.Model())
	assert.Equal(t, "http://localhost:11434", client.BaseURL())
}
