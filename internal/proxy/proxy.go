// Package proxy serves an Ollama-compatible API in front of a real
// Ollama server. Prompts run through a dispatch cycle first; output
// from any skill that executes is folded into the forwarded prompt as
// plain context, so unmodified Ollama clients get skill-informed
// answers without knowing skills exist.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/engine"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/gateway"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

// streamPacing spaces out chunk writes when replaying a complete
// response as a stream.
const streamPacing = 10 * time.Millisecond

// Server fronts an upstream Ollama with skill dispatch. A nil engine
// turns it into a plain passthrough.
type Server struct {
	upstream *gateway.OllamaClient
	engine   *engine.Engine
	registry *skills.Registry
	logger   *zap.Logger
}

// New wires a proxy over an upstream Ollama client.
func New(upstream *gateway.OllamaClient, eng *engine.Engine, registry *skills.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		upstream: upstream,
		engine:   eng,
		registry: registry,
		logger:   logger,
	}
}

// Router builds the chi router with the Ollama-compatible routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Post("/api/generate", s.generate)
	r.Post("/api/chat", s.chat)
	r.Get("/api/tags", s.tags)
	r.Post("/api/pull", s.pull)
	r.Get("/health", s.health)

	return r
}

// Serve runs the proxy until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.logger.Info("proxy listening",
		zap.String("addr", addr),
		zap.String("upstream", s.upstream.BaseURL()),
		zap.Bool("skills_enabled", s.engine != nil))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

// generateReply is the full /api/generate envelope, also used as the
// terminal chunk of a stream. Duration fields stay zero: the proxy
// replays a response it already holds.
type generateReply struct {
	Model              string `json:"model"`
	CreatedAt          string `json:"created_at"`
	Response           string `json:"response"`
	Done               bool   `json:"done"`
	Context            []int  `json:"context"`
	TotalDuration      int64  `json:"total_duration"`
	LoadDuration       int64  `json:"load_duration"`
	PromptEvalCount    int    `json:"prompt_eval_count"`
	PromptEvalDuration int64  `json:"prompt_eval_duration"`
	EvalCount          int    `json:"eval_count"`
	EvalDuration       int64  `json:"eval_duration"`
}

type generateChunk struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "no JSON body provided")
		return
	}
	if req.Model == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "missing required fields: model, prompt")
		return
	}

	text, err := s.respond(r.Context(), req.Model, req.System, req.Prompt)
	if err != nil {
		s.logger.Error("generate failed", zap.String("model", req.Model), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Stream {
		s.streamGenerate(r.Context(), w, req.Model, text)
		return
	}
	writeJSON(w, http.StatusOK, generateReply{
		Model:           req.Model,
		CreatedAt:       timestamp(),
		Response:        text,
		Done:            true,
		Context:         []int{},
		PromptEvalCount: len(strings.Fields(req.Prompt)),
		EvalCount:       len(strings.Fields(text)),
	})
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

type chatReply struct {
	Model              string      `json:"model"`
	CreatedAt          string      `json:"created_at"`
	Message            chatMessage `json:"message"`
	Done               bool        `json:"done"`
	TotalDuration      int64       `json:"total_duration"`
	LoadDuration       int64       `json:"load_duration"`
	PromptEvalCount    int         `json:"prompt_eval_count"`
	PromptEvalDuration int64       `json:"prompt_eval_duration"`
	EvalCount          int         `json:"eval_count"`
	EvalDuration       int64       `json:"eval_duration"`
}

type chatChunk struct {
	Model     string      `json:"model"`
	CreatedAt string      `json:"created_at"`
	Message   chatMessage `json:"message"`
	Done      bool        `json:"done"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "no JSON body provided")
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "missing required fields: model, messages")
		return
	}

	prompt := userPrompt(req.Messages)
	text, err := s.respond(r.Context(), req.Model, systemPrompt(req.Messages), prompt)
	if err != nil {
		s.logger.Error("chat failed", zap.String("model", req.Model), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Stream {
		s.streamChat(r.Context(), w, req.Model, text)
		return
	}
	writeJSON(w, http.StatusOK, chatReply{
		Model:           req.Model,
		CreatedAt:       timestamp(),
		Message:         chatMessage{Role: "assistant", Content: text},
		Done:            true,
		PromptEvalCount: len(strings.Fields(prompt)),
		EvalCount:       len(strings.Fields(text)),
	})
}

type modelDetails struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

type modelEntry struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt string       `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    modelDetails `json:"details"`
}

func (s *Server) tags(w http.ResponseWriter, r *http.Request) {
	names, err := s.upstream.ListModels(r.Context())
	if err != nil {
		s.logger.Error("listing upstream models failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	models := make([]modelEntry, 0, len(names))
	for _, name := range names {
		models = append(models, modelEntry{
			Name:       name,
			Model:      name,
			ModifiedAt: timestamp(),
			Details:    modelDetails{Families: []string{}},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

func (s *Server) pull(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing model name")
		return
	}
	err := s.upstream.Pull(r.Context(), req.Name, func(status string) {
		s.logger.Debug("pull progress", zap.String("model", req.Name), zap.String("status", status))
	})
	if err != nil {
		s.logger.Error("pull failed", zap.String("model", req.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to pull model")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type healthReply struct {
	Status         string `json:"status"`
	UpstreamOllama bool   `json:"upstream_ollama"`
	SkillsEnabled  bool   `json:"skills_enabled"`
	SkillsCount    int    `json:"skills_count"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	up := s.upstream.IsAvailable(r.Context())
	status := "healthy"
	if !up {
		status = "unhealthy"
	}
	count := 0
	if s.engine != nil && s.registry != nil {
		count = s.registry.Count()
	}
	writeJSON(w, http.StatusOK, healthReply{
		Status:         status,
		UpstreamOllama: up,
		SkillsEnabled:  s.engine != nil,
		SkillsCount:    count,
	})
}

// respond produces the final text for one proxied request. Any dispatch
// failure falls back to forwarding the prompt untouched, so the proxy
// never blocks a request it could have passed through.
func (s *Server) respond(ctx context.Context, model, system, prompt string) (string, error) {
	forward := prompt
	if s.engine != nil {
		if enhanced, ok := s.enhance(ctx, prompt); ok {
			forward = enhanced
		}
	}
	text, err := s.upstream.Generate(ctx, model, system, forward)
	if err != nil {
		return "", err
	}
	return cleanResponse(text), nil
}

// enhance runs one dispatch cycle and folds executed skill output into
// the prompt. ok is false when nothing ran.
func (s *Server) enhance(ctx context.Context, prompt string) (string, bool) {
	result, err := s.engine.Dispatch(ctx, prompt)
	if err != nil {
		s.logger.Warn("skill dispatch failed, forwarding unchanged", zap.Error(err))
		return "", false
	}
	executed := result.Executed()
	if len(executed) == 0 {
		return "", false
	}
	names := make([]string, 0, len(executed))
	for _, o := range executed {
		names = append(names, o.Skill)
	}
	s.logger.Info("folding skill output into prompt",
		zap.Strings("skills", names),
		zap.Duration("dispatch", result.Elapsed))
	return foldSkillContext(prompt, executed), true
}

// foldSkillContext rewrites the prompt so skill output reads as plain
// context. Clients like Continue interpret bracketed or tool-call
// shaped text as actions, so the output is embedded as prose instead.
func foldSkillContext(prompt string, executed []*engine.Outcome) string {
	parts := make([]string, 0, len(executed))
	for _, o := range executed {
		parts = append(parts, fmt.Sprintf("Result of the %s skill: %s", o.Skill, strings.Join(o.Lines, " ")))
	}
	return fmt.Sprintf("Context: %s\n\nUser question: %s\n\nPlease provide a helpful response using the context above where relevant.",
		strings.Join(parts, " | "), prompt)
}

var (
	thinkBlocks = regexp.MustCompile(`(?is)<think>.*?</think>`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// cleanResponse strips the reasoning blocks some models emit and
// collapses the blank runs left behind.
func cleanResponse(text string) string {
	cleaned := thinkBlocks.ReplaceAllString(text, "")
	cleaned = blankRuns.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// userPrompt folds every user turn into one prompt. Dispatch reasons
// only about what the user asked for, so other roles are dropped.
func userPrompt(messages []chatMessage) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Role == "user" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func systemPrompt(messages []chatMessage) string {
	for _, m := range messages {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}

func (s *Server) streamGenerate(ctx context.Context, w http.ResponseWriter, model, text string) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	words := strings.Fields(text)
	for i, word := range words {
		piece := word
		if i < len(words)-1 {
			piece += " "
		}
		enc.Encode(generateChunk{
			Model:     model,
			CreatedAt: timestamp(),
			Response:  piece,
		})
		if flusher != nil {
			flusher.Flush()
		}
		if !pace(ctx) {
			return
		}
	}
	enc.Encode(generateReply{
		Model:     model,
		CreatedAt: timestamp(),
		Done:      true,
		Context:   []int{},
		EvalCount: len(words),
	})
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) streamChat(ctx context.Context, w http.ResponseWriter, model, text string) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	words := strings.Fields(text)
	for i, word := range words {
		piece := word
		if i < len(words)-1 {
			piece += " "
		}
		enc.Encode(chatChunk{
			Model:     model,
			CreatedAt: timestamp(),
			Message:   chatMessage{Role: "assistant", Content: piece},
		})
		if flusher != nil {
			flusher.Flush()
		}
		if !pace(ctx) {
			return
		}
	}
	enc.Encode(chatReply{
		Model:     model,
		CreatedAt: timestamp(),
		Message:   chatMessage{Role: "assistant"},
		Done:      true,
		EvalCount: len(words),
	})
	if flusher != nil {
		flusher.Flush()
	}
}

// pace spreads chunk writes out so clients observe incremental output.
// Returns false when the request is gone.
func pace(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(streamPacing):
		return true
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
