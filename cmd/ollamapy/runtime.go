package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/engine"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/gateway"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/sandbox"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

// runtime is the wiring every command shares: the sandbox, the registry
// seeded with built-ins, and the file store the registry persists to.
type runtime struct {
	registry *skills.Registry
	sandbox  *sandbox.Executor
	store    *skills.FileStore
}

func buildRuntime() (*runtime, error) {
	sb := sandbox.New(cfg.GetExecTimeout(), logger)
	for name, pkgs := range skills.BuiltinImportExceptions {
		sb.Allow(name, pkgs...)
	}

	reg := skills.NewRegistry(sb.Check, logger)
	if err := reg.SeedBuiltins(); err != nil {
		return nil, fmt.Errorf("seeding built-in skills: %w", err)
	}

	store, err := skills.NewFileStore(cfg.Skills.Dir, logger)
	if err != nil {
		return nil, err
	}
	_, failures := store.LoadInto(reg)
	for _, f := range failures {
		fmt.Fprintf(os.Stderr, "skipping skill record %s: %v\n", f.File, f.Err)
	}
	reg.AttachStore(store)

	return &runtime{registry: reg, sandbox: sb, store: store}, nil
}

// startWatcher hot-reloads the skill store while a long-running command
// is up. Returns a no-op stop function when watching is disabled.
func (rt *runtime) startWatcher(ctx context.Context) (stop func(), err error) {
	if !cfg.Skills.Watch {
		return func() {}, nil
	}
	w, err := skills.NewWatcher(rt.store, rt.registry, logger)
	if err != nil {
		return nil, fmt.Errorf("starting skill watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting skill watcher: %w", err)
	}
	return w.Stop, nil
}

// ollamaClient builds an Ollama client for one model using the
// configured gateway settings.
func ollamaClient(baseURL, model string) *gateway.OllamaClient {
	return gateway.NewOllamaClientWithConfig(gateway.OllamaConfig{
		BaseURL:    baseURL,
		Model:      model,
		Timeout:    cfg.GetGatewayTimeout(),
		MaxRetries: cfg.Gateway.MaxRetries,
	})
}

// dispatchGateway builds the client that answers activation votes and
// parameter extraction for one model, honoring the configured provider.
func dispatchGateway(ctx context.Context, model string) (gateway.Client, error) {
	switch cfg.Gateway.Provider {
	case "gemini":
		return gateway.NewGeminiClient(ctx, cfg.Gateway.APIKey, model)
	default:
		return ollamaClient(cfg.Gateway.BaseURL, model), nil
	}
}

// voteModel resolves which model issues activation votes. An explicit
// --analysis-model wins, then an explicit --model, then config.
func voteModel() string {
	if flagAnalysisModel != "" {
		return cfg.Gateway.AnalysisModel
	}
	if flagModel != "" {
		return cfg.Gateway.Model
	}
	if cfg.Gateway.AnalysisModel != "" {
		return cfg.Gateway.AnalysisModel
	}
	return cfg.Gateway.Model
}

func newEngine(gw gateway.Client, rt *runtime) *engine.Engine {
	return engine.New(gw, rt.registry, rt.sandbox, engine.Options{
		Workers:     cfg.Engine.Workers,
		CallTimeout: cfg.GetCallTimeout(),
	}, logger)
}
