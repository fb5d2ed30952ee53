package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/chat"
)

// runChat starts the interactive terminal chat. Skill dispatch runs
// before every reply; the TUI renders what activated.
func runChat(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chatClient := ollamaClient(cfg.Gateway.BaseURL, cfg.Gateway.Model)
	if !chatClient.IsAvailable(ctx) {
		return fmt.Errorf("no Ollama server at %s (start one with `ollama serve`)", cfg.Gateway.BaseURL)
	}
	if err := chatClient.EnsureModel(ctx, cfg.Gateway.Model, func(status string) {
		fmt.Printf("pulling %s: %s\n", cfg.Gateway.Model, status)
	}); err != nil {
		return fmt.Errorf("model %s not available: %w", cfg.Gateway.Model, err)
	}

	gw, err := dispatchGateway(ctx, voteModel())
	if err != nil {
		return err
	}
	eng := newEngine(gw, rt)

	stopWatch, err := rt.startWatcher(ctx)
	if err != nil {
		return err
	}
	defer stopWatch()

	session := chat.NewSession(chatClient, eng, chatSystem, logger)
	return chat.Run(session, chatClient, rt.registry)
}
