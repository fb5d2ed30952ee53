package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/editor"
)

var (
	editorPort      int
	editorSkillsDir string
)

var editorCmd = &cobra.Command{
	Use:   "editor",
	Short: "Serve the skill editor REST API",
	Long: `Starts the HTTP API for browsing, editing, validating, and test-running
skills. Edits persist to the skill store; built-in verified skills are
read-only. Changes made on disk while the server runs are picked up by
the store watcher.`,
	RunE: runEditor,
}

func runEditor(cmd *cobra.Command, args []string) error {
	if editorSkillsDir != "" {
		cfg.Skills.Dir = editorSkillsDir
	}

	rt, err := buildRuntime()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopWatch, err := rt.startWatcher(ctx)
	if err != nil {
		return err
	}
	defer stopWatch()

	port := editorPort
	if port == 0 {
		port = cfg.Editor.Port
	}

	srv := editor.NewServer(rt.registry, rt.sandbox, logger)
	fmt.Printf("skill editor API on http://localhost:%d (%d skills, store: %s)\n",
		port, rt.registry.Count(), cfg.Skills.Dir)
	return srv.Serve(ctx, fmt.Sprintf(":%d", port))
}
