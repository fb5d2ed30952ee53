package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/aiquery"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/gateway"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/skillgen"
)

var (
	genCount int
	genIdea  string
)

var skillgenCmd = &cobra.Command{
	Use:   "skillgen",
	Short: "Generate new skills with the model, step by step",
	Long: `Builds skills incrementally: the model answers one focused question per
field (name, description, role, vibe phrases, parameters, source), the
source is compile-checked and trial-run in the sandbox, and survivors
are registered unverified and spot-checked against their own vibe
phrases. Generated skills land in the skill store for review.`,
	RunE: runSkillgen,
}

func runSkillgen(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime()
	if err != nil {
		return err
	}

	// Generation wants the big chat model, not the vote model.
	gw, err := dispatchGateway(ctx, cfg.Gateway.Model)
	if err != nil {
		return err
	}

	contextTokens := 4096
	if oc, ok := gw.(*gateway.OllamaClient); ok {
		if !oc.IsAvailable(ctx) {
			return fmt.Errorf("no Ollama server at %s (start one with `ollama serve`)", cfg.Gateway.BaseURL)
		}
		contextTokens = oc.ContextSize(ctx, cfg.Gateway.Model)
	}

	compressor := aiquery.NewCompressor(gw, contextTokens, logger)
	query := aiquery.New(gw, compressor, logger)
	gen := skillgen.New(gw, query, rt.registry, rt.sandbox, skillgen.Options{}, logger)

	succeeded := 0
	for i := 0; i < genCount; i++ {
		idea := ""
		if i == 0 {
			idea = genIdea
		}
		fmt.Printf("generating skill %d/%d", i+1, genCount)
		if idea != "" {
			fmt.Printf(" (idea: %s)", idea)
		}
		fmt.Println()

		result, err := gen.Generate(ctx, idea)
		if err != nil {
			return err
		}
		printGenResult(result)
		if result.Success {
			succeeded++
		}
	}

	fmt.Printf("\n%d/%d skills generated\n", succeeded, genCount)
	if succeeded == 0 {
		return fmt.Errorf("no skills survived generation")
	}
	return nil
}

func printGenResult(r *skillgen.Result) {
	if r.Success {
		fmt.Printf("  ok: %s (%d attempt(s), %s)\n", r.Skill.Name, r.Attempts, r.Elapsed.Round(100*time.Millisecond))
		fmt.Printf("      %s\n", r.Skill.Description)
		if !r.VibePassed {
			fmt.Println("      vibe spot-check failed; review its phrases before trusting activation")
		}
		return
	}
	name := "?"
	if r.Plan != nil && r.Plan.Name != "" {
		name = r.Plan.Name
	}
	fmt.Printf("  failed: %s after %d attempt(s)\n", name, r.Attempts)
	if len(r.Errors) > 0 {
		fmt.Printf("      %s\n", strings.Join(r.Errors, "\n      "))
	}
}
