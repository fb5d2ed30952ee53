package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/config"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/logging"
)

var (
	// Global flags
	cfgPath           string
	verbose           bool
	flagModel         string
	flagAnalysisModel string

	// Chat flags
	chatSystem string

	// Shared by every command, built in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd is the base command. Run without arguments it starts the
// interactive chat with skill dispatch enabled.
var rootCmd = &cobra.Command{
	Use:   "ollamapy",
	Short: "OllamaPy - terminal chat with LLM-selected skills",
	Long: `OllamaPy is a terminal chat interface backed by a local Ollama server.

Before each reply, every registered skill is put to an activation vote:
a small analysis model answers yes or no per skill, voted skills have
their parameters extracted from the conversation, and the skill bodies
run in an in-process interpreter sandbox. Whatever the skills print is
folded into the chat context before the main model answers.

Run without arguments to start the interactive chat interface.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runChat,
}

func init() {
	// Set in init rather than in the composite literal: the closure
	// references rootCmd, which would otherwise be an initialization cycle.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if flagModel != "" {
			cfg.Gateway.Model = flagModel
		}
		if flagAnalysisModel != "" {
			cfg.Gateway.AnalysisModel = flagAnalysisModel
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// Interactive mode owns the terminal; keep zap off it unless a
		// log file is configured.
		if cmd == rootCmd && cfg.Logging.File == "" {
			logger = zap.NewNop()
			return nil
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default: ollamapy.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "Chat model (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagAnalysisModel, "analysis-model", "", "Model for activation votes and parameter extraction (overrides config)")

	// Chat flags
	rootCmd.Flags().StringVar(&chatSystem, "system", "", "System prompt for the chat model")

	// Vibetest flags
	vibetestCmd.Flags().IntVarP(&vibeIterations, "iterations", "n", 0, "Iterations per phrase (default: config, 5)")
	vibetestCmd.Flags().Float64Var(&vibeThreshold, "threshold", 0, "Passed-phrase fraction the corpus must reach (default: config, 0.60)")
	vibetestCmd.Flags().StringVarP(&vibeOutput, "output", "o", "", "Write the full report as JSON to this file")
	vibetestCmd.Flags().StringSliceVar(&vibeModels, "models", nil, "Comma-separated models to compare over the same corpus")
	vibetestCmd.Flags().BoolVar(&vibeHistory, "history", false, "Show recent recorded runs instead of running")
	vibetestCmd.Flags().StringVar(&vibeTrend, "trend", "", "Show one skill's recorded trend instead of running")

	// Skillgen flags
	skillgenCmd.Flags().IntVar(&genCount, "count", 1, "Number of skills to generate")
	skillgenCmd.Flags().StringVar(&genIdea, "idea", "", "Seed idea for the first skill (default: model invents one)")

	// Editor flags
	editorCmd.Flags().IntVar(&editorPort, "port", 0, "Listen port (default: config, 5000)")
	editorCmd.Flags().StringVar(&editorSkillsDir, "skills-dir", "", "Skill store directory (overrides config)")

	// Serve flags
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: config, 11435)")
	serveCmd.Flags().StringVar(&serveUpstream, "upstream", "", "Upstream Ollama server (default: config)")

	// Skills flags
	skillsListCmd.Flags().StringVar(&listRole, "role", "", "Only list skills with this role")
	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsShowCmd)

	// Add commands to root
	rootCmd.AddCommand(vibetestCmd)
	rootCmd.AddCommand(skillgenCmd)
	rootCmd.AddCommand(editorCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(skillsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
