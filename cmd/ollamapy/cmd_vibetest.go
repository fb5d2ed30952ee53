package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/vibe"
)

var (
	vibeIterations int
	vibeThreshold  float64
	vibeOutput     string
	vibeModels     []string
	vibeHistory    bool
	vibeTrend      string
)

var vibetestCmd = &cobra.Command{
	Use:   "vibetest",
	Short: "Measure how consistently skills activate on their trigger phrases",
	Long: `Runs every skill's vibe phrases through the dispatch engine N times each
and reports activation consistency, parameter extraction accuracy, and
latency percentiles per phrase and per skill.

A phrase passes when its skill activates in a strict majority of
iterations; the corpus passes when enough phrases pass. The exit code
reflects the verdict, so vibetest can gate CI.

With --models, the same corpus is run once per model and the reports are
compared side by side; comparison runs are informational and always exit
zero unless the run itself is interrupted.`,
	RunE: runVibetest,
}

func runVibetest(cmd *cobra.Command, args []string) error {
	if vibeHistory {
		return showVibeHistory()
	}
	if vibeTrend != "" {
		return showSkillTrend(vibeTrend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	stopWatch, err := rt.startWatcher(ctx)
	if err != nil {
		return err
	}
	defer stopWatch()

	iterations := vibeIterations
	if iterations <= 0 {
		iterations = cfg.Vibe.Iterations
	}
	threshold := vibeThreshold
	if threshold <= 0 {
		threshold = cfg.Vibe.PassThreshold
	}

	if len(vibeModels) > 1 {
		return runComparison(ctx, rt, iterations, threshold)
	}

	model := voteModel()
	if len(vibeModels) == 1 {
		model = vibeModels[0]
	}

	gw, err := dispatchGateway(ctx, model)
	if err != nil {
		return err
	}
	runner := vibe.NewRunner(newEngine(gw, rt), rt.registry, vibe.Options{
		Iterations: iterations,
		Threshold:  threshold,
		Model:      model,
	}, logger)

	total := len(vibe.FromRegistry(rt.registry))
	fmt.Printf("Running vibe tests: %d phrases x %d iterations on %s\n\n", total, iterations, model)
	done := 0
	runner.OnPhrase(func(pr vibe.PhraseResult) {
		done++
		mark := "pass"
		if !pr.Passed {
			mark = "FAIL"
		}
		fmt.Printf("  [%d/%d] %s  %-18s %d/%d  %q\n", done, total, mark, pr.Skill, pr.Activations, pr.Iterations, pr.Phrase)
	})

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	report.Render(os.Stdout)
	recordRuns(report)

	if vibeOutput != "" {
		if err := writeJSON(vibeOutput, report); err != nil {
			return err
		}
		fmt.Printf("wrote report to %s\n", vibeOutput)
	}

	if !report.Passed {
		return fmt.Errorf("vibe tests failed: %d/%d phrases passed, needed %.0f%%",
			report.PassedPhrases, len(report.Phrases), threshold*100)
	}
	return nil
}

func runComparison(ctx context.Context, rt *runtime, iterations int, threshold float64) error {
	factory := func(model string) (*vibe.Runner, error) {
		gw, err := dispatchGateway(ctx, model)
		if err != nil {
			return nil, err
		}
		return vibe.NewRunner(newEngine(gw, rt), rt.registry, vibe.Options{
			Iterations: iterations,
			Threshold:  threshold,
			Model:      model,
		}, logger), nil
	}

	fmt.Printf("Comparing %d models over the same corpus\n\n", len(vibeModels))
	cmp, err := vibe.CompareModels(ctx, vibeModels, factory)
	if err != nil {
		return err
	}
	cmp.Render(os.Stdout)

	var reports []*vibe.Report
	for _, outcome := range cmp.Outcomes {
		if outcome.Report != nil {
			reports = append(reports, outcome.Report)
		}
	}
	recordRuns(reports...)

	if vibeOutput != "" {
		if err := writeJSON(vibeOutput, cmp); err != nil {
			return err
		}
		fmt.Printf("wrote comparison to %s\n", vibeOutput)
	}
	return nil
}

// recordRuns persists reports to the run history. Best effort: a broken
// history store degrades to a warning, never a failed run.
func recordRuns(reports ...*vibe.Report) {
	if len(reports) == 0 {
		return
	}
	h, err := vibe.OpenHistory(cfg.Vibe.HistoryPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run history unavailable: %v\n", err)
		return
	}
	defer h.Close()
	for _, report := range reports {
		id, err := h.Record(report)
		if err != nil {
			fmt.Fprintf(os.Stderr, "recording run: %v\n", err)
			continue
		}
		fmt.Printf("recorded run %s\n", id)
	}
}

func showVibeHistory() error {
	h, err := vibe.OpenHistory(cfg.Vibe.HistoryPath, logger)
	if err != nil {
		return err
	}
	defer h.Close()

	runs, err := h.Recent(20)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}
	fmt.Printf("%-36s  %-19s  %-16s  %8s  %8s  %s\n", "RUN", "STARTED", "MODEL", "SUCCESS", "PHRASES", "VERDICT")
	for _, r := range runs {
		verdict := "FAIL"
		if r.Passed {
			verdict = "PASS"
		}
		fmt.Printf("%-36s  %-19s  %-16s  %7.1f%%  %7.1f%%  %s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Model,
			r.SuccessRate,
			r.PassFraction*100,
			verdict)
	}
	return nil
}

func showSkillTrend(skill string) error {
	h, err := vibe.OpenHistory(cfg.Vibe.HistoryPath, logger)
	if err != nil {
		return err
	}
	defer h.Close()

	points, err := h.SkillTrend(skill, 20)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Printf("no recorded runs for %s\n", skill)
		return nil
	}
	fmt.Printf("%s across %d run(s), oldest first:\n\n", skill, len(points))
	fmt.Printf("%-19s  %-16s  %8s  %9s\n", "STARTED", "MODEL", "SUCCESS", "MEAN")
	for _, p := range points {
		fmt.Printf("%-19s  %-16s  %7.1f%%  %7.0fms\n",
			p.StartedAt.Local().Format("2006-01-02 15:04:05"), p.Model, p.SuccessRate, p.MeanMs)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
