package vibe

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/engine"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

// Options tune one harness run.
type Options struct {
	// Iterations per phrase. Defaults to 5.
	Iterations int

	// Threshold is the passed-phrase fraction the corpus must reach.
	// Defaults to 0.60.
	Threshold float64

	// Model and AnalysisModel are recorded in the report.
	Model         string
	AnalysisModel string
}

// Runner executes the corpus against one engine. Each run owns its own
// trial records; concurrent runs never share aggregation state.
type Runner struct {
	engine   *engine.Engine
	registry *skills.Registry
	opts     Options
	logger   *zap.Logger
	onPhrase func(PhraseResult)
}

// NewRunner creates a harness runner.
func NewRunner(eng *engine.Engine, reg *skills.Registry, opts Options, logger *zap.Logger) *Runner {
	if opts.Iterations <= 0 {
		opts.Iterations = 5
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 0.60
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{engine: eng, registry: reg, opts: opts, logger: logger}
}

// OnPhrase registers a progress callback invoked after each phrase
// finishes its iterations.
func (r *Runner) OnPhrase(fn func(PhraseResult)) {
	r.onPhrase = fn
}

// Run drives the full corpus. Per-trial failures degrade scores instead
// of aborting; only context cancellation stops the run early.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	cases := FromRegistry(r.registry)
	report := &Report{
		Model:         r.opts.Model,
		AnalysisModel: r.opts.AnalysisModel,
		StartedAt:     time.Now().UTC(),
		Iterations:    r.opts.Iterations,
		Threshold:     r.opts.Threshold,
		Phrases:       make([]PhraseResult, 0, len(cases)),
	}
	start := time.Now()

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pr, err := r.runPhrase(ctx, c)
		if err != nil {
			return nil, err
		}
		report.Phrases = append(report.Phrases, pr)
		if r.onPhrase != nil {
			r.onPhrase(pr)
		}
	}

	report.Elapsed = time.Since(start)
	report.finalize()
	r.logger.Info("vibe run complete",
		zap.String("model", report.Model),
		zap.Int("phrases", len(report.Phrases)),
		zap.Float64("success_rate", report.SuccessRate),
		zap.Bool("passed", report.Passed))
	return report, nil
}

// runPhrase performs the N iterations for one corpus case.
func (r *Runner) runPhrase(ctx context.Context, c Case) (PhraseResult, error) {
	pr := PhraseResult{
		Phrase:     c.Phrase,
		Skill:      c.Expected,
		Iterations: r.opts.Iterations,
	}
	times := make([]time.Duration, 0, r.opts.Iterations)

	for i := 0; i < r.opts.Iterations; i++ {
		result, err := r.engine.Dispatch(ctx, c.Phrase)
		if err != nil {
			// Cancellation aborts the run; anything else is a trial
			// outcome, not a harness failure.
			return pr, err
		}
		times = append(times, result.Elapsed)

		if out, ok := result.Outcomes[c.Expected]; ok && out.Activated {
			pr.Activations++
			if len(c.Params) > 0 {
				pr.ParamChecks++
				if paramsMatch(c.Params, out.Args) {
					pr.ParamMatches++
				}
			}
		}
		for name, out := range result.Outcomes {
			if name != c.Expected && out.Activated {
				if pr.FalsePositives == nil {
					pr.FalsePositives = make(map[string]int)
				}
				pr.FalsePositives[name]++
			}
		}
	}

	pr.Latency = ComputeTiming(times)
	pr.SuccessRate = float64(pr.Activations) / float64(pr.Iterations) * 100
	pr.Passed = pr.Activations*2 > pr.Iterations
	return pr, nil
}
