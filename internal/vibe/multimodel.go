package vibe

import (
	"context"
	"fmt"
	"io"
	"time"
)

// RunnerFactory builds a fresh runner for one model, so each model gets
// its own gateway client and nothing leaks between comparisons.
type RunnerFactory func(model string) (*Runner, error)

// ModelOutcome is one model's slot in a comparison: a report, or the
// error that kept it from running at all.
type ModelOutcome struct {
	Model  string  `json:"model"`
	Report *Report `json:"report,omitempty"`
	Err    string  `json:"error,omitempty"`
}

// Comparison is a multi-model harness run over the same corpus.
type Comparison struct {
	StartedAt time.Time      `json:"started_at"`
	Outcomes  []ModelOutcome `json:"outcomes"`
	Elapsed   time.Duration  `json:"elapsed_ns"`
}

// CompareModels runs the corpus once per model, sequentially, so the
// gateway only serves one model's load at a time.
func CompareModels(ctx context.Context, models []string, factory RunnerFactory) (*Comparison, error) {
	cmp := &Comparison{StartedAt: time.Now().UTC()}
	start := time.Now()

	for _, model := range models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome := ModelOutcome{Model: model}
		runner, err := factory(model)
		if err != nil {
			outcome.Err = err.Error()
			cmp.Outcomes = append(cmp.Outcomes, outcome)
			continue
		}
		report, err := runner.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			outcome.Err = err.Error()
		} else {
			outcome.Report = report
		}
		cmp.Outcomes = append(cmp.Outcomes, outcome)
	}

	cmp.Elapsed = time.Since(start)
	return cmp, nil
}

// Fastest returns the successful outcome with the lowest mean latency.
func (c *Comparison) Fastest() *ModelOutcome {
	var best *ModelOutcome
	for i := range c.Outcomes {
		o := &c.Outcomes[i]
		if o.Report == nil {
			continue
		}
		if best == nil || o.Report.MeanLatencyMs() < best.Report.MeanLatencyMs() {
			best = o
		}
	}
	return best
}

// MostConsistent returns the successful outcome with the highest mean
// consistency score.
func (c *Comparison) MostConsistent() *ModelOutcome {
	var best *ModelOutcome
	for i := range c.Outcomes {
		o := &c.Outcomes[i]
		if o.Report == nil {
			continue
		}
		if best == nil || o.Report.MeanConsistency() > best.Report.MeanConsistency() {
			best = o
		}
	}
	return best
}

// MostAccurate returns the successful outcome with the highest trial
// success rate.
func (c *Comparison) MostAccurate() *ModelOutcome {
	var best *ModelOutcome
	for i := range c.Outcomes {
		o := &c.Outcomes[i]
		if o.Report == nil {
			continue
		}
		if best == nil || o.Report.SuccessRate > best.Report.SuccessRate {
			best = o
		}
	}
	return best
}

// Render writes the comparison table plus the headline insights.
func (c *Comparison) Render(w io.Writer) {
	fmt.Fprintf(w, "\nModel comparison: %d models\n\n", len(c.Outcomes))
	fmt.Fprintf(w, "  %-24s %-10s %-12s %-13s %s\n", "Model", "Success", "Avg Time", "Consistency", "Status")
	for _, o := range c.Outcomes {
		if o.Report == nil {
			fmt.Fprintf(w, "  %-24s %-10s %-12s %-13s error: %s\n", o.Model, "-", "-", "-", o.Err)
			continue
		}
		status := "FAILED"
		if o.Report.Passed {
			status = "PASSED"
		}
		fmt.Fprintf(w, "  %-24s %8.1f%% %10.1fms %12.1f  %s\n",
			o.Model, o.Report.SuccessRate, o.Report.MeanLatencyMs(), o.Report.MeanConsistency(), status)
	}

	if fastest := c.Fastest(); fastest != nil {
		fmt.Fprintf(w, "\n  Fastest: %s (%.1fms mean)\n", fastest.Model, fastest.Report.MeanLatencyMs())
	}
	if consistent := c.MostConsistent(); consistent != nil {
		fmt.Fprintf(w, "  Most consistent: %s (%.1f)\n", consistent.Model, consistent.Report.MeanConsistency())
	}
	if accurate := c.MostAccurate(); accurate != nil {
		fmt.Fprintf(w, "  Most accurate: %s (%.1f%%)\n", accurate.Model, accurate.Report.SuccessRate)
	}
	fmt.Fprintf(w, "  Elapsed: %s\n", c.Elapsed.Round(time.Millisecond))
}
