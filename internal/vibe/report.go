package vibe

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// PhraseResult aggregates all iterations of one corpus phrase.
type PhraseResult struct {
	Phrase         string         `json:"phrase"`
	Skill          string         `json:"skill"`
	Iterations     int            `json:"iterations"`
	Activations    int            `json:"activations"`
	SuccessRate    float64        `json:"success_rate"`
	FalsePositives map[string]int `json:"false_positives,omitempty"`
	ParamChecks    int            `json:"param_checks"`
	ParamMatches   int            `json:"param_matches"`
	Latency        TimingStats    `json:"latency"`
	Passed         bool           `json:"passed"`
}

// SkillSummary rolls up every phrase labeled with one skill.
type SkillSummary struct {
	Skill           string  `json:"skill"`
	Phrases         int     `json:"phrases"`
	PassedPhrases   int     `json:"passed_phrases"`
	SuccessRate     float64 `json:"success_rate"`
	MeanLatencyMs   float64 `json:"mean_latency_ms"`
	MeanConsistency float64 `json:"mean_consistency"`
}

// Report is one full harness run. A phrase passes when its expected
// skill activated in a strict majority of iterations; the corpus passes
// when the passed-phrase fraction meets the threshold.
type Report struct {
	Model         string         `json:"model"`
	AnalysisModel string         `json:"analysis_model,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	Iterations    int            `json:"iterations"`
	Threshold     float64        `json:"threshold"`
	Phrases       []PhraseResult `json:"phrases"`
	Skills        []SkillSummary `json:"skills"`
	TotalTrials   int            `json:"total_trials"`
	TotalHits     int            `json:"total_hits"`
	SuccessRate   float64        `json:"success_rate"`
	PassedPhrases int            `json:"passed_phrases"`
	PassFraction  float64        `json:"pass_fraction"`
	Passed        bool           `json:"passed"`
	Elapsed       time.Duration  `json:"elapsed_ns"`
}

// finalize computes every derived figure from the phrase results.
func (r *Report) finalize() {
	r.TotalTrials = 0
	r.TotalHits = 0
	r.PassedPhrases = 0

	bySkill := make(map[string]*SkillSummary)
	var order []string
	for i := range r.Phrases {
		p := &r.Phrases[i]
		r.TotalTrials += p.Iterations
		r.TotalHits += p.Activations
		if p.Passed {
			r.PassedPhrases++
		}

		s, ok := bySkill[p.Skill]
		if !ok {
			s = &SkillSummary{Skill: p.Skill}
			bySkill[p.Skill] = s
			order = append(order, p.Skill)
		}
		s.Phrases++
		if p.Passed {
			s.PassedPhrases++
		}
		s.SuccessRate += p.SuccessRate
		s.MeanLatencyMs += p.Latency.MeanMs
		s.MeanConsistency += p.Latency.ConsistencyScore
	}

	r.Skills = r.Skills[:0]
	for _, name := range order {
		s := bySkill[name]
		n := float64(s.Phrases)
		s.SuccessRate /= n
		s.MeanLatencyMs /= n
		s.MeanConsistency /= n
		r.Skills = append(r.Skills, *s)
	}

	if r.TotalTrials > 0 {
		r.SuccessRate = float64(r.TotalHits) / float64(r.TotalTrials) * 100
	}
	if len(r.Phrases) > 0 {
		r.PassFraction = float64(r.PassedPhrases) / float64(len(r.Phrases))
	}
	r.Passed = r.PassFraction >= r.Threshold
}

// MeanLatencyMs averages the per-phrase mean latencies.
func (r *Report) MeanLatencyMs() float64 {
	if len(r.Phrases) == 0 {
		return 0
	}
	var sum float64
	for _, p := range r.Phrases {
		sum += p.Latency.MeanMs
	}
	return sum / float64(len(r.Phrases))
}

// MeanConsistency averages the per-phrase consistency scores.
func (r *Report) MeanConsistency() float64 {
	if len(r.Phrases) == 0 {
		return 0
	}
	var sum float64
	for _, p := range r.Phrases {
		sum += p.Latency.ConsistencyScore
	}
	return sum / float64(len(r.Phrases))
}

// Render writes the human-readable report.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "\nVibe test report: model %s, %d iterations per phrase\n", r.Model, r.Iterations)
	fmt.Fprintf(w, "%s\n\n", r.StartedAt.Local().Format(time.RFC1123))

	for _, s := range r.Skills {
		fmt.Fprintf(w, "  %-18s %3d/%-3d phrases passed   success %5.1f%%   mean %7.1fms   consistency %5.1f\n",
			s.Skill, s.PassedPhrases, s.Phrases, s.SuccessRate, s.MeanLatencyMs, s.MeanConsistency)
	}
	fmt.Fprintln(w)

	for _, p := range r.Phrases {
		mark := "✗"
		if p.Passed {
			mark = "✓"
		}
		fmt.Fprintf(w, "  %s %-18s %2d/%-2d  %6.1fms  %q\n",
			mark, p.Skill, p.Activations, p.Iterations, p.Latency.MeanMs, p.Phrase)
		if len(p.FalsePositives) > 0 {
			names := make([]string, 0, len(p.FalsePositives))
			for name := range p.FalsePositives {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "      false positive: %s (%d/%d)\n", name, p.FalsePositives[name], p.Iterations)
			}
		}
	}

	verdict := "FAILED"
	if r.Passed {
		verdict = "PASSED"
	}
	fmt.Fprintf(w, "\n  Overall: %s. %d/%d phrases passed (%.0f%% needed), trial success rate %.1f%%, elapsed %s\n",
		verdict, r.PassedPhrases, len(r.Phrases), r.Threshold*100, r.SuccessRate, r.Elapsed.Round(time.Millisecond))
}
