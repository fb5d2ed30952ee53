// Package skillgen generates new skills end to end: a chain of focused
// model queries builds a plan one field at a time, the sandbox proves
// the generated source compiles and runs, and the result is registered
// unverified so a human reviews it before it earns trust.
package skillgen

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/aiquery"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/coerce"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/engine"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/gateway"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/sandbox"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

// Plan is a skill under construction, filled in step by step.
type Plan struct {
	Idea        string
	Name        string
	Description string
	Role        string
	VibePhrases []string
	Parameters  []skills.Parameter
	Source      string
}

// StepResults records how far an attempt got.
type StepResults struct {
	PlanCreated      bool
	ValidationPassed bool
	Registered       bool
	VibePassed       bool
}

// Result is the outcome of one generation request.
type Result struct {
	Success    bool
	Skill      *skills.Skill
	Plan       *Plan
	Steps      StepResults
	Errors     []string
	Elapsed    time.Duration
	Attempts   int
	VibePassed bool
}

// Options tune the generator.
type Options struct {
	// MaxAttempts per skill. Defaults to 3.
	MaxAttempts int

	// TrialTimeout bounds the sandbox trial run. Defaults to 10s.
	TrialTimeout time.Duration
}

// Generator drives the incremental generation pipeline.
type Generator struct {
	gateway  gateway.Client
	query    *aiquery.Query
	registry *skills.Registry
	sandbox  *sandbox.Executor
	opts     Options
	logger   *zap.Logger
}

// New creates a generator over an existing registry and sandbox.
func New(gw gateway.Client, query *aiquery.Query, reg *skills.Registry, sb *sandbox.Executor, opts Options, logger *zap.Logger) *Generator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.TrialTimeout <= 0 {
		opts.TrialTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		gateway:  gw,
		query:    query,
		registry: reg,
		sandbox:  sb,
		opts:     opts,
		logger:   logger,
	}
}

// Generate builds, validates, trial-runs, and registers one skill. A
// provided idea is used as-is; an empty idea is invented by the model.
// Step failures retry up to MaxAttempts; only context cancellation is
// returned as an error.
func (g *Generator) Generate(ctx context.Context, idea string) (*Result, error) {
	start := time.Now()
	result := &Result{}

	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Attempts = attempt
		result.Steps = StepResults{}
		g.logger.Info("generation attempt", zap.Int("attempt", attempt), zap.Int("max", g.opts.MaxAttempts))

		plan, err := g.buildPlan(ctx, idea)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.Errors = append(result.Errors, fmt.Sprintf("attempt %d: %v", attempt, err))
			continue
		}
		result.Plan = plan
		result.Steps.PlanCreated = true

		if errs := g.validatePlan(ctx, plan); len(errs) > 0 {
			for _, e := range errs {
				result.Errors = append(result.Errors, fmt.Sprintf("attempt %d: %s", attempt, e))
			}
			g.logger.Warn("plan validation failed", zap.Strings("errors", errs))
			continue
		}
		result.Steps.ValidationPassed = true

		skill := &skills.Skill{
			Name:        plan.Name,
			Description: plan.Description,
			Role:        plan.Role,
			VibePhrases: plan.VibePhrases,
			Parameters:  plan.Parameters,
			Source:      plan.Source,
			Verified:    false,
		}
		if err := g.registry.Register(skill); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("attempt %d: register: %v", attempt, err))
			continue
		}
		result.Steps.Registered = true
		g.logger.Info("skill registered", zap.String("name", skill.Name))

		passed := g.quickVibeCheck(ctx, skill)
		result.Steps.VibePassed = passed
		result.VibePassed = passed
		result.Success = true
		result.Skill = skill
		result.Elapsed = time.Since(start)
		return result, nil
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

const ideaPrompt = `Generate ONE specific, useful skill idea for an AI assistant.

Think of a practical task that users commonly need help with. Be specific and focused.

Examples of good ideas:
- "Convert text between different cases (uppercase, lowercase, title case)"
- "Calculate compound interest with various compounding periods"
- "Extract email addresses from text"
- "Generate random passwords with specific criteria"

Respond with just the skill idea in one clear sentence. Be specific about what it does.`

// buildPlan runs the seven generation steps in order.
func (g *Generator) buildPlan(ctx context.Context, idea string) (*Plan, error) {
	plan := &Plan{Idea: idea}

	if plan.Idea == "" {
		out, err := g.query.Open(ctx, ideaPrompt, "")
		if err != nil {
			return nil, fmt.Errorf("generating idea: %w", err)
		}
		plan.Idea = out.Content
		g.logger.Info("generated idea", zap.String("idea", plan.Idea))
	}

	name, err := g.query.SingleWord(ctx,
		fmt.Sprintf("What should the function name be for this skill: %s? Use only lowercase letters, numbers, and underscores.", plan.Idea), "")
	if err != nil {
		return nil, fmt.Errorf("generating name: %w", err)
	}
	plan.Name = name.Word

	desc, err := g.query.Open(ctx, fmt.Sprintf(`Based on this skill idea: "%s"

Write a clear, concise description of when this skill should be used.

The description should:
- Be 10-50 words
- Explain WHEN to use this skill
- Be specific about what it does
- Use simple, clear language

Respond with ONLY the description, nothing else.`, plan.Idea), "")
	if err != nil {
		return nil, fmt.Errorf("generating description: %w", err)
	}
	plan.Description = strings.Trim(desc.Content, `"'`)

	role, err := g.query.MultipleChoice(ctx, "What category does this skill belong to?", skills.Roles, plan.Idea)
	if err != nil {
		return nil, fmt.Errorf("choosing role: %w", err)
	}
	plan.Role = role.Value

	phrases, err := g.query.Open(ctx, fmt.Sprintf(`Based on this skill: "%s" (function name: %s)

Generate 5 realistic things a user might say that should trigger this skill.

Make them natural, varied user requests. Think about different ways people might ask for the same thing.

Format as a simple numbered list:
1. First example
2. Second example
3. Third example
4. Fourth example
5. Fifth example

Include the full list, nothing else.`, plan.Idea, plan.Name), "")
	if err != nil {
		return nil, fmt.Errorf("generating trigger phrases: %w", err)
	}
	plan.VibePhrases = parseNumberedList(phrases.Content, 5)

	params, err := g.generateParameters(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("generating parameters: %w", err)
	}
	plan.Parameters = params

	source, err := g.generateSource(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("generating source: %w", err)
	}
	plan.Source = source

	return plan, nil
}

type paramSpec struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// generateParameters asks for a parameter map as JSON. An unparseable
// answer means a parameterless skill, not a failed attempt.
func (g *Generator) generateParameters(ctx context.Context, plan *Plan) ([]skills.Parameter, error) {
	out, err := g.query.Open(ctx, fmt.Sprintf(`Based on this skill: "%s" (function name: %s)

What parameters should this function accept from the user's message?

Respond with ONLY a JSON object mapping parameter names to specs, like:
{"text": {"type": "string", "description": "The text to process", "required": true}}

Valid types are "string", "number", and "boolean". Respond with {} if no parameters are needed.`, plan.Idea, plan.Name), "")
	if err != nil {
		return nil, err
	}

	var specs map[string]paramSpec
	if err := json.Unmarshal([]byte(aiquery.CleanFileContent(out.Content)), &specs); err != nil {
		g.logger.Warn("parameter JSON unparseable, assuming none",
			zap.String("response", out.Content), zap.Error(err))
		return nil, nil
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]skills.Parameter, 0, len(names))
	for _, name := range names {
		spec := specs[name]
		kind := coerce.Kind(spec.Type)
		if !kind.Valid() {
			kind = coerce.String
		}
		params = append(params, skills.Parameter{
			Name:        name,
			Kind:        kind,
			Required:    spec.Required,
			Description: spec.Description,
		})
	}
	return params, nil
}

// generateSource asks for the Execute function body, with the declared
// parameters spelled out so the model reads args correctly.
func (g *Generator) generateSource(ctx context.Context, plan *Plan) (string, error) {
	var paramDoc strings.Builder
	for _, p := range plan.Parameters {
		fmt.Fprintf(&paramDoc, "- %s (%s, required=%t): %s\n", p.Name, p.Kind, p.Required, p.Description)
	}
	if paramDoc.Len() == 0 {
		paramDoc.WriteString("- none\n")
	}

	out, err := g.query.FileContent(ctx, fmt.Sprintf(`Write a small Go source file implementing this skill:

Skill: %s
Description: %s
Parameters:
%s
Rules:
1. Define exactly one function:

   func Execute(args map[string]interface{}, log func(string)) error

2. Read parameters from args with type assertions. Number parameters arrive as float64.
3. Report results by calling log("..."). Return an error instead of panicking.
4. Import only from: fmt, strings, strconv, math, time, encoding/json, regexp, sort.
5. Keep it simple and focused on the described behavior.`,
		plan.Name, plan.Description, paramDoc.String()), "")
	if err != nil {
		return "", err
	}
	return out.Content, nil
}

// validatePlan checks shape, then proves the source compiles and
// survives a trial run in the sandbox.
func (g *Generator) validatePlan(ctx context.Context, plan *Plan) []string {
	var errs []string

	if !validName(plan.Name) {
		errs = append(errs, fmt.Sprintf("invalid skill name %q", plan.Name))
	}
	if len(plan.Description) < 10 {
		errs = append(errs, "description too short")
	}
	if len(plan.VibePhrases) < 3 {
		errs = append(errs, "need at least 3 trigger phrases")
	}
	if !strings.Contains(plan.Source, "Execute") {
		errs = append(errs, "source missing Execute function")
	}
	if len(errs) > 0 {
		return errs
	}

	if err := g.sandbox.Check(plan.Name, plan.Source); err != nil {
		return []string{fmt.Sprintf("source does not compile: %v", err)}
	}

	trialCtx, cancel := context.WithTimeout(ctx, g.opts.TrialTimeout)
	defer cancel()
	if _, err := g.sandbox.Run(trialCtx, plan.Name, plan.Source, trialArgs(plan.Parameters)); err != nil {
		return []string{fmt.Sprintf("trial run failed: %v", err)}
	}
	return nil
}

// trialArgs builds placeholder arguments so the trial run exercises the
// parameter-reading path.
func trialArgs(params []skills.Parameter) map[string]interface{} {
	if len(params) == 0 {
		return map[string]interface{}{}
	}
	args := make(map[string]interface{}, len(params))
	for _, p := range params {
		switch p.Kind {
		case "number":
			args[p.Name] = 1.0
		case "boolean":
			args[p.Name] = true
		default:
			args[p.Name] = "test"
		}
	}
	return args
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}

// quickVibeCheck asks the activation question for the first three
// phrases, twice each; the skill passes at half or better.
func (g *Generator) quickVibeCheck(ctx context.Context, skill *skills.Skill) bool {
	phrases := skill.VibePhrases
	if len(phrases) > 3 {
		phrases = phrases[:3]
	}
	if len(phrases) == 0 {
		return false
	}

	const iterations = 2
	correct, total := 0, 0
	for _, phrase := range phrases {
		hits := 0
		for i := 0; i < iterations; i++ {
			prompt := fmt.Sprintf(`Should the '%s' skill be used for: %q?

Skill description: %s

Answer only 'yes' or 'no'.`, skill.Name, phrase, skill.Description)
			total++
			response, err := g.gateway.Complete(ctx, prompt)
			if err != nil {
				g.logger.Warn("vibe check call failed", zap.Error(err))
				continue
			}
			if engine.ParseVerdict(response) == engine.Affirmed {
				hits++
				correct++
			}
		}
		g.logger.Debug("vibe check phrase",
			zap.String("phrase", phrase),
			zap.Int("hits", hits),
			zap.Int("iterations", iterations))
	}

	rate := float64(correct) / float64(total) * 100
	passed := rate >= 50.0
	g.logger.Info("quick vibe check",
		zap.String("skill", skill.Name),
		zap.Int("correct", correct),
		zap.Int("total", total),
		zap.Bool("passed", passed))
	return passed
}

// parseNumberedList extracts up to max entries from a numbered or
// dashed list.
func parseNumberedList(content string, max int) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		first := line[0]
		if !(first >= '0' && first <= '9') && first != '-' {
			continue
		}
		phrase := line
		if i := strings.Index(line, "."); i >= 0 {
			phrase = line[i+1:]
		}
		phrase = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(phrase), "-"))
		if phrase != "" {
			out = append(out, phrase)
		}
		if len(out) == max {
			break
		}
	}
	return out
}
