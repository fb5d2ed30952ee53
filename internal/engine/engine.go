// Package engine orchestrates one dispatch cycle: for a single user
// utterance it votes every registered skill in or out, extracts typed
// parameters for the activated ones, runs them in the sandbox, and
// aggregates the results keyed by skill name.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/coerce"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/gateway"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/sandbox"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

// State tracks one skill through a dispatch cycle.
type State int

const (
	Pending State = iota
	Activating
	Extracting
	Executing
	Done
	Skipped
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Activating:
		return "activating"
	case Extracting:
		return "extracting"
	case Executing:
		return "executing"
	case Done:
		return "done"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal record for one skill in one cycle. Err is set
// only in the Failed state and keeps the originating error.
type Outcome struct {
	Skill     string
	State     State
	Activated bool
	Args      map[string]interface{}
	Lines     []string
	Err       error
	Elapsed   time.Duration
}

// Result aggregates a whole cycle. Outcomes are keyed by skill name so
// the activation set is identical regardless of response arrival order.
type Result struct {
	Utterance string
	Outcomes  map[string]*Outcome
	Elapsed   time.Duration

	order []string
}

// Ordered returns outcomes in registry order.
func (r *Result) Ordered() []*Outcome {
	out := make([]*Outcome, 0, len(r.order))
	for _, name := range r.order {
		if o, ok := r.Outcomes[name]; ok {
			out = append(out, o)
		}
	}
	return out
}

// Executed returns the outcomes that ran to completion.
func (r *Result) Executed() []*Outcome {
	var out []*Outcome
	for _, o := range r.Ordered() {
		if o.State == Done {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the outcomes that ended in an error.
func (r *Result) Failed() []*Outcome {
	var out []*Outcome
	for _, o := range r.Ordered() {
		if o.State == Failed {
			out = append(out, o)
		}
	}
	return out
}

// Activated returns the names of skills that won their activation vote,
// in registry order.
func (r *Result) Activated() []string {
	var out []string
	for _, o := range r.Ordered() {
		if o.Activated {
			out = append(out, o.Skill)
		}
	}
	return out
}

// ContextBlock renders executed skill output as context for the chat
// model. Empty when nothing ran.
func (r *Result) ContextBlock() string {
	executed := r.Executed()
	if len(executed) == 0 {
		return ""
	}
	var b strings.Builder
	for _, o := range executed {
		fmt.Fprintf(&b, "You chose to use the '%s' skill, which returned the following information:\n\n", o.Skill)
		b.WriteString(strings.Join(o.Lines, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("Please use this information to answer the user's question. Treat the skill output as guaranteed truth.")
	return b.String()
}

// Options tune a dispatch engine.
type Options struct {
	// Role restricts dispatch to skills in one category. Empty means all.
	Role string

	// Workers bounds concurrent gateway calls. Defaults to 4.
	Workers int

	// CallTimeout bounds each individual gateway call. Zero disables it.
	CallTimeout time.Duration
}

// Engine runs dispatch cycles. It borrows read-only skill snapshots from
// the registry and owns no state between cycles.
type Engine struct {
	gateway  gateway.Client
	registry *skills.Registry
	sandbox  *sandbox.Executor
	opts     Options
	logger   *zap.Logger
}

// New creates an engine.
func New(gw gateway.Client, registry *skills.Registry, sb *sandbox.Executor, opts Options, logger *zap.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		gateway:  gw,
		registry: registry,
		sandbox:  sb,
		opts:     opts,
		logger:   logger,
	}
}

// Dispatch runs one full cycle for an utterance. Per-skill failures are
// isolated into their outcomes; the returned error reflects only context
// cancellation of the cycle itself.
func (e *Engine) Dispatch(ctx context.Context, utterance string) (*Result, error) {
	start := time.Now()
	candidates := e.registry.List(e.opts.Role)

	result := &Result{
		Utterance: utterance,
		Outcomes:  make(map[string]*Outcome, len(candidates)),
		order:     make([]string, 0, len(candidates)),
	}
	for _, sk := range candidates {
		result.order = append(result.order, sk.Name)
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Workers)
	for _, sk := range candidates {
		sk := sk
		g.Go(func() error {
			outcome := e.dispatchOne(ctx, utterance, sk)
			mu.Lock()
			result.Outcomes[sk.Name] = outcome
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	result.Elapsed = time.Since(start)
	e.logger.Debug("dispatch cycle complete",
		zap.String("utterance", utterance),
		zap.Strings("activated", result.Activated()),
		zap.Duration("elapsed", result.Elapsed))
	return result, ctx.Err()
}

// dispatchOne walks a single skill through the state machine.
func (e *Engine) dispatchOne(ctx context.Context, utterance string, sk *skills.Skill) *Outcome {
	start := time.Now()
	out := &Outcome{Skill: sk.Name, State: Activating}
	defer func() { out.Elapsed = time.Since(start) }()

	verdict, err := e.vote(ctx, utterance, sk)
	if err != nil {
		out.State = Failed
		out.Err = err
		return out
	}
	if verdict != Affirmed {
		// Denied and Unparseable both skip: fail closed.
		out.State = Skipped
		return out
	}
	out.Activated = true

	if len(sk.Parameters) > 0 {
		out.State = Extracting
		args, err := e.extract(ctx, utterance, sk)
		if err != nil {
			out.State = Failed
			out.Err = err
			return out
		}
		out.Args = args
	}

	out.State = Executing
	execStart := time.Now()
	lines, err := e.sandbox.Run(ctx, sk.Name, sk.Source, out.Args)
	e.registry.RecordExecution(sk.Name, err == nil, time.Since(execStart))
	out.Lines = lines
	if err != nil {
		out.State = Failed
		out.Err = err
		return out
	}
	out.State = Done
	return out
}

// vote issues the activation query and parses the answer.
func (e *Engine) vote(ctx context.Context, utterance string, sk *skills.Skill) (Verdict, error) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	response, err := e.gateway.Complete(callCtx, activationPrompt(utterance, sk))
	if err != nil {
		return Unparseable, fmt.Errorf("activation vote for %q: %w", sk.Name, err)
	}
	verdict := ParseVerdict(response)
	if verdict == Unparseable {
		e.logger.Debug("unparseable activation vote",
			zap.String("skill", sk.Name),
			zap.String("response", response))
	}
	return verdict, nil
}

// extract issues one query per declared parameter and coerces each
// answer. Required parameters propagate their failures; optional ones
// that fail to coerce are dropped.
func (e *Engine) extract(ctx context.Context, utterance string, sk *skills.Skill) (map[string]interface{}, error) {
	args := make(map[string]interface{}, len(sk.Parameters))
	for _, p := range sk.Parameters {
		callCtx, cancel := e.callContext(ctx)
		response, err := e.gateway.Complete(callCtx, extractionPrompt(utterance, sk, p))
		cancel()
		if err != nil {
			return nil, fmt.Errorf("extracting %q for %q: %w", p.Name, sk.Name, err)
		}

		value, cerr := coerce.Value(p.Name, p.Kind, response)
		if cerr != nil {
			if p.Required {
				return nil, cerr
			}
			var missing *coerce.MissingParameterError
			if !errors.As(cerr, &missing) {
				e.logger.Debug("dropping optional parameter",
					zap.String("skill", sk.Name),
					zap.String("parameter", p.Name),
					zap.Error(cerr))
			}
			continue
		}
		args[p.Name] = value
	}
	return args, nil
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.CallTimeout > 0 {
		return context.WithTimeout(ctx, e.opts.CallTimeout)
	}
	return context.WithCancel(ctx)
}
