// Package sandbox compiles and runs skill sources in an embedded Go
// interpreter. Sources see exactly their arguments, a log callback, and
// a whitelisted slice of the standard library; nothing else.
package sandbox

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
)

// SkillFunc is the entry point every skill source must define as Execute.
type SkillFunc = func(args map[string]interface{}, log func(string)) error

// ExecutionError wraps any failure while compiling or running one skill.
// It never crosses skill boundaries: a failing skill reports one of these
// while its siblings in the same dispatch cycle run on.
type ExecutionError struct {
	Skill string
	Stage string // compile or run
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("skill %q %s: %v", e.Skill, e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// defaultImports is the baseline whitelist. No file, process, or network
// access; skills that need more get per-name exceptions via Allow.
var defaultImports = map[string]bool{
	"bytes":           true,
	"encoding/base64": true,
	"encoding/json":   true,
	"errors":          true,
	"fmt":             true,
	"math":            true,
	"math/rand":       true,
	"path":            true,
	"path/filepath":   true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
	"unicode/utf8":    true,
}

// compiled is one cached callable. Calls are serialized per skill because
// a yaegi interpreter instance is not safe for concurrent use.
type compiled struct {
	mu   sync.Mutex
	hash [32]byte
	fn   SkillFunc
}

// Executor owns the compiled-callable cache. Entries are keyed by skill
// name and invalidated whenever the source hash changes.
type Executor struct {
	mu      sync.Mutex
	cache   map[string]*compiled
	allow   map[string]map[string]bool
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an executor. timeout bounds each run; zero means the run is
// bounded only by the caller's context.
func New(timeout time.Duration, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cache:   make(map[string]*compiled),
		allow:   make(map[string]map[string]bool),
		timeout: timeout,
		logger:  logger,
	}
}

// Allow grants a named skill extra imports beyond the default whitelist.
func (x *Executor) Allow(name string, pkgs ...string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	set := x.allow[name]
	if set == nil {
		set = make(map[string]bool)
		x.allow[name] = set
	}
	for _, pkg := range pkgs {
		set[pkg] = true
	}
}

// Check compiles a source without running it. The registry uses it as
// its source validator.
func (x *Executor) Check(name, source string) error {
	_, err := x.compiledFor(name, source)
	return err
}

// Run executes a skill source with the given arguments and returns the
// log lines it emitted. Failures, including panics and timeouts, come
// back as *ExecutionError; lines captured before the failure are kept.
func (x *Executor) Run(ctx context.Context, name, source string, args map[string]interface{}) ([]string, error) {
	c, err := x.compiledFor(name, source)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	var linesMu sync.Mutex
	var lines []string
	logFn := func(msg string) {
		linesMu.Lock()
		lines = append(lines, msg)
		linesMu.Unlock()
	}
	snapshot := func() []string {
		linesMu.Lock()
		defer linesMu.Unlock()
		out := make([]string, len(lines))
		copy(out, lines)
		return out
	}

	runCtx := ctx
	if x.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		c.mu.Lock()
		defer c.mu.Unlock()
		done <- c.fn(args, logFn)
	}()

	select {
	case runErr := <-done:
		if runErr != nil {
			return snapshot(), &ExecutionError{Skill: name, Stage: "run", Err: runErr}
		}
		return snapshot(), nil
	case <-runCtx.Done():
		// The interpreter goroutine cannot be preempted; abandon it and
		// drop the cache entry so the next run gets a fresh interpreter.
		x.invalidate(name)
		x.logger.Warn("skill run abandoned",
			zap.String("skill", name),
			zap.Error(runCtx.Err()))
		return snapshot(), &ExecutionError{Skill: name, Stage: "run", Err: runCtx.Err()}
	}
}

func (x *Executor) invalidate(name string) {
	x.mu.Lock()
	delete(x.cache, name)
	x.mu.Unlock()
}

// compiledFor returns the cached callable for name, recompiling when the
// source hash has changed.
func (x *Executor) compiledFor(name, source string) (*compiled, error) {
	sum := sha256.Sum256([]byte(source))

	x.mu.Lock()
	if c, ok := x.cache[name]; ok && c.hash == sum {
		x.mu.Unlock()
		return c, nil
	}
	extras := x.allow[name]
	x.mu.Unlock()

	fn, err := x.compile(name, source, extras)
	if err != nil {
		return nil, err
	}
	c := &compiled{hash: sum, fn: fn}
	x.mu.Lock()
	x.cache[name] = c
	x.mu.Unlock()
	x.logger.Debug("compiled skill", zap.String("skill", name))
	return c, nil
}

func (x *Executor) compile(name, source string, extras map[string]bool) (SkillFunc, error) {
	if err := validateImports(source, extras); err != nil {
		return nil, &ExecutionError{Skill: name, Stage: "compile", Err: err}
	}

	full := source
	if !strings.Contains(full, "package main") {
		full = "package main\n\n" + full
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, &ExecutionError{Skill: name, Stage: "compile", Err: err}
	}
	if _, err := i.Eval(full); err != nil {
		return nil, &ExecutionError{Skill: name, Stage: "compile", Err: fmt.Errorf("source does not compile: %w", err)}
	}
	v, err := i.Eval("main.Execute")
	if err != nil {
		return nil, &ExecutionError{Skill: name, Stage: "compile", Err: errors.New("source does not define Execute")}
	}
	fn, ok := v.Interface().(func(map[string]interface{}, func(string)) error)
	if !ok {
		return nil, &ExecutionError{
			Skill: name,
			Stage: "compile",
			Err:   errors.New("Execute must be func(args map[string]interface{}, log func(string)) error"),
		}
	}
	return fn, nil
}

// validateImports line-scans the source for import statements and rejects
// any package outside the whitelist plus the skill's extras.
func validateImports(source string, extras map[string]bool) error {
	inBlock := false
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
			continue
		case inBlock && trimmed == ")":
			inBlock = false
			continue
		}

		var spec string
		if inBlock {
			spec = trimmed
		} else if strings.HasPrefix(trimmed, "import ") {
			spec = strings.TrimSpace(strings.TrimPrefix(trimmed, "import "))
		} else {
			continue
		}
		pkg := importPath(spec)
		if pkg == "" {
			continue
		}
		if !defaultImports[pkg] && !extras[pkg] {
			return fmt.Errorf("import %q is not allowed", pkg)
		}
	}
	return nil
}

// importPath pulls the quoted path out of one import spec, ignoring any
// alias in front of it.
func importPath(spec string) string {
	start := strings.IndexByte(spec, '"')
	if start < 0 {
		return ""
	}
	rest := spec[start+1:]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return rest[:end]
}
