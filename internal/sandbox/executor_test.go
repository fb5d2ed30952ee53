package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

const helloSource = `func Execute(args map[string]interface{}, log func(string)) error {
	log("hello")
	log("world")
	return nil
}`

func TestRunCapturesLogLines(t *testing.T) {
	x := New(0, nil)
	lines, err := x.Run(context.Background(), "hello", helloSource, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, lines)
}

func TestRunPassesArguments(t *testing.T) {
	x := New(0, nil)
	source := `import "fmt"

func Execute(args map[string]interface{}, log func(string)) error {
	n := args["n"].(float64)
	s := args["s"].(string)
	log(fmt.Sprintf("%s = %g", s, n))
	return nil
}`
	lines, err := x.Run(context.Background(), "echoArgs", source, map[string]interface{}{
		"n": 42.5,
		"s": "answer",
	})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "answer = 42.5", lines[0])
}

func TestRunReturnsExecutionErrorOnFailure(t *testing.T) {
	x := New(0, nil)
	source := `import "errors"

func Execute(args map[string]interface{}, log func(string)) error {
	log("before the failure")
	return errors.New("deliberate")
}`
	lines, err := x.Run(context.Background(), "failing", source, nil)
	var xerr *ExecutionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "failing", xerr.Skill)
	assert.Equal(t, "run", xerr.Stage)
	assert.Equal(t, []string{"before the failure"}, lines)
}

func TestRunRecoversPanics(t *testing.T) {
	x := New(0, nil)
	source := `func Execute(args map[string]interface{}, log func(string)) error {
	var xs []string
	log(xs[3])
	return nil
}`
	_, err := x.Run(context.Background(), "panicky", source, nil)
	var xerr *ExecutionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "run", xerr.Stage)
}

// One failing skill must not poison another in the same executor.
func TestFailureIsolation(t *testing.T) {
	x := New(0, nil)
	bad := `func Execute(args map[string]interface{}, log func(string)) error {
	panic("boom")
}`
	_, err := x.Run(context.Background(), "bad", bad, nil)
	require.Error(t, err)

	lines, err := x.Run(context.Background(), "good", helloSource, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, lines)
}

func TestImportWhitelist(t *testing.T) {
	x := New(0, nil)
	source := `import "os"

func Execute(args map[string]interface{}, log func(string)) error {
	wd, _ := os.Getwd()
	log(wd)
	return nil
}`
	err := x.Check("nosy", source)
	var xerr *ExecutionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "compile", xerr.Stage)
	assert.Contains(t, err.Error(), `"os"`)

	// The same source passes once the skill has an explicit exception.
	x.Allow("nosy", "os")
	require.NoError(t, x.Check("nosy", source))
}

func TestImportBlockScan(t *testing.T) {
	x := New(0, nil)
	source := `import (
	"fmt"
	"net/http"
)

func Execute(args map[string]interface{}, log func(string)) error {
	log(fmt.Sprint(http.StatusOK))
	return nil
}`
	err := x.Check("fetcher", source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"net/http"`)
}

func TestCheckRejectsMissingExecute(t *testing.T) {
	x := New(0, nil)
	err := x.Check("empty", `func Helper() {}`)
	var xerr *ExecutionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "compile", xerr.Stage)
}

func TestCheckRejectsWrongSignature(t *testing.T) {
	x := New(0, nil)
	err := x.Check("odd", `func Execute(name string) error { return nil }`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Execute must be")
}

func TestSourceChangeRecompiles(t *testing.T) {
	x := New(0, nil)
	v1 := `func Execute(args map[string]interface{}, log func(string)) error {
	log("v1")
	return nil
}`
	v2 := `func Execute(args map[string]interface{}, log func(string)) error {
	log("v2")
	return nil
}`
	lines, err := x.Run(context.Background(), "versioned", v1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, lines)

	lines, err = x.Run(context.Background(), "versioned", v2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, lines)
}

func TestRunTimeout(t *testing.T) {
	x := New(100*time.Millisecond, nil)
	source := `import "time"

func Execute(args map[string]interface{}, log func(string)) error {
	log("started")
	time.Sleep(3 * time.Second)
	log("never reached")
	return nil
}`
	start := time.Now()
	lines, err := x.Run(context.Background(), "sleeper", source, nil)
	var xerr *ExecutionError
	require.ErrorAs(t, err, &xerr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"started"}, lines)
}

// Every shipped built-in must compile under the sandbox whitelist.
func TestBuiltinsCompile(t *testing.T) {
	x := New(0, nil)
	for name, pkgs := range skills.BuiltinImportExceptions {
		x.Allow(name, pkgs...)
	}
	for _, s := range skills.Builtins() {
		t.Run(s.Name, func(t *testing.T) {
			require.NoError(t, x.Check(s.Name, s.Source))
		})
	}
}

func builtinSource(t *testing.T, name string) string {
	t.Helper()
	for _, s := range skills.Builtins() {
		if s.Name == name {
			return s.Source
		}
	}
	t.Fatalf("no built-in named %q", name)
	return ""
}

func TestCalculateBuiltin(t *testing.T) {
	x := New(0, nil)
	source := builtinSource(t, "calculate")

	t.Run("addition", func(t *testing.T) {
		lines, err := x.Run(context.Background(), "calculate", source,
			map[string]interface{}{"expression": "2 + 2"})
		require.NoError(t, err)
		assert.Contains(t, lines, "[Calculator] Result: 2 + 2 = 4")
		assert.Contains(t, lines, "[Calculator] Operation type: Addition")
	})
	t.Run("precedence and parentheses", func(t *testing.T) {
		lines, err := x.Run(context.Background(), "calculate", source,
			map[string]interface{}{"expression": "(2 + 3) * 4"})
		require.NoError(t, err)
		assert.Contains(t, lines, "[Calculator] Result: (2 + 3) * 4 = 20")
	})
	t.Run("division by zero", func(t *testing.T) {
		lines, err := x.Run(context.Background(), "calculate", source,
			map[string]interface{}{"expression": "5 / 0"})
		require.NoError(t, err)
		assert.Contains(t, lines, "[Calculator] Error: Division by zero!")
	})
	t.Run("invalid characters", func(t *testing.T) {
		lines, err := x.Run(context.Background(), "calculate", source,
			map[string]interface{}{"expression": "rm -rf x"})
		require.NoError(t, err)
		assert.Contains(t, lines, "[Calculator] Error: Expression contains invalid characters")
	})
}

func TestSquareRootBuiltin(t *testing.T) {
	x := New(0, nil)
	source := builtinSource(t, "square_root")

	t.Run("perfect square", func(t *testing.T) {
		lines, err := x.Run(context.Background(), "square_root", source,
			map[string]interface{}{"number": float64(16)})
		require.NoError(t, err)
		assert.Contains(t, lines, "[Square Root] 16 is a perfect square")
		assert.Contains(t, lines, "[Square Root] Result: 4")
	})
	t.Run("irrational result", func(t *testing.T) {
		lines, err := x.Run(context.Background(), "square_root", source,
			map[string]interface{}{"number": float64(2)})
		require.NoError(t, err)
		assert.Contains(t, lines, "[Square Root] Result: 1.414214")
	})
	t.Run("negative input", func(t *testing.T) {
		lines, err := x.Run(context.Background(), "square_root", source,
			map[string]interface{}{"number": float64(-9)})
		require.NoError(t, err)
		assert.Contains(t, lines, "[Square Root] Result: 3.000000i (imaginary number)")
	})
}

func TestFileReaderBuiltin(t *testing.T) {
	x := New(0, nil)
	for name, pkgs := range skills.BuiltinImportExceptions {
		x.Allow(name, pkgs...)
	}
	source := builtinSource(t, "fileReader")

	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("the contents"), 0o644))

	lines, err := x.Run(context.Background(), "fileReader", source,
		map[string]interface{}{"filePath": path})
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "the contents")
}

func TestGetTimeBuiltin(t *testing.T) {
	x := New(0, nil)
	lines, err := x.Run(context.Background(), "getTime", builtinSource(t, "getTime"), nil)
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "[Time Check] Retrieving current time")

	var period bool
	for _, l := range lines {
		if len(l) > 14 && l[:14] == "[Time] Period:" {
			period = true
		}
	}
	assert.True(t, period, "expected a period line, got %v", lines)
}
