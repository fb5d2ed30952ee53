// Package editor exposes skill CRUD over HTTP for the browser-based
// editor, with pre-save validation and sandboxed test execution.
package editor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

// ValidationResult separates blocking errors from advisory warnings so
// the editor can save past warnings but never past errors.
type ValidationResult struct {
	Valid    bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

var (
	identPattern   = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	executePattern = regexp.MustCompile(`func\s+Execute\s*\(`)
)

// riskyPatterns flag source text the sandbox will refuse or that
// escapes its control.
var riskyPatterns = []struct {
	needle  string
	warning string
}{
	{"os/exec", "source references os/exec, which the sandbox will reject"},
	{"net/http", "source references net/http, which the sandbox will reject"},
	{"syscall", "source references syscall, which the sandbox will reject"},
	{"unsafe", "source references unsafe, which the sandbox will reject"},
	{"go func(", "source starts goroutines, which may outlive the execution timeout"},
}

// Validator checks a skill definition before it reaches the registry.
// The injected compile check decides whether the source is acceptable;
// the sandbox's Check is the usual choice.
type Validator struct {
	compileCheck func(name, source string) error
}

// NewValidator creates a validator. compileCheck may be nil to skip
// compilation.
func NewValidator(compileCheck func(name, source string) error) *Validator {
	return &Validator{compileCheck: compileCheck}
}

// Validate inspects every field of the skill and returns all findings
// at once rather than stopping at the first.
func (v *Validator) Validate(s *skills.Skill) ValidationResult {
	result := ValidationResult{Errors: []string{}, Warnings: []string{}}
	if s == nil {
		result.Errors = append(result.Errors, "no skill data provided")
		return result
	}

	if strings.TrimSpace(s.Name) == "" {
		result.Errors = append(result.Errors, "missing required field: name")
	} else {
		v.checkName(s.Name, &result)
	}
	if strings.TrimSpace(s.Description) == "" {
		result.Errors = append(result.Errors, "missing required field: description")
	} else {
		v.checkDescription(s.Description, &result)
	}

	if s.Role != "" && !skills.ValidRole(s.Role) {
		result.Errors = append(result.Errors,
			fmt.Sprintf("unknown role %q, valid roles: %s", s.Role, strings.Join(skills.Roles, ", ")))
	}

	v.checkParameters(s.Parameters, &result)
	v.checkPhrases(s.VibePhrases, &result)

	if strings.TrimSpace(s.Source) == "" {
		result.Errors = append(result.Errors, "missing required field: source")
	} else {
		v.checkSource(s, &result)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func (v *Validator) checkName(name string, result *ValidationResult) {
	if !identPattern.MatchString(name) {
		result.Errors = append(result.Errors,
			"skill name must be a valid identifier (letters, digits, and underscores, not starting with a digit)")
	}
	if len(name) > 50 {
		result.Warnings = append(result.Warnings, "skill name is quite long, consider shortening it")
	}
	if name[0] >= 'A' && name[0] <= 'Z' {
		result.Warnings = append(result.Warnings, "skill names conventionally start with a lowercase letter")
	}
}

func (v *Validator) checkDescription(description string, result *ValidationResult) {
	if len(description) < 10 {
		result.Warnings = append(result.Warnings, "description is very short, consider providing more detail")
	}
	if len(description) > 500 {
		result.Warnings = append(result.Warnings, "description is very long, consider making it more concise")
	}
	lower := strings.ToLower(description)
	if !strings.Contains(lower, "when") && !strings.Contains(lower, "use") &&
		!strings.Contains(lower, "for") && !strings.Contains(lower, "to") {
		result.Warnings = append(result.Warnings, "description should indicate when this skill should be used")
	}
}

func (v *Validator) checkParameters(params []skills.Parameter, result *ValidationResult) {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if !identPattern.MatchString(p.Name) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("parameter name %q must be a valid identifier", p.Name))
		}
		if seen[p.Name] {
			result.Errors = append(result.Errors, fmt.Sprintf("parameter %q declared twice", p.Name))
		}
		seen[p.Name] = true
		if !p.Kind.Valid() {
			result.Errors = append(result.Errors,
				fmt.Sprintf("parameter %q has invalid type %q, valid types: string, number, boolean", p.Name, p.Kind))
		}
		if strings.TrimSpace(p.Description) == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("parameter %q is missing a description", p.Name))
		}
	}
}

func (v *Validator) checkPhrases(phrases []string, result *ValidationResult) {
	if len(phrases) == 0 {
		result.Warnings = append(result.Warnings,
			"no trigger phrases provided, activation checks have nothing to recognize this skill by")
		return
	}
	if len(phrases) < 2 {
		result.Warnings = append(result.Warnings, "consider adding more trigger phrases for better recognition")
	}
	for i, phrase := range phrases {
		if strings.TrimSpace(phrase) == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("trigger phrase %d is empty", i+1))
		} else if len(phrase) < 5 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("trigger phrase %d is very short", i+1))
		}
	}
}

func (v *Validator) checkSource(s *skills.Skill, result *ValidationResult) {
	if !executePattern.MatchString(s.Source) {
		result.Errors = append(result.Errors, "source must define an Execute function")
	} else if v.compileCheck != nil {
		if err := v.compileCheck(s.Name, s.Source); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("source does not compile: %v", err))
		}
	}

	if !strings.Contains(s.Source, "log(") {
		result.Warnings = append(result.Warnings, "source never calls log(), execution output will be lost")
	}
	for _, risky := range riskyPatterns {
		if strings.Contains(s.Source, risky.needle) {
			result.Warnings = append(result.Warnings, risky.warning)
		}
	}
	for _, p := range s.Parameters {
		if !strings.Contains(s.Source, fmt.Sprintf("%q", p.Name)) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("parameter %q is never read from args", p.Name))
		}
	}
}
