package editor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/coerce"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/sandbox"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

const reverseSource = `package main

import "fmt"

func Execute(args map[string]interface{}, log func(string)) error {
	text, ok := args["text"].(string)
	if !ok {
		return fmt.Errorf("text parameter required")
	}
	runes := []rune(text)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	log(fmt.Sprintf("reversed: %s", string(runes)))
	return nil
}`

func wellFormedSkill() *skills.Skill {
	return &skills.Skill{
		Name:        "reverse_text",
		Description: "Reverses text when the user asks for it",
		Role:        "text_processing",
		VibePhrases: []string{"Reverse the word hello", "Flip this text around"},
		Parameters: []skills.Parameter{
			{Name: "text", Kind: coerce.String, Required: true, Description: "The text to reverse"},
		},
		Source: reverseSource,
	}
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	return NewValidator(sandbox.New(5*time.Second, nil).Check)
}

func TestValidateWellFormedSkill(t *testing.T) {
	result := newValidator(t).Validate(wellFormedSkill())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateNilSkill(t *testing.T) {
	result := newValidator(t).Validate(nil)

	assert.False(t, result.Valid)
	assert.Equal(t, []string{"no skill data provided"}, result.Errors)
}

func TestValidateMissingFields(t *testing.T) {
	result := newValidator(t).Validate(&skills.Skill{})

	assert.False(t, result.Valid)
	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, "missing required field: name")
	assert.Contains(t, joined, "missing required field: description")
	assert.Contains(t, joined, "missing required field: source")
}

func TestValidateNameRules(t *testing.T) {
	v := newValidator(t)

	s := wellFormedSkill()
	s.Name = "9lives"
	result := v.Validate(s)
	assert.False(t, result.Valid)
	assert.Contains(t, strings.Join(result.Errors, "\n"), "valid identifier")

	s = wellFormedSkill()
	s.Name = "ReverseText"
	result = v.Validate(s)
	assert.True(t, result.Valid)
	assert.Contains(t, strings.Join(result.Warnings, "\n"), "lowercase")

	s = wellFormedSkill()
	s.Name = strings.Repeat("x", 51)
	result = v.Validate(s)
	assert.True(t, result.Valid)
	assert.Contains(t, strings.Join(result.Warnings, "\n"), "quite long")
}

func TestValidateUnknownRole(t *testing.T) {
	s := wellFormedSkill()
	s.Role = "sorcery"

	result := newValidator(t).Validate(s)
	assert.False(t, result.Valid)
	assert.Contains(t, strings.Join(result.Errors, "\n"), `unknown role "sorcery"`)
}

func TestValidateParameterRules(t *testing.T) {
	s := wellFormedSkill()
	s.Parameters = []skills.Parameter{
		{Name: "bad-name", Kind: coerce.String, Description: "x"},
		{Name: "text", Kind: coerce.Kind("weird"), Description: "y"},
		{Name: "text", Kind: coerce.String},
	}

	result := newValidator(t).Validate(s)
	assert.False(t, result.Valid)
	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, `parameter name "bad-name" must be a valid identifier`)
	assert.Contains(t, joined, `invalid type "weird"`)
	assert.Contains(t, joined, `parameter "text" declared twice`)
	assert.Contains(t, strings.Join(result.Warnings, "\n"), `parameter "text" is missing a description`)
}

func TestValidatePhraseWarnings(t *testing.T) {
	v := newValidator(t)

	s := wellFormedSkill()
	s.VibePhrases = nil
	result := v.Validate(s)
	assert.True(t, result.Valid)
	assert.Contains(t, strings.Join(result.Warnings, "\n"), "no trigger phrases")

	s = wellFormedSkill()
	s.VibePhrases = []string{"hi"}
	result = v.Validate(s)
	warnings := strings.Join(result.Warnings, "\n")
	assert.Contains(t, warnings, "adding more trigger phrases")
	assert.Contains(t, warnings, "trigger phrase 1 is very short")

	s = wellFormedSkill()
	s.VibePhrases = []string{"Reverse the word hello", "   "}
	result = v.Validate(s)
	assert.Contains(t, strings.Join(result.Warnings, "\n"), "trigger phrase 2 is empty")
}

func TestValidateSourceMustDefineExecute(t *testing.T) {
	s := wellFormedSkill()
	s.Source = `package main

func run() {}`

	result := newValidator(t).Validate(s)
	assert.False(t, result.Valid)
	assert.Contains(t, strings.Join(result.Errors, "\n"), "must define an Execute function")
}

func TestValidateSourceCompileFailure(t *testing.T) {
	s := wellFormedSkill()
	s.Source = `package main

func Execute(args map[string]interface{}, log func(string)) error {`

	result := newValidator(t).Validate(s)
	assert.False(t, result.Valid)
	assert.Contains(t, strings.Join(result.Errors, "\n"), "does not compile")
}

func TestValidateSourceWarnings(t *testing.T) {
	s := wellFormedSkill()
	s.Parameters = []skills.Parameter{
		{Name: "unused", Kind: coerce.String, Description: "never read"},
	}
	s.Source = `package main

import "fmt"

func Execute(args map[string]interface{}, log func(string)) error {
	fmt.Sprintf("no logging here")
	return nil
}`

	result := newValidator(t).Validate(s)
	assert.True(t, result.Valid)
	warnings := strings.Join(result.Warnings, "\n")
	assert.Contains(t, warnings, "never calls log()")
	assert.Contains(t, warnings, `parameter "unused" is never read`)
}

func TestValidateRiskySourcePatterns(t *testing.T) {
	s := wellFormedSkill()
	s.Source = `package main

import "os/exec"

func Execute(args map[string]interface{}, log func(string)) error {
	go func() {
		exec.Command("ls").Run()
	}()
	log("started")
	return nil
}`

	result := newValidator(t).Validate(s)
	// The sandbox rejects the import, and the risky patterns are still
	// surfaced as advice.
	assert.False(t, result.Valid)
	warnings := strings.Join(result.Warnings, "\n")
	assert.Contains(t, warnings, "os/exec")
	assert.Contains(t, warnings, "goroutines")
}
