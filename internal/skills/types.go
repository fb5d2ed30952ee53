// Package skills holds the registry of dispatchable capabilities: their
// definitions, the persisted backing store, and the built-in set seeded
// at startup.
package skills

import (
	"time"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/coerce"
)

// Parameter declares one argument accepted by a skill's Execute entry
// point. Order is significant: extraction queries run in declaration
// order.
type Parameter struct {
	Name        string      `json:"name"`
	Kind        coerce.Kind `json:"type"`
	Required    bool        `json:"required"`
	Description string      `json:"description"`
}

// Skill is one dispatchable capability. Source is a Go snippet defining
//
//	func Execute(args map[string]interface{}, log func(string)) error
//
// which the sandbox compiles and runs. Verified skills ship with the
// binary, are immutable through the registry, and are never persisted.
type Skill struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Role        string      `json:"role"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	VibePhrases []string    `json:"vibe_test_phrases,omitempty"`
	Source      string      `json:"source"`
	Verified    bool        `json:"verified"`
	Tags        []string    `json:"tags,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`

	// Execution bookkeeping, updated by the engine after each run.
	ExecutionCount int     `json:"execution_count"`
	SuccessRate    float64 `json:"success_rate"`
	AverageMs      float64 `json:"average_execution_ms"`
}

// Clone returns a deep copy so callers can hold a skill without racing
// registry mutations.
func (s *Skill) Clone() *Skill {
	if s == nil {
		return nil
	}
	out := *s
	if s.Parameters != nil {
		out.Parameters = make([]Parameter, len(s.Parameters))
		copy(out.Parameters, s.Parameters)
	}
	if s.VibePhrases != nil {
		out.VibePhrases = make([]string, len(s.VibePhrases))
		copy(out.VibePhrases, s.VibePhrases)
	}
	if s.Tags != nil {
		out.Tags = make([]string, len(s.Tags))
		copy(out.Tags, s.Tags)
	}
	return &out
}

// Param returns the declared parameter with the given name, if any.
func (s *Skill) Param(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Roles lists the categories a skill may declare, in display order.
var Roles = []string{
	"general",
	"text_processing",
	"mathematics",
	"data_analysis",
	"file_operations",
	"web_utilities",
	"time_date",
	"formatting",
	"validation",
	"emotional_response",
	"information",
	"advanced",
}

// ValidRole reports whether role is one of the known categories.
func ValidRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}
