package vibe

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

// Case is one labeled corpus entry: a phrase, the skill expected to
// activate on it, and (when derivable from the phrase itself) the
// parameter values the extraction step should produce.
type Case struct {
	Phrase   string
	Expected string
	Params   map[string]interface{}
}

// FromRegistry builds the corpus from every skill's vibe phrases, in
// registry order. Skills with no phrases contribute nothing.
func FromRegistry(reg *skills.Registry) []Case {
	var cases []Case
	for _, s := range reg.List("") {
		for _, phrase := range s.VibePhrases {
			cases = append(cases, Case{
				Phrase:   phrase,
				Expected: s.Name,
				Params:   expectedParams(s.Name, phrase),
			})
		}
	}
	return cases
}

var (
	firstNumberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
	arithmeticPattern  = regexp.MustCompile(`\d+\s*[+\-*/]\s*\d+`)
	locationPattern    = regexp.MustCompile(`(?i)\b(?:in|at|for)\s+([A-Za-z]+)`)
)

// expectedParams derives checkable parameter expectations from the
// phrase text. Only phrases that literally carry the value produce an
// expectation; everything else is left unchecked.
func expectedParams(skill, phrase string) map[string]interface{} {
	switch skill {
	case "square_root":
		if m := firstNumberPattern.FindString(phrase); m != "" {
			if v, err := strconv.ParseFloat(m, 64); err == nil {
				return map[string]interface{}{"number": v}
			}
		}
	case "calculate":
		if m := arithmeticPattern.FindString(phrase); m != "" {
			return map[string]interface{}{"expression": strings.ReplaceAll(m, " ", "")}
		}
	case "getWeather":
		if m := locationPattern.FindStringSubmatch(phrase); m != nil && len(m[1]) > 2 {
			return map[string]interface{}{"location": m[1]}
		}
	}
	return nil
}

// paramsMatch checks extracted arguments against expectations. Numbers
// match within a small tolerance; strings match exactly or after space
// stripping, so "2+2" and "2 + 2" agree.
func paramsMatch(expected map[string]interface{}, actual map[string]interface{}) bool {
	for name, want := range expected {
		got, ok := actual[name]
		if !ok {
			return false
		}
		if !valueMatches(want, got) {
			return false
		}
	}
	return true
}

func valueMatches(want, got interface{}) bool {
	switch w := want.(type) {
	case float64:
		g, ok := got.(float64)
		return ok && math.Abs(w-g) < 1e-3
	case bool:
		g, ok := got.(bool)
		return ok && w == g
	case string:
		g, ok := got.(string)
		if !ok {
			return false
		}
		if w == g {
			return true
		}
		return strings.ReplaceAll(w, " ", "") == strings.ReplaceAll(g, " ", "")
	default:
		return false
	}
}
