package aiquery

import (
	"regexp"
	"strings"
)

var (
	letterPattern        = regexp.MustCompile(`\b([A-Z])\b`)
	leadingWordPattern   = regexp.MustCompile(`^([a-zA-Z0-9_-]+)`)
	anyAlphanumericChunk = regexp.MustCompile(`([a-zA-Z0-9]+)`)
)

// ParseMultipleChoice extracts a lettered answer. A standalone letter
// that maps onto an option scores 0.9; failing that, an option whose
// text appears in the response scores 0.7; otherwise the first option is
// assumed at 0.3. The returned index is always valid for options.
func ParseMultipleChoice(response string, options []string) (letter string, index int, confidence float64) {
	upper := strings.ToUpper(strings.TrimSpace(response))
	if m := letterPattern.FindStringSubmatch(upper); m != nil {
		idx := int(m[1][0] - 'A')
		if idx >= 0 && idx < len(options) {
			return m[1], idx, 0.9
		}
	}

	lower := strings.ToLower(strings.TrimSpace(response))
	for i, option := range options {
		if strings.Contains(lower, strings.ToLower(option)) {
			return string(rune('A' + i)), i, 0.7
		}
	}

	return "A", 0, 0.3
}

// ParseSingleWord extracts one continuous string. A response that is
// exactly the word scores 0.9, a word with trailing noise 0.7, an
// embedded alphanumeric chunk 0.5, and nothing usable returns "unknown"
// at 0.3.
func ParseSingleWord(response string) (word string, confidence float64) {
	cleaned := strings.TrimSpace(response)

	if m := leadingWordPattern.FindStringSubmatch(cleaned); m != nil {
		if m[1] == cleaned {
			return m[1], 0.9
		}
		return m[1], 0.7
	}

	if m := anyAlphanumericChunk.FindStringSubmatch(cleaned); m != nil {
		return m[1], 0.5
	}

	return "unknown", 0.3
}

// CleanFileContent strips a wrapping markdown code fence, which models
// add even when told not to.
func CleanFileContent(response string) string {
	content := strings.TrimSpace(response)
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		lines = lines[1:]
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
			lines = lines[:len(lines)-1]
		}
		content = strings.Join(lines, "\n")
	}
	return strings.TrimSpace(content)
}
