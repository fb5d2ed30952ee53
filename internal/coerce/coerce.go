// Package coerce converts free text extracted from model responses into
// the typed parameter values a skill declares. All functions are pure:
// same text in, same value out, no defaults invented on failure.
package coerce

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies a parameter's declared primitive type.
type Kind string

const (
	String  Kind = "string"
	Number  Kind = "number"
	Boolean Kind = "boolean"
)

// Valid reports whether k is one of the supported primitive kinds.
func (k Kind) Valid() bool {
	switch k {
	case String, Number, Boolean:
		return true
	}
	return false
}

// CoercionError reports text that was present but could not be converted
// to the declared kind.
type CoercionError struct {
	Parameter string
	Kind      Kind
	Raw       string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("cannot coerce %q to %s for parameter %q", e.Raw, e.Kind, e.Parameter)
}

// MissingParameterError reports a required parameter with no extractable
// value at all. Distinct from CoercionError: nothing was there to convert.
type MissingParameterError struct {
	Parameter string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Parameter)
}

// numberPattern matches the first integer or decimal token, including a
// leading sign, anywhere in surrounding prose.
var numberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

// absentAnswers are model responses that mean "no value present" rather
// than a literal value.
var absentAnswers = map[string]bool{
	"none": true,
	"null": true,
	"n/a":  true,
	"nil":  true,
}

var truthy = map[string]bool{
	"true": true, "yes": true, "y": true, "on": true, "1": true,
}

var falsy = map[string]bool{
	"false": true, "no": true, "n": true, "off": true, "0": true,
}

// Value converts raw text to the typed value declared by kind. It returns
// *MissingParameterError when the text carries no value and *CoercionError
// when the text cannot be interpreted as the declared kind.
func Value(param string, kind Kind, raw string) (interface{}, error) {
	switch kind {
	case Number:
		return ToNumber(param, raw)
	case Boolean:
		return ToBoolean(param, raw)
	case String:
		return ToString(param, raw)
	default:
		return nil, &CoercionError{Parameter: param, Kind: kind, Raw: raw}
	}
}

// ToNumber pulls the first well-formed number out of raw and parses it as
// a float64. Prose around the number is ignored, so "the answer is 16."
// coerces to 16.
func ToNumber(param, raw string) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || absentAnswers[strings.ToLower(trimmed)] {
		return 0, &MissingParameterError{Parameter: param}
	}
	match := numberPattern.FindString(trimmed)
	if match == "" {
		return 0, &CoercionError{Parameter: param, Kind: Number, Raw: raw}
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, &CoercionError{Parameter: param, Kind: Number, Raw: raw}
	}
	return value, nil
}

// ToBoolean matches raw against a closed set of truthy and falsy tokens,
// case-insensitive. The whole trimmed text is checked first, then each
// word, so both "Yes" and "the answer is yes." coerce to true.
func ToBoolean(param, raw string) (bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || absentAnswers[strings.ToLower(trimmed)] {
		return false, &MissingParameterError{Parameter: param}
	}
	if v, ok := matchBoolToken(trimmed); ok {
		return v, nil
	}
	for _, word := range strings.Fields(trimmed) {
		if v, ok := matchBoolToken(word); ok {
			return v, nil
		}
	}
	return false, &CoercionError{Parameter: param, Kind: Boolean, Raw: raw}
}

func matchBoolToken(token string) (bool, bool) {
	token = strings.ToLower(strings.Trim(token, `.,!?:;"'`))
	if truthy[token] {
		return true, true
	}
	if falsy[token] {
		return false, true
	}
	return false, false
}

// ToString passes raw through trimmed, stripping one layer of matching
// quotes the model may have added around the literal value.
func ToString(param, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || absentAnswers[strings.ToLower(trimmed)] {
		return "", &MissingParameterError{Parameter: param}
	}
	if len(trimmed) >= 2 {
		first, last := trimmed[0], trimmed[len(trimmed)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') || (first == '`' && last == '`') {
			inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
			if inner != "" {
				return inner, nil
			}
			return "", &MissingParameterError{Parameter: param}
		}
	}
	return trimmed, nil
}
