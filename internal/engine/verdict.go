package engine

import "strings"

// Verdict is the parsed form of an activation vote. Unparseable is the
// zero value on purpose: anything the parser cannot read fails closed
// and the skill is not activated.
type Verdict int

const (
	Unparseable Verdict = iota
	Affirmed
	Denied
)

func (v Verdict) String() string {
	switch v {
	case Affirmed:
		return "affirmed"
	case Denied:
		return "denied"
	default:
		return "unparseable"
	}
}

var affirmTokens = map[string]bool{
	"yes": true, "y": true, "true": true, "affirmative": true,
}

var denyTokens = map[string]bool{
	"no": true, "n": true, "false": true, "negative": true,
}

// ParseVerdict reads a yes/no answer out of a model response. The first
// word decides when it is itself a polarity token; otherwise the whole
// response is scanned and must contain exactly one polarity.
func ParseVerdict(response string) Verdict {
	words := strings.Fields(strings.ToLower(response))
	if len(words) == 0 {
		return Unparseable
	}
	if v, ok := polarity(words[0]); ok {
		return v
	}

	var sawAffirm, sawDeny bool
	for _, w := range words {
		if v, ok := polarity(w); ok {
			if v == Affirmed {
				sawAffirm = true
			} else {
				sawDeny = true
			}
		}
	}
	switch {
	case sawAffirm && !sawDeny:
		return Affirmed
	case sawDeny && !sawAffirm:
		return Denied
	default:
		return Unparseable
	}
}

func polarity(word string) (Verdict, bool) {
	word = strings.Trim(word, `.,!?:;"'()*`)
	if affirmTokens[word] {
		return Affirmed, true
	}
	if denyTokens[word] {
		return Denied, true
	}
	return Unparseable, false
}
