package engine

import (
	"fmt"
	"strings"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

// activationPrompt asks for a binary vote on one skill. The skill's own
// example phrases ride along as few-shot guidance.
func activationPrompt(utterance string, sk *skills.Skill) string {
	var b strings.Builder
	b.WriteString("You decide whether a skill applies to a user message.\n\n")
	fmt.Fprintf(&b, "Skill: %s\n", sk.Name)
	fmt.Fprintf(&b, "Description: %s\n", sk.Description)
	if len(sk.VibePhrases) > 0 {
		b.WriteString("\nExample messages where this skill applies:\n")
		for _, phrase := range sk.VibePhrases {
			fmt.Fprintf(&b, "- %q\n", phrase)
		}
	}
	fmt.Fprintf(&b, "\nUser message: %q\n\n", utterance)
	b.WriteString("Does this skill apply to the user message? Answer with a single word: yes or no.")
	return b.String()
}

// extractionPrompt asks for the literal value of one parameter.
func extractionPrompt(utterance string, sk *skills.Skill, p skills.Parameter) string {
	var b strings.Builder
	b.WriteString("Extract the value of one parameter from a user message.\n\n")
	fmt.Fprintf(&b, "Skill: %s\n", sk.Name)
	fmt.Fprintf(&b, "Parameter: %s (%s) - %s\n", p.Name, p.Kind, p.Description)
	fmt.Fprintf(&b, "User message: %q\n\n", utterance)
	b.WriteString("Reply with only the literal value and nothing else. ")
	b.WriteString("If the message does not contain a value for this parameter, reply none.")
	return b.String()
}
