package agent

import (
	"regexp"
	"strings"
)

// Pronoun-only openers that carry no referent without prior context.
var pronounOnlyPattern = regexp.MustCompile(`^(it|this|that|they|them|those|these)[\s\?\.\!]*$`)

// Keywords that depend on an earlier exchange to make sense.
var needsContextWords = []string{"more", "another", "same", "again", "different"}

const clarificationSuggestions = "For example, you can ask about offenses, assets, log sources, or events."

// NeedsClarification checks whether a message is too short or too
// ambiguous to act on. hasHistory indicates whether the session has prior
// exchanges that could resolve a contextual reference.
func NeedsClarification(message string, hasHistory bool) (string, bool) {
	trimmed := strings.TrimSpace(message)

	if len(trimmed) < 3 {
		return "Your message is too short for me to act on. Could you describe what you'd like to know? " +
			clarificationSuggestions, true
	}

	lower := strings.ToLower(trimmed)

	if pronounOnlyPattern.MatchString(lower) {
		return "I'm not sure what you're referring to. Could you be more specific? " +
			clarificationSuggestions, true
	}

	// Context keywords only make a message ambiguous when it is too short
	// to stand on its own.
	words := strings.Fields(lower)
	if !hasHistory && len(words) <= 2 {
		for _, word := range words {
			word = strings.Trim(word, ".,!?;:")
			for _, contextual := range needsContextWords {
				if word == contextual {
					return "I don't have earlier context for that. Could you restate the full question? " +
						clarificationSuggestions, true
				}
			}
		}
	}

	return "", false
}
