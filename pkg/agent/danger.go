package agent

import "strings"

// Destructive-action vocabulary matched against user messages.
var dangerousWords = []string{"delete", "remove", "drop", "clear", "purge", "destroy"}

// Tool-name fragments that mark a proposed call as destructive.
var dangerousToolFragments = []string{"delete", "remove"}

// IsDangerousMessage reports whether the raw user message requests a
// destructive action. The vocabulary is matched as substrings so inflected
// phrasings ("removing", "deleted") still trip the gate.
func IsDangerousMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, dangerous := range dangerousWords {
		if strings.Contains(lower, dangerous) {
			return true
		}
	}
	return false
}

// IsDangerousCall reports whether a proposed tool call is destructive:
// the tool name contains a destructive fragment, or the arguments specify
// an HTTP DELETE method.
func IsDangerousCall(name string, args map[string]interface{}) bool {
	lowerName := strings.ToLower(name)
	for _, fragment := range dangerousToolFragments {
		if strings.Contains(lowerName, fragment) {
			return true
		}
	}

	if method, ok := args["method"].(string); ok {
		if strings.EqualFold(method, "DELETE") {
			return true
		}
	}

	return false
}

// ConfirmationPrompt is the message attached to a confirmation_required
// response.
const ConfirmationPrompt = "This action may be destructive. Please confirm to proceed by resending the request with confirmed=true."
