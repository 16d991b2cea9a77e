package agent

import "strings"

// Error kinds form a closed taxonomy; every surfaced error carries a fixed
// user-facing message instead of a raw stack trace.
const (
	KindAuthError  = "auth_error"
	KindTimeout    = "timeout"
	KindConnection = "connection"
	KindValidation = "validation"
	KindToolError  = "tool_error"
	KindUnknown    = "unknown"
)

const unknownExcerptLimit = 200

// ClassifiedError pairs an error kind with its user-facing message.
type ClassifiedError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// classifier rules are matched in order; first marker hit wins.
var classifierRules = []struct {
	kind    string
	markers []string
	message string
}{
	{
		kind:    KindAuthError,
		markers: []string{"401", "unauthorized", "forbidden"},
		message: "Authentication failed. Please check your QRadar API token.",
	},
	{
		kind:    KindTimeout,
		markers: []string{"timeout", "timed out"},
		message: "The request timed out. The QRadar server may be slow or unreachable.",
	},
	{
		kind:    KindConnection,
		markers: []string{"connection", "connect", "unreachable"},
		message: "Could not connect to the QRadar server. Please verify the host and network.",
	},
	{
		kind:    KindValidation,
		markers: []string{"validation", "invalid", "required"},
		message: "The request was invalid. Please check the parameters and try again.",
	},
	{
		kind:    KindToolError,
		markers: []string{"404", "not found"},
		message: "The requested resource was not found.",
	},
}

// Classify maps an error's textual description to an error kind with a
// user-facing template message via ordered, case-insensitive substring
// matching. Unmatched errors become "unknown" with a bounded excerpt of
// the original text.
func Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{Kind: KindUnknown, Message: "An unexpected error occurred."}
	}

	text := strings.ToLower(err.Error())

	for _, rule := range classifierRules {
		for _, marker := range rule.markers {
			if strings.Contains(text, marker) {
				return ClassifiedError{Kind: rule.kind, Message: rule.message}
			}
		}
	}

	excerpt := err.Error()
	if len(excerpt) > unknownExcerptLimit {
		excerpt = excerpt[:unknownExcerptLimit]
	}
	return ClassifiedError{
		Kind:    KindUnknown,
		Message: "An unexpected error occurred: " + excerpt,
	}
}
