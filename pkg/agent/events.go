package agent

// EventType identifies one kind of progress event.
type EventType string

// Event types emitted during a turn. Done is terminal and emitted exactly
// once; a ToolCall for a given invocation always precedes its ToolResult;
// the concatenation of ContentDelta events equals the Content event's text.
const (
	EventStatus               EventType = "status"
	EventToolCall             EventType = "tool_call"
	EventToolResult           EventType = "tool_result"
	EventContentDelta         EventType = "content_delta"
	EventContent              EventType = "content"
	EventConfirmationRequired EventType = "confirmation_required"
	EventError                EventType = "error"
	EventDone                 EventType = "done"
)

// Event is one unit of the turn's progress stream. The loop writes events
// to a buffered channel; transports drain it.
type Event struct {
	Type EventType `json:"type"`

	// Content carries status text, answer deltas, the final answer,
	// confirmation prompts and error messages.
	Content string `json:"content,omitempty"`

	// Tool and Arguments describe a tool_call / tool_result event.
	// Arguments never include injected credentials.
	Tool      string                 `json:"tool,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`

	// Status is the tool_result outcome: "success", "error" or "cached".
	Status string `json:"status,omitempty"`

	// Kind is the error classification on error events.
	Kind string `json:"kind,omitempty"`
}

// TurnResult is the collected, non-streaming view of a turn.
type TurnResult struct {
	Content              string       `json:"content"`
	ToolsCalled          []ToolOutcome `json:"tools_called,omitempty"`
	ConfirmationRequired bool         `json:"confirmation_required,omitempty"`
	Error                string       `json:"error,omitempty"`
	ErrorKind            string       `json:"error_kind,omitempty"`
}

// ToolOutcome summarizes one tool invocation for the collected view.
type ToolOutcome struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Collect drains an event stream into a single result. Deltas are folded
// into the final content when no content event arrives.
func Collect(events <-chan Event) TurnResult {
	var result TurnResult
	var deltas string

	for ev := range events {
		switch ev.Type {
		case EventContentDelta:
			deltas += ev.Content
		case EventContent:
			result.Content = ev.Content
		case EventToolResult:
			outcome := ToolOutcome{Name: ev.Tool, Status: ev.Status}
			if ev.Status == "error" {
				outcome.Error = ev.Content
			}
			result.ToolsCalled = append(result.ToolsCalled, outcome)
		case EventConfirmationRequired:
			result.ConfirmationRequired = true
			result.Content = ev.Content
		case EventError:
			result.Error = ev.Content
			result.ErrorKind = ev.Kind
		}
	}

	if result.Content == "" && deltas != "" {
		result.Content = deltas
	}

	return result
}
