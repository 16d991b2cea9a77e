// Package agent implements the tool-calling orchestration loop: it
// alternates LLM reasoning and tool execution, bounded by an iteration
// limit, and reports progress as an ordered event stream.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/addanuj/mcp-client/pkg/llms"
	"github.com/addanuj/mcp-client/pkg/metrics"
	"github.com/addanuj/mcp-client/pkg/session"
	"github.com/addanuj/mcp-client/pkg/shaper"
	"github.com/addanuj/mcp-client/pkg/tools"
)

const defaultSystemPrompt = "You are a security operations assistant for a QRadar SIEM. " +
	"Use the available tools to answer questions about offenses, assets, log sources and events. " +
	"Prefer calling a tool over guessing. Summarize tool results concisely for the analyst."

// Config tunes the orchestration loop.
type Config struct {
	// MaxIterations bounds the tool-execution rounds per turn.
	MaxIterations int

	// DedupThreshold is the word-set Jaccard similarity at which a
	// message is treated as a duplicate of a prior turn.
	DedupThreshold float64

	// SystemPrompt overrides the built-in system message when set.
	SystemPrompt string

	// Credentials are injected into tool arguments before execution.
	// They are never logged and never echoed back to the LLM.
	Credentials map[string]string
}

// TurnRequest is one user message entering the loop.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Confirmed bool   `json:"confirmed"`
}

// Agent runs conversation turns against a tool catalog and an LLM.
//
// Turns on the same session identifier must be processed one at a time;
// turns on different identifiers are independent.
type Agent struct {
	llm     llms.Provider
	catalog tools.Catalog
	store   session.Store
	shaper  *shaper.Shaper
	metrics *metrics.Metrics
	cfg     Config
	logger  *slog.Logger
}

// New wires an agent. metrics may be nil.
func New(llm llms.Provider, catalog tools.Catalog, store session.Store, sh *shaper.Shaper, m *metrics.Metrics, cfg Config) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = 0.9
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}

	return &Agent{
		llm:     llm,
		catalog: catalog,
		store:   store,
		shaper:  sh,
		metrics: m,
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// Store exposes the session store for transport-level endpoints.
func (a *Agent) Store() session.Store {
	return a.store
}

// Catalog exposes the tool catalog for health checks.
func (a *Agent) Catalog() tools.Catalog {
	return a.catalog
}

// Turn processes one user message and returns its event stream. The
// channel is closed after the terminal done event, which is emitted
// exactly once per turn.
func (a *Agent) Turn(ctx context.Context, req TurnRequest) <-chan Event {
	events := make(chan Event, 64)

	go func() {
		defer close(events)

		outcome := a.runTurn(ctx, req, events)
		events <- Event{Type: EventDone}

		if a.metrics != nil {
			a.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
		}
	}()

	return events
}

// runTurn drives one turn to completion and returns its outcome label.
// The terminal done event is emitted by the caller.
func (a *Agent) runTurn(ctx context.Context, req TurnRequest, events chan<- Event) string {
	sess := a.store.GetOrCreate(req.SessionID)
	hasHistory := len(sess.Exchanges()) > 0

	if prompt, needed := NeedsClarification(req.Message, hasHistory); needed {
		events <- Event{Type: EventContent, Content: prompt}
		return "clarification"
	}

	if !req.Confirmed && IsDangerousMessage(req.Message) {
		events <- Event{Type: EventConfirmationRequired, Content: ConfirmationPrompt}
		return "confirmation_required"
	}

	if answer, ok := sess.FindDuplicate(req.Message, a.cfg.DedupThreshold); ok {
		a.logger.Debug("Duplicate message served from session memory", "session", req.SessionID)
		if a.metrics != nil {
			a.metrics.CacheHitsTotal.WithLabelValues("duplicate").Inc()
		}
		events <- Event{Type: EventContent, Content: answer}
		return "duplicate"
	}

	descriptors, err := a.catalog.ListTools(ctx)
	if err != nil {
		a.logger.Error("Tool catalog fetch failed", "error", err)
		events <- Event{
			Type:    EventError,
			Kind:    "catalog_unavailable",
			Content: "The tool catalog is currently unavailable. Please try again later.",
		}
		return "catalog_unavailable"
	}
	definitions := tools.Definitions(descriptors)

	messages := a.buildHistory(sess, req.Message)
	var invocations []session.ToolInvocation
	var lastText string

	events <- Event{Type: EventStatus, Content: "Analyzing your request"}

	for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
		select {
		case <-ctx.Done():
			events <- Event{Type: EventError, Kind: KindTimeout, Content: "The request was cancelled."}
			return "cancelled"
		default:
		}

		text, toolCalls, err := a.callLLM(ctx, messages, definitions, events)
		if err != nil {
			classified := Classify(err)
			a.logger.Error("LLM request failed", "error", err, "kind", classified.Kind)
			events <- Event{Type: EventError, Kind: classified.Kind, Content: classified.Message}
			return "llm_error"
		}
		lastText = text

		if len(toolCalls) == 0 {
			// Final answer
			events <- Event{Type: EventContent, Content: text}
			a.recordExchange(sess, req.Message, text, invocations)
			return "completed"
		}

		// A tool-call payload wins over narrative text in the same turn;
		// the text is a reasoning artifact, not a final answer.
		messages = append(messages, assistantToolCallMessage(text, toolCalls))

		for _, tc := range toolCalls {
			select {
			case <-ctx.Done():
				events <- Event{Type: EventError, Kind: KindTimeout, Content: "The request was cancelled."}
				return "cancelled"
			default:
			}

			if !req.Confirmed && IsDangerousCall(tc.Name, tc.Args) {
				events <- Event{Type: EventConfirmationRequired, Content: ConfirmationPrompt}
				return "confirmation_required"
			}

			invocation, toolMsg := a.executeTool(ctx, sess, tc, events)
			invocations = append(invocations, invocation)
			messages = append(messages, toolMsg)
		}

		events <- Event{Type: EventStatus, Content: "Processing tool results"}
	}

	// Iteration bound exhausted: return the best available answer.
	a.logger.Warn("Iteration limit reached", "session", req.SessionID, "limit", a.cfg.MaxIterations)
	events <- Event{Type: EventContent, Content: lastText}
	a.recordExchange(sess, req.Message, lastText, invocations)
	return "iteration_limit"
}

// callLLM runs one streaming reasoning step, forwarding text deltas and
// accumulating proposed tool calls.
func (a *Agent) callLLM(ctx context.Context, messages []llms.Message, definitions []llms.ToolDefinition, events chan<- Event) (string, []*llms.ToolCall, error) {
	if a.metrics != nil {
		a.metrics.LLMCallsTotal.Inc()
	}

	stream, err := a.llm.GenerateStreaming(ctx, messages, definitions)
	if err != nil {
		return "", nil, err
	}

	var text string
	var deltas []string
	var toolCalls []*llms.ToolCall

	for chunk := range stream {
		switch chunk.Type {
		case "text":
			text += chunk.Text
			deltas = append(deltas, chunk.Text)
		case "tool_call":
			toolCalls = append(toolCalls, chunk.ToolCall)
		case "error":
			return "", nil, chunk.Error
		}
	}

	// Text in a tool-call step is a reasoning artifact and gets discarded,
	// so deltas are held back until the step turns out to be the answer.
	// Their concatenation then equals the final content event's text.
	if len(toolCalls) == 0 {
		for _, delta := range deltas {
			events <- Event{Type: EventContentDelta, Content: delta}
		}
	}

	return text, toolCalls, nil
}

// executeTool runs one proposed tool call through the cache, credential
// injection, execution and shaping, and returns the invocation record
// plus the synthetic tool message for the LLM.
func (a *Agent) executeTool(ctx context.Context, sess *session.Session, tc *llms.ToolCall, events chan<- Event) (session.ToolInvocation, llms.Message) {
	invocation := session.ToolInvocation{
		Name:        tc.Name,
		Arguments:   tc.Args,
		RequestedAt: time.Now(),
		Status:      session.StatusPending,
	}

	events <- Event{Type: EventToolCall, Tool: tc.Name, Arguments: tc.Args}

	if cached, ok := sess.CacheGet(tc.Name, tc.Args); ok {
		a.logger.Debug("Tool result served from cache", "tool", tc.Name)
		if a.metrics != nil {
			a.metrics.CacheHitsTotal.WithLabelValues("tool_result").Inc()
			a.metrics.ToolCallsTotal.WithLabelValues(tc.Name, "cached").Inc()
		}

		invocation.Status = session.StatusSuccess
		invocation.ResultSummary = cached
		events <- Event{Type: EventToolResult, Tool: tc.Name, Status: "cached", Content: cached}
		return invocation, toolResultMessage(tc, cached)
	}

	start := time.Now()
	raw, err := a.catalog.CallTool(ctx, tc.Name, a.injectCredentials(tc.Args))
	elapsed := time.Since(start)

	if err != nil {
		classified := Classify(err)
		a.logger.Warn("Tool execution failed",
			"tool", tc.Name,
			"kind", classified.Kind,
			"duration", elapsed,
		)
		if a.metrics != nil {
			a.metrics.ToolCallsTotal.WithLabelValues(tc.Name, "error").Inc()
		}

		invocation.Status = session.StatusError
		invocation.ErrorDetail = classified.Message
		events <- Event{Type: EventToolResult, Tool: tc.Name, Status: "error", Content: classified.Message}

		// Fed back to the LLM so it can retry, switch tools, or apologize
		synthetic := fmt.Sprintf("Tool %s failed: %s", tc.Name, classified.Message)
		return invocation, toolResultMessage(tc, synthetic)
	}

	shaped := a.shaper.ShapeText(tc.Name, tc.Args, raw)
	sess.CachePut(tc.Name, tc.Args, shaped, true)

	a.logger.Debug("Tool executed",
		"tool", tc.Name,
		"duration", elapsed,
		"result_tokens", a.shaper.EstimateTokens(shaped),
	)
	if a.metrics != nil {
		a.metrics.ToolCallsTotal.WithLabelValues(tc.Name, "success").Inc()
	}

	invocation.Status = session.StatusSuccess
	invocation.ResultSummary = shaped
	events <- Event{Type: EventToolResult, Tool: tc.Name, Status: "success", Content: shaped}
	return invocation, toolResultMessage(tc, shaped)
}

// injectCredentials copies the arguments and adds the externally supplied
// credential fields. The original map stays untouched so cache keys and
// events never see credentials.
func (a *Agent) injectCredentials(args map[string]interface{}) map[string]interface{} {
	injected := make(map[string]interface{}, len(args)+len(a.cfg.Credentials))
	for k, v := range args {
		injected[k] = v
	}
	for k, v := range a.cfg.Credentials {
		injected[k] = v
	}
	return injected
}

// buildHistory assembles the message list: system prompt, retained
// exchanges, then the current user message.
func (a *Agent) buildHistory(sess *session.Session, message string) []llms.Message {
	messages := []llms.Message{
		{Role: llms.RoleSystem, Content: a.cfg.SystemPrompt},
	}

	for _, exchange := range sess.Exchanges() {
		messages = append(messages,
			llms.Message{Role: llms.RoleUser, Content: exchange.UserMessage},
			llms.Message{Role: llms.RoleAssistant, Content: exchange.AssistantResponse},
		)
	}

	messages = append(messages, llms.Message{Role: llms.RoleUser, Content: message})
	return messages
}

func (a *Agent) recordExchange(sess *session.Session, userMessage, response string, invocations []session.ToolInvocation) {
	sess.RecordExchange(session.Exchange{
		UserMessage:       userMessage,
		AssistantResponse: response,
		ToolInvocations:   invocations,
	})
}

func assistantToolCallMessage(text string, toolCalls []*llms.ToolCall) llms.Message {
	msg := llms.Message{Role: llms.RoleAssistant, Content: text}
	for _, tc := range toolCalls {
		msg.ToolCalls = append(msg.ToolCalls, *tc)
	}
	return msg
}

func toolResultMessage(tc *llms.ToolCall, content string) llms.Message {
	return llms.Message{
		Role:       llms.RoleTool,
		Content:    content,
		ToolCallID: tc.ID,
	}
}
