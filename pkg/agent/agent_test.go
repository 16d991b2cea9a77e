package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/addanuj/mcp-client/pkg/config"
	"github.com/addanuj/mcp-client/pkg/llms"
	"github.com/addanuj/mcp-client/pkg/session"
	"github.com/addanuj/mcp-client/pkg/shaper"
	"github.com/addanuj/mcp-client/pkg/tools"
)

// scriptedStep is one LLM response: either narrative text, tool calls,
// or a failure.
type scriptedStep struct {
	text      string
	toolCalls []*llms.ToolCall
	err       error
}

type fakeProvider struct {
	steps []scriptedStep
	calls int
	seen  [][]llms.Message
}

func (p *fakeProvider) Generate(ctx context.Context, messages []llms.Message, definitions []llms.ToolDefinition) (string, []*llms.ToolCall, int, error) {
	text, toolCalls, err := p.next(messages)
	return text, toolCalls, 0, err
}

func (p *fakeProvider) GenerateStreaming(ctx context.Context, messages []llms.Message, definitions []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	text, toolCalls, err := p.next(messages)

	ch := make(chan llms.StreamChunk, 16)
	go func() {
		defer close(ch)

		if err != nil {
			ch <- llms.StreamChunk{Type: "error", Error: err}
			return
		}

		// Split the text to exercise delta reassembly
		if text != "" {
			mid := len(text) / 2
			ch <- llms.StreamChunk{Type: "text", Text: text[:mid]}
			ch <- llms.StreamChunk{Type: "text", Text: text[mid:]}
		}
		for _, tc := range toolCalls {
			ch <- llms.StreamChunk{Type: "tool_call", ToolCall: tc}
		}
		ch <- llms.StreamChunk{Type: "done"}
	}()
	return ch, nil
}

func (p *fakeProvider) next(messages []llms.Message) (string, []*llms.ToolCall, error) {
	p.seen = append(p.seen, messages)
	if p.calls >= len(p.steps) {
		return "", nil, errors.New("no scripted step left")
	}
	step := p.steps[p.calls]
	p.calls++
	return step.text, step.toolCalls, step.err
}

func (p *fakeProvider) ModelName() string { return "scripted" }

type recordedCall struct {
	name string
	args map[string]interface{}
}

type fakeCatalog struct {
	descriptors []tools.ToolDescriptor
	listErr     error
	results     map[string]string
	callErr     error
	calls       []recordedCall
}

func (c *fakeCatalog) Name() string { return "fake" }

func (c *fakeCatalog) ListTools(ctx context.Context) ([]tools.ToolDescriptor, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.descriptors, nil
}

func (c *fakeCatalog) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	c.calls = append(c.calls, recordedCall{name: name, args: args})
	if c.callErr != nil {
		return "", c.callErr
	}
	if result, ok := c.results[name]; ok {
		return result, nil
	}
	return "", fmt.Errorf("unknown tool: %s", name)
}

func (c *fakeCatalog) Health(ctx context.Context) error { return nil }
func (c *fakeCatalog) Invalidate()                      {}
func (c *fakeCatalog) Close() error                     { return nil }

func newTestAgent(provider llms.Provider, catalog tools.Catalog) *Agent {
	sh := shaper.New(&config.ShaperConfig{
		MaxItems:     20,
		MaxKeys:      8,
		FallbackKeys: 6,
		MaxChars:     10000,
	})
	store := session.NewInMemoryStore(session.DefaultLimits())

	return New(provider, catalog, store, sh, nil, Config{
		MaxIterations: 5,
		Credentials:   map[string]string{"qradar_token": "secret-token"},
	})
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	require.NotEmpty(t, out)
	return out
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestTurnPlainAnswer(t *testing.T) {
	provider := &fakeProvider{steps: []scriptedStep{
		{text: "There are no open offenses right now."},
	}}
	catalog := &fakeCatalog{}
	a := newTestAgent(provider, catalog)

	events := drain(t, a.Turn(context.Background(), TurnRequest{
		SessionID: "s1",
		Message:   "any open offenses?",
	}))

	last := events[len(events)-1]
	assert.Equal(t, EventDone, last.Type)
	assert.Len(t, eventsOfType(events, EventDone), 1)

	contents := eventsOfType(events, EventContent)
	require.Len(t, contents, 1)
	assert.Equal(t, "There are no open offenses right now.", contents[0].Content)

	var deltas string
	for _, ev := range eventsOfType(events, EventContentDelta) {
		deltas += ev.Content
	}
	assert.Equal(t, contents[0].Content, deltas)

	sess, ok := a.Store().Get("s1")
	require.True(t, ok)
	require.Len(t, sess.Exchanges(), 1)
	assert.Equal(t, "any open offenses?", sess.Exchanges()[0].UserMessage)
}

func TestTurnToolCallFlow(t *testing.T) {
	provider := &fakeProvider{steps: []scriptedStep{
		{toolCalls: []*llms.ToolCall{{
			ID:   "call_1",
			Name: "get_offenses",
			Args: map[string]interface{}{"status": "OPEN"},
		}}},
		{text: "Found one open offense."},
	}}
	catalog := &fakeCatalog{
		results: map[string]string{
			"get_offenses": `[{"id": 1, "description": "Port scan", "status": "OPEN"}]`,
		},
	}
	a := newTestAgent(provider, catalog)

	events := drain(t, a.Turn(context.Background(), TurnRequest{
		SessionID: "s1",
		Message:   "show open offenses",
	}))

	// tool_call precedes its tool_result
	callIdx, resultIdx := -1, -1
	for i, ev := range events {
		if ev.Type == EventToolCall && callIdx < 0 {
			callIdx = i
		}
		if ev.Type == EventToolResult && resultIdx < 0 {
			resultIdx = i
		}
	}
	require.GreaterOrEqual(t, callIdx, 0)
	require.Greater(t, resultIdx, callIdx)

	// Emitted arguments never carry injected credentials
	assert.Equal(t, map[string]interface{}{"status": "OPEN"}, events[callIdx].Arguments)

	// The catalog saw the credentials
	require.Len(t, catalog.calls, 1)
	assert.Equal(t, "secret-token", catalog.calls[0].args["qradar_token"])
	assert.Equal(t, "OPEN", catalog.calls[0].args["status"])

	assert.Equal(t, "success", events[resultIdx].Status)

	contents := eventsOfType(events, EventContent)
	require.Len(t, contents, 1)
	assert.Equal(t, "Found one open offense.", contents[0].Content)

	// Second LLM step received the shaped result as a tool message
	require.Len(t, provider.seen, 2)
	secondCall := provider.seen[1]
	toolMsg := secondCall[len(secondCall)-1]
	assert.Equal(t, llms.RoleTool, toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, "Port scan")
	assert.NotContains(t, toolMsg.Content, "secret-token")

	sess, _ := a.Store().Get("s1")
	require.Len(t, sess.Exchanges(), 1)
	require.Len(t, sess.Exchanges()[0].ToolInvocations, 1)
	assert.Equal(t, session.StatusSuccess, sess.Exchanges()[0].ToolInvocations[0].Status)
}

func TestTurnDeltasMatchContentAcrossToolSteps(t *testing.T) {
	// Narrative text alongside a tool call is a reasoning artifact; its
	// deltas must not leak into the stream, or the delta concatenation
	// would no longer equal the final content.
	provider := &fakeProvider{steps: []scriptedStep{
		{
			text: "Let me check the offenses. ",
			toolCalls: []*llms.ToolCall{{
				ID:   "c1",
				Name: "get_offenses",
				Args: map[string]interface{}{},
			}},
		},
		{text: "There is one open offense."},
	}}
	catalog := &fakeCatalog{results: map[string]string{"get_offenses": `[{"id": 1}]`}}
	a := newTestAgent(provider, catalog)

	events := drain(t, a.Turn(context.Background(), TurnRequest{
		SessionID: "s1",
		Message:   "show open offenses",
	}))

	contents := eventsOfType(events, EventContent)
	require.Len(t, contents, 1)
	assert.Equal(t, "There is one open offense.", contents[0].Content)

	var deltas string
	for _, ev := range eventsOfType(events, EventContentDelta) {
		deltas += ev.Content
	}
	assert.Equal(t, contents[0].Content, deltas)
}

func TestTurnDangerousMessageRequiresConfirmation(t *testing.T) {
	provider := &fakeProvider{}
	catalog := &fakeCatalog{}
	a := newTestAgent(provider, catalog)

	events := drain(t, a.Turn(context.Background(), TurnRequest{
		SessionID: "s1",
		Message:   "delete offense 42",
	}))

	confirmations := eventsOfType(events, EventConfirmationRequired)
	require.Len(t, confirmations, 1)
	assert.Equal(t, ConfirmationPrompt, confirmations[0].Content)

	assert.Zero(t, provider.calls, "no LLM call before confirmation")
	assert.Empty(t, catalog.calls, "no tool call before confirmation")
}

func TestTurnConfirmedDangerousMessageProceeds(t *testing.T) {
	provider := &fakeProvider{steps: []scriptedStep{
		{toolCalls: []*llms.ToolCall{{
			ID:   "call_1",
			Name: "delete_offense",
			Args: map[string]interface{}{"id": float64(42)},
		}}},
		{text: "Offense 42 deleted."},
	}}
	catalog := &fakeCatalog{results: map[string]string{"delete_offense": `{"deleted": true}`}}
	a := newTestAgent(provider, catalog)

	events := drain(t, a.Turn(context.Background(), TurnRequest{
		SessionID: "s1",
		Message:   "delete offense 42",
		Confirmed: true,
	}))

	assert.Empty(t, eventsOfType(events, EventConfirmationRequired))
	require.Len(t, catalog.calls, 1)
	assert.Equal(t, "delete_offense", catalog.calls[0].name)
}

func TestTurnDangerousToolCallRequiresConfirmation(t *testing.T) {
	provider := &fakeProvider{steps: []scriptedStep{
		{toolCalls: []*llms.ToolCall{{
			ID:   "call_1",
			Name: "remove_log_source",
			Args: map[string]interface{}{"id": float64(7)},
		}}},
	}}
	catalog := &fakeCatalog{}
	a := newTestAgent(provider, catalog)

	events := drain(t, a.Turn(context.Background(), TurnRequest{
		SessionID: "s1",
		Message:   "tidy up that noisy log source",
	}))

	require.Len(t, eventsOfType(events, EventConfirmationRequired), 1)
	assert.Empty(t, catalog.calls, "dangerous tool never executed")
}

func TestTurnDuplicateMessageShortCircuits(t *testing.T) {
	provider := &fakeProvider{steps: []scriptedStep{
		{text: "There are 3 open offenses."},
	}}
	catalog := &fakeCatalog{}
	a := newTestAgent(provider, catalog)

	drain(t, a.Turn(context.Background(), TurnRequest{SessionID: "s1", Message: "how many open offenses?"}))
	require.Equal(t, 1, provider.calls)

	events := drain(t, a.Turn(context.Background(), TurnRequest{SessionID: "s1", Message: "How many open  offenses?"}))

	contents := eventsOfType(events, EventContent)
	require.Len(t, contents, 1)
	assert.Equal(t, "There are 3 open offenses.", contents[0].Content)
	assert.Equal(t, 1, provider.calls, "duplicate answered from memory")
}

func TestTurnToolResultCacheHit(t *testing.T) {
	provider := &fakeProvider{steps: []scriptedStep{
		{toolCalls: []*llms.ToolCall{{ID: "c1", Name: "get_assets", Args: map[string]interface{}{"domain_id": float64(0)}}}},
		{text: "Two assets found."},
		{toolCalls: []*llms.ToolCall{{ID: "c2", Name: "get_assets", Args: map[string]interface{}{"domain_id": float64(0)}}}},
		{text: "Still two assets."},
	}}
	catalog := &fakeCatalog{results: map[string]string{"get_assets": `[{"id": 1}, {"id": 2}]`}}
	a := newTestAgent(provider, catalog)

	drain(t, a.Turn(context.Background(), TurnRequest{SessionID: "s1", Message: "list assets"}))
	require.Len(t, catalog.calls, 1)

	events := drain(t, a.Turn(context.Background(), TurnRequest{SessionID: "s1", Message: "show me the asset inventory"}))

	results := eventsOfType(events, EventToolResult)
	require.Len(t, results, 1)
	assert.Equal(t, "cached", results[0].Status)
	assert.Len(t, catalog.calls, 1, "second identical call served from cache")
}

func TestTurnClarificationSkipsLLM(t *testing.T) {
	provider := &fakeProvider{}
	catalog := &fakeCatalog{}
	a := newTestAgent(provider, catalog)

	events := drain(t, a.Turn(context.Background(), TurnRequest{SessionID: "s1", Message: "that?"}))

	contents := eventsOfType(events, EventContent)
	require.Len(t, contents, 1)
	assert.Contains(t, contents[0].Content, "Could you be more specific")
	assert.Zero(t, provider.calls)
	assert.Empty(t, catalog.calls)
}

func TestTurnCatalogUnavailable(t *testing.T) {
	provider := &fakeProvider{}
	catalog := &fakeCatalog{listErr: errors.New("connection refused")}
	a := newTestAgent(provider, catalog)

	events := drain(t, a.Turn(context.Background(), TurnRequest{SessionID: "s1", Message: "show offenses"}))

	errs := eventsOfType(events, EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "catalog_unavailable", errs[0].Kind)
	assert.Zero(t, provider.calls)
}

func TestTurnToolErrorFedBackToLLM(t *testing.T) {
	provider := &fakeProvider{steps: []scriptedStep{
		{toolCalls: []*llms.ToolCall{{ID: "c1", Name: "get_offenses", Args: map[string]interface{}{}}}},
		{text: "I couldn't reach QRadar; the token looks wrong."},
	}}
	catalog := &fakeCatalog{callErr: errors.New("HTTP 401 unauthorized")}
	a := newTestAgent(provider, catalog)

	events := drain(t, a.Turn(context.Background(), TurnRequest{SessionID: "s1", Message: "show offenses"}))

	results := eventsOfType(events, EventToolResult)
	require.Len(t, results, 1)
	assert.Equal(t, "error", results[0].Status)
	assert.Equal(t, "Authentication failed. Please check your QRadar API token.", results[0].Content)

	// The failure is relayed to the LLM as a tool message, not a turn abort
	require.Len(t, provider.seen, 2)
	secondCall := provider.seen[1]
	toolMsg := secondCall[len(secondCall)-1]
	assert.Equal(t, llms.RoleTool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, "get_offenses failed")

	require.Len(t, eventsOfType(events, EventContent), 1)
	assert.Len(t, eventsOfType(events, EventDone), 1)
}

func TestTurnLLMErrorSurfaced(t *testing.T) {
	provider := &fakeProvider{steps: []scriptedStep{
		{err: errors.New("request timed out after 30s")},
	}}
	a := newTestAgent(provider, &fakeCatalog{})

	events := drain(t, a.Turn(context.Background(), TurnRequest{SessionID: "s1", Message: "show offenses"}))

	errs := eventsOfType(events, EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, KindTimeout, errs[0].Kind)
	assert.Len(t, eventsOfType(events, EventDone), 1)
}

func TestTurnIterationLimit(t *testing.T) {
	// Every step proposes another tool call; the loop must still terminate.
	step := scriptedStep{toolCalls: []*llms.ToolCall{{ID: "c", Name: "get_offenses", Args: map[string]interface{}{}}}}
	provider := &fakeProvider{steps: []scriptedStep{step, step, step}}
	catalog := &fakeCatalog{results: map[string]string{"get_offenses": `[]`}}

	sh := shaper.New(&config.ShaperConfig{MaxItems: 20, MaxKeys: 8, FallbackKeys: 6, MaxChars: 10000})
	a := New(provider, catalog, session.NewInMemoryStore(session.DefaultLimits()), sh, nil, Config{MaxIterations: 3})

	events := drain(t, a.Turn(context.Background(), TurnRequest{SessionID: "s1", Message: "show offenses"}))

	assert.Len(t, eventsOfType(events, EventDone), 1)
	assert.Equal(t, 3, provider.calls)
	// Identical calls after the first are cache hits
	assert.Len(t, catalog.calls, 1)
}

func TestCollect(t *testing.T) {
	ch := make(chan Event, 8)
	ch <- Event{Type: EventStatus, Content: "Analyzing your request"}
	ch <- Event{Type: EventToolCall, Tool: "get_offenses"}
	ch <- Event{Type: EventToolResult, Tool: "get_offenses", Status: "success", Content: "[]"}
	ch <- Event{Type: EventContentDelta, Content: "No open "}
	ch <- Event{Type: EventContentDelta, Content: "offenses."}
	ch <- Event{Type: EventContent, Content: "No open offenses."}
	ch <- Event{Type: EventDone}
	close(ch)

	result := Collect(ch)
	assert.Equal(t, "No open offenses.", result.Content)
	require.Len(t, result.ToolsCalled, 1)
	assert.Equal(t, "get_offenses", result.ToolsCalled[0].Name)
	assert.Equal(t, "success", result.ToolsCalled[0].Status)
	assert.False(t, result.ConfirmationRequired)
	assert.Empty(t, result.Error)
}

func TestCollectFoldsDeltasWithoutContentEvent(t *testing.T) {
	ch := make(chan Event, 4)
	ch <- Event{Type: EventContentDelta, Content: "partial "}
	ch <- Event{Type: EventContentDelta, Content: "answer"}
	ch <- Event{Type: EventDone}
	close(ch)

	result := Collect(ch)
	assert.Equal(t, "partial answer", result.Content)
}
