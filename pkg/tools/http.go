package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/addanuj/mcp-client/pkg/httpclient"
)

const protocolVersion = "2024-11-05"

// HTTPCatalog talks JSON-RPC 2.0 to a remote MCP server over HTTP.
// Responses may arrive as plain JSON or as SSE data frames.
type HTTPCatalog struct {
	name       string
	url        string
	httpClient *httpclient.Client

	mu          sync.RWMutex
	cached      []ToolDescriptor
	initialized bool
}

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CallParams are the parameters for tools/call.
type CallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// NewHTTPCatalog creates a catalog client for a remote MCP server.
func NewHTTPCatalog(name, url string, timeout time.Duration) *HTTPCatalog {
	if name == "" {
		name = "mcp"
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPCatalog{
		name: name,
		url:  url,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}
}

func (c *HTTPCatalog) Name() string {
	return c.name
}

// ListTools returns the advertised tool descriptors, fetching them on first
// use and serving from cache afterwards.
func (c *HTTPCatalog) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	c.mu.RLock()
	if c.cached != nil {
		tools := make([]ToolDescriptor, len(c.cached))
		copy(tools, c.cached)
		c.mu.RUnlock()
		return tools, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil {
		tools := make([]ToolDescriptor, len(c.cached))
		copy(tools, c.cached)
		return tools, nil
	}

	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	response, err := c.makeRequest(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools from %s: %w", c.name, err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("MCP error: %s", response.Error.Message)
	}

	tools := parseToolsResult(response.Result)
	c.cached = tools

	slog.Info("Discovered tools from MCP server",
		"source", c.name,
		"url", c.url,
		"tools", len(tools),
	)

	result := make([]ToolDescriptor, len(tools))
	copy(result, tools)
	return result, nil
}

// CallTool executes a tool on the server and returns its text content.
func (c *HTTPCatalog) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	response, err := c.makeRequest(ctx, "tools/call", CallParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("tool call %s failed: %w", name, err)
	}
	if response.Error != nil {
		return "", fmt.Errorf("MCP error: %s", response.Error.Message)
	}

	resultMap, ok := response.Result.(map[string]interface{})
	if !ok {
		return fmt.Sprintf("%v", response.Result), nil
	}

	content, _ := resultMap["content"].([]interface{})
	text := extractText(content)

	if isError, _ := resultMap["isError"].(bool); isError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("tool error: %s", text)
	}

	return text, nil
}

// Health performs an initialize round-trip to check server liveness.
func (c *HTTPCatalog) Health(ctx context.Context) error {
	response, err := c.makeRequest(ctx, "initialize", initializeParams())
	if err != nil {
		return fmt.Errorf("MCP server unreachable: %w", err)
	}
	if response.Error != nil {
		return fmt.Errorf("MCP init error: %s", response.Error.Message)
	}
	return nil
}

// Invalidate drops the cached tool list. The next ListTools refetches.
func (c *HTTPCatalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
	c.initialized = false
}

func (c *HTTPCatalog) Close() error {
	return nil
}

// ensureInitialized performs the MCP handshake once per cache generation.
// Caller holds the write lock.
func (c *HTTPCatalog) ensureInitialized(ctx context.Context) error {
	if c.initialized {
		return nil
	}

	response, err := c.makeRequest(ctx, "initialize", initializeParams())
	if err != nil {
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}
	if response.Error != nil {
		return fmt.Errorf("MCP init error: %s", response.Error.Message)
	}

	c.initialized = true
	return nil
}

func initializeParams() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]interface{}{
			"name":    "mcp-client",
			"version": "1.0.0",
		},
		"capabilities": map[string]interface{}{},
	}
}

func parseToolsResult(result interface{}) []ToolDescriptor {
	var tools []ToolDescriptor

	resultMap, ok := result.(map[string]interface{})
	if !ok {
		return tools
	}
	toolsArray, ok := resultMap["tools"].([]interface{})
	if !ok {
		return tools
	}

	for _, toolItem := range toolsArray {
		tool, ok := toolItem.(map[string]interface{})
		if !ok {
			continue
		}

		descriptor := ToolDescriptor{
			Name:        getString(tool, "name"),
			Description: getString(tool, "description"),
		}

		if schema, ok := tool["inputSchema"].(map[string]interface{}); ok {
			descriptor.InputSchema = schema
			descriptor.Parameters = parseSchemaParams(schema)
		}

		tools = append(tools, descriptor)
	}

	return tools
}

// makeRequest posts a JSON-RPC request and parses the response, falling back
// to SSE data-frame parsing when the server streams.
func (c *HTTPCatalog) makeRequest(ctx context.Context, method string, params interface{}) (*Response, error) {
	request := Request{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, strings.NewReader(string(requestBody)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, httpResp.Status)
	}

	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Plain JSON first
	var mcpResp Response
	if err := json.Unmarshal(responseBody, &mcpResp); err == nil {
		return &mcpResp, nil
	}

	// SSE fallback
	lines := strings.Split(string(responseBody), "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "data: ") {
			jsonData := strings.TrimPrefix(line, "data: ")
			if err := json.Unmarshal([]byte(jsonData), &mcpResp); err == nil {
				return &mcpResp, nil
			}
		}
	}

	return nil, fmt.Errorf("failed to parse response as JSON or SSE")
}

var _ Catalog = (*HTTPCatalog)(nil)
