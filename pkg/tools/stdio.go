package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// StdioCatalog runs an MCP server as a subprocess and talks to it over
// stdin/stdout using mcp-go.
type StdioCatalog struct {
	name    string
	command string
	args    []string
	env     map[string]string

	mu        sync.Mutex
	client    *client.Client
	cached    []ToolDescriptor
	connected bool
}

// NewStdioCatalog creates a catalog client backed by a subprocess MCP server.
func NewStdioCatalog(name, command string, args []string, env map[string]string) *StdioCatalog {
	if name == "" {
		name = "mcp"
	}
	return &StdioCatalog{
		name:    name,
		command: command,
		args:    args,
		env:     env,
	}
}

func (c *StdioCatalog) Name() string {
	return c.name
}

// connect spawns the subprocess and performs the MCP handshake.
// Caller holds the lock.
func (c *StdioCatalog) connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	mcpClient, err := client.NewStdioMCPClient(c.command, convertEnv(c.env), c.args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "mcp-client",
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	c.client = mcpClient
	c.connected = true

	slog.Info("Connected to MCP server (stdio)",
		"source", c.name,
		"command", c.command,
	)

	return nil
}

func (c *StdioCatalog) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil {
		tools := make([]ToolDescriptor, len(c.cached))
		copy(tools, c.cached)
		return tools, nil
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	listReq := mcp.ListToolsRequest{}
	listResp, err := c.client.ListTools(ctx, listReq)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	var tools []ToolDescriptor
	for _, mcpTool := range listResp.Tools {
		schema := convertSchema(mcpTool.InputSchema)
		tools = append(tools, ToolDescriptor{
			Name:        mcpTool.Name,
			Description: mcpTool.Description,
			InputSchema: schema,
			Parameters:  parseSchemaParams(schema),
		})
	}

	c.cached = tools

	result := make([]ToolDescriptor, len(tools))
	copy(result, tools)
	return result, nil
}

func (c *StdioCatalog) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	c.mu.Lock()
	if err := c.connect(ctx); err != nil {
		c.mu.Unlock()
		return "", err
	}
	mcpClient := c.client
	c.mu.Unlock()

	if args == nil {
		args = map[string]interface{}{}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tool call %s failed: %w", name, err)
	}

	var text string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			if text != "" {
				text += "\n"
			}
			text += textContent.Text
		}
	}

	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("tool error: %s", text)
	}

	return text, nil
}

func (c *StdioCatalog) Health(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return fmt.Errorf("MCP server unreachable: %w", err)
	}
	return c.client.Ping(ctx)
}

// Invalidate drops the cache and closes the subprocess; the next call
// respawns it.
func (c *StdioCatalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cached = nil
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			slog.Warn("Failed to close MCP client", "error", err)
		}
		c.client = nil
	}
	c.connected = false
}

func (c *StdioCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.connected = false
	return err
}

func convertEnv(env map[string]string) []string {
	var result []string
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}

// convertSchema converts an MCP tool schema to a plain map.
func convertSchema(schema mcp.ToolInputSchema) map[string]interface{} {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	return result
}

var _ Catalog = (*StdioCatalog)(nil)
