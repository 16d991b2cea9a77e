// Package tools provides the tool catalog client for MCP servers,
// reachable over HTTP JSON-RPC or a stdio subprocess.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/addanuj/mcp-client/pkg/llms"
)

// ToolDescriptor describes one callable tool advertised by the server.
// Immutable once fetched; cached until Invalidate.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`

	// InputSchema is the raw JSON schema as advertised by the server,
	// passed through to the LLM unmodified.
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// Catalog is the tool-execution server contract used by the orchestration
// loop. ListTools results are cached for the catalog's lifetime; Invalidate
// drops the cache (e.g. on a configuration change).
type Catalog interface {
	Name() string

	ListTools(ctx context.Context) ([]ToolDescriptor, error)

	// CallTool executes a tool and returns its textual result. A result
	// flagged as an error by the server is returned as an error.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)

	Health(ctx context.Context) error

	Invalidate()

	Close() error
}

// Definitions converts catalog descriptors into LLM tool definitions.
func Definitions(descriptors []ToolDescriptor) []llms.ToolDefinition {
	defs := make([]llms.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		schema := d.InputSchema
		if schema == nil {
			schema = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		defs = append(defs, llms.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  schema,
		})
	}
	return defs
}

// parseSchemaParams extracts flat parameter descriptions from a JSON schema.
func parseSchemaParams(schema map[string]interface{}) []ToolParameter {
	var params []ToolParameter

	properties, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	for paramName, paramData := range properties {
		param, ok := paramData.(map[string]interface{})
		if !ok {
			continue
		}

		toolParam := ToolParameter{
			Name:        paramName,
			Type:        getString(param, "type"),
			Description: getString(param, "description"),
			Required:    isRequired(schema, paramName),
		}

		if enum, ok := param["enum"].([]interface{}); ok {
			for _, val := range enum {
				if strVal, ok := val.(string); ok {
					toolParam.Enum = append(toolParam.Enum, strVal)
				}
			}
		}

		if defaultVal, ok := param["default"]; ok {
			toolParam.Default = defaultVal
		}

		if format := getString(param, "format"); format != "" {
			toolParam.Description += fmt.Sprintf(" (format: %s)", format)
		}

		params = append(params, toolParam)
	}

	return params
}

func getString(m map[string]interface{}, key string) string {
	if val, ok := m[key].(string); ok {
		return val
	}
	return ""
}

func isRequired(schema map[string]interface{}, paramName string) bool {
	if required, ok := schema["required"].([]interface{}); ok {
		for _, req := range required {
			if req == paramName {
				return true
			}
		}
	}
	return false
}

// extractText concatenates the text entries of an MCP content array.
func extractText(content []interface{}) string {
	var sb strings.Builder
	for _, item := range content {
		contentItem, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if text, ok := contentItem["text"].(string); ok {
			sb.WriteString(text)
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String())
}
