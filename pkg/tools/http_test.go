package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func mcpHandler(t *testing.T, listCalls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}

		resp := Response{JSONRPC: "2.0", ID: req.ID}

		switch req.Method {
		case "initialize":
			resp.Result = map[string]interface{}{
				"protocolVersion": protocolVersion,
				"serverInfo":      map[string]interface{}{"name": "test-server"},
			}

		case "tools/list":
			if listCalls != nil {
				atomic.AddInt32(listCalls, 1)
			}
			resp.Result = map[string]interface{}{
				"tools": []interface{}{
					map[string]interface{}{
						"name":        "query_offenses",
						"description": "Query QRadar offenses",
						"inputSchema": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"status": map[string]interface{}{
									"type":        "string",
									"description": "Offense status filter",
									"enum":        []interface{}{"OPEN", "CLOSED"},
								},
							},
							"required": []interface{}{"status"},
						},
					},
				},
			}

		case "tools/call":
			params := req.Params.(map[string]interface{})
			name := params["name"].(string)
			if name == "failing_tool" {
				resp.Result = map[string]interface{}{
					"isError": true,
					"content": []interface{}{
						map[string]interface{}{"type": "text", "text": "boom"},
					},
				}
			} else {
				resp.Result = map[string]interface{}{
					"content": []interface{}{
						map[string]interface{}{"type": "text", "text": `{"offenses": []}`},
					},
				}
			}

		default:
			resp.Error = &Error{Code: -32601, Message: "method not found"}
		}

		json.NewEncoder(w).Encode(resp)
	}
}

func TestHTTPCatalog_ListTools(t *testing.T) {
	var listCalls int32
	server := httptest.NewServer(mcpHandler(t, &listCalls))
	defer server.Close()

	catalog := NewHTTPCatalog("test", server.URL, 5*time.Second)

	tools, err := catalog.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}

	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	if tools[0].Name != "query_offenses" {
		t.Errorf("tool name = %q, want 'query_offenses'", tools[0].Name)
	}
	if tools[0].InputSchema == nil {
		t.Error("expected input schema to be preserved")
	}
	if len(tools[0].Parameters) != 1 {
		t.Fatalf("expected 1 parameter, got %d", len(tools[0].Parameters))
	}
	if !tools[0].Parameters[0].Required {
		t.Error("expected status parameter to be required")
	}
	if len(tools[0].Parameters[0].Enum) != 2 {
		t.Errorf("expected 2 enum values, got %d", len(tools[0].Parameters[0].Enum))
	}
}

func TestHTTPCatalog_ListTools_Cached(t *testing.T) {
	var listCalls int32
	server := httptest.NewServer(mcpHandler(t, &listCalls))
	defer server.Close()

	catalog := NewHTTPCatalog("test", server.URL, 5*time.Second)

	ctx := context.Background()
	if _, err := catalog.ListTools(ctx); err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if _, err := catalog.ListTools(ctx); err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}

	if got := atomic.LoadInt32(&listCalls); got != 1 {
		t.Errorf("tools/list calls = %d, want 1 (cached)", got)
	}

	// Invalidate forces a refetch
	catalog.Invalidate()
	if _, err := catalog.ListTools(ctx); err != nil {
		t.Fatalf("ListTools() after Invalidate() error = %v", err)
	}
	if got := atomic.LoadInt32(&listCalls); got != 2 {
		t.Errorf("tools/list calls = %d, want 2 after invalidation", got)
	}
}

func TestHTTPCatalog_CallTool(t *testing.T) {
	server := httptest.NewServer(mcpHandler(t, nil))
	defer server.Close()

	catalog := NewHTTPCatalog("test", server.URL, 5*time.Second)

	result, err := catalog.CallTool(context.Background(), "query_offenses",
		map[string]interface{}{"status": "OPEN"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result != `{"offenses": []}` {
		t.Errorf("CallTool() = %q", result)
	}
}

func TestHTTPCatalog_CallTool_ServerError(t *testing.T) {
	server := httptest.NewServer(mcpHandler(t, nil))
	defer server.Close()

	catalog := NewHTTPCatalog("test", server.URL, 5*time.Second)

	_, err := catalog.CallTool(context.Background(), "failing_tool", nil)
	if err == nil {
		t.Fatal("expected error for isError result")
	}
	if got := err.Error(); got != "tool error: boom" {
		t.Errorf("error = %q, want 'tool error: boom'", got)
	}
}

func TestHTTPCatalog_SSEResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)

		resp := Response{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "initialize":
			resp.Result = map[string]interface{}{}
		case "tools/list":
			resp.Result = map[string]interface{}{
				"tools": []interface{}{
					map[string]interface{}{"name": "ping", "description": "ping"},
				},
			}
		}

		data, _ := json.Marshal(resp)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
	}))
	defer server.Close()

	catalog := NewHTTPCatalog("test", server.URL, 5*time.Second)

	tools, err := catalog.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "ping" {
		t.Errorf("unexpected tools: %+v", tools)
	}
}

func TestHTTPCatalog_Health(t *testing.T) {
	server := httptest.NewServer(mcpHandler(t, nil))
	defer server.Close()

	catalog := NewHTTPCatalog("test", server.URL, 5*time.Second)
	if err := catalog.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}

	server.Close()
	if err := catalog.Health(context.Background()); err == nil {
		t.Error("expected Health() error after server shutdown")
	}
}

func TestDefinitions(t *testing.T) {
	descriptors := []ToolDescriptor{
		{
			Name:        "query_offenses",
			Description: "Query offenses",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"status": map[string]interface{}{"type": "string"},
				},
			},
		},
		{Name: "bare_tool", Description: "no schema"},
	}

	defs := Definitions(descriptors)
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].Parameters["type"] != "object" {
		t.Error("expected schema passthrough")
	}
	if defs[1].Parameters == nil {
		t.Error("expected synthesized empty schema for bare tool")
	}
}
