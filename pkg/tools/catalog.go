package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/addanuj/mcp-client/pkg/config"
)

// New builds a catalog from the MCP config section.
func New(cfg *config.MCPConfig) (Catalog, error) {
	switch strings.ToLower(cfg.Type) {
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("URL is required for http MCP transport")
		}
		return NewHTTPCatalog("mcp", cfg.URL, time.Duration(cfg.Timeout)*time.Second), nil

	case "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("command is required for stdio MCP transport")
		}
		return NewStdioCatalog("mcp", cfg.Command, cfg.Args, cfg.Env), nil

	default:
		return nil, fmt.Errorf("unsupported MCP transport: %s", cfg.Type)
	}
}
