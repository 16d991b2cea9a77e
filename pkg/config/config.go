// Package config defines the service configuration and its koanf-based loader.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	LLM         LLMConfig         `yaml:"llm"`
	MCP         MCPConfig         `yaml:"mcp"`
	Credentials map[string]string `yaml:"credentials"`
	Agent       AgentConfig       `yaml:"agent"`
	Shaper      ShaperConfig      `yaml:"shaper"`
	Logger      LoggerConfig      `yaml:"logger"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LLMConfig configures the OpenAI-compatible provider.
type LLMConfig struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	BaseURL     string   `yaml:"base_url"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	Timeout     int      `yaml:"timeout"`
	MaxRetries  int      `yaml:"max_retries"`
	RetryDelay  int      `yaml:"retry_delay"`
}

// MCPConfig configures the tool-execution server connection.
// Type "http" uses a remote JSON-RPC endpoint; "stdio" spawns a subprocess.
type MCPConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Timeout int               `yaml:"timeout"`
}

// AgentConfig tunes the orchestration loop and session memory.
type AgentConfig struct {
	MaxIterations   int     `yaml:"max_iterations"`
	DedupThreshold  float64 `yaml:"dedup_threshold"`
	HistoryLimit    int     `yaml:"history_limit"`
	CacheTTL        int     `yaml:"cache_ttl"`
	CacheMaxEntries int     `yaml:"cache_max_entries"`
	SystemPrompt    string  `yaml:"system_prompt"`
}

// ShaperConfig bounds tool output before it reaches the LLM.
// Fields maps a resource keyword to the field allow-list applied when items
// carry more than MaxKeys keys.
type ShaperConfig struct {
	MaxItems     int                 `yaml:"max_items"`
	MaxKeys      int                 `yaml:"max_keys"`
	FallbackKeys int                 `yaml:"fallback_keys"`
	MaxChars     int                 `yaml:"max_chars"`
	Fields       map[string][]string `yaml:"fields"`
}

// LoggerConfig configures the slog setup.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// CacheTTLDuration returns the cache TTL as a duration.
func (c *AgentConfig) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// SetDefaults fills in zero values.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2000
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.RetryDelay == 0 {
		c.LLM.RetryDelay = 2
	}

	if c.MCP.Type == "" {
		if c.MCP.Command != "" {
			c.MCP.Type = "stdio"
		} else {
			c.MCP.Type = "http"
		}
	}
	if c.MCP.Timeout == 0 {
		c.MCP.Timeout = 30
	}

	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 5
	}
	if c.Agent.DedupThreshold == 0 {
		c.Agent.DedupThreshold = 0.9
	}
	if c.Agent.HistoryLimit == 0 {
		c.Agent.HistoryLimit = 5
	}
	if c.Agent.CacheTTL == 0 {
		c.Agent.CacheTTL = 300
	}
	if c.Agent.CacheMaxEntries == 0 {
		c.Agent.CacheMaxEntries = 50
	}

	if c.Shaper.MaxItems == 0 {
		c.Shaper.MaxItems = 20
	}
	if c.Shaper.MaxKeys == 0 {
		c.Shaper.MaxKeys = 8
	}
	if c.Shaper.FallbackKeys == 0 {
		c.Shaper.FallbackKeys = 6
	}
	if c.Shaper.MaxChars == 0 {
		c.Shaper.MaxChars = 10000
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "simple"
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	switch strings.ToLower(c.MCP.Type) {
	case "http":
		if c.MCP.URL == "" {
			return fmt.Errorf("mcp.url is required for http transport")
		}
	case "stdio":
		if c.MCP.Command == "" {
			return fmt.Errorf("mcp.command is required for stdio transport")
		}
	default:
		return fmt.Errorf("invalid mcp.type: %s (valid types: http, stdio)", c.MCP.Type)
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}

	if c.Agent.DedupThreshold < 0 || c.Agent.DedupThreshold > 1 {
		return fmt.Errorf("agent.dedup_threshold must be between 0 and 1, got %v", c.Agent.DedupThreshold)
	}

	return nil
}
