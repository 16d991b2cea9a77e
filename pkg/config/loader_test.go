package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
llm:
  model: gpt-4o
  api_key: test-key
mcp:
  type: http
  url: http://localhost:3000/mcp
credentials:
  qradar_host: https://qradar.example.com
  qradar_token: secret
`)

	cfg, err := LoadConfig(LoaderOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:3000/mcp", cfg.MCP.URL)
	assert.Equal(t, "secret", cfg.Credentials["qradar_token"])

	// Defaults applied
	assert.Equal(t, 5, cfg.Agent.MaxIterations)
	assert.Equal(t, 0.9, cfg.Agent.DedupThreshold)
	assert.Equal(t, 300, cfg.Agent.CacheTTL)
	assert.Equal(t, 50, cfg.Agent.CacheMaxEntries)
	assert.Equal(t, 20, cfg.Shaper.MaxItems)
	assert.Equal(t, 8, cfg.Shaper.MaxKeys)
	assert.Equal(t, 10000, cfg.Shaper.MaxChars)
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_MCP_URL", "http://mcp.internal:3000")
	t.Setenv("TEST_API_KEY", "sk-expanded")

	path := writeConfig(t, `
llm:
  model: gpt-4o-mini
  api_key: ${TEST_API_KEY}
mcp:
  type: http
  url: ${TEST_MCP_URL}
  timeout: ${TEST_MCP_TIMEOUT:-45}
`)

	cfg, err := LoadConfig(LoaderOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, "sk-expanded", cfg.LLM.APIKey)
	assert.Equal(t, "http://mcp.internal:3000", cfg.MCP.URL)
	assert.Equal(t, 45, cfg.MCP.Timeout)
}

func TestLoadConfig_MissingMCPURL(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: gpt-4o-mini
mcp:
  type: http
`)

	_, err := LoadConfig(LoaderOptions{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mcp.url is required")
}

func TestLoadConfig_StdioTypeInferred(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: gpt-4o-mini
mcp:
  command: python
  args: ["-m", "qradar_mcp"]
`)

	cfg, err := LoadConfig(LoaderOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "stdio", cfg.MCP.Type)
}

func TestConfig_Validate_Threshold(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.MCP.URL = "http://localhost:3000"
	cfg.Agent.DedupThreshold = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dedup_threshold")
}

func TestExpandEnvVarsInData(t *testing.T) {
	t.Setenv("EXPAND_TEST_VALUE", "hello")

	data := map[string]interface{}{
		"plain":  "value",
		"braced": "${EXPAND_TEST_VALUE}",
		"nested": map[string]interface{}{
			"list": []interface{}{"${EXPAND_TEST_VALUE}", "static"},
		},
		"defaulted": "${EXPAND_TEST_MISSING:-fallback}",
	}

	result, ok := ExpandEnvVarsInData(data).(map[string]interface{})
	require.True(t, ok)

	assert.Equal(t, "value", result["plain"])
	assert.Equal(t, "hello", result["braced"])
	assert.Equal(t, "fallback", result["defaulted"])

	nested := result["nested"].(map[string]interface{})
	list := nested["list"].([]interface{})
	assert.Equal(t, "hello", list[0])
}
