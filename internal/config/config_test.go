package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
server:
  port: 8000
routing:
  rag_keywords:
    - document
    - video
backends:
  rag:
    base_url: http://vss:8100/v1
    model: vila-1.5
    asset_id_file: /run/vss/asset_id
  general:
    base_url: https://integrate.api.nvidia.com/v1
    model: meta/llama-3.1-70b-instruct
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, []string{"document", "video"}, cfg.Routing.RAGKeywords)
	assert.Equal(t, "http://vss:8100/v1", cfg.Backends.RAG.BaseURL)
	assert.Equal(t, "/run/vss/asset_id", cfg.Backends.RAG.AssetIDFile)
	assert.Equal(t, defaultTimeoutSeconds, cfg.Backends.RAG.TimeoutSeconds)
	assert.Equal(t, defaultTimeoutSeconds, cfg.Backends.General.TimeoutSeconds)
}

func TestLoadEnvOverlay(t *testing.T) {
	t.Setenv(envGeneralAPIKey, "nvapi-secret")
	t.Setenv(envAssetID, "env-asset")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "nvapi-secret", cfg.Backends.General.APIKey)
	assert.Equal(t, "env-asset", cfg.Backends.RAG.AssetID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"huge port", func(c *Config) { c.Server.Port = 70000 }},
		{"missing rag base url", func(c *Config) { c.Backends.RAG.BaseURL = " " }},
		{"missing rag model", func(c *Config) { c.Backends.RAG.Model = "" }},
		{"missing general base url", func(c *Config) { c.Backends.General.BaseURL = "" }},
		{"missing general model", func(c *Config) { c.Backends.General.Model = "" }},
		{"blank keyword", func(c *Config) { c.Routing.RAGKeywords = []string{"document", " "} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
