package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultTimeoutSeconds = 30

// Environment variables overlaid onto the YAML configuration so secrets and
// deployment-specific values stay out of the config file.
const (
	envGeneralAPIKey = "NVIDIA_API_KEY"
	envAssetID       = "VSS_ASSET_ID"
	envAssetIDFile   = "VSS_ASSET_ID_FILE"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Routing  RoutingConfig  `yaml:"routing"`
	Backends BackendsConfig `yaml:"backends"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// RoutingConfig holds the keyword whitelist that selects the RAG backend.
// An empty list routes everything to the general backend.
type RoutingConfig struct {
	RAGKeywords []string `yaml:"rag_keywords"`
}

// BackendsConfig catalogues the two upstream backend families.
type BackendsConfig struct {
	RAG     RAGConfig     `yaml:"rag"`
	General GeneralConfig `yaml:"general"`
}

// RAGConfig locates the retrieval backend and its asset-id sources.
type RAGConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	AssetID        string `yaml:"asset_id"`
	AssetIDFile    string `yaml:"asset_id_file"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// GeneralConfig locates the general-purpose LLM backend.
type GeneralConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Load reads YAML configuration from disk, overlays environment values, and
// validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	cfg.applyEnvOverlay()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverlay() {
	if v := os.Getenv(envGeneralAPIKey); v != "" {
		c.Backends.General.APIKey = v
	}
	if v := os.Getenv(envAssetID); v != "" {
		c.Backends.RAG.AssetID = v
	}
	if v := os.Getenv(envAssetIDFile); v != "" {
		c.Backends.RAG.AssetIDFile = v
	}
}

func (c *Config) applyDefaults() {
	if c.Backends.RAG.TimeoutSeconds <= 0 {
		c.Backends.RAG.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Backends.General.TimeoutSeconds <= 0 {
		c.Backends.General.TimeoutSeconds = defaultTimeoutSeconds
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if strings.TrimSpace(c.Backends.RAG.BaseURL) == "" {
		return fmt.Errorf("backends.rag.base_url must be provided")
	}
	if strings.TrimSpace(c.Backends.RAG.Model) == "" {
		return fmt.Errorf("backends.rag.model must be provided")
	}
	if strings.TrimSpace(c.Backends.General.BaseURL) == "" {
		return fmt.Errorf("backends.general.base_url must be provided")
	}
	if strings.TrimSpace(c.Backends.General.Model) == "" {
		return fmt.Errorf("backends.general.model must be provided")
	}

	for i, keyword := range c.Routing.RAGKeywords {
		if strings.TrimSpace(keyword) == "" {
			return fmt.Errorf("routing.rag_keywords[%d] must not be blank", i)
		}
	}

	return nil
}
