// Package config loads runtime configuration from the environment, with an
// optional YAML file underneath it. Environment variables always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/verdict/internal/mcp"
)

// Config is the full runtime configuration.
type Config struct {
	// Model is the main conversation model.
	Model string `yaml:"model"`

	// SummaryModel runs sub-conversation summarization; empty means Model.
	SummaryModel string `yaml:"summary_model"`

	// APIKey authenticates with the provider.
	APIKey string `yaml:"-"`

	// MaxTokens is the per-call response budget.
	MaxTokens int `yaml:"max_tokens"`

	// MaxMessages is the context window in messages.
	MaxMessages int `yaml:"max_messages"`

	// SubConvThresholdTokens triggers sub-conversation digestion.
	SubConvThresholdTokens int `yaml:"sub_conv_threshold_tokens"`

	// SystemPrompt overrides the built-in assessment prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// ConversationsDir stores conversation files.
	ConversationsDir string `yaml:"conversations_dir"`

	// TracesDir stores one trace file per agent turn.
	TracesDir string `yaml:"traces_dir"`

	// BaselinesDir stores evaluation baselines.
	BaselinesDir string `yaml:"baselines_dir"`

	// DataDir holds the fixture data the built-in tools read.
	DataDir string `yaml:"data_dir"`

	// LogLevel and LogFormat configure the logger.
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Memory selects and parameterizes the memory backend.
	Memory MemoryConfig `yaml:"memory"`

	// MCP gates MCP tool bridging and lists tool servers.
	MCP MCPConfig `yaml:"mcp"`
}

// MemoryConfig configures the long-term assessment store.
type MemoryConfig struct {
	// Backend is one of file, sqlite, chroma, graphiti, none.
	Backend string `yaml:"backend"`

	// Dir is the directory for the file backend.
	Dir string `yaml:"dir"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`

	// Server reaches the chroma or graphiti MCP server.
	Server ServerConfig `yaml:"server"`
}

// MCPConfig configures bridged MCP tool servers.
type MCPConfig struct {
	// Enabled gates all MCP connections.
	Enabled bool `yaml:"enabled"`

	// Servers lists tool servers exposed through the registry.
	Servers []ServerConfig `yaml:"servers"`
}

// ServerConfig mirrors mcp.ServerConfig in YAML-friendly form.
type ServerConfig struct {
	ID        string            `yaml:"id"`
	Transport string            `yaml:"transport"`
	URL       string            `yaml:"url"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	Timeout   time.Duration     `yaml:"timeout"`
}

// ToMCP converts to the client's config type.
func (s ServerConfig) ToMCP() *mcp.ServerConfig {
	transport := mcp.TransportStdio
	if strings.EqualFold(s.Transport, "sse") {
		transport = mcp.TransportSSE
	}
	return &mcp.ServerConfig{
		ID:        s.ID,
		Transport: transport,
		URL:       s.URL,
		Command:   s.Command,
		Args:      s.Args,
		Env:       s.Env,
		Timeout:   s.Timeout,
	}
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Model:                  "claude-sonnet-4-20250514",
		MaxTokens:              4096,
		MaxMessages:            6,
		SubConvThresholdTokens: 5000,
		ConversationsDir:       "data/conversations",
		TracesDir:              "data/traces",
		BaselinesDir:           "data/baselines",
		DataDir:                "data/fixtures",
		LogLevel:               "info",
		LogFormat:              "text",
		Memory: MemoryConfig{
			Backend: "file",
			Dir:     "data/memories",
			Path:    "data/memories.db",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then the environment on top.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- config path comes from the operator
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Model, "MODEL")
	setString(&cfg.SummaryModel, "SUMMARY_MODEL")
	setString(&cfg.APIKey, "ANTHROPIC_API_KEY")
	setInt(&cfg.MaxTokens, "MAX_TOKENS")
	setInt(&cfg.MaxMessages, "MAX_MESSAGES")
	setInt(&cfg.SubConvThresholdTokens, "SUB_CONV_THRESHOLD_TOKENS")
	setString(&cfg.SystemPrompt, "SYSTEM_PROMPT")
	setString(&cfg.ConversationsDir, "CONVERSATIONS_DIR")
	setString(&cfg.TracesDir, "TRACES_DIR")
	setString(&cfg.BaselinesDir, "BASELINES_DIR")
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")

	setString(&cfg.Memory.Backend, "MCP_MEMORY_BACKEND")
	setString(&cfg.Memory.Dir, "MEMORY_DIR")
	setString(&cfg.Memory.Path, "MEMORY_PATH")
	setString(&cfg.Memory.Server.URL, "MCP_MEMORY_URL")
	setString(&cfg.Memory.Server.Transport, "MCP_MEMORY_TRANSPORT")
	setString(&cfg.Memory.Server.Command, "MCP_MEMORY_COMMAND")
	if args := os.Getenv("MCP_MEMORY_ARGS"); args != "" {
		cfg.Memory.Server.Args = strings.Fields(args)
	}
	if cfg.Memory.Server.ID == "" {
		cfg.Memory.Server.ID = cfg.Memory.Backend
	}
	setBool(&cfg.MCP.Enabled, "MCP_ENABLED")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
