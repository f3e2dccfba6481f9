//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads the gateway configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-agent-gateway/budget"
	"trpc.group/trpc-go/trpc-agent-gateway/log"
	"trpc.group/trpc-go/trpc-agent-gateway/tool"
)

// EnvAPIKey is read when model.apiKey is empty.
const EnvAPIKey = "OPENAI_API_KEY"

// DefaultAgentKey names the agent created when none is configured.
const DefaultAgentKey = "default"

// Config is the gateway configuration.
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Log       LogConfig              `yaml:"log"`
	Submit    SubmitConfig           `yaml:"submit"`
	Executor  ExecutorConfig         `yaml:"executor"`
	Model     ModelConfig            `yaml:"model"`
	Agents    map[string]AgentConfig `yaml:"agents"`
	Telemetry TelemetryConfig        `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	BasePath       string   `yaml:"basePath"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
}

// SubmitConfig configures frontend tool waits.
type SubmitConfig struct {
	TimeoutMs int64 `yaml:"timeoutMs"`
}

// Timeout returns the submit timeout as a duration.
func (c SubmitConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ExecutorConfig configures tool execution.
type ExecutorConfig struct {
	PoolSize          int  `yaml:"poolSize"`
	FlushIntermediate bool `yaml:"flushIntermediate"`
}

// ModelConfig selects the OpenAI compatible endpoint.
type ModelConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
	Name    string `yaml:"name"`
}

// AgentConfig describes one agent.
type AgentConfig struct {
	Instruction string `yaml:"instruction"`
	// Model overrides model.name for this agent.
	Model string `yaml:"model"`
	// Preset is used when budget.preset is empty.
	Preset string      `yaml:"preset"`
	Budget budget.Spec `yaml:"budget"`
	// Tools names built-in backend tools.
	Tools         []string             `yaml:"tools"`
	FrontendTools []FrontendToolConfig `yaml:"frontendTools"`
}

// BudgetSpec returns the agent budget with the preset applied.
func (a AgentConfig) BudgetSpec() budget.Spec {
	spec := a.Budget
	if spec.Preset == "" {
		spec.Preset = budget.Preset(a.Preset)
	}
	return spec
}

// FrontendToolConfig declares a tool answered by the client.
type FrontendToolConfig struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Parameters  *tool.Schema `yaml:"parameters"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	TracesEndpoint  string `yaml:"tracesEndpoint"`
	MetricsEndpoint string `yaml:"metricsEndpoint"`
	// TracesEndpointURL is a full URL overriding TracesEndpoint. Only the
	// http protocol honours it.
	TracesEndpointURL string `yaml:"tracesEndpointUrl"`
	// Headers are sent with every trace export request.
	Headers map[string]string `yaml:"headers"`
	// Protocol is "grpc" or "http".
	Protocol string `yaml:"protocol"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Log:      LogConfig{Level: "info", Format: log.FormatConsole},
		Submit:   SubmitConfig{TimeoutMs: 300_000},
		Executor: ExecutorConfig{PoolSize: 64, FlushIntermediate: true},
		Model:    ModelConfig{Name: "gpt-4o-mini"},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.fill()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML data over cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if c.Model.APIKey == "" {
		c.Model.APIKey = os.Getenv(EnvAPIKey)
	}
}

func (c *Config) fill() {
	if len(c.Agents) == 0 {
		c.Agents = map[string]AgentConfig{DefaultAgentKey: {}}
	}
	if c.Executor.PoolSize <= 0 {
		c.Executor.PoolSize = 64
	}
	if c.Submit.TimeoutMs <= 0 {
		c.Submit.TimeoutMs = 300_000
	}
}

// Validate reports configuration mistakes.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("config: server.addr is empty")
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		return errors.New("config: model.name is empty")
	}
	switch c.Log.Format {
	case log.FormatConsole, log.FormatJSON:
	default:
		return fmt.Errorf("config: log.format %q is not console or json", c.Log.Format)
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("config: telemetry.protocol %q is not grpc or http", c.Telemetry.Protocol)
	}
	for key, a := range c.Agents {
		if strings.TrimSpace(key) == "" {
			return errors.New("config: agent with empty key")
		}
		seen := make(map[string]bool)
		for _, ft := range a.FrontendTools {
			if strings.TrimSpace(ft.Name) == "" {
				return fmt.Errorf("config: agent %s has a frontend tool without name", key)
			}
			if seen[ft.Name] {
				return fmt.Errorf("config: agent %s declares frontend tool %s twice", key, ft.Name)
			}
			seen[ft.Name] = true
		}
	}
	return nil
}

// AgentKeys returns the configured agent keys, sorted.
func (c *Config) AgentKeys() []string {
	keys := make([]string, 0, len(c.Agents))
	for k := range c.Agents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
