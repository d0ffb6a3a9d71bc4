// Copyright 2026 Jeff Vestal
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"

	"github.com/spf13/viper"

	appconfig "github.com/jeffvestal/portfolio-pilot-ai/pkg/config"
)

// DefaultConfigFileName is the name of the config file
const DefaultConfigFileName = "portfolio-pilot"

// Config holds all configuration for the Portfolio Pilot server.
// Priority: config file > env vars > defaults
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Database DatabaseConfig `mapstructure:"database"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Health   HealthConfig   `mapstructure:"health"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Addr string     `mapstructure:"addr"`
	CORS CORSConfig `mapstructure:"cors"`
}

// CORSConfig mirrors the HTTP server's CORS settings.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// LLMConfig selects and configures the streaming provider.
type LLMConfig struct {
	// Provider is "azure-openai" or "anthropic".
	Provider string `mapstructure:"provider"`

	AzureEndpoint   string `mapstructure:"azure_endpoint"`
	AzureDeployment string `mapstructure:"azure_deployment"`
	AzureAPIKey     string `mapstructure:"azure_api_key"`
	AzureAPIVersion string `mapstructure:"azure_api_version"`

	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	AnthropicModel  string `mapstructure:"anthropic_model"`

	MaxTokens int `mapstructure:"max_tokens"`
}

// DatabaseConfig holds the settings store location.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ChatConfig tunes the tool-calling loop.
type ChatConfig struct {
	MaxTurns     int    `mapstructure:"max_turns"`
	SystemPrompt string `mapstructure:"system_prompt"`

	// ResultMode is "first" or "concat" and controls how multiple
	// content items from a single tool call are folded into the
	// transcript.
	ResultMode string `mapstructure:"result_mode"`
}

// HealthConfig controls the periodic MCP server health sweep.
type HealthConfig struct {
	// Cron is a standard 5-field cron expression. Empty disables the sweep.
	Cron string `mapstructure:"cron"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// LoadConfig reads configuration from file and environment.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(appconfig.DataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/portfolio-pilot/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.SetEnvPrefix("PORTFOLIO_PILOT")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.addr", "0.0.0.0:8000")

	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"}) // INSECURE for production!
	viper.SetDefault("server.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"})
	viper.SetDefault("server.cors.allowed_headers", []string{"*"})
	viper.SetDefault("server.cors.exposed_headers", []string{"Content-Length", "Content-Type"})
	viper.SetDefault("server.cors.allow_credentials", false) // MUST be false with wildcard origins
	viper.SetDefault("server.cors.max_age", 86400)

	viper.SetDefault("llm.provider", "azure-openai")
	viper.SetDefault("llm.azure_api_version", "2024-10-21")
	viper.SetDefault("llm.anthropic_model", "claude-sonnet-4-20250514")
	viper.SetDefault("llm.max_tokens", 4096)

	viper.SetDefault("database.path", appconfig.DefaultDatabasePath())

	viper.SetDefault("chat.max_turns", 5)
	viper.SetDefault("chat.result_mode", "first")

	viper.SetDefault("health.cron", "*/5 * * * *")

	viper.SetDefault("logging.level", "info")
}

// Validate checks that the selected provider has its credentials.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "azure-openai":
		if c.LLM.AzureEndpoint == "" || c.LLM.AzureDeployment == "" || c.LLM.AzureAPIKey == "" {
			return fmt.Errorf("azure-openai provider requires llm.azure_endpoint, llm.azure_deployment and llm.azure_api_key")
		}
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic provider requires llm.anthropic_api_key")
		}
	default:
		return fmt.Errorf("unknown llm provider %q (expected azure-openai or anthropic)", c.LLM.Provider)
	}

	switch c.Chat.ResultMode {
	case "first", "concat":
	default:
		return fmt.Errorf("unknown chat.result_mode %q (expected first or concat)", c.Chat.ResultMode)
	}

	return nil
}
