// Package config loads assistant configuration from an optional YAML file
// overlaid with EXP_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Completion CompletionConfig `koanf:"completion"`
	Models     ModelsConfig     `koanf:"models"`
	Storage    StorageConfig    `koanf:"storage"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type CompletionConfig struct {
	// APIKey may reference an environment variable as ${VAR_NAME}.
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// ModelsConfig holds the model priority lists. Order is priority: the first
// model is tried first, later entries are fallbacks.
type ModelsConfig struct {
	Chat   []string `koanf:"chat"`
	Vision []string `koanf:"vision"`
}

type StorageConfig struct {
	Type string `koanf:"type"` // sqlite, memory
	Path string `koanf:"path"` // sqlite database path
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml if present, then overlays environment variables.
// EXP_SERVER__PORT=9090 maps to server.port.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars and defaults.
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("EXP_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "EXP_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Completion.APIKey = substituteEnvVars(cfg.Completion.APIKey)
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Completion.APIKey == "" {
		c.Completion.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if len(c.Models.Chat) == 0 {
		c.Models.Chat = []string{
			"openai/gpt-4o-mini",
			"anthropic/claude-3-5-haiku",
			"meta-llama/llama-3.3-70b-instruct",
		}
	}
	if len(c.Models.Vision) == 0 {
		c.Models.Vision = []string{
			"openai/gpt-4o",
			"google/gemini-flash-1.5",
		}
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.Type == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "assistant.db"
	}
}

// Validate reports configuration errors that would only surface later as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Completion.APIKey == "" {
		return errors.New("completion.api_key is required (or set OPENROUTER_API_KEY)")
	}
	switch c.Storage.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
