// Package config loads service settings from an optional YAML file and the
// environment. Environment values win over the file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"llm-branch/internal/ai"
)

const (
	DefaultModel = "gemini-2.5-flash"
	DefaultPort  = "2000"
)

// Config is the full service configuration.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig selects and tunes the generative backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // gemini, openai
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     string  `yaml:"timeout"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Workers        int      `yaml:"workers"`
}

// StoreConfig holds decision history settings.
type StoreConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// LoggingConfig holds logrus settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider: ai.ProviderGemini,
			Model:    DefaultModel,
			Timeout:  "30s",
		},
		Server: ServerConfig{Port: DefaultPort},
		Store:  StoreConfig{Path: "data/decisions.db"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (when non-empty) over the defaults and applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}
	applyEnv(&cfg, os.Getenv)
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	if v := env("BRANCH_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := firstEnv(env, apiKeyEnv(cfg.LLM.Provider)...); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := env("BRANCH_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := env("BRANCH_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := env("BRANCH_TEMPERATURE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = parsed
		}
	}
	if v := env("BRANCH_MAX_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.LLM.MaxTokens = parsed
		}
	}
	if v := env("BRANCH_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = v
		}
	}
	if v := env("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := env("BRANCH_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := env("BRANCH_WORKERS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Server.Workers = parsed
		}
	}
	if v := env("BRANCH_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := env("BRANCH_DISABLE_STORE"); v != "" {
		cfg.Store.Disabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// AIConfig converts the LLM section into backend settings.
func (c Config) AIConfig() ai.Config {
	timeout, err := time.ParseDuration(strings.TrimSpace(c.LLM.Timeout))
	if err != nil {
		timeout = 0
	}
	return ai.Config{
		Provider:    c.LLM.Provider,
		BaseURL:     c.LLM.BaseURL,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		Timeout:     timeout,
	}
}

// DBPath returns the history database path, or "" when history is disabled.
func (c Config) DBPath() string {
	if c.Store.Disabled {
		return ""
	}
	return strings.TrimSpace(c.Store.Path)
}

// ConfigureLogging applies the logging section to the standard logrus logger.
func (c Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(strings.TrimSpace(c.Logging.Level))
	if err != nil {
		logrus.WithError(err).Warn("invalid log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if strings.EqualFold(strings.TrimSpace(c.Logging.Format), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

// apiKeyEnv lists the credential variables for provider, most specific first.
func apiKeyEnv(provider string) []string {
	if strings.EqualFold(strings.TrimSpace(provider), ai.ProviderOpenAI) {
		return []string{"OPENAI_API_KEY", "BRANCH_API_KEY"}
	}
	return []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "BRANCH_API_KEY"}
}

func firstEnv(env func(string) string, keys ...string) string {
	for _, key := range keys {
		if v := env(key); v != "" {
			return v
		}
	}
	return ""
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
