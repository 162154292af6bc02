// Package config loads runtime configuration from a YAML file and
// CLOUDCHAT_-prefixed environment variables, with env taking precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every runtime setting of the assistant.
type Config struct {
	// Provider selects the model backend: "openai" or "anthropic".
	Provider string `mapstructure:"provider"`

	// Model names the chat model, for example "gpt-4o".
	Model string `mapstructure:"model"`

	// TitleModel names the model used for title generation. Empty reuses
	// Model.
	TitleModel string `mapstructure:"title_model"`

	// AWSRegion overrides the region for the AWS tool clients. Empty defers
	// to the SDK's default resolution.
	AWSRegion string `mapstructure:"aws_region"`

	// DatabasePath locates the SQLite history database. Empty keeps history
	// in process memory only.
	DatabasePath string `mapstructure:"database_path"`

	// Username attributes conversations in the history store.
	Username string `mapstructure:"username"`

	// HistoryWindow is the number of stored entries replayed per prompt.
	HistoryWindow int `mapstructure:"history_window"`

	// MaxModelCalls bounds model invocations per prompt.
	MaxModelCalls int `mapstructure:"max_model_calls"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is "json" or "text".
	LogFormat string `mapstructure:"log_format"`
}

// Load reads configuration from the given file path (optional) and the
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("provider", "openai")
	v.SetDefault("model", "gpt-4o")
	v.SetDefault("title_model", "")
	v.SetDefault("aws_region", "")
	v.SetDefault("database_path", "")
	v.SetDefault("username", "default")
	v.SetDefault("history_window", 8)
	v.SetDefault("max_model_calls", 10)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetEnvPrefix("CLOUDCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("config: model must be set")
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("config: history_window must not be negative")
	}
	return nil
}
