// Package config handles configuration loading for Cadenza.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestration core.
type Config struct {
	Anthropic   AnthropicConfig   `mapstructure:"anthropic"`
	AWS         AWSConfig         `mapstructure:"aws"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Reliability ReliabilityConfig `mapstructure:"reliability"`
	Router      RouterConfig      `mapstructure:"router"`
	History     HistoryConfig     `mapstructure:"history"`
	Agents      AgentsConfig      `mapstructure:"agents"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// AWSConfig holds AWS Bedrock settings.
type AWSConfig struct {
	// UseBedrock routes Anthropic calls through AWS Bedrock.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// Region is the AWS region for Bedrock (e.g., "us-west-2").
	Region string `mapstructure:"region"`
	// Profile is the optional AWS shared-config profile name.
	Profile string `mapstructure:"profile"`
}

// SchedulerConfig holds task queue settings.
type SchedulerConfig struct {
	// MaxConcurrent caps simultaneously running tasks.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// DefaultTimeout is applied to submissions without an explicit timeout.
	// Zero means no deadline.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ExecutorConfig holds whole-task retry settings.
type ExecutorConfig struct {
	// RetryBackoff is the initial delay before a task retry.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// RetryBackoffMax caps the backoff delay.
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`
}

// ReliabilityConfig holds circuit breaker and per-call retry settings.
type ReliabilityConfig struct {
	// FailureThreshold is the consecutive failures that open a breaker.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// Cooldown is how long an open breaker waits before half-open.
	Cooldown time.Duration `mapstructure:"cooldown"`
	// CallRetries is the per-call retry attempts for transient failures.
	CallRetries int `mapstructure:"call_retries"`
	// CallBackoff is the initial per-call retry delay.
	CallBackoff time.Duration `mapstructure:"call_backoff"`
}

// RouterConfig holds model routing settings.
type RouterConfig struct {
	// Strategy is one of fast, balanced, accurate, adaptive.
	Strategy string `mapstructure:"strategy"`
	// WindowSize is the rolling observation window per model.
	WindowSize int `mapstructure:"window_size"`
}

// HistoryConfig holds task history persistence settings.
type HistoryConfig struct {
	// Enabled toggles the history subscriber.
	Enabled bool `mapstructure:"enabled"`
	// Path is the SQLite database path. Empty means the default
	// project-local path.
	Path string `mapstructure:"path"`
}

// AgentsConfig holds agent registry settings.
type AgentsConfig struct {
	// File is an optional YAML file with extra agent descriptors.
	File string `mapstructure:"file"`
}

// Load loads configuration from XDG paths, project overrides, and environment
// variables. Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, AWS_REGION)
// 2. Project config (.cadenza.yaml in current directory or parent)
// 3. User config (~/.config/cadenza/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("aws.region", "AWS_REGION")
	v.BindEnv("aws.profile", "AWS_PROFILE")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("aws.use_bedrock", cfg.AWS.UseBedrock)
	v.Set("aws.region", cfg.AWS.Region)
	v.Set("aws.profile", cfg.AWS.Profile)
	v.Set("scheduler.max_concurrent", cfg.Scheduler.MaxConcurrent)
	v.Set("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout.String())
	v.Set("executor.retry_backoff", cfg.Executor.RetryBackoff.String())
	v.Set("executor.retry_backoff_max", cfg.Executor.RetryBackoffMax.String())
	v.Set("reliability.failure_threshold", cfg.Reliability.FailureThreshold)
	v.Set("reliability.cooldown", cfg.Reliability.Cooldown.String())
	v.Set("reliability.call_retries", cfg.Reliability.CallRetries)
	v.Set("reliability.call_backoff", cfg.Reliability.CallBackoff.String())
	v.Set("router.strategy", cfg.Router.Strategy)
	v.Set("router.window_size", cfg.Router.WindowSize)
	v.Set("history.enabled", cfg.History.Enabled)
	v.Set("history.path", cfg.History.Path)
	v.Set("agents.file", cfg.Agents.File)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")

	v.SetDefault("aws.use_bedrock", false)
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")

	v.SetDefault("scheduler.max_concurrent", 3)
	v.SetDefault("scheduler.default_timeout", "0s")

	v.SetDefault("executor.retry_backoff", "1s")
	v.SetDefault("executor.retry_backoff_max", "30s")

	v.SetDefault("reliability.failure_threshold", 5)
	v.SetDefault("reliability.cooldown", "30s")
	v.SetDefault("reliability.call_retries", 2)
	v.SetDefault("reliability.call_backoff", "500ms")

	v.SetDefault("router.strategy", "balanced")
	v.SetDefault("router.window_size", 50)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")

	v.SetDefault("agents.file", "")
}

// getUserConfigDir returns the XDG config directory for Cadenza.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cadenza")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "cadenza")
	}
	return filepath.Join(home, ".config", "cadenza")
}

// findProjectConfig searches for .cadenza.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".cadenza.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrent: 3,
		},
		Executor: ExecutorConfig{
			RetryBackoff:    time.Second,
			RetryBackoffMax: 30 * time.Second,
		},
		Reliability: ReliabilityConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
			CallRetries:      2,
			CallBackoff:      500 * time.Millisecond,
		},
		Router: RouterConfig{
			Strategy:   "balanced",
			WindowSize: 50,
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}
