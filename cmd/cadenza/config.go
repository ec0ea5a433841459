package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mwald/cadenza/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify cadenza configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/cadenza/config.yaml
Project-specific overrides can be placed in .cadenza.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	// Mask API key if set
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("aws.use_bedrock: %t\n", cfg.AWS.UseBedrock)
	fmt.Printf("aws.region: %s\n", cfg.AWS.Region)
	fmt.Printf("aws.profile: %s\n", cfg.AWS.Profile)
	fmt.Printf("scheduler.max_concurrent: %d\n", cfg.Scheduler.MaxConcurrent)
	fmt.Printf("scheduler.default_timeout: %s\n", cfg.Scheduler.DefaultTimeout)
	fmt.Printf("executor.retry_backoff: %s\n", cfg.Executor.RetryBackoff)
	fmt.Printf("executor.retry_backoff_max: %s\n", cfg.Executor.RetryBackoffMax)
	fmt.Printf("reliability.failure_threshold: %d\n", cfg.Reliability.FailureThreshold)
	fmt.Printf("reliability.cooldown: %s\n", cfg.Reliability.Cooldown)
	fmt.Printf("reliability.call_retries: %d\n", cfg.Reliability.CallRetries)
	fmt.Printf("reliability.call_backoff: %s\n", cfg.Reliability.CallBackoff)
	fmt.Printf("router.strategy: %s\n", cfg.Router.Strategy)
	fmt.Printf("router.window_size: %d\n", cfg.Router.WindowSize)
	fmt.Printf("history.enabled: %t\n", cfg.History.Enabled)
	fmt.Printf("history.path: %s\n", cfg.History.Path)
	fmt.Printf("agents.file: %s\n", cfg.Agents.File)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "aws.use_bedrock":
		return strconv.FormatBool(cfg.AWS.UseBedrock), nil
	case "aws.region":
		return cfg.AWS.Region, nil
	case "aws.profile":
		return cfg.AWS.Profile, nil
	case "scheduler.max_concurrent":
		return strconv.Itoa(cfg.Scheduler.MaxConcurrent), nil
	case "scheduler.default_timeout":
		return cfg.Scheduler.DefaultTimeout.String(), nil
	case "executor.retry_backoff":
		return cfg.Executor.RetryBackoff.String(), nil
	case "executor.retry_backoff_max":
		return cfg.Executor.RetryBackoffMax.String(), nil
	case "reliability.failure_threshold":
		return strconv.Itoa(cfg.Reliability.FailureThreshold), nil
	case "reliability.cooldown":
		return cfg.Reliability.Cooldown.String(), nil
	case "reliability.call_retries":
		return strconv.Itoa(cfg.Reliability.CallRetries), nil
	case "reliability.call_backoff":
		return cfg.Reliability.CallBackoff.String(), nil
	case "router.strategy":
		return cfg.Router.Strategy, nil
	case "router.window_size":
		return strconv.Itoa(cfg.Router.WindowSize), nil
	case "history.enabled":
		return strconv.FormatBool(cfg.History.Enabled), nil
	case "history.path":
		return cfg.History.Path, nil
	case "agents.file":
		return cfg.Agents.File, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "aws.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for aws.use_bedrock: %w", err)
		}
		cfg.AWS.UseBedrock = b
	case "aws.region":
		cfg.AWS.Region = value
	case "aws.profile":
		cfg.AWS.Profile = value
	case "scheduler.max_concurrent":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_concurrent: %w", err)
		}
		cfg.Scheduler.MaxConcurrent = n
	case "scheduler.default_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for default_timeout: %w", err)
		}
		cfg.Scheduler.DefaultTimeout = d
	case "executor.retry_backoff":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for retry_backoff: %w", err)
		}
		cfg.Executor.RetryBackoff = d
	case "executor.retry_backoff_max":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for retry_backoff_max: %w", err)
		}
		cfg.Executor.RetryBackoffMax = d
	case "reliability.failure_threshold":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for failure_threshold: %w", err)
		}
		cfg.Reliability.FailureThreshold = n
	case "reliability.cooldown":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for cooldown: %w", err)
		}
		cfg.Reliability.Cooldown = d
	case "reliability.call_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for call_retries: %w", err)
		}
		cfg.Reliability.CallRetries = n
	case "reliability.call_backoff":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for call_backoff: %w", err)
		}
		cfg.Reliability.CallBackoff = d
	case "router.strategy":
		cfg.Router.Strategy = value
	case "router.window_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for window_size: %w", err)
		}
		cfg.Router.WindowSize = n
	case "history.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for history.enabled: %w", err)
		}
		cfg.History.Enabled = b
	case "history.path":
		cfg.History.Path = value
	case "agents.file":
		cfg.Agents.File = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
