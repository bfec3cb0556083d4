package config

import "strings"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Pool     PoolConfig     `mapstructure:"pool" validate:"required"`
	Log      LogConfig      `mapstructure:"log" validate:"required"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// LLMConfig contains all settings for the external text-generation service.
type LLMConfig struct {
	// GeminiAPIKeys is a comma-separated list of interchangeable API keys.
	// The worker pool rotates through them as quotas are exhausted.
	GeminiAPIKeys string `mapstructure:"gemini_api_keys" validate:"required"`

	ModelName string `mapstructure:"model_name" validate:"required"`

	// DispatchTimeoutSeconds bounds a single generation call.
	DispatchTimeoutSeconds int `mapstructure:"dispatch_timeout_seconds" validate:"required,gt=0"`
}

// PoolConfig contains the worker-pool tuning knobs. All values are fixed
// for the lifetime of a run.
type PoolConfig struct {
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0,lte=64"`
	BatchSize   int `mapstructure:"batch_size" validate:"required,gt=0,lte=100"`

	// BatchDelaySeconds is the inter-batch pacing sleep, the primary
	// rate-limit control against the external service.
	BatchDelaySeconds int `mapstructure:"batch_delay_seconds" validate:"gte=0"`

	// RetryCap is the maximum number of consecutive overload retries
	// before a worker escalates to a fatal pool stop.
	RetryCap          int `mapstructure:"retry_cap" validate:"required,gt=0"`
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds" validate:"required,gt=0"`

	// RotationDelaySeconds is the pause after switching API keys.
	RotationDelaySeconds int `mapstructure:"rotation_delay_seconds" validate:"gte=0"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
}

// APIKeys splits the configured comma-separated key list, trimming
// whitespace and dropping empty entries.
func (c LLMConfig) APIKeys() []string {
	parts := strings.Split(c.GeminiAPIKeys, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
