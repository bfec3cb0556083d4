package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and, optionally, a
// YAML config file. Environment variables take precedence over values from
// the config file. Variables use the SCRIBE_ prefix with underscores for
// nesting, e.g. SCRIBE_DATABASE_URL or SCRIBE_POOL_WORKER_COUNT.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file: scribe.yaml in the working directory.
	v.SetConfigName("scribe")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// A missing file is fine; env vars alone can configure a run.
	}

	v.SetEnvPrefix("SCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so bind
	// every key that has a default or appears in the file.
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the config against its struct-level validation rules.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// setDefaults registers defaults for every key so a run only needs the
// database URL and API keys set explicitly.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("llm.gemini_api_keys", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.dispatch_timeout_seconds", 60)
	v.SetDefault("pool.worker_count", 4)
	v.SetDefault("pool.batch_size", 10)
	v.SetDefault("pool.batch_delay_seconds", 2)
	v.SetDefault("pool.retry_cap", 5)
	v.SetDefault("pool.retry_delay_seconds", 10)
	v.SetDefault("pool.rotation_delay_seconds", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
