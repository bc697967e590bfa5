// Package config provides centralized configuration management
// using Viper for configuration loading and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	AI       AIConfig       `mapstructure:"ai"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// AppConfig contains application-level configuration.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database configuration.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// AIConfig contains AI gateway configuration.
type AIConfig struct {
	Provider     string        `mapstructure:"provider"`
	GeminiAPIKey string        `mapstructure:"gemini_api_key"`
	GeminiModel  string        `mapstructure:"gemini_model"`
	LocalURL     string        `mapstructure:"local_url"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

// AuthConfig contains session authentication configuration.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// UploadsConfig contains ingredient image upload configuration.
type UploadsConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxWidth uint   `mapstructure:"max_width"`
}

// PipelineConfig contains event bus and step runner tuning.
type PipelineConfig struct {
	Workers          int           `mapstructure:"workers"`
	HandlerAttempts  int           `mapstructure:"handler_attempts"`
	StepAttempts     int           `mapstructure:"step_attempts"`
	StepBaseBackoff  time.Duration `mapstructure:"step_base_backoff"`
	QueueSize        int           `mapstructure:"queue_size"`
	RedispatchDelay  time.Duration `mapstructure:"redispatch_delay"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/mealsnap")
	}

	v.SetEnvPrefix("MEALSNAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults plus env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mealsnap")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", "30s")

	// Empty defaults so env-only values are seen by Unmarshal.
	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("ai.gemini_api_key", "")

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.gemini_model", "gemini-1.5-flash")
	v.SetDefault("ai.local_url", "http://localhost:1234/v1/chat/completions")
	v.SetDefault("ai.call_timeout", "45s")

	v.SetDefault("uploads.dir", "images")
	v.SetDefault("uploads.max_width", 800)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.handler_attempts", 3)
	v.SetDefault("pipeline.step_attempts", 3)
	v.SetDefault("pipeline.step_base_backoff", "500ms")
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.redispatch_delay", "2s")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Auth.JWTSecret == "" && c.App.Environment == "production" {
		return fmt.Errorf("auth.jwt_secret is required in production")
	}
	switch c.AI.Provider {
	case "gemini", "local":
	default:
		return fmt.Errorf("ai.provider must be gemini or local, got %q", c.AI.Provider)
	}
	return nil
}

// IsProduction returns true if running in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
