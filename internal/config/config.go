// Package config provides Viper-based configuration loading for the pairsync server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	// Port is the listen address, e.g. ":8080".
	Port string `mapstructure:"port"`
	// AllowedOrigins is the WebSocket origin allow-list. "*" allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// MaxMessageSize is the per-frame read limit in bytes.
	MaxMessageSize int64 `mapstructure:"max_message_size"`
	// ShutdownTimeout bounds graceful shutdown of the HTTP server and hub.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RateLimitConfig defines per-connection message rate limiting.
type RateLimitConfig struct {
	// Burst is the token bucket capacity.
	Burst int `mapstructure:"burst"`
	// RefillInterval is the period over which Burst tokens are restored.
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// SessionConfig holds the defaults new sessions start with.
type SessionConfig struct {
	// StarterCode is the document content a fresh session begins with.
	StarterCode string `mapstructure:"starter_code"`
	// DefaultLanguage is the language tag a fresh session begins with.
	DefaultLanguage string `mapstructure:"default_language"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Session   SessionConfig   `mapstructure:"session"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
func (c Config) Validate() error {
	var errs []string

	if c.Server.Port == "" {
		errs = append(errs, "server.port must not be empty")
	}
	if c.Server.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Sprintf("server.max_message_size must be positive, got %d", c.Server.MaxMessageSize))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if c.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Sprintf("ratelimit.burst must be >= 1, got %d", c.RateLimit.Burst))
	}
	if c.RateLimit.RefillInterval <= 0 {
		errs = append(errs, "ratelimit.refill_interval must be positive")
	}
	if c.Session.DefaultLanguage == "" {
		errs = append(errs, "session.default_language must not be empty")
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with PAIRSYNC_ prefix
	v.SetEnvPrefix("PAIRSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the built-in configuration used when no file is supplied.
func Default() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always unmarshal cleanly; there is no user input here.
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_message_size", 1<<20)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("ratelimit.burst", 50)
	v.SetDefault("ratelimit.refill_interval", "1s")

	v.SetDefault("session.starter_code", "// Start coding together...\n")
	v.SetDefault("session.default_language", "javascript")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
