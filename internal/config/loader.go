// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrTypeDotenv     ConfigErrorType = "dotenv"
	ErrTypeEnvconfig  ConfigErrorType = "envconfig"
	ErrTypeValidation ConfigErrorType = "validation"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig loads, resolves, and validates the full application configuration.
// It is called exactly once at startup; any error is fatal.
func LoadConfig() (*Config, error) {
	// 1. Enforce UTC for the whole process. All persisted timestamps and
	// backoff math assume it.
	time.Local = time.UTC

	// 2. Dotenv bootstrap: absence is fine, a malformed file is not.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		if _, statErr := os.Stat(".env"); statErr == nil {
			return nil, &ConfigError{Type: ErrTypeDotenv, Message: "failed to parse .env file", Err: err}
		}
	}

	// 3. Populate from environment.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrTypeEnvconfig, Message: "failed to process environment", Err: err}
	}

	// 4. Struct validation (fail fast).
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, &ConfigError{Type: ErrTypeValidation, Message: "configuration validation failed", Err: err}
	}

	return &cfg, nil
}
