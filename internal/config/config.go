// Package config loads the simulator configuration from a file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/opensource-finance/osprey-sim/internal/domain"
)

var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Load starts from domain.DefaultConfig, overlays the file at path (YAML or JSON,
// by extension) and then the environment. An empty path skips the file.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func Validate(cfg *domain.Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Output.Async && cfg.Repository.Driver == "none" {
		return fmt.Errorf("%w: async output needs a repository", ErrInvalidConfig)
	}
	return nil
}

// LogLevel maps the configured level name to a slog level.
func LogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Usage returns the environment variables understood by Load.
func Usage() (string, error) {
	header := "Environment variables:"
	return cleanenv.GetDescription(domain.DefaultConfig(), &header)
}
