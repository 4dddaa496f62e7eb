package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// castorYAMLConfig represents the complete castor.yaml file structure.
type castorYAMLConfig struct {
	System    *SystemConfig    `yaml:"system"`
	Executor  *ExecutorConfig  `yaml:"executor"`
	Publisher *PublisherConfig `yaml:"publisher"`
	Trigger   *TriggerConfig   `yaml:"trigger"`
	Transport *TransportConfig `yaml:"transport"`
	Retention *RetentionConfig `yaml:"retention"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read castor.yaml from configDir (missing file means all defaults)
//  2. Expand environment variables ({{.VAR}} syntax)
//  3. Parse YAML into structs
//  4. Merge user values over built-in defaults
//  5. Validate the result
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := &Config{
		configDir: configDir,
		System:    DefaultSystemConfig(),
		Executor:  DefaultExecutorConfig(),
		Publisher: DefaultPublisherConfig(),
		Trigger:   DefaultTriggerConfig(),
		Transport: DefaultTransportConfig(),
		Retention: DefaultRetentionConfig(),
	}

	path := filepath.Join(configDir, "castor.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("No castor.yaml found, using built-in defaults")
			if err := validate(cfg); err != nil {
				return nil, fmt.Errorf("configuration validation failed: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	expanded := ExpandEnv(data)

	var loaded castorYAMLConfig
	if err := yaml.Unmarshal(expanded, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// User values override defaults; zero values in the file keep defaults.
	if err := mergeSection(cfg.System, loaded.System); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Executor, loaded.Executor); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Publisher, loaded.Publisher); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Trigger, loaded.Trigger); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Transport, loaded.Transport); err != nil {
		return nil, err
	}
	if err := mergeSection(cfg.Retention, loaded.Retention); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"workers", cfg.Executor.WorkerCount,
		"upload_concurrency", cfg.Publisher.UploadConcurrency,
		"transport_mode", cfg.Transport.Mode)

	return cfg, nil
}

// mergeSection overlays non-zero user values onto the defaults in dst.
func mergeSection[T any](dst *T, src *T) error {
	if src == nil {
		return nil
	}
	if err := mergo.Merge(dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge configuration section: %w", err)
	}
	return nil
}
