// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/healthapi/config.yaml",
	"/etc/healthapi/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
//
// Environment variables map to config paths by prefix, e.g.
// SERVER_PORT -> server.port, SECURITY_JWT_SECRET -> security.jwt_secret.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the path of the first config file found, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// configSections are the top-level config keys an environment variable may
// address. Variables outside these prefixes are ignored so unrelated process
// environment does not leak into the config.
var configSections = []string{"server", "security", "audit", "storage", "logging"}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - SERVER_PORT                 -> server.port
//   - SECURITY_JWT_SECRET         -> security.jwt_secret
//   - SECURITY_PASSWORD_POLICY_MIN_LENGTH -> security.password_policy.min_length
//   - LOGGING_LEVEL               -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	for _, section := range configSections {
		prefix := section + "_"
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		// password_policy subsection keeps its own nesting level
		if section == "security" && strings.HasPrefix(rest, "password_policy_") {
			return "security.password_policy." + strings.TrimPrefix(rest, "password_policy_")
		}
		return section + "." + rest
	}

	// Unrecognized variable: return empty to skip it.
	return ""
}
