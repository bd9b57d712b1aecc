// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

// Package config provides layered configuration for HealthAPI using Koanf:
// built-in defaults, an optional YAML file, and environment variable
// overrides, in ascending precedence.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Audit    AuditConfig    `koanf:"audit"`
	Storage  StorageConfig  `koanf:"storage"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SecurityConfig holds authentication and authorization settings.
type SecurityConfig struct {
	// JWTSecret signs access and refresh tokens. Minimum 32 characters.
	JWTSecret string `koanf:"jwt_secret"`

	// AccessTokenTTL is the access token lifetime.
	AccessTokenTTL time.Duration `koanf:"access_token_ttl"`

	// RefreshTokenTTL is the refresh token lifetime.
	RefreshTokenTTL time.Duration `koanf:"refresh_token_ttl"`

	// ClockSkew is the leeway applied to token expiry checks so that small
	// clock differences between hosts do not reject valid tokens.
	ClockSkew time.Duration `koanf:"clock_skew"`

	// TOTPIssuer is the issuer name rendered into otpauth provisioning URIs.
	TOTPIssuer string `koanf:"totp_issuer"`

	// TOTPDigits is the code length (normally 6).
	TOTPDigits int `koanf:"totp_digits"`

	// TOTPPeriod is the time-step size in seconds (normally 30).
	TOTPPeriod uint `koanf:"totp_period"`

	// RateLimitAttempts is the number of authentication attempts allowed per
	// key within RateLimitWindow before further attempts are rejected.
	RateLimitAttempts int           `koanf:"rate_limit_attempts"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`

	// DefaultRole is assigned to newly registered principals.
	DefaultRole string `koanf:"default_role"`

	// AdminUsername and AdminPassword, when both set, seed an administrator
	// account at startup. The principal store is rebuilt on boot, so the
	// seed runs every start and is a no-op when the account exists.
	AdminUsername string `koanf:"admin_username"`
	AdminPassword string `koanf:"admin_password"`

	// PasswordPolicy governs accepted password strength.
	PasswordPolicy PasswordPolicy `koanf:"password_policy"`
}

// AuditConfig holds audit recorder settings.
type AuditConfig struct {
	Enabled       bool          `koanf:"enabled"`
	BufferSize    int           `koanf:"buffer_size"`
	RetentionDays int           `koanf:"retention_days"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	LogToStdout   bool          `koanf:"log_to_stdout"`
}

// StorageConfig holds settings for the embedded Badger stores
// (session registry and audit log).
type StorageConfig struct {
	// Path is the Badger database directory. Empty selects the in-memory
	// stores, which do not survive restarts.
	Path string `koanf:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are applied
// first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:         "",
			AccessTokenTTL:    15 * time.Minute,
			RefreshTokenTTL:   7 * 24 * time.Hour,
			ClockSkew:         5 * time.Second,
			TOTPIssuer:        "HealthAPI",
			TOTPDigits:        6,
			TOTPPeriod:        30,
			RateLimitAttempts: 5,
			RateLimitWindow:   time.Minute,
			DefaultRole:       "user",
			PasswordPolicy:    DefaultPasswordPolicy(),
		},
		Audit: AuditConfig{
			Enabled:       true,
			BufferSize:    1000,
			RetentionDays: 90,
			SweepInterval: 24 * time.Hour,
			LogToStdout:   false,
		},
		Storage: StorageConfig{
			Path: "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for values that would make the service
// unsafe or inoperable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if c.Security.AccessTokenTTL <= 0 {
		return fmt.Errorf("security.access_token_ttl must be positive")
	}
	if c.Security.RefreshTokenTTL <= c.Security.AccessTokenTTL {
		return fmt.Errorf("security.refresh_token_ttl must exceed access_token_ttl")
	}
	if c.Security.RateLimitAttempts <= 0 {
		return fmt.Errorf("security.rate_limit_attempts must be positive")
	}
	if c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("security.rate_limit_window must be positive")
	}
	if c.Security.TOTPDigits != 6 && c.Security.TOTPDigits != 8 {
		return fmt.Errorf("security.totp_digits must be 6 or 8")
	}
	if c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit.buffer_size must be positive")
	}
	return nil
}
