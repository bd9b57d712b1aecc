// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

// Package main is the entry point for the HealthAPI authentication server.
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, config.yaml, env)
//  2. Storage: Badger for sessions and audit when storage.path is set,
//     in-memory stores otherwise
//  3. Audit recorder with retention cleanup
//  4. Authorization: policy engine and role forest loaded from the store
//  5. Authentication service: Argon2id hashing, TOTP, JWT issuance,
//     session registry, per-account rate limiting
//  6. HTTP server: Chi router with per-IP throttling and Prometheus metrics
//
// Required configuration:
//   - SECURITY_JWT_SECRET: 32+ character secret for token signing
//
// Optional:
//   - SECURITY_ADMIN_USERNAME / SECURITY_ADMIN_PASSWORD: seed an admin account
//   - STORAGE_PATH: Badger directory for persistent sessions and audit log
//
// The server shuts down gracefully on SIGINT and SIGTERM: it stops accepting
// connections, waits for in-flight requests up to server.shutdown_timeout,
// then drains the audit recorder.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/OpenHealthLab/HealthAPI/internal/api"
	"github.com/OpenHealthLab/HealthAPI/internal/audit"
	"github.com/OpenHealthLab/HealthAPI/internal/auth"
	"github.com/OpenHealthLab/HealthAPI/internal/authz"
	"github.com/OpenHealthLab/HealthAPI/internal/config"
	"github.com/OpenHealthLab/HealthAPI/internal/logging"
	"github.com/OpenHealthLab/HealthAPI/internal/models"
	"github.com/OpenHealthLab/HealthAPI/internal/store"
)

const version = "2.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Str("version", version).Msg("Starting HealthAPI")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Session registry and audit store share one Badger instance when a
	// storage path is configured.
	var (
		registry   auth.SessionRegistry
		auditStore audit.Store
	)
	if cfg.Storage.Path != "" {
		db, err := badger.Open(badger.DefaultOptions(cfg.Storage.Path).WithLogger(nil))
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("Failed to open storage")
		}
		defer func() {
			if err := db.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing storage")
			}
		}()
		registry = auth.NewBadgerRegistry(db)
		auditStore = audit.NewBadgerStore(db)
		logging.Info().Str("path", cfg.Storage.Path).Msg("Persistent storage initialized")
	} else {
		registry = auth.NewMemoryRegistry()
		auditStore = audit.NewMemoryStore(100000)
		logging.Warn().Msg("No storage path configured; sessions and audit events will not survive restarts")
	}

	recorder := audit.NewRecorder(auditStore, &audit.Config{
		Enabled:         cfg.Audit.Enabled,
		RetentionDays:   cfg.Audit.RetentionDays,
		CleanupInterval: cfg.Audit.SweepInterval,
		BufferSize:      cfg.Audit.BufferSize,
		LogToStdout:     cfg.Audit.LogToStdout,
	})
	defer func() {
		if err := recorder.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit recorder")
		}
	}()
	recorder.StartCleanupRoutine(ctx)

	principals := store.NewMemory()
	engine := authz.NewEngine()
	authzSvc := authz.NewService(principals, engine, recorder)

	hasher := auth.NewHasher(cfg.Security.PasswordPolicy)

	if err := bootstrap(ctx, cfg, principals, authzSvc, hasher); err != nil {
		logging.Fatal().Err(err).Msg("Failed to bootstrap roles and policy")
	}

	totp, err := auth.NewTOTPManager(cfg.Security.TOTPIssuer, cfg.Security.TOTPDigits, cfg.Security.TOTPPeriod)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create TOTP manager")
	}
	tokens, err := auth.NewTokenManager(
		cfg.Security.JWTSecret,
		cfg.Security.AccessTokenTTL,
		cfg.Security.RefreshTokenTTL,
		cfg.Security.ClockSkew,
	)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create token manager")
	}

	authSvc := auth.NewService(auth.ServiceOptions{
		Principals:  principals,
		Roles:       principals,
		Hasher:      hasher,
		TOTP:        totp,
		Tokens:      tokens,
		Registry:    registry,
		Limiter:     auth.NewRateLimiter(cfg.Security.RateLimitAttempts, cfg.Security.RateLimitWindow),
		Engine:      engine,
		Recorder:    recorder,
		DefaultRole: cfg.Security.DefaultRole,
	})

	// Periodically drop expired sessions from the registry.
	auth.StartCleanupRoutine(ctx, registry, time.Minute, func(count int, err error) {
		if err != nil {
			logging.Error().Err(err).Msg("Session cleanup failed")
		} else if count > 0 {
			logging.Debug().Int("removed", count).Msg("Session cleanup")
		}
	})

	router := api.NewRouter(authSvc, authzSvc, recorder, api.Options{Version: version})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("HTTP server failed")
		}
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	logging.Info().Msg("HealthAPI stopped")
}

// bootstrap seeds the system roles, the baseline policy and, when
// configured, the administrator account. The principal store is in-memory
// and rebuilt on every start, so all of this runs unconditionally.
func bootstrap(ctx context.Context, cfg *config.Config, principals *store.Memory, authzSvc *authz.Service, hasher *auth.Hasher) error {
	defaultRole := cfg.Security.DefaultRole
	if defaultRole == "" {
		defaultRole = "user"
	}

	for _, role := range []models.Role{
		{Name: defaultRole, DisplayName: "User", System: true},
		{Name: "admin", DisplayName: "Administrator", System: true},
	} {
		r := role
		if err := authzSvc.CreateRole(ctx, &r); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("create role %q: %w", role.Name, err)
		}
	}

	// Administrators may do anything under the API; everyone else starts
	// with no grants until rules are added via /api/v2/permissions.
	baseRules := []models.PolicyRule{
		{Role: "admin", Resource: "/api/v2/**", Action: ".*", Effect: models.EffectAllow},
	}
	if err := authzSvc.LoadFromStore(ctx, baseRules); err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	if cfg.Security.AdminUsername == "" || cfg.Security.AdminPassword == "" {
		return nil
	}

	digest, err := hasher.Hash(cfg.Security.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	now := time.Now().UTC()
	admin := &models.Principal{
		ID:           "admin-" + cfg.Security.AdminUsername,
		Username:     cfg.Security.AdminUsername,
		Email:        cfg.Security.AdminUsername + "@localhost",
		PasswordHash: digest,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := principals.Create(ctx, admin); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("seed admin principal: %w", err)
	}
	if err := principals.Assign(ctx, &models.RoleAssignment{
		PrincipalID: admin.ID,
		Role:        "admin",
		AssignedBy:  "system",
		AssignedAt:  now,
	}); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("assign admin role: %w", err)
	}

	logging.Info().Str("username", cfg.Security.AdminUsername).Msg("Admin account seeded")
	return nil
}
