// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// authAttemptsTotal counts authentication attempts by outcome.
	// outcome: success, invalid_credentials, two_factor_required,
	// invalid_two_factor_code, rate_limited, error
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthapi_auth_attempts_total",
			Help: "Total number of authentication attempts by outcome",
		},
		[]string{"outcome"},
	)

	// tokensIssuedTotal counts issued tokens by type.
	tokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthapi_tokens_issued_total",
			Help: "Total number of tokens issued by type",
		},
		[]string{"type"},
	)

	// tokenRefreshesTotal counts refresh-token rotations.
	tokenRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthapi_token_refreshes_total",
			Help: "Total number of refresh token rotations",
		},
	)

	// sessionsRegisteredTotal counts sessions added to the registry.
	sessionsRegisteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthapi_sessions_registered_total",
			Help: "Total number of sessions registered",
		},
	)

	// sessionsRevokedTotal counts explicit session revocations.
	sessionsRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthapi_sessions_revoked_total",
			Help: "Total number of sessions revoked",
		},
	)

	// sessionRegistrySize tracks live entries in the in-memory registry.
	sessionRegistrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "healthapi_session_registry_size",
			Help: "Current number of sessions tracked in the registry",
		},
	)

	// rateLimitRejectionsTotal counts attempts rejected by the fixed-window
	// limiter. Spikes indicate brute-force or credential-stuffing activity.
	rateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthapi_rate_limit_rejections_total",
			Help: "Total number of authentication attempts rejected by the rate limiter",
		},
	)
)
