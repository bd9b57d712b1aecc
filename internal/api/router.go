// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

// Package api provides the HTTP surface: routing, request middleware and
// handlers for authentication, role and policy administration, and the
// audit log.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OpenHealthLab/HealthAPI/internal/audit"
	"github.com/OpenHealthLab/HealthAPI/internal/auth"
	"github.com/OpenHealthLab/HealthAPI/internal/authz"
	"github.com/OpenHealthLab/HealthAPI/internal/middleware"
)

// Router wires the HTTP surface to the auth and authz services.
type Router struct {
	auth      *auth.Service
	authz     *authz.Service
	recorder  *audit.Recorder
	options   Options
	startedAt time.Time
}

// Options controls router behavior.
type Options struct {
	// Version is reported by the health endpoint.
	Version string

	// RateLimitDisabled turns off per-IP HTTP rate limiting. The account
	// limiter inside the auth service stays active regardless.
	RateLimitDisabled bool
}

// NewRouter creates a Router.
func NewRouter(authSvc *auth.Service, authzSvc *authz.Service, recorder *audit.Recorder, opts Options) *Router {
	return &Router{
		auth:      authSvc,
		authz:     authzSvc,
		recorder:  recorder,
		options:   opts,
		startedAt: time.Now(),
	}
}

// chiMiddleware adapts http.HandlerFunc middleware to Chi's
// func(http.Handler) http.Handler so it can be used with r.Use().
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// rateLimitConfig defines per-IP rate limit parameters for a route group.
type rateLimitConfig struct {
	requests int
	window   time.Duration
}

// Per-IP limits for route groups. Login carries the strictest limit since
// it is the brute-force target; the per-account fixed-window limiter in the
// auth service applies on top of these.
var (
	rateLimitAuth  = rateLimitConfig{requests: 30, window: time.Minute}
	rateLimitLogin = rateLimitConfig{requests: 10, window: 5 * time.Minute}
	rateLimitAPI   = rateLimitConfig{requests: 100, window: time.Minute}
)

// rateLimit returns a per-IP rate limiting middleware using go-chi/httprate,
// or a no-op when rate limiting is disabled.
func (router *Router) rateLimit(cfg rateLimitConfig) func(http.Handler) http.Handler {
	if router.options.RateLimitDisabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return httprate.LimitByIP(cfg.requests, cfg.window)
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chiMiddleware(middleware.PrometheusMetrics))

	r.Get("/health", router.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// ========================
	// Authentication
	// ========================
	r.Route("/api/v2/auth", func(r chi.Router) {
		r.Use(router.rateLimit(rateLimitAuth))

		// Login is the brute-force target and gets the strictest limit.
		r.With(router.rateLimit(rateLimitLogin)).Post("/login", router.Login)

		r.Post("/register", router.RegisterAccount)
		r.Post("/refresh", router.Refresh)

		// Session and account management requires a valid access token but
		// no policy decision: principals manage their own sessions.
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware(router.Authenticate))

			r.Post("/logout", router.Logout)
			r.Post("/logout/all", router.LogoutAll)
			r.Post("/password", router.ChangePassword)
			r.Post("/2fa/enable", router.TwoFactorEnable)
			r.Post("/2fa/confirm", router.TwoFactorConfirm)
			r.Post("/2fa/disable", router.TwoFactorDisable)
		})
	})

	// ========================
	// User Profiles
	// ========================
	r.Route("/api/v2/users", func(r chi.Router) {
		r.Use(router.rateLimit(rateLimitAPI))

		// Principals read and update their own profile with just a valid
		// token; no policy grant needed.
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware(router.Authenticate))

			r.Get("/me", router.CurrentUser)
			r.Put("/me", router.UpdateCurrentUser)
		})

		// Administration of other accounts goes through the policy engine.
		// Deactivation is the deletion surface: accounts are never removed.
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware(router.Authorize))

			r.Get("/{id}", router.GetUser)
			r.Post("/{id}/deactivate", router.DeactivateUser)
			r.Post("/{id}/activate", router.ReactivateUser)
		})
	})

	// ========================
	// Role Administration
	// ========================
	// Guarded by the policy engine: the request path and method feed the
	// policy decision, and every decision is audited.
	r.Route("/api/v2/roles", func(r chi.Router) {
		r.Use(router.rateLimit(rateLimitAPI))
		r.Use(chiMiddleware(router.Authorize))

		r.Get("/", router.ListRoles)
		r.Post("/", router.CreateRole)
		r.Delete("/{name}", router.DeleteRole)

		r.Post("/assign", router.AssignRole)
		r.Delete("/assign", router.UnassignRole)
	})

	// ========================
	// Policy Rules
	// ========================
	r.Route("/api/v2/permissions", func(r chi.Router) {
		r.Use(router.rateLimit(rateLimitAPI))
		r.Use(chiMiddleware(router.Authorize))

		r.Get("/", router.ListRules)
		r.Post("/", router.AddRule)
		r.Delete("/", router.RemoveRule)
	})

	// ========================
	// Audit Log
	// ========================
	r.Route("/api/v2/audit", func(r chi.Router) {
		r.Use(router.rateLimit(rateLimitAPI))
		r.Use(chiMiddleware(router.Authorize))

		r.Get("/", router.QueryAudit)
	})

	return r
}
