// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/OpenHealthLab/HealthAPI/internal/audit"
	"github.com/OpenHealthLab/HealthAPI/internal/auth"
	"github.com/OpenHealthLab/HealthAPI/internal/middleware"
	"github.com/OpenHealthLab/HealthAPI/internal/models"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the verified claims placed by Authenticate or
// Authorize, or nil when the request was not authenticated.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*auth.Claims)
	return claims
}

func contextWithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// bearerToken extracts the token from the Authorization header. The second
// return is false when the header is missing or not a Bearer scheme.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// Authenticate verifies the bearer access token (signature, expiry, type and
// revocation) and stores the claims in the request context. It performs no
// policy check; use Authorize for routes guarded by the policy engine.
func (router *Router) Authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			respondError(w, r, http.StatusUnauthorized, &models.APIError{
				Code:    "MISSING_TOKEN",
				Message: "Authorization header with a Bearer token is required",
			}, nil)
			return
		}

		claims, err := router.auth.VerifyAccess(r.Context(), token)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}

		next(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	}
}

// Authorize verifies the bearer token and asks the policy engine whether the
// caller may perform this request, using the request path as the resource and
// the HTTP method as the action. Every decision, granted or denied, lands in
// the audit log.
func (router *Router) Authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			respondError(w, r, http.StatusUnauthorized, &models.APIError{
				Code:    "MISSING_TOKEN",
				Message: "Authorization header with a Bearer token is required",
			}, nil)
			return
		}

		source := requestSource(r)
		claims, err := router.auth.Authorize(r.Context(), token, r.URL.Path, r.Method, source)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}

		next(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	}
}

// requestSource builds the audit source for a request, including the
// request ID so audit entries correlate with access logs.
func requestSource(r *http.Request) audit.Source {
	source := audit.SourceFromRequest(r)
	source.RequestID = middleware.GetRequestID(r.Context())
	return source
}
