// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package api

import (
	"net/http"

	"github.com/OpenHealthLab/HealthAPI/internal/auth"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=256"`
	FullName string `json:"full_name" validate:"omitempty,max=128"`
}

type loginRequest struct {
	Login         string `json:"login" validate:"required"`
	Password      string `json:"password" validate:"required"`
	TwoFactorCode string `json:"two_factor_code" validate:"omitempty,numeric"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,max=256"`
}

type twoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,numeric"`
}

// RegisterAccount creates a new account with the default role assigned.
func (router *Router) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	principal, err := router.auth.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Source:   requestSource(r),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, principal)
}

// Login authenticates a principal and issues an access/refresh token pair.
func (router *Router) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := router.auth.Authenticate(r.Context(), auth.Credentials{
		Login:         req.Login,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
		Source:        requestSource(r),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, pair)
}

// Refresh rotates a refresh token into a new token pair. The presented
// refresh token and its paired access token are revoked.
func (router *Router) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := router.auth.RefreshSession(r.Context(), req.RefreshToken, requestSource(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, pair)
}

// Logout revokes the presented access token and its paired refresh token.
func (router *Router) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r)

	if err := router.auth.RevokeSession(r.Context(), token, auth.TokenAccess, requestSource(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]string{"message": "logged out"})
}

// LogoutAll revokes every active session of the calling principal.
func (router *Router) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	revoked, err := router.auth.RevokeAllSessions(r.Context(), claims.Subject, claims.Username, requestSource(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]int{"sessions_revoked": revoked})
}

// ChangePassword rotates the caller's password after verifying the current
// one, and revokes all existing sessions.
func (router *Router) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := ClaimsFromContext(r.Context())

	if err := router.auth.ChangePassword(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword, requestSource(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]string{"message": "password changed"})
}

// TwoFactorEnable provisions a pending TOTP secret. 2FA only becomes
// active once a code verifies via TwoFactorConfirm.
func (router *Router) TwoFactorEnable(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	secret, uri, err := router.auth.Enable2FA(r.Context(), claims.Subject)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]string{
		"secret":           secret,
		"provisioning_uri": uri,
	})
}

// TwoFactorConfirm activates 2FA by verifying a code against the pending
// secret.
func (router *Router) TwoFactorConfirm(w http.ResponseWriter, r *http.Request) {
	var req twoFactorCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := ClaimsFromContext(r.Context())

	if err := router.auth.Confirm2FA(r.Context(), claims.Subject, req.Code, requestSource(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]string{"message": "two-factor authentication enabled"})
}

// TwoFactorDisable turns 2FA off. A valid current code is required so a
// stolen session cannot silently weaken the account.
func (router *Router) TwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var req twoFactorCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := ClaimsFromContext(r.Context())

	if err := router.auth.Disable2FA(r.Context(), claims.Subject, req.Code, requestSource(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]string{"message": "two-factor authentication disabled"})
}
