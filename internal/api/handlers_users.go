// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/OpenHealthLab/HealthAPI/internal/auth"
	"github.com/OpenHealthLab/HealthAPI/internal/models"
)

type updateProfileRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	FullName *string `json:"full_name" validate:"omitempty,max=128"`
}

// profileResponse pairs a principal record with its assigned roles.
type profileResponse struct {
	Principal *models.Principal `json:"principal"`
	Roles     []string          `json:"roles"`
}

// CurrentUser returns the calling principal's own profile.
func (router *Router) CurrentUser(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	p, roles, err := router.auth.Profile(r.Context(), claims.Subject)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, profileResponse{Principal: p, Roles: roles})
}

// UpdateCurrentUser applies a partial update to the caller's own profile.
// Absent fields are left unchanged.
func (router *Router) UpdateCurrentUser(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := ClaimsFromContext(r.Context())

	p, err := router.auth.UpdateProfile(r.Context(), claims.Subject, auth.ProfileUpdate{
		Email:    req.Email,
		FullName: req.FullName,
	}, requestSource(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, p)
}

// GetUser returns a principal by ID.
func (router *Router) GetUser(w http.ResponseWriter, r *http.Request) {
	p, roles, err := router.auth.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, profileResponse{Principal: p, Roles: roles})
}

// DeactivateUser soft-disables an account. Accounts are never hard-deleted;
// deactivation also revokes every outstanding session.
func (router *Router) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	p, err := router.auth.SetActive(r.Context(), chi.URLParam(r, "id"), false, requestSource(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, p)
}

// ReactivateUser re-enables a previously deactivated account.
func (router *Router) ReactivateUser(w http.ResponseWriter, r *http.Request) {
	p, err := router.auth.SetActive(r.Context(), chi.URLParam(r, "id"), true, requestSource(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, p)
}
