// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

// errors.go - mapping from service errors to HTTP responses.
//
// Authentication failures map to a single INVALID_CREDENTIALS response so
// that the API never reveals whether the username, the password or the
// account state was at fault.
package api

import (
	"errors"
	"net/http"

	"github.com/OpenHealthLab/HealthAPI/internal/auth"
	"github.com/OpenHealthLab/HealthAPI/internal/authz"
	"github.com/OpenHealthLab/HealthAPI/internal/models"
	"github.com/OpenHealthLab/HealthAPI/internal/store"
)

// mapServiceError translates a service-layer error into an HTTP status and
// API error payload.
func mapServiceError(err error) (int, *models.APIError) {
	var wpe *auth.WeakPasswordError
	if errors.As(err, &wpe) {
		unmet := make([]interface{}, len(wpe.Unmet))
		for i, rule := range wpe.Unmet {
			unmet[i] = rule
		}
		return http.StatusBadRequest, &models.APIError{
			Code:    "WEAK_PASSWORD",
			Message: "Password does not meet the strength policy",
			Details: map[string]interface{}{"unmet": unmet},
		}
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, &models.APIError{
			Code:    "INVALID_CREDENTIALS",
			Message: "Invalid username or password",
		}
	case errors.Is(err, auth.ErrTwoFactorRequired):
		return http.StatusUnauthorized, &models.APIError{
			Code:    "TWO_FACTOR_REQUIRED",
			Message: "Two-factor code required",
		}
	case errors.Is(err, auth.ErrInvalidTwoFactorCode):
		return http.StatusUnauthorized, &models.APIError{
			Code:    "INVALID_TWO_FACTOR_CODE",
			Message: "Invalid two-factor code",
		}
	case errors.Is(err, auth.ErrTwoFactorNotEnabled):
		return http.StatusBadRequest, &models.APIError{
			Code:    "TWO_FACTOR_NOT_ENABLED",
			Message: "Two-factor authentication is not enabled for this account",
		}
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests, &models.APIError{
			Code:    "RATE_LIMITED",
			Message: "Too many authentication attempts, try again later",
		}
	case errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrSignatureMismatch),
		errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrWrongTokenType):
		return http.StatusUnauthorized, &models.APIError{
			Code:    "INVALID_TOKEN",
			Message: "Token is invalid, expired or revoked",
		}
	case errors.Is(err, auth.ErrPermissionDenied):
		return http.StatusForbidden, &models.APIError{
			Code:    "PERMISSION_DENIED",
			Message: "You do not have permission to perform this action",
		}
	case errors.Is(err, auth.ErrAccountDisabled):
		return http.StatusForbidden, &models.APIError{
			Code:    "ACCOUNT_DISABLED",
			Message: "Account is disabled",
		}
	case errors.Is(err, authz.ErrSelfRoleChange):
		return http.StatusForbidden, &models.APIError{
			Code:    "SELF_ROLE_CHANGE",
			Message: "You cannot modify your own role assignments",
		}
	case errors.Is(err, authz.ErrSystemRole), errors.Is(err, store.ErrImmutable):
		return http.StatusForbidden, &models.APIError{
			Code:    "SYSTEM_ROLE",
			Message: "System roles cannot be deleted",
		}
	case errors.Is(err, authz.ErrInvalidRoleName):
		return http.StatusBadRequest, &models.APIError{
			Code:    "INVALID_ROLE_NAME",
			Message: "Role names must be lowercase slugs of 2-64 characters",
		}
	case errors.Is(err, authz.ErrRoleCycle):
		return http.StatusBadRequest, &models.APIError{
			Code:    "ROLE_CYCLE",
			Message: "Role inheritance must not form a cycle",
		}
	case errors.Is(err, authz.ErrRuleNotFound):
		return http.StatusNotFound, &models.APIError{
			Code:    "RULE_NOT_FOUND",
			Message: "Policy rule not found",
		}
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, &models.APIError{
			Code:    "ALREADY_EXISTS",
			Message: "A resource with that identifier already exists",
		}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, &models.APIError{
			Code:    "NOT_FOUND",
			Message: "Resource not found",
		}
	default:
		return http.StatusInternalServerError, &models.APIError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		}
	}
}

// respondServiceError maps err and writes the error response.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := mapServiceError(err)
	var logErr error
	if status >= http.StatusInternalServerError {
		logErr = err
	}
	respondError(w, r, status, apiErr, logErr)
}
