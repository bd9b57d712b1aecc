// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the authentication core. Handlers map these to HTTP
// status codes; the messages are safe to return to clients.
var (
	// ErrInvalidCredentials is returned for any bad username/email/password
	// combination, including unknown or disabled accounts. It is deliberately
	// uniform to prevent username enumeration.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrCorruptCredential indicates a stored password digest that cannot be
	// parsed. This is an operator problem, never a client one.
	ErrCorruptCredential = errors.New("stored credential digest is malformed")

	// ErrTwoFactorRequired is returned when the password verified but the
	// account has 2FA enabled and no code was supplied.
	ErrTwoFactorRequired = errors.New("two-factor code required")

	// ErrInvalidTwoFactorCode is returned for a wrong or reused TOTP code.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")

	// ErrTwoFactorNotEnabled is returned when a 2FA operation targets an
	// account without an active or pending TOTP secret.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")

	// ErrRateLimited is returned when the fixed-window limiter rejects an
	// authentication attempt.
	ErrRateLimited = errors.New("too many authentication attempts")

	// ErrTokenExpired is returned for a structurally valid token past its
	// expiry (beyond the configured clock skew).
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenMalformed is returned for a token that does not parse.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrSignatureMismatch is returned when the token signature does not
	// verify against the signing secret.
	ErrSignatureMismatch = errors.New("token signature mismatch")

	// ErrTokenRevoked is returned when the token's jti is revoked or unknown
	// to the session registry.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrWrongTokenType is returned when an access token is presented where a
	// refresh token is required, or vice versa.
	ErrWrongTokenType = errors.New("wrong token type")

	// ErrPermissionDenied is returned when a valid token's roles do not
	// permit the requested action on the resource.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAccountDisabled is returned by account-management operations on a
	// disabled principal. Authentication itself reports ErrInvalidCredentials
	// for disabled accounts to keep account state unobservable.
	ErrAccountDisabled = errors.New("account disabled")
)

// WeakPasswordError reports a password that failed the strength policy,
// listing every unmet rule.
type WeakPasswordError struct {
	Unmet []string
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("password does not meet policy: %s", strings.Join(e.Unmet, "; "))
}

// IsWeakPassword reports whether err is a WeakPasswordError.
func IsWeakPassword(err error) bool {
	var wpe *WeakPasswordError
	return errors.As(err, &wpe)
}

// ErrorKind returns a short stable identifier for an auth error, used in
// audit entries. Unknown errors report "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrCorruptCredential):
		return "corrupt_credential"
	case errors.Is(err, ErrTwoFactorRequired):
		return "two_factor_required"
	case errors.Is(err, ErrInvalidTwoFactorCode):
		return "invalid_two_factor_code"
	case errors.Is(err, ErrTwoFactorNotEnabled):
		return "two_factor_not_enabled"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenMalformed):
		return "token_malformed"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrWrongTokenType):
		return "wrong_token_type"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case IsWeakPassword(err):
		return "weak_password"
	default:
		return "internal"
	}
}
