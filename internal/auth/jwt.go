// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/OpenHealthLab/HealthAPI/internal/models"
)

// TokenType discriminates access tokens from refresh tokens. It is a closed
// set; any other value in a token's claims fails verification.
type TokenType string

const (
	// TokenAccess is the short-lived token presented on every request.
	TokenAccess TokenType = "access"

	// TokenRefresh is the long-lived token exchanged for a new pair.
	TokenRefresh TokenType = "refresh"
)

func (t TokenType) valid() bool {
	return t == TokenAccess || t == TokenRefresh
}

// Claims is the JWT payload carried by both token types.
type Claims struct {
	Username string    `json:"username"`
	Roles    []string  `json:"roles"`
	Type     TokenType `json:"type"`
	jwt.RegisteredClaims
}

// JTI returns the unique token identifier.
func (c *Claims) JTI() string { return c.ID }

// TokenManager issues and verifies signed, time-bounded tokens.
// Verification is stateless; revocation is the session registry's concern.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	skew       time.Duration
	now        func() time.Time
}

// NewTokenManager creates a token manager. The secret must be at least 32
// characters; tokens are signed with HMAC-SHA256.
func NewTokenManager(secret string, accessTTL, refreshTTL, skew time.Duration) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("JWT secret must be at least 32 characters")
	}
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		skew:       skew,
		now:        time.Now,
	}, nil
}

// AccessTTL returns the access token lifetime.
func (m *TokenManager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }

// Issue builds a signed token for the principal with a fresh jti. The expiry
// is the current time plus the lifetime configured for the token type.
func (m *TokenManager) Issue(p *models.Principal, roles []string, typ TokenType) (string, *Claims, error) {
	if !typ.valid() {
		return "", nil, fmt.Errorf("%w: %q", ErrWrongTokenType, typ)
	}

	ttl := m.accessTTL
	if typ == TokenRefresh {
		ttl = m.refreshTTL
	}

	now := m.now()
	claims := &Claims{
		Username: p.Username,
		Roles:    roles,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, expiry (with clock-skew leeway) and structure,
// and that the token is of the expected type. Returns the decoded claims.
func (m *TokenManager) Verify(tokenString string, expect TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(t *jwt.Token) (interface{}, error) {
			return m.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(m.skew),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	if !claims.Type.valid() || claims.ID == "" || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	if claims.Type != expect {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, claims.Type, expect)
	}
	return claims, nil
}

// mapJWTError translates golang-jwt parse errors into the auth taxonomy.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
