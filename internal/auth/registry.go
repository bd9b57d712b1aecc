// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/OpenHealthLab/HealthAPI/internal/models"
)

// ErrRegistryClosed indicates the session registry has been closed.
var ErrRegistryClosed = errors.New("session registry is closed")

// SessionRegistry tracks issued tokens by jti so they can be revoked before
// expiry. Lookups are O(1) amortized. A jti the registry has never seen, or
// whose token lifetime has passed, reports revoked: only registered, live
// sessions are trusted.
type SessionRegistry interface {
	// Register records a newly issued token. pairJTI, when non-empty, names
	// the other half of the issued pair; revoking either half revokes both.
	Register(ctx context.Context, jti, pairJTI, principalID string, issuedAt, expiresAt time.Time) error

	// Revoke marks a token, and its registered pair, as revoked. Revoking an
	// unknown jti is a no-op, not an error.
	Revoke(ctx context.Context, jti string) error

	// IsRevoked reports whether the token may no longer be used.
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// Consume atomically revokes a live token, and its registered pair,
	// reporting whether the token was live. Refresh rotation uses it so two
	// concurrent presentations of the same jti cannot both win; a revoked,
	// expired or unknown jti returns false.
	Consume(ctx context.Context, jti string) (bool, error)

	// RevokeAllFor revokes every live session belonging to a principal and
	// returns how many were revoked.
	RevokeAllFor(ctx context.Context, principalID string) (int, error)

	// CleanupExpired drops entries whose tokens have expired and returns the
	// number removed. Purging an expired entry never makes it report
	// not-revoked; expiry alone already does that.
	CleanupExpired(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}

// MemoryRegistry is an in-memory SessionRegistry. Sessions are lost on
// restart, which fails closed: tokens issued before the restart report
// revoked.
type MemoryRegistry struct {
	mu          sync.RWMutex
	sessions    map[string]*models.Session
	byPrincipal map[string]map[string]struct{}
	closed      bool
	now         func() time.Time
}

// NewMemoryRegistry creates an empty in-memory session registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions:    make(map[string]*models.Session),
		byPrincipal: make(map[string]map[string]struct{}),
		now:         time.Now,
	}
}

// Register records a newly issued token.
func (r *MemoryRegistry) Register(ctx context.Context, jti, pairJTI, principalID string, issuedAt, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	r.sessions[jti] = &models.Session{
		JTI:         jti,
		PairJTI:     pairJTI,
		PrincipalID: principalID,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	}
	set, ok := r.byPrincipal[principalID]
	if !ok {
		set = make(map[string]struct{})
		r.byPrincipal[principalID] = set
	}
	set[jti] = struct{}{}

	sessionsRegisteredTotal.Inc()
	sessionRegistrySize.Set(float64(len(r.sessions)))
	return nil
}

// Revoke marks a token and its pair as revoked.
func (r *MemoryRegistry) Revoke(ctx context.Context, jti string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	s, ok := r.sessions[jti]
	if !ok {
		return nil
	}
	if !s.Revoked {
		s.Revoked = true
		sessionsRevokedTotal.Inc()
	}
	if pair, ok := r.sessions[s.PairJTI]; ok && !pair.Revoked {
		pair.Revoked = true
		sessionsRevokedTotal.Inc()
	}
	return nil
}

// IsRevoked reports whether the token may no longer be used.
func (r *MemoryRegistry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return true, ErrRegistryClosed
	}
	s, ok := r.sessions[jti]
	if !ok {
		return true, nil
	}
	if s.Revoked || s.Expired(r.now()) {
		return true, nil
	}
	return false, nil
}

// Consume atomically revokes a live token and its pair, reporting whether
// the token was live.
func (r *MemoryRegistry) Consume(ctx context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrRegistryClosed
	}
	s, ok := r.sessions[jti]
	if !ok || s.Revoked || s.Expired(r.now()) {
		return false, nil
	}
	s.Revoked = true
	sessionsRevokedTotal.Inc()
	if pair, ok := r.sessions[s.PairJTI]; ok && !pair.Revoked {
		pair.Revoked = true
		sessionsRevokedTotal.Inc()
	}
	return true, nil
}

// RevokeAllFor revokes every live session belonging to a principal.
func (r *MemoryRegistry) RevokeAllFor(ctx context.Context, principalID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrRegistryClosed
	}

	count := 0
	for jti := range r.byPrincipal[principalID] {
		if s, ok := r.sessions[jti]; ok && !s.Revoked {
			s.Revoked = true
			count++
		}
	}
	sessionsRevokedTotal.Add(float64(count))
	return count, nil
}

// CleanupExpired drops entries whose tokens have expired.
func (r *MemoryRegistry) CleanupExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrRegistryClosed
	}

	now := r.now()
	count := 0
	for jti, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, jti)
			if set, ok := r.byPrincipal[s.PrincipalID]; ok {
				delete(set, jti)
				if len(set) == 0 {
					delete(r.byPrincipal, s.PrincipalID)
				}
			}
			count++
		}
	}
	sessionRegistrySize.Set(float64(len(r.sessions)))
	return count, nil
}

// Close releases resources.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.sessions = nil
	r.byPrincipal = nil
	return nil
}

// StartCleanupRoutine runs periodic expired-session cleanup until the context
// is canceled.
func StartCleanupRoutine(ctx context.Context, registry SessionRegistry, interval time.Duration, logf func(count int, err error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := registry.CleanupExpired(ctx)
				if logf != nil {
					logf(count, err)
				}
			}
		}
	}()
}
