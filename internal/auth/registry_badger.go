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

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/OpenHealthLab/HealthAPI/internal/models"
)

// Key layout: session records under "session:<jti>", plus an index entry
// "psess:<principal>:<jti>" so RevokeAllFor is a single prefix scan.
// Both carry a TTL matching the token expiry, so Badger drops them once
// revocation no longer matters.
const (
	badgerSessionPrefix = "session:"
	badgerPrincipalIdx  = "psess:"
)

// BadgerRegistry is a BadgerDB-backed SessionRegistry. Sessions survive
// restarts, so issued tokens stay usable across deploys.
type BadgerRegistry struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// NewBadgerRegistry creates a session registry on an open Badger database.
// The database handle is shared with other components and is not closed here.
func NewBadgerRegistry(db *badger.DB) *BadgerRegistry {
	return &BadgerRegistry{db: db, now: time.Now}
}

func sessionKey(jti string) []byte {
	return []byte(badgerSessionPrefix + jti)
}

func principalIdxKey(principalID, jti string) []byte {
	return []byte(badgerPrincipalIdx + principalID + ":" + jti)
}

// Register records a newly issued token.
func (r *BadgerRegistry) Register(ctx context.Context, jti, pairJTI, principalID string, issuedAt, expiresAt time.Time) error {
	if err := r.checkOpen(); err != nil {
		return err
	}

	session := &models.Session{
		JTI:         jti,
		PairJTI:     pairJTI,
		PrincipalID: principalID,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already expired; nothing to track, expiry reports revoked anyway.
		return nil
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(sessionKey(jti), data).WithTTL(ttl)); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(principalIdxKey(principalID, jti), []byte(jti)).WithTTL(ttl))
	})
	if err != nil {
		return err
	}

	sessionsRegisteredTotal.Inc()
	return nil
}

// Revoke marks a token, and its registered pair, as revoked.
func (r *BadgerRegistry) Revoke(ctx context.Context, jti string) error {
	if err := r.checkOpen(); err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		pairJTI, err := revokeOne(txn, jti)
		if err != nil {
			return err
		}
		if pairJTI != "" {
			if _, err := revokeOne(txn, pairJTI); err != nil {
				return err
			}
		}
		return nil
	})
}

// revokeOne rewrites one session record as revoked inside txn, returning the
// paired jti so the caller can revoke it in the same transaction.
func revokeOne(txn *badger.Txn, jti string) (string, error) {
	item, err := txn.Get(sessionKey(jti))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var session models.Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &session)
	}); err != nil {
		return "", err
	}
	if session.Revoked {
		return "", nil
	}
	session.Revoked = true

	data, err := json.Marshal(&session)
	if err != nil {
		return "", err
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return "", nil
	}
	sessionsRevokedTotal.Inc()
	return session.PairJTI, txn.SetEntry(badger.NewEntry(sessionKey(jti), data).WithTTL(ttl))
}

// Consume atomically revokes a live token and its pair, reporting whether
// the token was live. Badger's conflict detection serializes concurrent
// transactions on the same key, so of two racing consumers exactly one
// observes the live record.
func (r *BadgerRegistry) Consume(ctx context.Context, jti string) (bool, error) {
	if err := r.checkOpen(); err != nil {
		return false, err
	}

	live := false
	err := r.db.Update(func(txn *badger.Txn) error {
		live = false
		item, err := txn.Get(sessionKey(jti))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var session models.Session
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		}); err != nil {
			return err
		}
		if session.Revoked || session.Expired(r.now()) {
			return nil
		}
		live = true

		pairJTI, err := revokeOne(txn, jti)
		if err != nil {
			return err
		}
		if pairJTI != "" {
			if _, err := revokeOne(txn, pairJTI); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		// Lost the race to a concurrent revocation of the same session.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return live, nil
}

// IsRevoked reports whether the token may no longer be used. Missing entries
// (never registered, or dropped by TTL after expiry) report revoked.
func (r *BadgerRegistry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if err := r.checkOpen(); err != nil {
		return true, err
	}

	revoked := true
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(jti))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var session models.Session
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		}); err != nil {
			return err
		}
		revoked = session.Revoked || session.Expired(r.now())
		return nil
	})
	return revoked, err
}

// RevokeAllFor revokes every live session belonging to a principal.
func (r *BadgerRegistry) RevokeAllFor(ctx context.Context, principalID string) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}

	var jtis []string
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerPrincipalIdx + principalID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				jtis = append(jtis, string(val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, jti := range jtis {
		if err := r.Revoke(ctx, jti); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// CleanupExpired is a no-op for Badger: entries carry a TTL and are removed
// during compaction, and IsRevoked independently checks expiry.
func (r *BadgerRegistry) CleanupExpired(ctx context.Context) (int, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	return 0, nil
}

// Close marks the registry closed. The shared Badger handle is left open.
func (r *BadgerRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *BadgerRegistry) checkOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRegistryClosed
	}
	return nil
}
