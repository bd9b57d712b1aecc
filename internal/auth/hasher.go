// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/OpenHealthLab/HealthAPI/internal/config"
)

// Argon2id parameters. The digest is self-describing, so these can be raised
// later without invalidating stored credentials.
const (
	argonMemory  uint32 = 64 * 1024 // 64 MiB
	argonTime    uint32 = 1
	argonThreads uint8  = 4
	argonSaltLen        = 16
	argonKeyLen  uint32 = 32
)

// Hasher performs one-way password hashing with Argon2id and enforces the
// password strength policy before hashing.
type Hasher struct {
	policy config.PasswordPolicy
}

// NewHasher creates a Hasher with the given password policy.
func NewHasher(policy config.PasswordPolicy) *Hasher {
	return &Hasher{policy: policy}
}

// Hash validates the password against the policy and returns a PHC-format
// digest embedding the algorithm, cost parameters and a fresh random salt:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<b64 salt>$<b64 key>
//
// Two calls with the same password produce different digests.
func (h *Hasher) Hash(password string) (string, error) {
	if unmet := h.policy.Validate(password); len(unmet) > 0 {
		return "", &WeakPasswordError{Unmet: unmet}
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	digest := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return digest, nil
}

// Verify recomputes the digest with the parameters embedded in it and
// compares in constant time. A wrong password is a normal (false, nil)
// result; only an unparseable digest is an error. Legacy bcrypt digests
// (imported from the previous backend) verify but are not produced.
func (h *Hasher) Verify(password, digest string) (bool, error) {
	if strings.HasPrefix(digest, "$2a$") || strings.HasPrefix(digest, "$2b$") || strings.HasPrefix(digest, "$2y$") {
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
		}
	}

	params, salt, key, err := decodeDigest(digest)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
	}

	computed := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

// decodeDigest parses a PHC argon2id digest string.
func decodeDigest(digest string) (argonParams, []byte, []byte, error) {
	var p argonParams

	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, nil, nil, fmt.Errorf("expected 6 '$'-separated fields, got %d", len(parts))
	}
	if parts[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("unsupported algorithm %q", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("bad version field: %w", err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, nil, nil, fmt.Errorf("bad parameter field: %w", err)
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return p, nil, nil, fmt.Errorf("zero cost parameter")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("bad salt encoding: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, fmt.Errorf("bad key encoding: %w", err)
	}
	if len(salt) == 0 || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("empty salt or key")
	}

	return p, salt, key, nil
}
