// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/OpenHealthLab/HealthAPI/internal/config"
)

func newTestHasher() *Hasher {
	return NewHasher(config.DefaultPasswordPolicy())
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h := newTestHasher()

	digest, err := h.Hash("Correct-Horse-1!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(digest, "$argon2id$v=19$") {
		t.Errorf("digest not in PHC format: %s", digest)
	}

	ok, err := h.Verify("Correct-Horse-1!", digest)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("correct password did not verify")
	}

	ok, err = h.Verify("Wrong-Horse-1!", digest)
	if err != nil {
		t.Fatalf("Verify wrong password: %v", err)
	}
	if ok {
		t.Error("wrong password verified")
	}
}

func TestHashSaltFreshness(t *testing.T) {
	h := newTestHasher()

	first, err := h.Hash("Correct-Horse-1!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	second, err := h.Hash("Correct-Horse-1!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if first == second {
		t.Error("two hashes of the same password are identical; salt is not fresh")
	}

	for _, digest := range []string{first, second} {
		ok, err := h.Verify("Correct-Horse-1!", digest)
		if err != nil || !ok {
			t.Errorf("digest %s did not verify: ok=%v err=%v", digest, ok, err)
		}
	}
}

func TestHashWeakPassword(t *testing.T) {
	h := newTestHasher()

	tests := []struct {
		name     string
		password string
	}{
		{"too short", "Ab1!"},
		{"no uppercase", "lowercase-only-1!"},
		{"no digit", "NoDigitsHere!"},
		{"no special", "NoSpecials123A"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Hash(tt.password)
			if err == nil {
				t.Fatal("weak password accepted")
			}
			var wpe *WeakPasswordError
			if !errors.As(err, &wpe) {
				t.Fatalf("error type = %T, want *WeakPasswordError", err)
			}
			if len(wpe.Unmet) == 0 {
				t.Error("WeakPasswordError lists no unmet rules")
			}
		})
	}
}

func TestVerifyCorruptDigest(t *testing.T) {
	h := newTestHasher()

	tests := []struct {
		name   string
		digest string
	}{
		{"empty", ""},
		{"not phc", "plainly-not-a-digest"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$a2V5"},
		{"bad version", "$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$a2V5"},
		{"bad params", "$argon2id$v=19$m=abc,t=1,p=4$c2FsdA$a2V5"},
		{"zero params", "$argon2id$v=19$m=0,t=0,p=0$c2FsdA$a2V5"},
		{"bad salt", "$argon2id$v=19$m=65536,t=1,p=4$!!!$a2V5"},
		{"truncated", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Verify("any-password", tt.digest)
			if !errors.Is(err, ErrCorruptCredential) {
				t.Errorf("error = %v, want ErrCorruptCredential", err)
			}
		})
	}
}

func TestDecodeDigestParams(t *testing.T) {
	// Verification reads cost parameters from the digest itself, so digests
	// written under older parameters keep verifying after a tuning change.
	params, salt, key, err := decodeDigest("$argon2id$v=19$m=32768,t=2,p=2$MDEyMzQ1Njc4OWFiY2RlZg$a2V5a2V5a2V5")
	if err != nil {
		t.Fatalf("decodeDigest: %v", err)
	}
	if params.memory != 32768 || params.time != 2 || params.threads != 2 {
		t.Errorf("params = %+v, want m=32768 t=2 p=2", params)
	}
	if string(salt) != "0123456789abcdef" {
		t.Errorf("salt = %q", salt)
	}
	if len(key) == 0 {
		t.Error("empty key")
	}
}

func TestVerifyLegacyBcrypt(t *testing.T) {
	h := newTestHasher()

	digest, err := bcrypt.GenerateFromPassword([]byte("Imported-Pass-9!"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}

	ok, err := h.Verify("Imported-Pass-9!", string(digest))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("Verify() = false for correct password against bcrypt digest")
	}

	ok, err = h.Verify("wrong", string(digest))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("Verify() = true for wrong password against bcrypt digest")
	}
}
