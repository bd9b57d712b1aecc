// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryRegistryLifecycle(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	now := time.Now()

	if err := r.Register(ctx, "jti-1", "", "p-1", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	revoked, err := r.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Error("freshly registered session reports revoked")
	}

	if err := r.Revoke(ctx, "jti-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revoked, err = r.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Error("revoked session reports live")
	}
}

func TestMemoryRegistryPairRevocation(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	now := time.Now()

	if err := r.Register(ctx, "acc-1", "ref-1", "p-1", now, now.Add(15*time.Minute)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(ctx, "ref-1", "acc-1", "p-1", now, now.Add(7*24*time.Hour)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Revoking one half takes the other with it.
	if err := r.Revoke(ctx, "acc-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	for _, jti := range []string{"acc-1", "ref-1"} {
		if revoked, _ := r.IsRevoked(ctx, jti); !revoked {
			t.Errorf("session %s still live after pair revocation", jti)
		}
	}
}

func TestMemoryRegistryUnknownJTIIsRevoked(t *testing.T) {
	r := NewMemoryRegistry()

	revoked, err := r.IsRevoked(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Error("unknown jti reports live; registry must fail closed")
	}
}

func TestMemoryRegistryExpiredIsRevoked(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := r.Register(ctx, "jti-1", "", "p-1", issued, issued.Add(time.Minute)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.now = func() time.Time { return issued.Add(30 * time.Second) }
	if revoked, _ := r.IsRevoked(ctx, "jti-1"); revoked {
		t.Error("live session reports revoked")
	}

	r.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if revoked, _ := r.IsRevoked(ctx, "jti-1"); !revoked {
		t.Error("expired session reports live")
	}
}

func TestMemoryRegistryConsume(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	now := time.Now()

	if err := r.Register(ctx, "ref-1", "acc-1", "p-1", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(ctx, "acc-1", "ref-1", "p-1", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	live, err := r.Consume(ctx, "ref-1")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !live {
		t.Fatal("Consume of a live session reported not live")
	}

	// The consumed session and its pair are both dead.
	for _, jti := range []string{"ref-1", "acc-1"} {
		if revoked, _ := r.IsRevoked(ctx, jti); !revoked {
			t.Errorf("session %s still live after consume", jti)
		}
	}

	// Second consume finds nothing.
	if live, err := r.Consume(ctx, "ref-1"); err != nil || live {
		t.Errorf("Consume replay = (%v, %v), want (false, nil)", live, err)
	}
	if live, err := r.Consume(ctx, "never-seen"); err != nil || live {
		t.Errorf("Consume unknown = (%v, %v), want (false, nil)", live, err)
	}
}

func TestMemoryRegistryConsumeExpired(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := r.Register(ctx, "jti-1", "", "p-1", issued, issued.Add(time.Minute)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if live, err := r.Consume(ctx, "jti-1"); err != nil || live {
		t.Errorf("Consume expired = (%v, %v), want (false, nil)", live, err)
	}
}

func TestMemoryRegistryConsumeConcurrent(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	now := time.Now()

	if err := r.Register(ctx, "ref-1", "", "p-1", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	const callers = 16
	var wg sync.WaitGroup
	var wins int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			live, err := r.Consume(ctx, "ref-1")
			if err != nil {
				t.Errorf("Consume: %v", err)
			}
			if live {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d concurrent consumers won, want exactly 1", wins)
	}
}

func TestMemoryRegistryRevokeAllFor(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	now := time.Now()

	for _, jti := range []string{"a-1", "a-2", "a-3"} {
		if err := r.Register(ctx, jti, "", "alice", now, now.Add(time.Hour)); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if err := r.Register(ctx, "b-1", "", "bob", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	count, err := r.RevokeAllFor(ctx, "alice")
	if err != nil {
		t.Fatalf("RevokeAllFor: %v", err)
	}
	if count != 3 {
		t.Errorf("RevokeAllFor revoked %d sessions, want 3", count)
	}

	for _, jti := range []string{"a-1", "a-2", "a-3"} {
		if revoked, _ := r.IsRevoked(ctx, jti); !revoked {
			t.Errorf("session %s still live after RevokeAllFor", jti)
		}
	}
	if revoked, _ := r.IsRevoked(ctx, "b-1"); revoked {
		t.Error("unrelated principal's session was revoked")
	}

	// Second call finds nothing left to revoke.
	count, err = r.RevokeAllFor(ctx, "alice")
	if err != nil {
		t.Fatalf("RevokeAllFor: %v", err)
	}
	if count != 0 {
		t.Errorf("second RevokeAllFor revoked %d sessions, want 0", count)
	}
}

func TestMemoryRegistryCleanupExpired(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := r.Register(ctx, "short", "", "p-1", issued, issued.Add(time.Minute)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(ctx, "long", "", "p-1", issued, issued.Add(time.Hour)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.now = func() time.Time { return issued.Add(10 * time.Minute) }
	count, err := r.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if count != 1 {
		t.Errorf("CleanupExpired removed %d, want 1", count)
	}

	// The purged entry still reports revoked, and the live one is untouched.
	if revoked, _ := r.IsRevoked(ctx, "short"); !revoked {
		t.Error("purged expired session reports live")
	}
	if revoked, _ := r.IsRevoked(ctx, "long"); revoked {
		t.Error("live session removed by cleanup")
	}
}

func TestMemoryRegistryClosed(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := r.Register(ctx, "jti-1", "", "p-1", time.Now(), time.Now().Add(time.Hour)); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Register on closed registry: %v", err)
	}
	revoked, err := r.IsRevoked(ctx, "jti-1")
	if !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("IsRevoked on closed registry: %v", err)
	}
	if !revoked {
		t.Error("closed registry reported a token live")
	}
}
