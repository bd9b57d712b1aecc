// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package auth

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiterExactLimit(t *testing.T) {
	l := NewRateLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		if !l.Allow("alice") {
			t.Fatalf("attempt %d rejected under the limit", i+1)
		}
	}
	if l.Allow("alice") {
		t.Error("attempt 6 allowed past the limit")
	}
	if l.Allow("alice") {
		t.Error("attempt 7 allowed past the limit")
	}
}

func TestRateLimiterKeysIndependent(t *testing.T) {
	l := NewRateLimiter(2, time.Minute)

	l.Allow("alice")
	l.Allow("alice")
	if l.Allow("alice") {
		t.Error("alice allowed past the limit")
	}
	if !l.Allow("bob") {
		t.Error("bob rejected despite a fresh window")
	}
}

func TestRateLimiterWindowRollover(t *testing.T) {
	l := NewRateLimiter(2, time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	l.Allow("alice")
	l.Allow("alice")
	if l.Allow("alice") {
		t.Fatal("allowed past the limit inside the window")
	}

	// Still inside the window.
	l.now = func() time.Time { return base.Add(59 * time.Second) }
	if l.Allow("alice") {
		t.Error("allowed before the window rolled over")
	}

	// Window rolled over: counting starts fresh.
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	if !l.Allow("alice") {
		t.Error("rejected after the window rolled over")
	}
}

func TestRateLimiterConcurrentExactness(t *testing.T) {
	const limit = 50
	l := NewRateLimiter(limit, time.Minute)

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if l.Allow("shared") {
					atomic.AddInt64(&allowed, 1)
				}
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("allowed %d concurrent attempts, want exactly %d", allowed, limit)
	}
}

func TestRateLimiterPurge(t *testing.T) {
	l := NewRateLimiter(5, time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	l.Allow("alice")
	l.Allow("bob")

	l.now = func() time.Time { return base.Add(30 * time.Second) }
	if removed := l.Purge(); removed != 0 {
		t.Errorf("Purge removed %d live windows", removed)
	}

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	if removed := l.Purge(); removed != 2 {
		t.Errorf("Purge removed %d windows, want 2", removed)
	}
}
