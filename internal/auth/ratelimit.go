// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package auth

import (
	"hash/fnv"
	"sync"
	"time"
)

// rateShards spreads keys over independent locks so concurrent logins for
// different principals never contend on a global mutex.
const rateShards = 32

// RateLimiter is a fixed-window counter keyed by principal/source. Exactly
// limit calls per key are allowed within each window; further calls are
// rejected until the window rolls over.
type RateLimiter struct {
	limit  int
	window time.Duration
	shards [rateShards]rateShard
	now    func() time.Time
}

type rateShard struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int
}

// NewRateLimiter creates a limiter allowing limit attempts per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	l := &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for i := range l.shards {
		l.shards[i].windows = make(map[string]*rateWindow)
	}
	return l
}

func (l *RateLimiter) shard(key string) *rateShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l.shards[h.Sum32()%rateShards]
}

// Allow reports whether an attempt under the given key is within the limit,
// counting the attempt if so. The count-and-check is atomic per key, so two
// concurrent callers can never both slip under the limit.
func (l *RateLimiter) Allow(key string) bool {
	s := l.shard(key)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		s.windows[key] = &rateWindow{start: now, count: 1}
		return true
	}
	if w.count >= l.limit {
		rateLimitRejectionsTotal.Inc()
		return false
	}
	w.count++
	return true
}

// Purge drops windows that have rolled over, returning the number removed.
// Called periodically; correctness does not depend on it.
func (l *RateLimiter) Purge() int {
	now := l.now()
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, w := range s.windows {
			if now.Sub(w.start) >= l.window {
				delete(s.windows, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
