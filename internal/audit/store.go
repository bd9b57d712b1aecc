// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package audit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	events []Event
	mu     sync.RWMutex
	maxLen int
}

// NewMemoryStore creates a new in-memory audit store holding at most
// maxLen events. Oldest events are evicted when the cap is reached.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryStore{
		events: make([]Event, 0, maxLen),
		maxLen: maxLen,
	}
}

// Save persists an audit event.
func (s *MemoryStore) Save(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.maxLen {
		// Drop the oldest 10% rather than one at a time.
		removeCount := s.maxLen / 10
		if removeCount < 1 {
			removeCount = 1
		}
		s.events = s.events[removeCount:]
	}

	s.events = append(s.events, *event)
	return nil
}

// Get retrieves an event by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.events {
		if s.events[i].ID == id {
			event := s.events[i]
			return &event, nil
		}
	}

	return nil, fmt.Errorf("audit event not found: %s", id)
}

// Query retrieves events matching the filter, most recent first.
func (s *MemoryStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Event, 0)
	skipped := 0

	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if !matchesFilter(&event, &filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		results = append(results, event)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}

	return results, nil
}

// Count returns the number of events matching the filter.
func (s *MemoryStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for i := range s.events {
		if matchesFilter(&s.events[i], &filter) {
			count++
		}
	}
	return count, nil
}

// Delete removes events older than the given time.
func (s *MemoryStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var removed int64
	for _, event := range s.events {
		if event.Timestamp.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, event)
	}
	s.events = kept
	return removed, nil
}

// matchesFilter returns true if the event matches all filter criteria.
func matchesFilter(event *Event, filter *QueryFilter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Outcomes) > 0 {
		found := false
		for _, o := range filter.Outcomes {
			if event.Outcome == o {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.PrincipalID != "" && event.PrincipalID != filter.PrincipalID {
		return false
	}
	if filter.Username != "" && event.Username != filter.Username {
		return false
	}
	if filter.SourceIP != "" && event.Source.IPAddress != filter.SourceIP {
		return false
	}
	if filter.RequestID != "" && event.Source.RequestID != filter.RequestID {
		return false
	}
	if filter.StartTime != nil && event.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && event.Timestamp.After(*filter.EndTime) {
		return false
	}

	return true
}
