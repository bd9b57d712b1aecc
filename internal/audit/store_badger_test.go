// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package audit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLogger(nil))
	if err != nil {
		t.Fatalf("badger.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBadgerStore(db)
}

func TestEventKeyOrderIsChronological(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Sub-second offsets chosen so variable-width formats would trim
	// trailing zeros and sort 100ms after 150ms.
	offsets := []time.Duration{
		0,
		100 * time.Millisecond,
		150 * time.Millisecond,
		200 * time.Millisecond,
		999 * time.Millisecond,
		time.Second,
	}

	var prev []byte
	for i, off := range offsets {
		key := eventKey(base.Add(off), "evt")
		if i > 0 && bytes.Compare(prev, key) >= 0 {
			t.Errorf("key for +%v does not sort after key for +%v: %q >= %q",
				off, offsets[i-1], prev, key)
		}
		prev = key
	}
}

func TestBadgerStoreQueryOrderWithinSecond(t *testing.T) {
	store := newTestBadgerStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Saved out of order, with sub-second spacing.
	for _, e := range []struct {
		id  string
		off time.Duration
	}{
		{"evt-b", 150 * time.Millisecond},
		{"evt-c", 200 * time.Millisecond},
		{"evt-a", 100 * time.Millisecond},
	} {
		event := &Event{
			ID:        e.id,
			Timestamp: base.Add(e.off),
			Type:      EventTypeAuthSuccess,
			Severity:  SeverityInfo,
			Outcome:   OutcomeSuccess,
			Action:    "authenticate",
		}
		if err := store.Save(ctx, event); err != nil {
			t.Fatalf("Save(%s): %v", e.id, err)
		}
	}

	events, err := store.Query(ctx, QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Query returned %d events, want 3", len(events))
	}
	// Most recent first.
	for i, want := range []string{"evt-c", "evt-b", "evt-a"} {
		if events[i].ID != want {
			t.Errorf("events[%d].ID = %s, want %s", i, events[i].ID, want)
		}
	}
}

func TestBadgerStoreDeleteOlderThan(t *testing.T) {
	store := newTestBadgerStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seedEvents(t, store, 6, base)

	removed, err := store.Delete(ctx, base.Add(3*time.Second))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed != 3 {
		t.Errorf("Delete removed %d events, want 3", removed)
	}

	count, err := store.Count(ctx, QueryFilter{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}
}
