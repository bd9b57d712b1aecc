// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key layout: events are stored under "audit:<timestamp>:<id>" so a forward
// iteration visits them oldest first, plus "auditid:<id>" pointing at the
// primary key for lookups by ID. The timestamp is zero-padded UnixNano so
// that lexicographic key order is chronological order; variable-width
// formats like RFC3339Nano drop trailing fractional zeros and break this.
const (
	badgerEventPrefix = "audit:"
	badgerIDPrefix    = "auditid:"
)

// BadgerStore is a BadgerDB-backed audit store. Events survive restarts.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates an audit store on an open Badger database.
// The database handle is shared with other components and is not closed here.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func eventKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", badgerEventPrefix, ts.UTC().UnixNano(), id))
}

func idKey(id string) []byte {
	return []byte(badgerIDPrefix + id)
}

// Save persists an audit event.
func (s *BadgerStore) Save(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	key := eventKey(event.Timestamp, event.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idKey(event.ID), key)
	})
}

// Get retrieves an event by ID.
func (s *BadgerStore) Get(ctx context.Context, id string) (*Event, error) {
	var event Event
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		var key []byte
		if err := item.Value(func(val []byte) error {
			key = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}

		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("audit event not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// Query retrieves events matching the filter, most recent first.
func (s *BadgerStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	results := make([]Event, 0)
	skipped := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerEventPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the last possible key in the
		// prefix range to start at the newest event.
		seek := append([]byte(badgerEventPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(badgerEventPrefix)); it.Next() {
			var event Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			}); err != nil {
				return err
			}
			if !matchesFilter(&event, &filter) {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			results = append(results, event)
			if filter.Limit > 0 && len(results) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	return results, err
}

// Count returns the number of events matching the filter.
func (s *BadgerStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerEventPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var event Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			}); err != nil {
				return err
			}
			if matchesFilter(&event, &filter) {
				count++
			}
		}
		return nil
	})
	return count, err
}

// Delete removes events older than the given time.
func (s *BadgerStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := eventKey(olderThan, "")

	var keys [][]byte
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerEventPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if string(item.Key()) >= string(cutoff) {
				break
			}
			keys = append(keys, item.KeyCopy(nil))

			var event Event
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			}); err != nil {
				return err
			}
			ids = append(ids, event.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var removed int64
	for i, key := range keys {
		err := s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Delete(key); err != nil {
				return err
			}
			return txn.Delete(idKey(ids[i]))
		})
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
