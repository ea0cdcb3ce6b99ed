// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

// Package wal journals outbound change events to BadgerDB before they
// are published, so a broker outage or process crash loses nothing.
// A retry loop republishes pending entries until they confirm, expire,
// or exhaust their attempts.
package wal

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/logging"
	"github.com/troupehq/troupe/internal/metrics"
)

// Entry is one journaled publish.
type Entry struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// Journal is the badger-backed write-ahead log. It implements
// eventbus.Journal.
type Journal struct {
	db  *badger.DB
	cfg *config.WALConfig
}

// Open opens or creates the journal at the configured directory.
func Open(cfg *config.WALConfig) (*Journal, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithLogger(nil).
		WithSyncWrites(true) // durability is the whole point

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening wal at %s: %w", cfg.Dir, err)
	}

	j := &Journal{db: db, cfg: cfg}
	pending, err := j.Pending()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	metrics.WALPending.Set(float64(len(pending)))
	if len(pending) > 0 {
		logging.Info().Int("pending", len(pending)).Msg("wal recovered pending entries")
	}
	return j, nil
}

// Append journals a publish before it is attempted.
func (j *Journal) Append(id, topic string, payload []byte) error {
	entry := Entry{
		ID:        id,
		Topic:     topic,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding wal entry: %w", err)
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(id), data)
	})
	if err != nil {
		return fmt.Errorf("writing wal entry: %w", err)
	}
	metrics.WALPending.Inc()
	return nil
}

// Complete removes a confirmed entry.
func (j *Journal) Complete(id string) error {
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(id))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("completing wal entry: %w", err)
	}
	metrics.WALPending.Dec()
	return nil
}

// Pending returns all unconfirmed entries.
func (j *Journal) Pending() ([]Entry, error) {
	var out []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				out = append(out, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning wal: %w", err)
	}
	return out, nil
}

// recordAttempt persists an updated attempt count for an entry.
func (j *Journal) recordAttempt(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(e.ID), data)
	})
}

// drop removes an entry that will never publish, expired or out of
// attempts.
func (j *Journal) drop(id string) error {
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(id))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	metrics.WALPending.Dec()
	return nil
}

// Close shuts the journal down.
func (j *Journal) Close() error {
	return j.db.Close()
}
