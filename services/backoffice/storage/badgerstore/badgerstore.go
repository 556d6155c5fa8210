// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badgerstore implements the transactional item store on BadgerDB.
//
// Items are JSON documents addressed by table\x00pk\x00sk keys, so a
// prefix scan over table\x00pk\x00 walks one partition in ascending sort
// key order. Atomicity comes from BadgerDB's serializable transactions:
// every condition is evaluated against the pre-transaction image inside
// the same transaction that applies the writes, and a conflicting
// concurrent commit surfaces as badger.ErrConflict.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartalk-online/backoffice/services/backoffice/storage"
)

// keySep separates table, partition key and sort key in encoded keys. The
// zero byte never occurs in identifiers, which are ISO dates, months and
// '#'-joined ids.
const keySep = 0x00

var tracer = otel.Tracer("smartalk.online/backoffice/badgerstore")

// Config holds configuration for a badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives store diagnostics. BadgerDB's own logging is
	// always disabled. If nil, diagnostics are discarded.
	Logger *slog.Logger

	// Metrics receives egress and transaction measurements.
	// If nil, measurements are discarded.
	Metrics storage.Metrics
}

// DefaultConfig returns production defaults: durable synchronous writes.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests: in-memory, no fsync.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store is a BadgerDB-backed storage.Store.
type Store struct {
	db      *badger.DB
	logger  *slog.Logger
	metrics storage.Metrics
}

var _ storage.Store = (*Store)(nil)

// Open creates and opens a store with the given configuration.
//
// The returned store is safe for concurrent use. Caller must call Close
// when done.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = storage.NopMetrics{}
	}

	return &Store{db: db, logger: logger, metrics: metrics}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---- key encoding ----

func encodeKey(k storage.Key) []byte {
	b := make([]byte, 0, len(k.Table)+len(k.PK)+len(k.SK)+2)
	b = append(b, k.Table...)
	b = append(b, keySep)
	b = append(b, k.PK...)
	b = append(b, keySep)
	b = append(b, k.SK...)
	return b
}

func decodeKey(raw []byte) (storage.Key, error) {
	parts := bytes.SplitN(raw, []byte{keySep}, 3)
	if len(parts) != 3 {
		return storage.Key{}, fmt.Errorf("malformed stored key %q", raw)
	}
	return storage.Key{
		Table: string(parts[0]),
		PK:    string(parts[1]),
		SK:    string(parts[2]),
	}, nil
}

func partitionPrefix(table, pk, skPrefix string) []byte {
	b := make([]byte, 0, len(table)+len(pk)+len(skPrefix)+2)
	b = append(b, table...)
	b = append(b, keySep)
	b = append(b, pk...)
	b = append(b, keySep)
	b = append(b, skPrefix...)
	return b
}

// ---- reads ----

// Get reads one item. Absent items return (nil, nil).
func (s *Store) Get(ctx context.Context, key storage.Key) (*storage.Record, error) {
	_, span := tracer.Start(ctx, "badgerstore.Get",
		trace.WithAttributes(attribute.String("db.table", key.Table)))
	defer span.End()

	var rec *storage.Record
	err := s.db.View(func(txn *badger.Txn) error {
		img, err := s.loadImage(txn, key)
		if err != nil {
			return err
		}
		if img.exists {
			rec = &storage.Record{Key: key, Fields: img.fields}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return rec, nil
}

// Query scans one partition in ascending sort key order, applying the
// query's filters and limit.
func (s *Store) Query(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	_, span := tracer.Start(ctx, "badgerstore.Query",
		trace.WithAttributes(attribute.String("db.table", q.Table)))
	defer span.End()

	prefix := partitionPrefix(q.Table, q.PK, q.SKPrefix)
	out, err := s.scanPrefix(prefix, q.Filters, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query %s[%s]: %w", q.Table, q.PK, err)
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// Scan walks a whole table in key order, applying filters.
func (s *Store) Scan(ctx context.Context, table string, filters ...storage.Condition) ([]storage.Record, error) {
	_, span := tracer.Start(ctx, "badgerstore.Scan",
		trace.WithAttributes(attribute.String("db.table", table)))
	defer span.End()

	prefix := append([]byte(table), keySep)
	out, err := s.scanPrefix(prefix, filters, 0)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

func (s *Store) scanPrefix(prefix []byte, filters []storage.Condition, limit int) ([]storage.Record, error) {
	var out []storage.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key, err := decodeKey(item.KeyCopy(nil))
			if err != nil {
				return err
			}
			var fields map[string]any
			err = item.Value(func(val []byte) error {
				s.metrics.AddEgressBytes(len(val))
				return json.Unmarshal(val, &fields)
			})
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			if !conditionsHold(filters, itemImage{exists: true, fields: fields}) {
				continue
			}
			out = append(out, storage.Record{Key: key, Fields: fields})
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}

// ---- transactions ----

// Transact runs one atomic batch. See storage.Store for the contract.
func (s *Store) Transact(ctx context.Context, tx *storage.Transaction) ([]*storage.Record, error) {
	ctx, span := tracer.Start(ctx, "badgerstore.Transact",
		trace.WithAttributes(attribute.Int("db.ops", tx.Len())))
	defer span.End()

	if err := tx.Validate(); err != nil {
		s.metrics.ObserveTransaction("invalid")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.metrics.ObserveTransaction("error")
		return nil, err
	}

	if tx.IsRead() {
		recs, err := s.readBatch(tx)
		if err != nil {
			s.metrics.ObserveTransaction("error")
			return nil, err
		}
		s.metrics.ObserveTransaction("committed")
		return recs, nil
	}

	err := s.writeBatch(ctx, tx)
	switch {
	case errors.Is(err, storage.ErrTransactionAborted):
		s.metrics.ObserveTransaction("aborted")
		return nil, err
	case err != nil:
		s.metrics.ObserveTransaction("error")
		return nil, err
	}
	s.metrics.ObserveTransaction("committed")
	return nil, nil
}

// readBatch resolves every get against one snapshot, in request order.
func (s *Store) readBatch(tx *storage.Transaction) ([]*storage.Record, error) {
	out := make([]*storage.Record, 0, len(tx.Gets))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, op := range tx.Gets {
			img, err := s.loadImage(txn, op.Key)
			if err != nil {
				return err
			}
			if !img.exists {
				out = append(out, nil)
				continue
			}
			out = append(out, &storage.Record{Key: op.Key, Fields: img.fields})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transactional read: %w", err)
	}
	return out, nil
}

// writeBatch evaluates every condition against the pre-transaction image,
// then applies puts, updates and deletes on working copies and commits
// the final item states. Multiple updates on one key compose in request
// order; their conditions and apply-if predicates still see only the
// pre-transaction image.
func (s *Store) writeBatch(ctx context.Context, tx *storage.Transaction) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		pre := map[string]itemImage{}
		load := func(key storage.Key) (itemImage, error) {
			ks := string(encodeKey(key))
			if img, ok := pre[ks]; ok {
				return img, nil
			}
			img, err := s.loadImage(txn, key)
			if err != nil {
				return itemImage{}, err
			}
			pre[ks] = img
			return img, nil
		}

		guard := func(key storage.Key, conds []storage.Condition) error {
			img, err := load(key)
			if err != nil {
				return err
			}
			if !conditionsHold(conds, img) {
				s.logger.DebugContext(ctx, "transaction condition failed",
					slog.String("key", key.String()))
				return storage.ErrTransactionAborted
			}
			return nil
		}

		for _, op := range tx.Checks {
			if err := guard(op.Key, op.Conditions); err != nil {
				return err
			}
		}
		for _, op := range tx.Puts {
			if err := guard(op.Key, op.Conditions); err != nil {
				return err
			}
		}
		for _, op := range tx.Updates {
			if err := guard(op.Key, op.Conditions); err != nil {
				return err
			}
		}
		for _, op := range tx.Deletes {
			if err := guard(op.Key, op.Conditions); err != nil {
				return err
			}
		}

		// All conditions hold; build the final item states.
		final := map[string]map[string]any{}
		for _, op := range tx.Puts {
			final[string(encodeKey(op.Key))] = maps.Clone(op.Fields)
		}
		for _, op := range tx.Updates {
			ks := string(encodeKey(op.Key))
			// Apply-if is judged on the pre-transaction image; a miss
			// skips this update without touching the rest of the batch.
			if !conditionsHold(op.ApplyIf, pre[ks]) {
				continue
			}
			fields, ok := final[ks]
			if !ok {
				if img := pre[ks]; img.exists {
					fields = maps.Clone(img.fields)
				} else {
					fields = map[string]any{}
				}
			}
			for _, ch := range op.Changes {
				ch.Apply(fields)
			}
			final[ks] = fields
		}
		for _, op := range tx.Deletes {
			ks := string(encodeKey(op.Key))
			delete(final, ks)
			if err := txn.Delete([]byte(ks)); err != nil {
				return err
			}
		}

		for ks, fields := range final {
			raw, err := json.Marshal(fields)
			if err != nil {
				return fmt.Errorf("encode item: %w", err)
			}
			if err := txn.Set([]byte(ks), raw); err != nil {
				return err
			}
		}
		return nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrTransactionAborted):
		return storage.ErrTransactionAborted
	case errors.Is(err, badger.ErrConflict):
		// A concurrent commit touched an item this batch read or wrote.
		return fmt.Errorf("%w: %v", storage.ErrTransactionAborted, err)
	default:
		return fmt.Errorf("transactional write: %w", err)
	}
}

// ---- item images ----

type itemImage struct {
	exists bool
	fields map[string]any
}

func (s *Store) loadImage(txn *badger.Txn, key storage.Key) (itemImage, error) {
	item, err := txn.Get(encodeKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return itemImage{}, nil
	}
	if err != nil {
		return itemImage{}, fmt.Errorf("read %s: %w", key, err)
	}

	var fields map[string]any
	err = item.Value(func(val []byte) error {
		s.metrics.AddEgressBytes(len(val))
		return json.Unmarshal(val, &fields)
	})
	if err != nil {
		return itemImage{}, fmt.Errorf("read %s: %w", key, err)
	}
	return itemImage{exists: true, fields: fields}, nil
}

func conditionsHold(conds []storage.Condition, img itemImage) bool {
	for _, c := range conds {
		if !c.Evaluate(img.exists, img.fields) {
			return false
		}
	}
	return true
}
