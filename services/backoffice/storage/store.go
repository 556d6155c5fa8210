// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the transactional key-value contract the back
// office runs on: items addressed by (table, partition key, sort key),
// mutated only through atomic conditional batches.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// Key addresses one item.
type Key struct {
	Table string
	PK    string
	SK    string
}

// String renders the key for logs and errors.
func (k Key) String() string {
	if k.SK == "" {
		return fmt.Sprintf("%s[%s]", k.Table, k.PK)
	}
	return fmt.Sprintf("%s[%s/%s]", k.Table, k.PK, k.SK)
}

// Record is one stored item image.
type Record struct {
	Key    Key
	Fields map[string]any
}

// Decode unmarshals the record's fields into a typed entity.
func (r Record) Decode(out any) error {
	raw, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", r.Key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode record %s: %w", r.Key, err)
	}
	return nil
}

// Marshal flattens a typed entity into an item field map.
func Marshal(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return fields, nil
}

// Query is a prefix scan over one partition, in ascending sort key order.
type Query struct {
	Table string
	PK    string

	// SKPrefix narrows the scan to sort keys with this prefix; empty
	// matches the whole partition.
	SKPrefix string

	// Filters drop non-matching items after the key scan.
	Filters []Condition

	// Limit caps the result count; zero means unbounded.
	Limit int
}

// Store is the transactional key-value backend.
//
// Transact runs one atomic batch. For read batches it returns one record
// pointer per get, in request order, nil for absent items. For write
// batches it returns nil records; a failed condition or a conflicting
// concurrent commit yields ErrTransactionAborted and no write is applied.
//
// Scan walks a whole table applying filters; it stands in for the
// secondary-index lookups the close-out and reporting paths need.
type Store interface {
	Transact(ctx context.Context, tx *Transaction) ([]*Record, error)
	Get(ctx context.Context, key Key) (*Record, error)
	Query(ctx context.Context, q Query) ([]Record, error)
	Scan(ctx context.Context, table string, filters ...Condition) ([]Record, error)
	Close() error
}

// Metrics receives storage-level measurements. Implementations must be
// safe for concurrent use.
type Metrics interface {
	// AddEgressBytes accounts the approximate serialized size of data
	// read out of the store.
	AddEgressBytes(n int)

	// ObserveTransaction counts one finished batch by outcome
	// ("committed", "aborted", "invalid", "error").
	ObserveTransaction(outcome string)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) AddEgressBytes(int)        {}
func (NopMetrics) ObserveTransaction(string) {}

// normalizeValue maps named scalar types (Date, Month, statuses) onto the
// plain JSON shapes stored field maps use, so condition comparisons against
// freshly decoded items are well-typed.
func normalizeValue(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

// stringKinded extracts the value of any string-kinded type.
func stringKinded(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}
