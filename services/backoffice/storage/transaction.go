// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import "errors"

// MaxTransactionItems is the hard cap on operations per atomic batch.
const MaxTransactionItems = 25

var (
	// ErrEmptyTransaction is returned for a batch with no operations.
	ErrEmptyTransaction = errors.New("storage: empty transaction")

	// ErrMixedOperations is returned when a batch mixes reads with writes.
	// A transaction is either a read set or a write set, never both.
	ErrMixedOperations = errors.New("storage: transaction mixes reads and writes")

	// ErrTransactionTooLarge is returned when a batch exceeds
	// MaxTransactionItems operations.
	ErrTransactionTooLarge = errors.New("storage: transaction exceeds item cap")

	// ErrTransactionAborted is returned when an atomic batch is rejected,
	// either by a failed condition or by a conflicting concurrent commit.
	// No write of the batch was applied. The failure is batch-level: it
	// carries no indication of which item caused it.
	ErrTransactionAborted = errors.New("storage: transaction aborted")
)

// CheckOp asserts conditions on an item without writing it.
type CheckOp struct {
	Key        Key
	Conditions []Condition
}

// PutOp writes a full item, optionally guarded by conditions.
type PutOp struct {
	Key        Key
	Fields     map[string]any
	Conditions []Condition
}

// UpdateOp applies field changes to an item, optionally guarded by
// conditions. Updating a missing item creates it.
//
// Conditions abort the whole batch when they fail. ApplyIf is weaker: it
// is evaluated against the same pre-transaction image, but a false
// result only skips this update, leaving the rest of the batch intact.
// State transitions that must happen exactly when the stored item is in
// a given state (not the state the caller last read) use ApplyIf.
type UpdateOp struct {
	Key        Key
	Changes    []Change
	Conditions []Condition
	ApplyIf    []Condition
}

// DeleteOp removes an item, optionally guarded by conditions. Deleting a
// missing item is not an error unless a condition says otherwise.
type DeleteOp struct {
	Key        Key
	Conditions []Condition
}

// GetOp reads an item.
type GetOp struct {
	Key Key
}

// Transaction is one atomic batch against the store: either a set of reads
// or a set of conditional writes. All conditions are evaluated against the
// pre-transaction image; either every operation applies or none does.
type Transaction struct {
	Checks  []CheckOp
	Puts    []PutOp
	Updates []UpdateOp
	Deletes []DeleteOp
	Gets    []GetOp
}

// NewTransaction returns an empty batch.
func NewTransaction() *Transaction { return &Transaction{} }

// Check appends a condition-only assertion.
func (t *Transaction) Check(key Key, conds ...Condition) *Transaction {
	t.Checks = append(t.Checks, CheckOp{Key: key, Conditions: conds})
	return t
}

// Put appends a conditional full-item write.
func (t *Transaction) Put(key Key, fields map[string]any, conds ...Condition) *Transaction {
	t.Puts = append(t.Puts, PutOp{Key: key, Fields: fields, Conditions: conds})
	return t
}

// Update appends a conditional field-change write.
func (t *Transaction) Update(key Key, changes []Change, conds ...Condition) *Transaction {
	t.Updates = append(t.Updates, UpdateOp{Key: key, Changes: changes, Conditions: conds})
	return t
}

// UpdateWhen appends a field-change write that applies only when every
// applyIf condition holds on the pre-transaction image, and is silently
// skipped otherwise. conds still abort the batch on failure.
func (t *Transaction) UpdateWhen(key Key, applyIf []Condition, changes []Change, conds ...Condition) *Transaction {
	t.Updates = append(t.Updates, UpdateOp{Key: key, Changes: changes, Conditions: conds, ApplyIf: applyIf})
	return t
}

// Delete appends a conditional removal.
func (t *Transaction) Delete(key Key, conds ...Condition) *Transaction {
	t.Deletes = append(t.Deletes, DeleteOp{Key: key, Conditions: conds})
	return t
}

// Get appends a read. Reads cannot share a batch with writes.
func (t *Transaction) Get(key Key) *Transaction {
	t.Gets = append(t.Gets, GetOp{Key: key})
	return t
}

// Len counts the operations in the batch.
func (t *Transaction) Len() int {
	return len(t.Checks) + len(t.Puts) + len(t.Updates) + len(t.Deletes) + len(t.Gets)
}

// writeLen counts only the write-side operations.
func (t *Transaction) writeLen() int {
	return len(t.Checks) + len(t.Puts) + len(t.Updates) + len(t.Deletes)
}

// IsRead reports whether the batch is a read set.
func (t *Transaction) IsRead() bool {
	return len(t.Gets) > 0 && t.writeLen() == 0
}

// Validate rejects empty, mixed, or oversized batches.
func (t *Transaction) Validate() error {
	n := t.Len()
	switch {
	case n == 0:
		return ErrEmptyTransaction
	case len(t.Gets) > 0 && t.writeLen() > 0:
		return ErrMixedOperations
	case n > MaxTransactionItems:
		return ErrTransactionTooLarge
	}
	return nil
}
