// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import "fmt"

// conditionKind discriminates the condition variants.
type conditionKind int

const (
	condItemExists conditionKind = iota
	condItemNotExists
	condFieldExists
	condFieldAbsent
	condCompare
	condAnyOf
)

// compareOp is the comparator of a field comparison condition.
type compareOp int

const (
	cmpEq compareOp = iota
	cmpLT
	cmpLE
	cmpGT
	cmpGE
)

// Condition is one predicate evaluated against the pre-transaction image of
// an item. Every condition in a transaction must hold or the whole batch is
// rejected.
type Condition struct {
	kind  conditionKind
	field string
	op    compareOp
	value any
	anyOf []Condition
}

// ItemExists requires the target item to be present.
func ItemExists() Condition { return Condition{kind: condItemExists} }

// ItemNotExists requires the target item to be absent.
func ItemNotExists() Condition { return Condition{kind: condItemNotExists} }

// FieldExists requires the item to be present with the field set.
func FieldExists(field string) Condition {
	return Condition{kind: condFieldExists, field: field}
}

// FieldAbsent holds when the item is missing or the field is unset.
func FieldAbsent(field string) Condition {
	return Condition{kind: condFieldAbsent, field: field}
}

// FieldEquals requires field == value on a present item.
func FieldEquals(field string, value any) Condition {
	return Condition{kind: condCompare, field: field, op: cmpEq, value: value}
}

// FieldLessThan requires field < value on a present item.
func FieldLessThan(field string, value any) Condition {
	return Condition{kind: condCompare, field: field, op: cmpLT, value: value}
}

// FieldAtMost requires field <= value on a present item.
func FieldAtMost(field string, value any) Condition {
	return Condition{kind: condCompare, field: field, op: cmpLE, value: value}
}

// FieldGreaterThan requires field > value on a present item.
func FieldGreaterThan(field string, value any) Condition {
	return Condition{kind: condCompare, field: field, op: cmpGT, value: value}
}

// FieldAtLeast requires field >= value on a present item.
func FieldAtLeast(field string, value any) Condition {
	return Condition{kind: condCompare, field: field, op: cmpGE, value: value}
}

// AnyOf holds when at least one of the given conditions holds.
func AnyOf(conds ...Condition) Condition {
	return Condition{kind: condAnyOf, anyOf: conds}
}

// Evaluate reports whether the condition holds for an item image. exists
// indicates whether the item was found; fields is nil for absent items.
func (c Condition) Evaluate(exists bool, fields map[string]any) bool {
	switch c.kind {
	case condItemExists:
		return exists
	case condItemNotExists:
		return !exists
	case condFieldExists:
		if !exists {
			return false
		}
		v, ok := fields[c.field]
		return ok && v != nil
	case condFieldAbsent:
		if !exists {
			return true
		}
		v, ok := fields[c.field]
		return !ok || v == nil
	case condCompare:
		if !exists {
			return false
		}
		v, ok := fields[c.field]
		if !ok || v == nil {
			return false
		}
		rel, ok := compareValues(v, c.value)
		if !ok {
			return false
		}
		switch c.op {
		case cmpEq:
			return rel == 0
		case cmpLT:
			return rel < 0
		case cmpLE:
			return rel <= 0
		case cmpGT:
			return rel > 0
		case cmpGE:
			return rel >= 0
		}
		return false
	case condAnyOf:
		for _, sub := range c.anyOf {
			if sub.Evaluate(exists, fields) {
				return true
			}
		}
		return false
	}
	return false
}

// String renders the condition for diagnostics.
func (c Condition) String() string {
	switch c.kind {
	case condItemExists:
		return "item_exists"
	case condItemNotExists:
		return "item_not_exists"
	case condFieldExists:
		return fmt.Sprintf("exists(%s)", c.field)
	case condFieldAbsent:
		return fmt.Sprintf("absent(%s)", c.field)
	case condCompare:
		ops := [...]string{"==", "<", "<=", ">", ">="}
		return fmt.Sprintf("%s %s %v", c.field, ops[c.op], c.value)
	case condAnyOf:
		return fmt.Sprintf("any_of(%d)", len(c.anyOf))
	}
	return "unknown"
}

// compareValues orders two attribute values of the same shape. Strings
// compare lexicographically; numbers numerically. Mismatched or unsupported
// shapes report not-comparable, which fails the enclosing condition.
func compareValues(a, b any) (int, bool) {
	if as, ok := asString(a); ok {
		bs, ok := asString(b)
		if !ok {
			return 0, false
		}
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		}
		return 0, true
	}
	af, ok := asFloat(a)
	if !ok {
		return 0, false
	}
	bf, ok := asFloat(b)
	if !ok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	}
	// Date and Month are string-kinded; reflect-free conversion keeps the
	// hot path cheap, so named string types go through this shim.
	if s, ok := stringKinded(v); ok {
		return s, true
	}
	return "", false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Change is one mutation applied to an item inside an update operation.
type Change struct {
	field string
	add   bool
	value any
	delta float64
}

// Set assigns field = value.
func Set(field string, value any) Change {
	return Change{field: field, value: value}
}

// Add increments a numeric field by delta; an unset field counts as zero.
func Add(field string, delta float64) Change {
	return Change{field: field, add: true, delta: delta}
}

// Apply mutates fields in place.
func (ch Change) Apply(fields map[string]any) {
	if !ch.add {
		fields[ch.field] = normalizeValue(ch.value)
		return
	}
	cur, _ := asFloat(fields[ch.field])
	fields[ch.field] = cur + ch.delta
}
