// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ids

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewShape verifies identifier prefix and length.
func TestNewShape(t *testing.T) {
	id := New("ct")
	assert.True(t, strings.HasPrefix(id, "ct-"))
	assert.Len(t, id, len("ct-")+12)
	assert.NotEqual(t, id, New("ct"))
}

// TestReserveFirstFree verifies Reserve returns the first free candidate.
func TestReserveFirstFree(t *testing.T) {
	calls := 0
	id, err := Reserve(5,
		func() string { calls++; return New("ct") },
		func(string) (bool, error) { return calls < 3, nil },
	)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 3, calls)
}

// TestReserveExhaustsBudget verifies ErrCollision after the attempt budget.
func TestReserveExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := Reserve(4,
		func() string { calls++; return New("ct") },
		func(string) (bool, error) { return true, nil },
	)
	require.ErrorIs(t, err, ErrCollision)
	assert.Equal(t, 4, calls)
}

// TestReservePropagatesLookupError verifies storage failures are not retried.
func TestReservePropagatesLookupError(t *testing.T) {
	boom := errors.New("store down")
	calls := 0
	_, err := Reserve(10,
		func() string { calls++; return New("ct") },
		func(string) (bool, error) { return false, boom },
	)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
