// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ids generates short random identifiers for stored entities.
//
// Identifiers are random, so a freshly generated one can collide with an
// existing row. Reserve retries generation a bounded number of times,
// retrying only on collisions; any other failure is returned immediately.
// Callers can therefore distinguish a retryable collision (ErrCollision,
// after the attempt budget is exhausted) from a hard storage failure.
package ids

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultAttempts is the attempt budget used when callers pass a
// non-positive value to Reserve.
const DefaultAttempts = 10

// ErrCollision indicates every generated candidate was already taken.
var ErrCollision = errors.New("identifier collision: attempt budget exhausted")

// New returns a fresh identifier of the form "<prefix>-<12 hex chars>".
func New(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", prefix, raw[:12])
}

// Reserve generates candidates with gen until taken reports one as free,
// up to attempts tries. It returns ErrCollision when every candidate was
// taken, and propagates any error from taken unchanged.
func Reserve(attempts int, gen func() string, taken func(id string) (bool, error)) (string, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	for i := 0; i < attempts; i++ {
		id := gen()
		inUse, err := taken(id)
		if err != nil {
			return "", fmt.Errorf("check identifier %q: %w", id, err)
		}
		if !inUse {
			return id, nil
		}
	}
	return "", ErrCollision
}
