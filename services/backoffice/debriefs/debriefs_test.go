// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debriefs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartalk-online/backoffice/services/backoffice/datatypes"
	"github.com/smartalk-online/backoffice/services/backoffice/storage"
	"github.com/smartalk-online/backoffice/services/backoffice/storage/badgerstore"
)

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil), store
}

func testDebrief(date datatypes.Date) datatypes.Debrief {
	return datatypes.Debrief{
		DebriefID: datatypes.DebriefID("student-1", "coach-1"),
		Date:      date,
		StudentID: "student-1",
		CoachID:   "coach-1",
		Goals:     "hold a 10 minute conversation",
		Topics:    "past tense review",
	}
}

// TestEnsureTagsMatchingSessions verifies the debrief put and the
// has_debrief tags land in one batch, across contracts.
func TestEnsureTagsMatchingSessions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	sid := datatypes.SessionID("coach-1", "student-1", "2025-03-01")
	session := datatypes.SessionRecord{
		ContractID: "contract-1", SessionID: sid,
		CoachID: "coach-1", StudentID: "student-1", Date: "2025-03-01", Units: 1,
	}
	fields, err := storage.Marshal(session)
	require.NoError(t, err)
	_, err = store.Transact(ctx, storage.NewTransaction().
		Put(storage.SessionKey(session.ContractID, sid), fields))
	require.NoError(t, err)

	otherSID := datatypes.SessionID("coach-2", "student-1", "2025-03-01")
	other := session
	other.SessionID = otherSID
	other.CoachID = "coach-2"
	fields, err = storage.Marshal(other)
	require.NoError(t, err)
	_, err = store.Transact(ctx, storage.NewTransaction().
		Put(storage.SessionKey(other.ContractID, otherSID), fields))
	require.NoError(t, err)

	require.NoError(t, svc.Ensure(ctx, testDebrief("2025-03-01")))

	rec, err := store.Get(ctx, storage.SessionKey("contract-1", sid))
	require.NoError(t, err)
	assert.Equal(t, true, rec.Fields["has_debrief"])

	// The other coach's session is untouched.
	rec, err = store.Get(ctx, storage.SessionKey("contract-1", otherSID))
	require.NoError(t, err)
	_, tagged := rec.Fields["has_debrief"]
	assert.False(t, tagged)
}

// TestEnsureIsIdempotent verifies a second Ensure for the same day neither
// fails nor rewrites the stored note.
func TestEnsureIsIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	first := testDebrief("2025-03-01")
	require.NoError(t, svc.Ensure(ctx, first))

	second := first
	second.Goals = "changed goals"
	require.NoError(t, svc.Ensure(ctx, second))

	rec, err := store.Get(ctx, storage.DebriefKey(first.DebriefID, first.Date))
	require.NoError(t, err)
	assert.Equal(t, "hold a 10 minute conversation", rec.Fields["goals"])
}

// TestByStudentAndCoachDateOrder verifies listing comes back in date order.
func TestByStudentAndCoachDateOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Ensure(ctx, testDebrief("2025-03-10")))
	require.NoError(t, svc.Ensure(ctx, testDebrief("2025-01-05")))

	got, err := svc.ByStudentAndCoach(ctx, "student-1", "coach-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, datatypes.Date("2025-01-05"), got[0].Date)
	assert.Equal(t, datatypes.Date("2025-03-10"), got[1].Date)
}
