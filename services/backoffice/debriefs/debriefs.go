// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package debriefs links per-day coaching notes to the session ledger: a
// debrief exists at most once per (student, coach, date), and the session
// records of that day carry has_debrief once it does.
package debriefs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smartalk-online/backoffice/services/backoffice/datatypes"
	"github.com/smartalk-online/backoffice/services/backoffice/storage"
)

// Service creates debriefs and keeps session tagging consistent.
type Service struct {
	store  storage.Store
	logger *slog.Logger
}

// New creates a debrief service. A nil logger selects a no-op.
func New(store storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{store: store, logger: logger}
}

// Ensure creates the debrief unless it already exists, tagging every
// session record of the same coach, student and date with has_debrief in
// the same atomic batch. Calling it again for the same day is a no-op.
func (s *Service) Ensure(ctx context.Context, debrief datatypes.Debrief) error {
	if err := debrief.Validate(); err != nil {
		return fmt.Errorf("debriefs: %w", err)
	}
	key := storage.DebriefKey(debrief.DebriefID, debrief.Date)

	existing, err := s.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil {
		s.logger.DebugContext(ctx, "debrief already exists",
			slog.String("debrief_id", debrief.DebriefID),
			slog.String("date", string(debrief.Date)))
		return nil
	}

	fields, err := storage.Marshal(debrief)
	if err != nil {
		return err
	}
	tx := storage.NewTransaction().Put(key, fields, storage.ItemNotExists())

	// Sessions of the day, across whatever contracts they were logged on.
	sessionID := datatypes.SessionID(debrief.CoachID, debrief.StudentID, debrief.Date)
	sessions, err := s.store.Scan(ctx, storage.TableSessions,
		storage.FieldEquals("session_id", sessionID))
	if err != nil {
		return err
	}
	for _, rec := range sessions {
		tx.Update(rec.Key,
			[]storage.Change{storage.Set("has_debrief", true)},
			storage.ItemExists())
	}

	if _, err := s.store.Transact(ctx, tx); err != nil {
		return fmt.Errorf("create debrief %s/%s: %w", debrief.DebriefID, debrief.Date, err)
	}
	return nil
}

// ByStudentAndCoach lists the debriefs of one student/coach pair in date
// order.
func (s *Service) ByStudentAndCoach(ctx context.Context, studentID, coachID string) ([]datatypes.Debrief, error) {
	recs, err := s.store.Query(ctx, storage.Query{
		Table: storage.TableDebriefs,
		PK:    datatypes.DebriefID(studentID, coachID),
	})
	if err != nil {
		return nil, err
	}
	out := make([]datatypes.Debrief, 0, len(recs))
	for _, rec := range recs {
		var d datatypes.Debrief
		if err := rec.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
