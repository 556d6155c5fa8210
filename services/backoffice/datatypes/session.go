// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"strings"
)

// SessionRecord is one immutable ledger entry: this student attended (or
// not) one unit of a product with a coach on a date. The composite key
// (contract_id, session_id) guarantees at most one record per
// coach/student/day/contract; records are inserted with a "not exists"
// condition and never merged or overwritten.
type SessionRecord struct {
	ContractID string `json:"contract_id"`
	SessionID  string `json:"session_id"`

	CoachID   string `json:"coach_id"`
	StudentID string `json:"student_id"`
	ProductID string `json:"product_id,omitempty"`

	Date Date `json:"date"`

	// Units is the balance consumed: product duration over the standard
	// duration, so a 90-minute session on a 60-minute product is 1.5.
	Units float64 `json:"units"`

	Duration   int     `json:"duration,omitempty"`
	Attendance string  `json:"attendance,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	CoachRate  float64 `json:"coach_rate,omitempty"`
	HasDebrief bool    `json:"has_debrief,omitempty"`
}

// SessionID composes the sort key coach_id#student_id#date.
func SessionID(coachID, studentID string, date Date) string {
	return strings.Join([]string{coachID, studentID, string(date)}, KeySep)
}

// Validate checks structural invariants of a session record.
func (s SessionRecord) Validate() error {
	switch {
	case s.ContractID == "":
		return errors.New("contract_id is required")
	case s.CoachID == "":
		return errors.New("coach_id is required")
	case s.StudentID == "":
		return errors.New("student_id is required")
	case s.Date.IsZero():
		return errors.New("date is required")
	case s.Units <= 0:
		return errors.New("units must be positive")
	}
	if want := SessionID(s.CoachID, s.StudentID, s.Date); s.SessionID != want {
		return errors.New("session_id does not match coach_id#student_id#date")
	}
	return nil
}
