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

// Debrief is an optional per-(student, coach, date) side note, created at
// most once. The triggering session record carries has_debrief once a
// debrief exists.
type Debrief struct {
	DebriefID string `json:"debrief_id"`
	Date      Date   `json:"date"`

	StudentID string `json:"student_id"`
	CoachID   string `json:"coach_id"`

	Goals  string `json:"goals,omitempty"`
	Topics string `json:"topics,omitempty"`
}

// DebriefID composes the partition key student_id#coach_id.
func DebriefID(studentID, coachID string) string {
	return strings.Join([]string{studentID, coachID}, KeySep)
}

// Validate checks structural invariants of a debrief.
func (d Debrief) Validate() error {
	switch {
	case d.StudentID == "":
		return errors.New("student_id is required")
	case d.CoachID == "":
		return errors.New("coach_id is required")
	case d.Date.IsZero():
		return errors.New("date is required")
	}
	if want := DebriefID(d.StudentID, d.CoachID); d.DebriefID != want {
		return errors.New("debrief_id does not match student_id#coach_id")
	}
	return nil
}
