// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
	"strings"
)

// ReportCardStatus is a report card's position in its lifecycle:
// no_show -> draft -> completed -> sent, with completed -> {draft, no_show}
// as an explicit restore.
type ReportCardStatus string

const (
	// ReportCardNoShow is the placeholder state for a period with no
	// logged sessions; always owned by the reserved head-coach identity.
	ReportCardNoShow ReportCardStatus = "no_show"

	// ReportCardDraft is an editable card a coach is working on.
	ReportCardDraft ReportCardStatus = "draft"

	// ReportCardCompleted is finalized and awaiting close-out.
	ReportCardCompleted ReportCardStatus = "completed"

	// ReportCardSent is marked sent by the period close-out.
	ReportCardSent ReportCardStatus = "sent"
)

// ReportCard is one coach's report for one student for one period.
// end_month = start_month + cadency; the card covers [start_month, end_month).
type ReportCard struct {
	ReportCardID string `json:"report_card_id"`
	StartMonth   Month  `json:"start_month"`
	EndMonth     Month  `json:"end_month"`

	CoachID   string `json:"coach_id"`
	StudentID string `json:"student_id"`
	ClientID  string `json:"client_id"`

	Status ReportCardStatus `json:"status"`

	ReportCardGeneratorID string `json:"report_card_generator_id"`
	EmailRecipients       string `json:"report_card_email_recipients,omitempty"`
	Cadency               int    `json:"report_card_cadency,omitempty"`

	Report     string `json:"report,omitempty"`
	Attendance string `json:"attendance,omitempty"`
}

// ReportCardID composes the partition key coach_id#report_card_generator_id.
func ReportCardID(coachID, generatorID string) string {
	return strings.Join([]string{coachID, generatorID}, KeySep)
}

// CoversDate reports whether date falls inside [start_month, end_month).
func (r ReportCard) CoversDate(date Date) bool {
	m := date.Month()
	return r.StartMonth <= m && m < r.EndMonth
}

// ReportCardGenerator owns the recurring period cadence for one
// (student, client, cadence) triple. The invariant
// next_start_month == current_start_month + cadency months holds always.
type ReportCardGenerator struct {
	ReportCardGeneratorID string `json:"report_card_generator_id"`

	StudentID string `json:"student_id"`
	ClientID  string `json:"client_id"`

	Cadency         int    `json:"report_card_cadency"`
	EmailRecipients string `json:"report_card_email_recipients,omitempty"`

	CurrentStartMonth Month `json:"current_start_month"`
	NextStartMonth    Month `json:"next_start_month"`
}

// Validate checks the generator's cadence invariant.
func (g ReportCardGenerator) Validate() error {
	switch {
	case g.ReportCardGeneratorID == "":
		return errors.New("report_card_generator_id is required")
	case g.Cadency <= 0:
		return errors.New("report_card_cadency must be positive")
	case g.CurrentStartMonth.IsZero():
		return errors.New("current_start_month is required")
	}
	if want := g.CurrentStartMonth.AddMonths(g.Cadency); g.NextStartMonth != want {
		return fmt.Errorf("next_start_month %s is not current_start_month + %d months (%s)",
			g.NextStartMonth, g.Cadency, want)
	}
	return nil
}

// AlignedStartMonth reports whether month is reachable from the generator's
// current window by an integer number of cadency steps, searching
// maxCycles steps in both directions.
func (g ReportCardGenerator) AlignedStartMonth(month Month, maxCycles int) bool {
	diff := MonthsBetween(g.CurrentStartMonth, month)
	if diff%g.Cadency != 0 {
		return false
	}
	steps := diff / g.Cadency
	return steps >= -maxCycles && steps <= maxCycles
}
