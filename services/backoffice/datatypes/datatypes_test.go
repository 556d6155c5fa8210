// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDateArithmetic verifies day addition and month truncation.
func TestDateArithmetic(t *testing.T) {
	d, err := ParseDate("2025-01-30")
	require.NoError(t, err)

	assert.Equal(t, Date("2025-02-01"), d.AddDays(2))
	assert.Equal(t, Month("2025-01"), d.Month())
	assert.Equal(t, Date("2025-01-01"), d.Month().FirstDay())
}

// TestDateOrderingIsLexicographic verifies that string comparison on dates
// matches chronological order, which the storage conditions rely on.
func TestDateOrderingIsLexicographic(t *testing.T) {
	a, _ := ParseDate("2024-12-31")
	b, _ := ParseDate("2025-01-01")
	assert.True(t, a < b)

	ma, _ := ParseMonth("2024-12")
	mb, _ := ParseMonth("2025-01")
	assert.True(t, ma < mb)
}

// TestParseDateRejectsMalformed verifies boundary validation.
func TestParseDateRejectsMalformed(t *testing.T) {
	_, err := ParseDate("2025-13-01")
	assert.Error(t, err)

	_, err = ParseDate("01/02/2025")
	assert.Error(t, err)

	_, err = ParseMonth("2025-00")
	assert.Error(t, err)
}

// TestMonthsBetween verifies signed month distance across year boundaries.
func TestMonthsBetween(t *testing.T) {
	assert.Equal(t, 3, MonthsBetween("2024-11", "2025-02"))
	assert.Equal(t, -3, MonthsBetween("2025-02", "2024-11"))
	assert.Equal(t, 0, MonthsBetween("2025-02", "2025-02"))
}

// TestMonthOf verifies UTC month extraction.
func TestMonthOf(t *testing.T) {
	ts := time.Date(2025, 3, 31, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, Month("2025-03"), MonthOf(ts))
}

// TestMaxEndDateFor verifies the validity window formula
// ceil(7 * 1.7 * total / sqrt(per_week)) days from the first session.
func TestMaxEndDateFor(t *testing.T) {
	// 7 * 1.7 * 10 / sqrt(1) = 119 exactly.
	assert.Equal(t, Date("2025-01-01").AddDays(119), MaxEndDateFor("2025-01-01", 10, 1))

	// 7 * 1.7 * 20 / sqrt(2) = 168.29..., rounds up to 169.
	assert.Equal(t, Date("2025-01-01").AddDays(169), MaxEndDateFor("2025-01-01", 20, 2))
}

// TestContractValidate covers the balance and generator invariants.
func TestContractValidate(t *testing.T) {
	base := Contract{
		ContractID:   "contract-1",
		StudentID:    "student-1",
		ClientID:     "client-1",
		ProductID:    "product-1",
		Status:       ContractActive,
		TotalCalls:   10,
		UsedCalls:    4,
		LeftCalls:    6,
		CallsPerWeek: 2,
	}
	require.NoError(t, base.Validate())

	broken := base
	broken.LeftCalls = 7
	assert.Error(t, broken.Validate())

	badStatus := base
	badStatus.Status = "Paused"
	assert.Error(t, badStatus.Validate())

	unlimited := base
	unlimited.Unlimited = true
	unlimited.TotalCalls = 0
	unlimited.CallsPerWeek = 0
	unlimited.UsedCalls = 0
	unlimited.LeftCalls = 0
	assert.NoError(t, unlimited.Validate())

	withCards := base
	withCards.ReportCardCadency = 3
	withCards.ReportCardStartMonth = "2025-01"
	withCards.ReportCardGeneratorID = GeneratorID("student-1", "client-1", 3)
	assert.NoError(t, withCards.Validate())

	withCards.ReportCardGeneratorID = "student-1#client-1#6"
	assert.Error(t, withCards.Validate())
}

// TestCompositeIDs verifies the key derivation helpers.
func TestCompositeIDs(t *testing.T) {
	assert.Equal(t, "coach-1#student-1#2025-04-02", SessionID("coach-1", "student-1", "2025-04-02"))
	assert.Equal(t, "student-1#client-1#3", GeneratorID("student-1", "client-1", 3))
	assert.Equal(t, "coach-1#student-1#client-1#3", ReportCardID("coach-1", "student-1#client-1#3"))
	assert.Equal(t, "student-1#coach-1", DebriefID("student-1", "coach-1"))
}

// TestSessionRecordValidate verifies key consistency enforcement.
func TestSessionRecordValidate(t *testing.T) {
	rec := SessionRecord{
		ContractID: "contract-1",
		SessionID:  SessionID("coach-1", "student-1", "2025-04-02"),
		CoachID:    "coach-1",
		StudentID:  "student-1",
		Date:       "2025-04-02",
		Units:      1.5,
	}
	require.NoError(t, rec.Validate())

	rec.SessionID = "coach-1#student-1#2025-04-03"
	assert.Error(t, rec.Validate())

	rec.SessionID = SessionID("coach-1", "student-1", "2025-04-02")
	rec.Units = 0
	assert.Error(t, rec.Validate())
}

// TestReportCardCoversDate verifies half-open period membership.
func TestReportCardCoversDate(t *testing.T) {
	card := ReportCard{StartMonth: "2025-01", EndMonth: "2025-04"}

	assert.True(t, card.CoversDate("2025-01-01"))
	assert.True(t, card.CoversDate("2025-03-31"))
	assert.False(t, card.CoversDate("2025-04-01"))
	assert.False(t, card.CoversDate("2024-12-31"))
}

// TestGeneratorValidate verifies the cadence invariant
// next_start_month == current_start_month + cadency.
func TestGeneratorValidate(t *testing.T) {
	gen := ReportCardGenerator{
		ReportCardGeneratorID: GeneratorID("student-1", "client-1", 3),
		StudentID:             "student-1",
		ClientID:              "client-1",
		Cadency:               3,
		CurrentStartMonth:     "2025-01",
		NextStartMonth:        "2025-04",
	}
	require.NoError(t, gen.Validate())

	gen.NextStartMonth = "2025-05"
	assert.Error(t, gen.Validate())
}

// TestGeneratorAlignedStartMonth verifies cadence congruence within the
// bounded cycle search.
func TestGeneratorAlignedStartMonth(t *testing.T) {
	gen := ReportCardGenerator{
		Cadency:           3,
		CurrentStartMonth: "2025-01",
		NextStartMonth:    "2025-04",
	}

	assert.True(t, gen.AlignedStartMonth("2025-01", 12))
	assert.True(t, gen.AlignedStartMonth("2025-10", 12))
	assert.True(t, gen.AlignedStartMonth("2024-10", 12))
	assert.False(t, gen.AlignedStartMonth("2025-02", 12))
	// Congruent but outside the +/-12 cycle window.
	assert.False(t, gen.AlignedStartMonth("2029-01", 12))
}

// TestDebriefValidate verifies key consistency enforcement.
func TestDebriefValidate(t *testing.T) {
	d := Debrief{
		DebriefID: DebriefID("student-1", "coach-1"),
		Date:      "2025-04-02",
		StudentID: "student-1",
		CoachID:   "coach-1",
	}
	require.NoError(t, d.Validate())

	d.DebriefID = "coach-1#student-1"
	assert.Error(t, d.Validate())
}
