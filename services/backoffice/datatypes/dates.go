// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the typed entities persisted by the back office:
// contracts, session records, report cards, report card generators and
// debriefs, together with the Date and Month value types they share.
//
// Dates and months are ISO-formatted strings ("2006-01-02", "2006-01") so
// that lexicographic order equals chronological order. Every comparison the
// storage layer performs on them is a plain string comparison, which keeps
// conditional expressions on stored attributes well-defined.
package datatypes

import (
	"fmt"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

// Date is a calendar date in ISO "YYYY-MM-DD" form.
type Date string

// ParseDate validates s as an ISO calendar date.
func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(s), nil
}

// Today returns the current UTC date.
func Today() Date {
	return DateOf(time.Now().UTC())
}

// DateOf converts a time to its UTC calendar date.
func DateOf(t time.Time) Date {
	return Date(t.UTC().Format(dateLayout))
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d == "" }

// Time returns the date at midnight UTC. Invalid dates yield the zero time;
// dates are validated at the ingestion boundary.
func (d Date) Time() time.Time {
	t, _ := time.Parse(dateLayout, string(d))
	return t
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Month returns the calendar month containing the date.
func (d Date) Month() Month {
	if len(d) < len(monthLayout) {
		return ""
	}
	return Month(d[:len(monthLayout)])
}

// Month is a calendar month in ISO "YYYY-MM" form.
type Month string

// ParseMonth validates s as an ISO calendar month.
func ParseMonth(s string) (Month, error) {
	if _, err := time.Parse(monthLayout, s); err != nil {
		return "", fmt.Errorf("invalid month %q: %w", s, err)
	}
	return Month(s), nil
}

// MonthOf returns the UTC calendar month containing t.
func MonthOf(t time.Time) Month {
	return Month(t.UTC().Format(monthLayout))
}

// IsZero reports whether the month is unset.
func (m Month) IsZero() bool { return m == "" }

// AddMonths returns the month n cadence steps later (or earlier for
// negative n).
func (m Month) AddMonths(n int) Month {
	t, _ := time.Parse(monthLayout, string(m))
	return MonthOf(t.AddDate(0, n, 0))
}

// FirstDay returns the first date of the month.
func (m Month) FirstDay() Date {
	return Date(string(m) + "-01")
}

// MonthsBetween returns the signed number of months from a to b.
func MonthsBetween(a, b Month) int {
	ta, _ := time.Parse(monthLayout, string(a))
	tb, _ := time.Parse(monthLayout, string(b))
	return (tb.Year()-ta.Year())*12 + int(tb.Month()) - int(ta.Month())
}
