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
	"math"
	"strconv"
	"strings"
)

// KeySep joins the parts of composite identifiers (session ids, report card
// ids, generator ids, debrief ids).
const KeySep = "#"

// ContractStatus is the lifecycle state of a contract.
type ContractStatus string

const (
	// ContractActive allows sessions to be logged against the contract.
	ContractActive ContractStatus = "Active"

	// ContractInactive marks an exhausted or explicitly closed contract.
	ContractInactive ContractStatus = "Inactive"
)

// Contract is a prepaid (or unlimited) agreement between a student and a
// billing client for one product.
//
// For non-unlimited contracts the balance invariant
// used_calls + left_calls == total_calls holds after every commit, and the
// contract is Inactive exactly when left_calls reaches zero (or it is closed
// explicitly). start_date and max_end_date are fixed once by the first
// session logged and never overwritten.
type Contract struct {
	ContractID string `json:"contract_id"`
	StudentID  string `json:"student_id"`
	ClientID   string `json:"client_id"`
	ProductID  string `json:"product_id"`

	Status    ContractStatus `json:"status"`
	Unlimited bool           `json:"unlimited,omitempty"`

	StartDate  Date `json:"start_date,omitempty"`
	MaxEndDate Date `json:"max_end_date,omitempty"`

	TotalCalls   float64 `json:"total_calls,omitempty"`
	UsedCalls    float64 `json:"used_calls"`
	LeftCalls    float64 `json:"left_calls"`
	CallsPerWeek float64 `json:"calls_per_week,omitempty"`

	ReportCardCadency         int    `json:"report_card_cadency,omitempty"`
	ReportCardStartMonth      Month  `json:"report_card_start_month,omitempty"`
	ReportCardEmailRecipients string `json:"report_card_email_recipients,omitempty"`
	ReportCardGeneratorID     string `json:"report_card_generator_id,omitempty"`
}

// GeneratorID derives the report card generator identity for a
// (student, client, cadency) triple.
func GeneratorID(studentID, clientID string, cadency int) string {
	return strings.Join([]string{studentID, clientID, strconv.Itoa(cadency)}, KeySep)
}

// HasReportCardContext reports whether the contract participates in the
// report card cycle.
func (c Contract) HasReportCardContext() bool {
	return c.ReportCardGeneratorID != ""
}

// Validate checks structural and balance invariants. It is called at the
// ingestion boundary; storage conditions re-assert the authoritative fields
// at commit time.
func (c Contract) Validate() error {
	switch {
	case c.ContractID == "":
		return errors.New("contract_id is required")
	case c.StudentID == "":
		return errors.New("student_id is required")
	case c.ClientID == "":
		return errors.New("client_id is required")
	case c.ProductID == "":
		return errors.New("product_id is required")
	}
	if c.Status != ContractActive && c.Status != ContractInactive {
		return fmt.Errorf("unknown contract status %q", c.Status)
	}
	if !c.Unlimited {
		if c.TotalCalls <= 0 {
			return errors.New("total_calls must be positive")
		}
		if c.CallsPerWeek <= 0 {
			return errors.New("calls_per_week must be positive")
		}
		if c.UsedCalls+c.LeftCalls != c.TotalCalls {
			return fmt.Errorf("balance invariant broken: used %v + left %v != total %v",
				c.UsedCalls, c.LeftCalls, c.TotalCalls)
		}
	}
	if c.ReportCardCadency < 0 {
		return errors.New("report_card_cadency must not be negative")
	}
	if c.ReportCardCadency > 0 {
		if c.ReportCardStartMonth.IsZero() {
			return errors.New("report_card_start_month is required with a cadency")
		}
		want := GeneratorID(c.StudentID, c.ClientID, c.ReportCardCadency)
		if c.ReportCardGeneratorID != want {
			return fmt.Errorf("report_card_generator_id %q does not match derived %q",
				c.ReportCardGeneratorID, want)
		}
	}
	return nil
}

// MaxEndDateFor derives the contract validity window end from the first
// session date: firstSession + ceil(7 * 1.7 * total_calls / sqrt(calls_per_week))
// days. The window is fixed once, by the first session logged.
func MaxEndDateFor(firstSession Date, totalCalls, callsPerWeek float64) Date {
	days := int(math.Ceil(7 * 1.7 * totalCalls / math.Sqrt(callsPerWeek)))
	return firstSession.AddDays(days)
}
